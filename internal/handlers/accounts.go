package handlers

import (
	"net/http"
	"time"

	"coinledger/internal/middleware"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type createAccountResponse struct {
	AccountID   uuid.UUID `json:"account_id"`
	Token       string    `json:"token"`
	TokenExpiry time.Time `json:"token_expiry"`
}

// CreateAccount opens an empty account and hands back its first token. It is
// the only unauthenticated account route.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.ledger.CreateAccount(r.Context())
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	issued, err := h.tokens.IssueToken(r.Context(), account.ID)
	if err != nil {
		h.logger.Error("account created without token",
			zap.String("account_id", account.ID.String()),
			zap.Error(err),
		)
		h.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, createAccountResponse{
		AccountID:   account.ID,
		Token:       issued.Token,
		TokenExpiry: issued.Expiry,
	})
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	account, err := h.ledger.GetAccount(r.Context(), accountID)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, account)
}

// Balances streams balance updates for the authenticated account.
func (h *Handler) Balances(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.hub == nil {
		respondError(w, http.StatusNotFound, "balance stream disabled")
		return
	}
	h.hub.Serve(w, r, accountID)
}
