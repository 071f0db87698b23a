package handlers

import (
	"net/http"

	"coinledger/internal/middleware"
)

// ReissueToken issues an additional token for the authenticated account. The
// presented token stays valid until it expires or is revoked.
func (h *Handler) ReissueToken(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	issued, err := h.tokens.IssueToken(r.Context(), accountID)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, createAccountResponse{
		AccountID:   issued.AccountID,
		Token:       issued.Token,
		TokenExpiry: issued.Expiry,
	})
}

// RevokeToken invalidates the token the request was made with.
func (h *Handler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.TokenFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.tokens.RevokeToken(r.Context(), token); err != nil {
		h.respondFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
