package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"coinledger/internal/middleware"
	"coinledger/internal/models"
	"coinledger/internal/services"
	"coinledger/internal/validator"
	"coinledger/internal/websocket"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type transferRequest struct {
	Receiver string `json:"receiver" validate:"required"`
	Amount   *int64 `json:"amount" validate:"required"`
}

// CreateTransaction moves coins from the authenticated account. An
// Idempotency-Key header is forwarded as the transaction id so a retried
// request cannot pay twice.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	senderID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var body transferRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := validator.Struct(body); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "invalid payload",
			"details": validator.Details(err),
		})
		return
	}
	receiverID, err := validator.ParseID(body.Receiver)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid receiver")
		return
	}
	req := services.TransferRequest{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Amount:     *body.Amount,
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		id, err := validator.ParseID(key)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid idempotency key")
			return
		}
		req.ID = &id
	}

	receipt, err := h.ledger.CreateTransaction(r.Context(), req)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	h.publishBalances(r.Context(), receipt)
	respondJSON(w, http.StatusCreated, receipt)
}

// publishBalances notifies open balance streams of both parties. The
// receiver's balance is not part of the receipt, so it is fetched only when
// somebody is listening.
func (h *Handler) publishBalances(ctx context.Context, receipt models.Receipt) {
	if h.hub == nil {
		return
	}
	h.hub.Publish(websocket.BalanceUpdate{
		AccountID:     receipt.SenderID,
		Balance:       receipt.SenderBalanceAfter,
		TransactionID: receipt.ID,
	})
	if h.hub.Subscribers(receipt.ReceiverID) == 0 {
		return
	}
	account, err := h.ledger.GetAccount(ctx, receipt.ReceiverID)
	if err != nil {
		h.logger.Warn("receiver balance lookup failed",
			zap.String("account_id", receipt.ReceiverID.String()),
			zap.Error(err),
		)
		return
	}
	h.hub.Publish(websocket.BalanceUpdate{
		AccountID:     account.ID,
		Balance:       account.Balance,
		TransactionID: receipt.ID,
	})
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	query := r.URL.Query()
	transactions, err := h.ledger.ListTransactions(r.Context(), accountID, query.Get("start"), query.Get("end"))
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	if transactions == nil {
		transactions = []models.Transaction{}
	}
	respondJSON(w, http.StatusOK, transactions)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	transactionID, err := validator.ParseID(chi.URLParam(r, "tx_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}
	transaction, err := h.ledger.GetTransaction(r.Context(), transactionID, &accountID)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, transaction)
}
