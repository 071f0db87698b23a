package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"coinledger/internal/auth"
	"coinledger/internal/channel"
	"coinledger/internal/services"

	"go.uber.org/zap"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondFailure maps ledger, channel and token errors onto HTTP statuses.
// Anything unrecognised is logged and reported without detail.
func (h *Handler) respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidAmount):
		respondError(w, http.StatusBadRequest, "invalid amount")
	case errors.Is(err, services.ErrInvalidTransaction):
		respondError(w, http.StatusBadRequest, "invalid transaction")
	case errors.Is(err, services.ErrInvalidQuery):
		respondError(w, http.StatusBadRequest, "invalid query")
	case errors.Is(err, channel.ErrBadRequest):
		respondError(w, http.StatusBadRequest, "bad request")
	case errors.Is(err, services.ErrInsufficientFunds):
		respondError(w, http.StatusPaymentRequired, "insufficient funds")
	case errors.Is(err, services.ErrAccountNotFound):
		respondError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, services.ErrTransactionNotFound):
		respondError(w, http.StatusNotFound, "transaction not found")
	case errors.Is(err, auth.ErrTokenInvalid), errors.Is(err, auth.ErrTokenExpired):
		respondError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, channel.ErrChannelUnavailable):
		h.logger.Warn("ledger unreachable",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		respondError(w, http.StatusServiceUnavailable, "ledger unavailable")
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
