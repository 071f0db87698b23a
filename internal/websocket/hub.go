// Package websocket pushes balance changes to connected account holders.
package websocket

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type BalanceUpdate struct {
	AccountID     uuid.UUID `json:"account_id"`
	Balance       int64     `json:"balance"`
	TransactionID uuid.UUID `json:"transaction_id"`
}

// Hub tracks open sockets per account. Publishing never blocks: a subscriber
// whose buffer is full misses the update and picks up the next one.
type Hub struct {
	mu       sync.RWMutex
	subs     map[uuid.UUID]map[*subscriber]struct{}
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHub accepts upgrades from the given origins. "*" or an empty list allows
// any origin, matching the CORS policy of the REST routes.
func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		subs:   make(map[uuid.UUID]map[*subscriber]struct{}),
		logger: logger,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
				return true
			}
			return slices.Contains(allowedOrigins, origin)
		},
	}
	return h
}

func (h *Hub) add(accountID uuid.UUID, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[accountID] == nil {
		h.subs[accountID] = make(map[*subscriber]struct{})
	}
	h.subs[accountID][s] = struct{}{}
}

func (h *Hub) remove(accountID uuid.UUID, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[accountID]
	if set == nil {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, accountID)
	}
}

// Subscribers reports how many sockets are open for accountID.
func (h *Hub) Subscribers(accountID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[accountID])
}

// Publish queues update for every socket of update.AccountID and returns how
// many accepted it.
func (h *Hub) Publish(update BalanceUpdate) int {
	payload, err := json.Marshal(update)
	if err != nil {
		h.logger.Error("encode balance update", zap.Error(err))
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for s := range h.subs[update.AccountID] {
		select {
		case s.send <- payload:
			delivered++
		default:
			h.logger.Debug("dropped balance update for slow subscriber",
				zap.String("account_id", update.AccountID.String()),
			)
		}
	}
	return delivered
}
