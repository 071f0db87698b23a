package handlers

import (
	"net/http"
	"strings"

	"coinledger/internal/config"
	"coinledger/internal/metrics"
	"coinledger/internal/middleware"
	"coinledger/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type Handler struct {
	cfg     config.Config
	ledger  Ledger
	tokens  Tokens
	hub     *websocket.Hub
	limiter *middleware.RateLimiter
	metrics *metrics.Collector
	logger  *zap.Logger
}

// New wires the gateway. hub, limiter and collector may be nil.
func New(cfg config.Config, ledger Ledger, tokens Tokens, hub *websocket.Hub, limiter *middleware.RateLimiter, collector *metrics.Collector, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		cfg:     cfg,
		ledger:  ledger,
		tokens:  tokens,
		hub:     hub,
		limiter: limiter,
		metrics: collector,
		logger:  logger,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)
	router.Use(h.metrics.Middleware)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   AllowedOrigins(h.cfg.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.metrics != nil {
		router.Handle("/metrics", h.metrics.Handler())
	}

	router.Route("/account", func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.Handler)
		}
		r.Post("/create", h.CreateAccount)
		r.Route("/{id}", func(r chi.Router) {
			r.Use(middleware.Auth(h.tokens, h.logger))
			r.Use(middleware.RequireAccount("id"))
			r.Get("/", h.GetAccount)
			r.Post("/transaction", h.CreateTransaction)
			r.Get("/transactions", h.ListTransactions)
			r.Get("/transaction/{tx_id}", h.GetTransaction)
			r.Post("/token", h.ReissueToken)
			r.Delete("/token", h.RevokeToken)
			r.Get("/ws", h.Balances)
		})
	})
	return router
}

// AllowedOrigins splits the comma separated ALLOWED_ORIGINS value.
func AllowedOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
