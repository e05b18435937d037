// Package api exposes the engine over HTTP. Handlers stay thin: validation,
// status mapping, and serialization live here, everything else is delegated
// to the injected components.
package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"apex-bridge/internal/agent"
	"apex-bridge/internal/attribution"
	"apex-bridge/internal/campaigns"
	"apex-bridge/internal/ledger"
	"apex-bridge/internal/purchase"
)

// CampaignSource yields the active campaign snapshot.
type CampaignSource interface {
	Active(ctx context.Context) ([]campaigns.Campaign, bool, time.Time, error)
}

// AttributionService records one attribution on chain.
type AttributionService interface {
	Create(ctx context.Context, campaignID *big.Int, userWallet string) (attribution.Result, error)
}

// PurchaseRunner drives one purchase to a terminal state, reporting each
// transition through observe.
type PurchaseRunner interface {
	Execute(ctx context.Context, productID *big.Int, observe func(purchase.Transition)) (common.Hash, error)
}

// Financials is the ledger surface the handlers need.
type Financials interface {
	Summary() ledger.Summary
	RecordUsage(ctx context.Context, promptTokens, outputTokens int) ledger.CostEvent
}

// Options wires a Server.
type Options struct {
	Campaigns    CampaignSource
	Attributions AttributionService
	// NewPurchase builds a fresh runner per request so concurrent purchases
	// cannot share state.
	NewPurchase   func() PurchaseRunner
	Financials    Financials
	Generator     agent.Generator
	WalletAllowed func(wallet string) bool
}

type Server struct {
	opts   Options
	logger zerolog.Logger

	attrMu   sync.Mutex
	attrSeen map[string]struct{}
}

func NewServer(opts Options, logger zerolog.Logger) *Server {
	return &Server{
		opts:     opts,
		logger:   logger.With().Str("component", "api").Logger(),
		attrSeen: make(map[string]struct{}),
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/campaigns", s.handleCampaigns)
		r.Post("/attributions", s.handleAttributions)
		r.Post("/purchases", s.handlePurchases)
		r.Post("/chat", s.handleChat)
		r.Get("/financials", s.handleFinancials)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}
