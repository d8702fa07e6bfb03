// Package api serves the monitor's read-mostly HTTP surface and the
// WebSocket event stream, via gorilla/mux and gorilla/websocket,
// instrumented with prometheus/client_golang — the same transport/metrics
// stack used elsewhere in the retrieval pack (DimaJoyti-ai-agentic-crypto-browser's
// go.mod). Grounded structurally on the teacher's reportChan consumer
// loop in cmd/main.go, generalized from a single println sink to a full
// HTTP+WS fanout.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentinel-labs/oracle-monitor/internal/eventstore"
)

// AttackResult is the admin simulate-attack response body.
type AttackResult struct {
	Success     bool    `json:"success"`
	Blocked     bool    `json:"blocked"`
	Message     string  `json:"message"`
	TxHash      *string `json:"tx_hash,omitempty"`
	PriceBefore *string `json:"price_before,omitempty"`
	PriceAfter  *string `json:"price_after,omitempty"`
}

// ResetResult is the admin reset-amm response body.
type ResetResult struct {
	Success  bool    `json:"success"`
	Message  string  `json:"message"`
	NewPrice *string `json:"new_price,omitempty"`
	TxHash   *string `json:"tx_hash,omitempty"`
}

// StatsProvider supplies the live state GET /api/stats summarizes. The
// server depends on this narrow interface rather than the concrete
// Sentinel type to keep the API package free of a dependency on the
// orchestrator.
type StatsProvider interface {
	Stats() Stats
}

type Stats struct {
	CurrentOraclePrice string
	CurrentAMMPrice    string
	PriceDeviation     string
	AMMPaused          bool
	VaultPaused        bool
	LiquidationsBlocked bool
	LastUpdate         time.Time
}

// AdminOps are the two write-path admin actions the API exposes.
type AdminOps interface {
	SimulateAttack(ctx context.Context) (AttackResult, error)
	ResetAMM(ctx context.Context) (ResetResult, error)
}

// Server wires the event store, bus, stats provider, and admin ops
// behind an HTTP router.
type Server struct {
	store *eventstore.Store
	bus   *eventstore.Bus
	stats StatsProvider
	admin AdminOps
	log   *slog.Logger

	router *mux.Router
}

func NewServer(store *eventstore.Store, bus *eventstore.Bus, stats StatsProvider, admin AdminOps, log *slog.Logger) *Server {
	s := &Server{store: store, bus: bus, stats: stats, admin: admin, log: log}
	s.router = mux.NewRouter()
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/api/events", s.handleEvents).Methods(http.MethodGet)
	s.router.HandleFunc("/api/events/threats", s.handleThreats).Methods(http.MethodGet)
	s.router.HandleFunc("/api/events/actions", s.handleActions).Methods(http.MethodGet)
	s.router.HandleFunc("/api/prices", s.handlePrices).Methods(http.MethodGet)
	s.router.HandleFunc("/api/admin/simulate-attack", s.handleSimulateAttack).Methods(http.MethodPost)
	s.router.HandleFunc("/api/admin/reset-amm", s.handleResetAMM).Methods(http.MethodPost)
	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type apiError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]apiError{"error": {Kind: kind, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
