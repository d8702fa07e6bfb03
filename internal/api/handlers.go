package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/sentinel-labs/oracle-monitor/internal/eventstore"
)

const (
	defaultEventLimit = 100
	maxEventLimit      = 1000
	defaultPricesHours = 24
	maxPricesHours      = 24 * 7
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.stats.Stats()
	threats := 0
	for _, e := range s.store.ByKinds([]eventstore.Kind{eventstore.KindReasoning}, 0) {
		if e.Reasoning != nil && e.Reasoning.Kind != "NATURAL" {
			threats++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_events":          s.store.Count(),
		"threats_detected":      threats,
		"actions_taken":         len(s.store.ByKinds([]eventstore.Kind{eventstore.KindAction}, 0)),
		"current_oracle_price":  st.CurrentOraclePrice,
		"current_amm_price":     st.CurrentAMMPrice,
		"price_deviation":       st.PriceDeviation,
		"amm_paused":            st.AMMPaused,
		"vault_paused":          st.VaultPaused,
		"liquidations_blocked":  st.LiquidationsBlocked,
		"last_update_iso":       st.LastUpdate.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, defaultEventLimit, maxEventLimit)
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": s.store.Recent(limit)})
}

func (s *Server) handleThreats(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, defaultEventLimit, maxEventLimit)
	all := s.store.ByKinds([]eventstore.Kind{eventstore.KindReasoning}, 0)
	threats := make([]eventstore.Event, 0, len(all))
	for _, e := range all {
		if e.Reasoning != nil && e.Reasoning.Kind != "NATURAL" {
			threats = append(threats, e)
		}
	}
	if len(threats) > limit {
		threats = threats[len(threats)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": threats})
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, defaultEventLimit, maxEventLimit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": s.store.ByKinds([]eventstore.Kind{eventstore.KindAction}, limit),
	})
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	hours := defaultPricesHours
	if h := r.URL.Query().Get("hours"); h != "" {
		if parsed, err := strconv.Atoi(h); err == nil && parsed > 0 {
			hours = parsed
		}
	}
	if hours > maxPricesHours {
		hours = maxPricesHours
	}

	to := time.Now().UTC()
	from := to.Add(-time.Duration(hours) * time.Hour)
	observations := s.store.ByTimeRange(from, to)

	prices := make([]eventstore.Event, 0, len(observations))
	for _, e := range observations {
		if e.Kind == eventstore.KindObservation {
			prices = append(prices, e)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"prices": prices})
}

func (s *Server) handleSimulateAttack(w http.ResponseWriter, r *http.Request) {
	result, err := s.admin.SimulateAttack(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "simulate_attack_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleResetAMM(w http.ResponseWriter, r *http.Request) {
	result, err := s.admin.ResetAMM(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reset_amm_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func parseLimit(r *http.Request, def, max int) int {
	limit := def
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}
