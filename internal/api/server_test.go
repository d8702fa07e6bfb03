package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-labs/oracle-monitor/internal/eventstore"
)

type fakeStats struct{ s Stats }

func (f fakeStats) Stats() Stats { return f.s }

type fakeAdmin struct{}

func (fakeAdmin) SimulateAttack(ctx context.Context) (AttackResult, error) {
	return AttackResult{Success: true, Blocked: true, Message: "blocked"}, nil
}

func (fakeAdmin) ResetAMM(ctx context.Context) (ResetResult, error) {
	price := "2000.00000000"
	return ResetResult{Success: true, Message: "restored", NewPrice: &price}, nil
}

func newTestServer() *Server {
	store := eventstore.NewStore(100, nil)
	store.Append(eventstore.NewAgentLifecycleEvent(1, eventstore.SeverityInfo, "start"))
	return NewServer(store, eventstore.NewBus(), fakeStats{s: Stats{
		CurrentOraclePrice: "2000.00000000",
		CurrentAMMPrice:    "2000.00000000",
		PriceDeviation:     "0.00",
		LastUpdate:         time.Now(),
	}}, fakeAdmin{}, slog.Default())
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2000.00000000", body["current_oracle_price"])
}

func TestEventsEndpointRespectsLimit(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/events?limit=1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Events []eventstore.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Events, 1)
}

func TestSimulateAttackEndpoint(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/admin/simulate-attack", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body AttackResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Blocked)
}

func TestResetAMMEndpoint(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/admin/reset-amm", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body ResetResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.NewPrice)
	assert.Equal(t, "2000.00000000", *body.NewPrice)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	b, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), "sentinel_cycles_total")
}
