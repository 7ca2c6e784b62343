package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/greenode-labs/greenode-monitor/events"
	"github.com/greenode-labs/greenode-monitor/storage"
)

type stubStore struct {
	transactions    []storage.TransactionRecord
	recommendations []storage.Recommendation
	stats           *storage.Stats
	pingErr         error
	queryErr        error
}

func (s *stubStore) SaveTransaction(ctx context.Context, record *storage.TransactionRecord) error {
	return nil
}

func (s *stubStore) SaveRecommendation(ctx context.Context, rec *storage.Recommendation) error {
	return nil
}

func (s *stubStore) AppendDailyMetrics(ctx context.Context, metrics *storage.DailyMetrics) error {
	return nil
}

func (s *stubStore) RecentTransactions(ctx context.Context, limit int) ([]storage.TransactionRecord, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	if limit < len(s.transactions) {
		return s.transactions[:limit], nil
	}
	return s.transactions, nil
}

func (s *stubStore) RecentRecommendations(ctx context.Context, limit int) ([]storage.Recommendation, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.recommendations, nil
}

func (s *stubStore) TransactionStats(ctx context.Context, days int) (*storage.Stats, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.stats, nil
}

func (s *stubStore) Ping(ctx context.Context) error { return s.pingErr }

func (s *stubStore) Close() error { return nil }

func newTestServer(t *testing.T, store *stubStore) (*Server, *events.Bus, *events.Window) {
	t.Helper()

	bus := events.NewBus(16, zap.NewNop())
	t.Cleanup(bus.Close)
	window := events.NewWindow(20, 5*time.Minute)

	srv, err := NewServer(DefaultConfig(), store, bus, window, zap.NewNop())
	require.NoError(t, err)
	return srv, bus, window
}

func doRequest(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubStore{})

	rec := doRequest(t, srv, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHandleHealthDegraded(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubStore{pingErr: errors.New("connection refused")})

	rec := doRequest(t, srv, http.MethodGet, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
}

func TestHandleVersion(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubStore{})

	rec := doRequest(t, srv, http.MethodGet, "/version")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "greenode-monitor", body["service"])
	assert.NotEmpty(t, body["version"])
}

func TestHandleRecentTransactions(t *testing.T) {
	store := &stubStore{
		transactions: []storage.TransactionRecord{
			{Hash: "0xaaa", GasUsed: 2_500_000, EnergyImpactKWh: 5.0},
			{Hash: "0xbbb", GasUsed: 21_000, EnergyImpactKWh: 0.042},
		},
	}
	srv, _, _ := newTestServer(t, store)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/transactions/recent")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Transactions []storage.TransactionRecord `json:"transactions"`
		Count        int                         `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "0xaaa", body.Transactions[0].Hash)
}

func TestHandleRecentTransactionsLimit(t *testing.T) {
	store := &stubStore{
		transactions: []storage.TransactionRecord{
			{Hash: "0xaaa"}, {Hash: "0xbbb"}, {Hash: "0xccc"},
		},
	}
	srv, _, _ := newTestServer(t, store)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/transactions/recent?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
}

func TestHandleRecentTransactionsStoreError(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubStore{queryErr: errors.New("db down")})

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/transactions/recent")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleRecentRecommendations(t *testing.T) {
	store := &stubStore{
		recommendations: []storage.Recommendation{
			{ContractAddress: "0xdef", Priority: storage.PriorityHigh, Status: storage.StatusPending},
		},
	}
	srv, _, _ := newTestServer(t, store)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/recommendations/recent")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Recommendations []storage.Recommendation `json:"recommendations"`
		Count           int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, storage.PriorityHigh, body.Recommendations[0].Priority)
}

func TestHandleStats(t *testing.T) {
	store := &stubStore{
		stats: &storage.Stats{
			TotalTransactions: 10,
			AvgGasPrice:       12.5,
			TotalGasUsed:      4_200_000,
			TotalEnergyKWh:    8.4,
		},
	}
	srv, _, _ := newTestServer(t, store)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/stats?days=30")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Days  int            `json:"days"`
		Stats *storage.Stats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 30, body.Days)
	assert.Equal(t, int64(10), body.Stats.TotalTransactions)
}

func TestHandleActivity(t *testing.T) {
	srv, _, window := newTestServer(t, &stubStore{})

	window.Add(events.EnrichedTransaction{RawTransaction: events.RawTransaction{Hash: common.HexToHash("0x1"), Timestamp: time.Now().UTC()}})
	window.Add(events.EnrichedTransaction{RawTransaction: events.RawTransaction{Hash: common.HexToHash("0x2"), Timestamp: time.Now().UTC()}})

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/activity")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
}

func TestCORSHeaders(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubStore{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, "https://dashboard.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubStore{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/stats", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestQueryIntBounds(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{name: "missing uses default", query: "", want: defaultRecentLimit},
		{name: "valid value", query: "limit=5", want: 5},
		{name: "zero uses default", query: "limit=0", want: defaultRecentLimit},
		{name: "negative uses default", query: "limit=-3", want: defaultRecentLimit},
		{name: "garbage uses default", query: "limit=abc", want: defaultRecentLimit},
		{name: "over max is clamped", query: "limit=1000", want: maxRecentLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			got := queryInt(req, "limit", defaultRecentLimit, maxRecentLimit)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0:8080", cfg.Address())

	bad := DefaultConfig()
	bad.Port = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Host = ""
	assert.Error(t, bad.Validate())
}
