package insight

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionInsight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Type string          `json:"type"`
			Data TransactionData `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "transaction", req.Type)
		assert.Equal(t, uint64(2_500_000), req.Data.GasUsed)

		json.NewEncoder(w).Encode(map[string]string{
			"analysis": "High gas usage suggests batching opportunities.",
		})
	}))
	defer srv.Close()

	c := NewClient(&Config{Endpoint: srv.URL})
	got := c.TransactionInsight(context.Background(), TransactionData{
		GasUsed:      2_500_000,
		EnergyImpact: 0.675,
		To:           "0x4444444444444444444444444444444444444444",
	})
	assert.Equal(t, "High gas usage suggests batching opportunities.", got)
}

func TestTransactionInsight_Fallbacks(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "empty analysis",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"analysis":""}`))
			},
		},
		{
			name: "malformed response",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`not json`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewClient(&Config{Endpoint: srv.URL})
			got := c.TransactionInsight(context.Background(), TransactionData{})
			assert.Equal(t, TransactionFallback, got)
		})
	}
}

func TestTransactionInsight_Disabled(t *testing.T) {
	c := NewClient(nil)
	assert.False(t, c.Enabled())
	got := c.TransactionInsight(context.Background(), TransactionData{})
	assert.Equal(t, TransactionFallback, got)
}

func TestTransactionInsight_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"analysis":"too late"}`))
	}))
	defer srv.Close()

	c := NewClient(&Config{Endpoint: srv.URL, Timeout: 20 * time.Millisecond})
	got := c.TransactionInsight(context.Background(), TransactionData{})
	assert.Equal(t, TransactionFallback, got)
}

func TestNetworkInsight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"analysis": "Network load is moderate.",
		})
	}))
	defer srv.Close()

	c := NewClient(&Config{Endpoint: srv.URL})
	got := c.NetworkInsight(context.Background(), NetworkData{TotalTransactions: 42})
	assert.Equal(t, "Network load is moderate.", got)
}
