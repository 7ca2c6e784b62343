package explorer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(&Config{
		BaseURL:           srv.URL,
		APIKey:            "test-key",
		RequestsPerSecond: 1000,
	})
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(nil)
	assert.Error(t, err)

	_, err = NewClient(&Config{BaseURL: ""})
	assert.Error(t, err)

	c, err := NewClient(&Config{BaseURL: "https://api.basescan.org/api"})
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestContractCreation(t *testing.T) {
	creator := common.HexToAddress("0x1111111111111111111111111111111111111111")
	txHash := common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222")

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "contract", r.URL.Query().Get("module"))
		assert.Equal(t, "getcontractcreation", r.URL.Query().Get("action"))
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))

		w.Write([]byte(`{"status":"1","message":"OK","result":[{"contractAddress":"0x3333333333333333333333333333333333333333","contractCreator":"` + creator.Hex() + `","txHash":"` + txHash.Hex() + `"}]}`))
	})

	info, err := c.ContractCreation(context.Background(), common.HexToAddress("0x3333333333333333333333333333333333333333"))
	require.NoError(t, err)
	assert.Equal(t, creator, info.Creator)
	assert.Equal(t, txHash, info.CreationTxHash)
}

func TestContractCreation_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"0","message":"NOTOK","result":null}`))
	})

	_, err := c.ContractCreation(context.Background(), common.Address{})
	assert.ErrorContains(t, err, "NOTOK")
}

func TestContractName(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"1","message":"OK","result":[{"ContractName":"UniswapV3Pool","CompilerVersion":"v0.7.6"}]}`))
	})

	name, err := c.ContractName(context.Background(), common.Address{})
	require.NoError(t, err)
	assert.Equal(t, "UniswapV3Pool", name)
}

func TestIsContract(t *testing.T) {
	tests := []struct {
		name string
		code string
		want bool
	}{
		{name: "deployed contract", code: "0x6080604052", want: true},
		{name: "externally owned account", code: "0x", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"result":"` + tt.code + `"}`))
			})

			got, err := c.IsContract(context.Background(), common.Address{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTTPStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.ContractCreation(context.Background(), common.Address{})
	assert.ErrorContains(t, err, "429")
}
