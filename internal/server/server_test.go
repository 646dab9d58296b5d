package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Nzyazin/ledger/internal/core/logger"
	"github.com/Nzyazin/ledger/internal/server"
	"github.com/Nzyazin/ledger/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Addr: ":0", ReadTimeout: time.Second, WriteTimeout: time.Second},
		Ledger: config.LedgerConfig{
			Store:         "memory",
			LockStrategy:  "memory",
			LockTimeout:   time.Second,
			FeePolicy:     "burn",
			UniqueWallets: true,
			RecordFailed:  true,
		},
		Events: config.EventsConfig{Bus: "log", Workers: 1, QueueSize: 16},
	}
}

func TestServerWiring(t *testing.T) {
	srv, err := server.NewServer(context.Background(), memoryConfig(), logger.NewNop())
	require.NoError(t, err)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	body, _ := json.Marshal(map[string]string{"user_id": "u1", "wallet_type": "crypto", "currency": "eth", "initial_balance": "1.5"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/wallets", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var wallet struct {
		ID string `json:"wallet_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wallet))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/wallets/"+wallet.ID+"/withdraw",
		bytes.NewBufferString(`{"amount":"2"}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ledger_operations_total")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))
}
