package reconcile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillpoint/terminal-core/pkg/config"
	"github.com/tillpoint/terminal-core/pkg/enums"
	"github.com/tillpoint/terminal-core/pkg/logger"
)

func testPaymentsConfig(url string) config.PaymentsConfig {
	return config.PaymentsConfig{
		ReconcileURL: url,
		JWTSecret:    "test-secret",
		JWTIssuer:    "tillpoint-terminal",
		JWTTTL:       5 * time.Minute,
	}
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	client, err := NewClient(ClientParams{
		Config:     testPaymentsConfig(url),
		TerminalID: "till-7",
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
	})
	require.NoError(t, err)
	return client
}

func TestSubmitBatchContract(t *testing.T) {
	var gotAuth string
	var gotBody batchRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		results := make([]Result, 0, len(gotBody.Transactions))
		for _, tx := range gotBody.Transactions {
			results = append(results, Result{
				ID:       tx.LocalID,
				Status:   enums.ReconcileOutcomeSynced,
				ServerID: "srv-1",
			})
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(batchResponse{Results: results}))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	results, err := client.SubmitBatch(context.Background(), []Transaction{{
		LocalID:        "intent-1",
		IdempotencyKey: "till-7-order-2500-1-abcd",
		Amount:         2500,
		TipAmount:      500,
		Method:         enums.PaymentMethodCard,
		TerminalID:     "till-7",
		Timestamp:      time.Now().UTC(),
	}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "intent-1", results[0].ID)
	assert.True(t, results[0].Status.IsApplied())

	require.Len(t, gotBody.Transactions, 1)
	assert.Equal(t, "till-7-order-2500-1-abcd", gotBody.Transactions[0].IdempotencyKey)

	require.NotEmpty(t, gotAuth)
	token, err := jwt.ParseWithClaims(gotAuth[len("Bearer "):], &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return []byte("test-secret"), nil
	})
	require.NoError(t, err)
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	require.True(t, ok)
	assert.Equal(t, "till-7", claims.Subject)
	assert.Equal(t, "tillpoint-terminal", claims.Issuer)
}

func TestSubmitBatchEmptyIsNoop(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1")
	results, err := client.SubmitBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestSubmitBatchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.SubmitBatch(context.Background(), []Transaction{{LocalID: "intent-1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestSubmitBatchUnreachable(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1")
	_, err := client.SubmitBatch(context.Background(), []Transaction{{LocalID: "intent-1"}})
	require.Error(t, err)
}

func TestNewClientRequiresConfig(t *testing.T) {
	_, err := NewClient(ClientParams{
		Config:     config.PaymentsConfig{},
		TerminalID: "till-7",
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
	})
	require.Error(t, err, "missing reconcile url")

	_, err = NewClient(ClientParams{
		Config: testPaymentsConfig("http://example.test"),
		Logger: logger.New(logger.Options{ServiceName: "test"}),
	})
	require.Error(t, err, "missing terminal id")
}
