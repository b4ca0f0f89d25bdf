package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tillpoint/terminal-core/pkg/config"
	"github.com/tillpoint/terminal-core/pkg/enums"
	"github.com/tillpoint/terminal-core/pkg/logger"
)

// Transaction is one batch entry submitted to the reconciliation endpoint.
// The idempotency key is the sole deduplication token; the server treats a
// repeated key as duplicate_ignored, never as an error.
type Transaction struct {
	LocalID              string              `json:"localId"`
	OrderID              string              `json:"orderId,omitempty"`
	LocalOrderID         string              `json:"localOrderId,omitempty"`
	IdempotencyKey       string              `json:"idempotencyKey"`
	Amount               int                 `json:"amount"`
	TipAmount            int                 `json:"tipAmount"`
	Method               enums.PaymentMethod `json:"method"`
	GatewayToken         string              `json:"gatewayToken,omitempty"`
	CardBrand            string              `json:"cardBrand,omitempty"`
	CardLast4            string              `json:"cardLast4,omitempty"`
	AuthCode             string              `json:"authCode,omitempty"`
	GatewayTransactionID string              `json:"gatewayTransactionId,omitempty"`
	TerminalID           string              `json:"terminalId"`
	EmployeeID           string              `json:"employeeId,omitempty"`
	Timestamp            time.Time           `json:"timestamp"`
}

// Result is the per-transaction outcome returned by the server.
type Result struct {
	ID       string                 `json:"id"`
	Status   enums.ReconcileOutcome `json:"status"`
	ServerID string                 `json:"serverId,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

type batchRequest struct {
	Transactions []Transaction `json:"transactions"`
}

type batchResponse struct {
	Results []Result `json:"results"`
}

// Submitter is the surface the intent manager depends on.
type Submitter interface {
	SubmitBatch(ctx context.Context, batch []Transaction) ([]Result, error)
}

// Client posts transaction batches to the reconciliation endpoint, signing
// each request with a short-lived terminal JWT.
type Client struct {
	url        string
	terminalID string
	jwtSecret  []byte
	jwtIssuer  string
	jwtTTL     time.Duration
	http       *http.Client
	logg       *logger.Logger
	now        func() time.Time
}

// ClientParams configure the reconciliation client.
type ClientParams struct {
	Config     config.PaymentsConfig
	TerminalID string
	Logger     *logger.Logger
	HTTPClient *http.Client
}

// NewClient builds the batch client.
func NewClient(params ClientParams) (*Client, error) {
	if !params.Config.ReconcileEnabled() {
		return nil, fmt.Errorf("reconcile url required")
	}
	if params.TerminalID == "" {
		return nil, fmt.Errorf("terminal id required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	httpClient := params.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	ttl := params.Config.JWTTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Client{
		url:        params.Config.ReconcileURL,
		terminalID: params.TerminalID,
		jwtSecret:  []byte(params.Config.JWTSecret),
		jwtIssuer:  params.Config.JWTIssuer,
		jwtTTL:     ttl,
		http:       httpClient,
		logg:       params.Logger,
		now:        time.Now,
	}, nil
}

// SubmitBatch posts the batch and returns per-transaction outcomes. A
// transport-level failure returns an error and leaves every intent on its
// retry path; the server never partially applies a malformed batch.
func (c *Client) SubmitBatch(ctx context.Context, batch []Transaction) ([]Result, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(batchRequest{Transactions: batch})
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build batch request: %w", err)
	}
	token, err := c.mintToken()
	if err != nil {
		return nil, fmt.Errorf("mint request token: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit batch: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read batch response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reconcile endpoint returned %d: %s", resp.StatusCode, string(raw))
	}

	var decoded batchResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}

	logCtx := c.logg.WithFields(ctx, map[string]any{
		"submitted": len(batch),
		"results":   len(decoded.Results),
	})
	c.logg.Info(logCtx, "reconciliation batch submitted")
	return decoded.Results, nil
}

func (c *Client) mintToken() (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.jwtIssuer,
		Subject:   c.terminalID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.jwtTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.jwtSecret)
}
