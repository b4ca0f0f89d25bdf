package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tillpoint/terminal-core/pkg/config"
	"github.com/tillpoint/terminal-core/pkg/logger"
)

// LocalChannel talks to the physical reader over the venue LAN. The reader
// exposes a small JSON API; its exact device protocol stays behind it.
type LocalChannel struct {
	baseURL string
	http    *http.Client
	logg    *logger.Logger
}

// NewLocalChannel builds the LAN reader channel.
func NewLocalChannel(cfg config.TransportConfig, logg *logger.Logger) (*LocalChannel, error) {
	if cfg.ReaderBaseURL == "" {
		return nil, fmt.Errorf("reader base url required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &LocalChannel{
		baseURL: cfg.ReaderBaseURL,
		http:    &http.Client{Timeout: cfg.ReaderTimeout},
		logg:    logg,
	}, nil
}

type readerTxPayload struct {
	ReaderID       string `json:"readerId"`
	AmountCents    int    `json:"amountCents,omitempty"`
	TipCents       int    `json:"tipCents,omitempty"`
	CardToken      string `json:"cardToken,omitempty"`
	ReferenceID    string `json:"referenceId,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	TransactionID  string `json:"transactionId,omitempty"`
}

type readerTxReply struct {
	Approved             bool   `json:"approved"`
	DeclineReason        string `json:"declineReason,omitempty"`
	CardToken            string `json:"cardToken,omitempty"`
	CardBrand            string `json:"cardBrand,omitempty"`
	CardLast4            string `json:"cardLast4,omitempty"`
	AuthorizationCode    string `json:"authorizationCode,omitempty"`
	GatewayTransactionID string `json:"gatewayTransactionId,omitempty"`
	Error                string `json:"error,omitempty"`
}

func (c *LocalChannel) Sale(ctx context.Context, req TxRequest) (*TxResult, error) {
	return c.monetary(ctx, "sale", readerTxPayload{
		ReaderID:       req.ReaderID,
		AmountCents:    req.AmountCents,
		TipCents:       req.TipCents,
		CardToken:      req.CardToken,
		ReferenceID:    req.ReferenceID,
		IdempotencyKey: req.IdempotencyKey,
	})
}

func (c *LocalChannel) PreAuth(ctx context.Context, req TxRequest) (*TxResult, error) {
	return c.monetary(ctx, "preauth", readerTxPayload{
		ReaderID:       req.ReaderID,
		AmountCents:    req.AmountCents,
		TipCents:       req.TipCents,
		CardToken:      req.CardToken,
		ReferenceID:    req.ReferenceID,
		IdempotencyKey: req.IdempotencyKey,
	})
}

func (c *LocalChannel) Capture(ctx context.Context, readerID, gatewayTransactionID string, amountCents int) (*TxResult, error) {
	return c.monetary(ctx, "capture", readerTxPayload{
		ReaderID:      readerID,
		TransactionID: gatewayTransactionID,
		AmountCents:   amountCents,
	})
}

func (c *LocalChannel) Void(ctx context.Context, readerID, gatewayTransactionID string) (*TxResult, error) {
	return c.monetary(ctx, "void", readerTxPayload{
		ReaderID:      readerID,
		TransactionID: gatewayTransactionID,
	})
}

// PadReset restores the reader to an idle, ready state. Mandatory after any
// transaction attempt.
func (c *LocalChannel) PadReset(ctx context.Context, readerID string) error {
	reply, err := c.post(ctx, "pad-reset", readerTxPayload{ReaderID: readerID})
	if err != nil {
		return err
	}
	if reply.Error != "" {
		return fmt.Errorf("pad reset rejected: %s", reply.Error)
	}
	return nil
}

func (c *LocalChannel) monetary(ctx context.Context, op string, payload readerTxPayload) (*TxResult, error) {
	reply, err := c.post(ctx, op, payload)
	if err != nil {
		return nil, Classify(err)
	}
	if reply.Error != "" {
		return nil, Classify(fmt.Errorf("reader %s error: %s", op, reply.Error))
	}
	if !reply.Approved {
		return nil, Classify(&DeclineError{Reason: reply.DeclineReason})
	}
	return &TxResult{
		Approved:             true,
		CardToken:            reply.CardToken,
		CardBrand:            reply.CardBrand,
		CardLast4:            reply.CardLast4,
		AuthorizationCode:    reply.AuthorizationCode,
		GatewayTransactionID: reply.GatewayTransactionID,
	}, nil
}

func (c *LocalChannel) post(ctx context.Context, op string, payload readerTxPayload) (*readerTxReply, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", op, err)
	}
	url := fmt.Sprintf("%s/v1/%s", c.baseURL, op)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("reader %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", op, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("reader %s returned %d: %s", op, resp.StatusCode, string(raw))
	}

	var reply readerTxReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", op, err)
	}
	return &reply, nil
}
