package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/tillpoint/terminal-core/pkg/config"
	"github.com/tillpoint/terminal-core/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

var (
	errSquareTokenRequired = errors.New("square access token is required")
	errInvalidSquareEnv    = fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
)

// SquareChannel is the cloud fallback transport: when the venue has no local
// reader (or a pure cloud deployment), monetary operations go straight to the
// Square gateway using a previously tokenized card.
type SquareChannel struct {
	sdk        *sqclient.Client
	locationID string
	logg       *logger.Logger
}

// NewSquareChannel initializes the gateway channel and validates credentials.
func NewSquareChannel(cfg config.TransportConfig, logg *logger.Logger) (*SquareChannel, error) {
	if logg == nil {
		return nil, errors.New("logger required")
	}
	env := strings.ToLower(strings.TrimSpace(cfg.SquareEnv))
	baseURL, ok := baseURLs[env]
	if !ok {
		return nil, errInvalidSquareEnv
	}
	token := strings.TrimSpace(cfg.SquareToken)
	if token == "" {
		return nil, errSquareTokenRequired
	}

	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURL),
		sqoption.WithToken(token),
	)
	return &SquareChannel{
		sdk:        sdk,
		locationID: cfg.SquareLocation,
		logg:       logg,
	}, nil
}

func (c *SquareChannel) Sale(ctx context.Context, req TxRequest) (*TxResult, error) {
	return c.createPayment(ctx, req, true)
}

func (c *SquareChannel) PreAuth(ctx context.Context, req TxRequest) (*TxResult, error) {
	return c.createPayment(ctx, req, false)
}

func (c *SquareChannel) Capture(ctx context.Context, readerID, gatewayTransactionID string, amountCents int) (*TxResult, error) {
	resp, err := c.sdk.Payments.Complete(ctx, &sq.CompletePaymentRequest{
		PaymentID: gatewayTransactionID,
	})
	if err != nil {
		return nil, Classify(c.mapError(err, "capture"))
	}
	return resultFromPayment(resp.GetPayment()), nil
}

func (c *SquareChannel) Void(ctx context.Context, readerID, gatewayTransactionID string) (*TxResult, error) {
	resp, err := c.sdk.Payments.Cancel(ctx, &sq.CancelPaymentsRequest{
		PaymentID: gatewayTransactionID,
	})
	if err != nil {
		return nil, Classify(c.mapError(err, "void"))
	}
	return resultFromPayment(resp.GetPayment()), nil
}

// PadReset is a no-op on the gateway channel: there is no physical pad to
// restore, so the reset always succeeds.
func (c *SquareChannel) PadReset(ctx context.Context, readerID string) error {
	return nil
}

func (c *SquareChannel) createPayment(ctx context.Context, req TxRequest, autocomplete bool) (*TxResult, error) {
	idempotencyKey := req.IdempotencyKey
	if strings.TrimSpace(idempotencyKey) == "" {
		idempotencyKey = uuid.NewString()
	}

	create := &sq.CreatePaymentRequest{
		IdempotencyKey: idempotencyKey,
		SourceID:       req.CardToken,
		Autocomplete:   &autocomplete,
		AmountMoney:    moneyPtr(int64(req.AmountCents - req.TipCents)),
	}
	if c.locationID != "" {
		create.LocationID = &c.locationID
	}
	if req.TipCents > 0 {
		create.TipMoney = moneyPtr(int64(req.TipCents))
	}
	if trimmed := strings.TrimSpace(req.ReferenceID); trimmed != "" {
		create.ReferenceID = &trimmed
	}

	resp, err := c.sdk.Payments.Create(ctx, create)
	if err != nil {
		return nil, Classify(c.mapError(err, "create payment"))
	}
	return resultFromPayment(resp.GetPayment()), nil
}

// mapError distinguishes gateway declines from transport faults so Classify
// can route them. Square reports declines inside a successful HTTP exchange
// with a 402-style API error.
func (c *SquareChannel) mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr *sqcore.APIError
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.Error())
		for _, marker := range []string{"declined", "insufficient", "cvv_failure", "card_expired", "invalid_card"} {
			if strings.Contains(msg, marker) {
				return &DeclineError{Reason: fmt.Sprintf("gateway %s: %v", op, apiErr)}
			}
		}
		return fmt.Errorf("square %s failed: %w", op, err)
	}
	return fmt.Errorf("square %s: %w", op, err)
}

func resultFromPayment(payment *sq.Payment) *TxResult {
	result := &TxResult{Approved: true}
	if payment == nil {
		return result
	}
	if id := payment.GetID(); id != nil {
		result.GatewayTransactionID = *id
	}
	if details := payment.GetCardDetails(); details != nil {
		if code := details.GetAuthResultCode(); code != nil {
			result.AuthorizationCode = *code
		}
		if card := details.GetCard(); card != nil {
			if brand := card.GetCardBrand(); brand != nil {
				result.CardBrand = string(*brand)
			}
			if last4 := card.GetLast4(); last4 != nil {
				result.CardLast4 = *last4
			}
		}
	}
	return result
}

func moneyPtr(amount int64) *sq.Money {
	if amount <= 0 {
		return nil
	}
	currency := sq.CurrencyUsd
	return &sq.Money{
		Amount:   &amount,
		Currency: &currency,
	}
}
