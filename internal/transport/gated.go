package transport

import (
	"context"
	"fmt"

	"github.com/tillpoint/terminal-core/internal/reader"
	"github.com/tillpoint/terminal-core/pkg/logger"
	"github.com/tillpoint/terminal-core/pkg/metrics"
)

// Gated wraps a Transport with the reader health contract: every monetary
// operation runs under AssertHealthy and is followed by a mandatory pad
// reset regardless of its outcome. A failed reset degrades the reader; a
// successful one restores it.
type Gated struct {
	inner   Transport
	gate    *reader.Gate
	logg    *logger.Logger
	metrics *metrics.PaymentMetrics
}

// GatedParams configure the gated transport wrapper.
type GatedParams struct {
	Inner   Transport
	Gate    *reader.Gate
	Logger  *logger.Logger
	Metrics *metrics.PaymentMetrics
}

// NewGated builds the health-gated transport.
func NewGated(params GatedParams) (*Gated, error) {
	if params.Inner == nil {
		return nil, fmt.Errorf("inner transport required")
	}
	if params.Gate == nil {
		return nil, fmt.Errorf("reader gate required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Gated{
		inner:   params.Inner,
		gate:    params.Gate,
		logg:    params.Logger,
		metrics: params.Metrics,
	}, nil
}

func (g *Gated) Sale(ctx context.Context, req TxRequest) (*TxResult, error) {
	return g.monetary(ctx, req.ReaderID, func() (*TxResult, error) {
		return g.inner.Sale(ctx, req)
	})
}

func (g *Gated) PreAuth(ctx context.Context, req TxRequest) (*TxResult, error) {
	return g.monetary(ctx, req.ReaderID, func() (*TxResult, error) {
		return g.inner.PreAuth(ctx, req)
	})
}

func (g *Gated) Capture(ctx context.Context, readerID, gatewayTransactionID string, amountCents int) (*TxResult, error) {
	return g.monetary(ctx, readerID, func() (*TxResult, error) {
		return g.inner.Capture(ctx, readerID, gatewayTransactionID, amountCents)
	})
}

func (g *Gated) Void(ctx context.Context, readerID, gatewayTransactionID string) (*TxResult, error) {
	return g.monetary(ctx, readerID, func() (*TxResult, error) {
		return g.inner.Void(ctx, readerID, gatewayTransactionID)
	})
}

// PadReset passes through to the device without gating: it is the recovery
// path for a degraded reader. Success restores the gate.
func (g *Gated) PadReset(ctx context.Context, readerID string) error {
	if err := g.inner.PadReset(ctx, readerID); err != nil {
		g.gate.MarkDegraded(readerID, fmt.Sprintf("manual pad reset failed: %v", err))
		return Classify(err)
	}
	g.gate.MarkHealthy(readerID)
	return nil
}

func (g *Gated) monetary(ctx context.Context, readerID string, op func() (*TxResult, error)) (*TxResult, error) {
	if err := g.gate.AssertHealthy(readerID); err != nil {
		return nil, err
	}

	result, opErr := op()

	// The pad reset runs whether the transaction approved, declined, or
	// errored. Only its own failure touches the gate.
	if resetErr := g.inner.PadReset(ctx, readerID); resetErr != nil {
		reason := fmt.Sprintf("post-transaction pad reset failed: %v", resetErr)
		g.gate.MarkDegraded(readerID, reason)
		g.metrics.IncReaderDegraded()
		logCtx := g.logg.WithReaderID(ctx, readerID)
		g.logg.Error(logCtx, "reader degraded after pad reset failure", resetErr)
	} else {
		g.gate.MarkHealthy(readerID)
	}

	if opErr != nil {
		return nil, Classify(opErr)
	}
	return result, nil
}
