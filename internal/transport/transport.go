package transport

import "context"

// TxRequest describes one monetary operation against a payment device or its
// cloud fallback. Amounts are minor units.
type TxRequest struct {
	ReaderID       string
	AmountCents    int
	TipCents       int
	CardToken      string
	ReferenceID    string
	IdempotencyKey string
}

// TxResult is the structured outcome of a monetary operation. A decline is
// not an error at this layer; it comes back as Approved=false with a reason.
type TxResult struct {
	Approved             bool
	DeclineReason        string
	CardToken            string
	CardBrand            string
	CardLast4            string
	AuthorizationCode    string
	GatewayTransactionID string
}

// Transport sends structured transactions to a payment device or its cloud
// fallback. Every monetary operation must be followed by a PadReset; the
// Gated wrapper enforces that contract.
type Transport interface {
	Sale(ctx context.Context, req TxRequest) (*TxResult, error)
	PreAuth(ctx context.Context, req TxRequest) (*TxResult, error)
	Capture(ctx context.Context, readerID, gatewayTransactionID string, amountCents int) (*TxResult, error)
	Void(ctx context.Context, readerID, gatewayTransactionID string) (*TxResult, error)
	PadReset(ctx context.Context, readerID string) error
}
