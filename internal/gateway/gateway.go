package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// PaymentInfo is the gateway's view of a payment, used only as a fallback
// cross-check during reconciliation, never as the sole trigger for completion.
type PaymentInfo struct {
	PaymentID string
	OrderID   string
	Status    string
	Amount    decimal.Decimal
}

// Payment statuses reported by the gateway.
const (
	PaymentStatusCaptured   = "captured"
	PaymentStatusAuthorized = "authorized"
	PaymentStatusFailed     = "failed"
)

// Adapter isolates the reconciliation flow from the payment provider's wire
// format. Signature verification is pure and local; a false result is
// untrusted input, not evidence that the real payment failed.
type Adapter interface {
	OpenCharge(ctx context.Context, amount decimal.Decimal, receiptRef string) (orderID string, err error)
	VerifyPaymentSignature(orderID, paymentID, signature string) bool
	VerifyWebhookSignature(body []byte, signature string) bool
	FetchPayment(ctx context.Context, paymentID string) (*PaymentInfo, error)
}
