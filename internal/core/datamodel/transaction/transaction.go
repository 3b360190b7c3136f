package transaction

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction statuses. Allowed transitions:
// pending -> completed | failed, failed -> completed, completed -> refunded.
// failed -> completed exists because the gateway reports failures per payment
// attempt: a payer whose first attempt is declined can retry on the same
// order and capture.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusRefunded  = "refunded"
)

type FeeTransaction struct {
	ID            int64           `json:"id" gorm:"primaryKey"`
	StudentID     int64           `json:"student_id" gorm:"column:student_id;not null;index"`
	Amount        decimal.Decimal `json:"amount" gorm:"column:amount;type:numeric(10,2);not null"`
	Status        string          `json:"status" gorm:"column:status;default:pending"`
	ExternalRef   *string         `json:"external_ref,omitempty" gorm:"column:external_ref;uniqueIndex"`
	Description   string          `json:"description,omitempty" gorm:"column:description"`
	ReceiptNumber *string         `json:"receipt_number,omitempty" gorm:"column:receipt_number;uniqueIndex"`
	PaymentRef    *string         `json:"payment_ref,omitempty" gorm:"column:payment_ref"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty" gorm:"column:completed_at"`
	// ReceiptEmailedAt tracks best-effort receipt delivery; nil means the
	// receipts worker may still pick the row up.
	ReceiptEmailedAt *time.Time `json:"-" gorm:"column:receipt_emailed_at"`
	CreatedAt        time.Time  `json:"created_at" gorm:"column:created_at"`
	UpdatedAt        time.Time  `json:"updated_at" gorm:"column:updated_at"`
}

func (FeeTransaction) TableName() string {
	return "fee_transactions"
}

func (t *FeeTransaction) IsPending() bool {
	return t.Status == StatusPending
}

func (t *FeeTransaction) IsCompleted() bool {
	return t.Status == StatusCompleted
}

// IsTerminal reports whether money has settled: a completed or refunded
// transaction can no longer be completed or failed by the reconciliation
// flow. A failed transaction is not terminal, a retried attempt may still
// capture.
func (t *FeeTransaction) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusRefunded
}
