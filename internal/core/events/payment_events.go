package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventTypePaymentCompleted = "payment.completed"
	EventTypePaymentFailed    = "payment.failed"
)

// PaymentCompletedEvent is published exactly once per transaction, by the
// call that actually performed the pending -> completed transition.
type PaymentCompletedEvent struct {
	BaseEvent
	TransactionID int64           `json:"transaction_id"`
	StudentID     int64           `json:"student_id"`
	OrderRef      string          `json:"order_ref"`
	PaymentRef    string          `json:"payment_ref"`
	Amount        decimal.Decimal `json:"amount"`
	ReceiptNumber string          `json:"receipt_number"`
}

func NewPaymentCompletedEvent(transactionID, studentID int64, orderRef, paymentRef string, amount decimal.Decimal, receiptNumber string) *PaymentCompletedEvent {
	return &PaymentCompletedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentCompleted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"transaction_id": transactionID,
				"student_id":     studentID,
				"order_ref":      orderRef,
				"payment_ref":    paymentRef,
				"amount":         amount.String(),
				"receipt_number": receiptNumber,
			},
		},
		TransactionID: transactionID,
		StudentID:     studentID,
		OrderRef:      orderRef,
		PaymentRef:    paymentRef,
		Amount:        amount,
		ReceiptNumber: receiptNumber,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	TransactionID int64           `json:"transaction_id"`
	StudentID     int64           `json:"student_id"`
	OrderRef      string          `json:"order_ref"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
}

func NewPaymentFailedEvent(transactionID, studentID int64, orderRef string, amount decimal.Decimal, reason string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"transaction_id": transactionID,
				"student_id":     studentID,
				"order_ref":      orderRef,
				"amount":         amount.String(),
				"reason":         reason,
			},
		},
		TransactionID: transactionID,
		StudentID:     studentID,
		OrderRef:      orderRef,
		Amount:        amount,
		Reason:        reason,
	}
}
