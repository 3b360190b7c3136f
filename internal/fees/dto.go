package fees

import (
	"github.com/shopspring/decimal"

	errors "github.com/schoolcore/fees-management/internal"
	"github.com/schoolcore/fees-management/internal/core/common/validation"
)

// InitiatePaymentRequest starts a fee payment. StudentID is only honored for
// staff actors; students always pay for themselves.
type InitiatePaymentRequest struct {
	StudentID   int64  `json:"student_id,omitempty"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

func (r *InitiatePaymentRequest) ParseAmount() (decimal.Decimal, *errors.AppError) {
	if r.Amount == "" {
		return decimal.Zero, errors.NewValidationFieldError("amount", "amount is required", errors.ErrCodeValidationFailed)
	}
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return decimal.Zero, errors.NewValidationFieldError("amount", "amount must be a decimal number", errors.ErrCodeInvalidAmount)
	}
	if appErr := validation.ValidateFeeAmount(amount); appErr != nil {
		return decimal.Zero, appErr
	}
	return amount, nil
}

// CheckoutResponse carries everything the payer-facing page needs to hand off
// to the gateway's checkout.
type CheckoutResponse struct {
	TransactionID int64  `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	KeyID         string `json:"key_id"`
	Amount        string `json:"amount"`
	AmountMinor   int64  `json:"amount_minor"`
	Currency      string `json:"currency"`
	CallbackURL   string `json:"callback_url"`
	StudentName   string `json:"student_name"`
}
