package fees

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/schoolcore/fees-management/internal"
	"github.com/schoolcore/fees-management/internal/core/datamodel/student"
	"github.com/schoolcore/fees-management/internal/core/datamodel/transaction"
	"github.com/schoolcore/fees-management/internal/gateway"
	"github.com/schoolcore/fees-management/internal/ledger"
)

// LedgerAPI is the slice of the ledger service the initiation flow needs.
type LedgerAPI interface {
	Create(studentID int64, amount decimal.Decimal, description string) (*transaction.FeeTransaction, error)
	AttachExternalRef(tx *transaction.FeeTransaction, ref string) error
	MarkRefunded(id int64) error
	GetStudent(id int64) (*student.Student, error)
}

var _ LedgerAPI = (*ledger.Service)(nil)

// Service opens gateway charges for fee payments. The ledger entry is created
// first, so a gateway outage leaves a pending transaction with no external
// reference and nothing to reconcile.
type Service struct {
	ledger      LedgerAPI
	gateway     gateway.Adapter
	keyID       string
	currency    string
	callbackURL string
	logger      *slog.Logger
}

func NewService(ledgerSvc LedgerAPI, gw gateway.Adapter, keyID, currency, callbackURL string, logger *slog.Logger) *Service {
	return &Service{
		ledger:      ledgerSvc,
		gateway:     gw,
		keyID:       keyID,
		currency:    currency,
		callbackURL: callbackURL,
		logger:      logger,
	}
}

// InitiatePayment creates a pending transaction and opens a charge for it.
func (s *Service) InitiatePayment(ctx context.Context, studentID int64, amount decimal.Decimal, description string) (*CheckoutResponse, error) {
	st, err := s.ledger.GetStudent(studentID)
	if err != nil {
		return nil, err
	}

	if description == "" {
		description = fmt.Sprintf("Fee payment for %s", st.FullName())
	}

	tx, err := s.ledger.Create(studentID, amount, description)
	if err != nil {
		return nil, err
	}

	orderID, err := s.gateway.OpenCharge(ctx, amount, fmt.Sprintf("receipt_%d", tx.ID))
	if err != nil {
		// The pending row stays; the payer is told to try again.
		s.logger.Error("fees: failed to open charge",
			"error", err,
			"transaction_id", tx.ID,
			"student_id", studentID)
		return nil, err
	}

	if err := s.ledger.AttachExternalRef(tx, orderID); err != nil {
		s.logger.Error("fees: failed to attach order id",
			"error", err,
			"transaction_id", tx.ID,
			"order_id", orderID)
		return nil, err
	}

	s.logger.Info("fees: payment initiated",
		"transaction_id", tx.ID,
		"student_id", studentID,
		"order_id", orderID,
		"amount", amount.String())

	return &CheckoutResponse{
		TransactionID: tx.ID,
		OrderID:       orderID,
		KeyID:         s.keyID,
		Amount:        amount.StringFixed(2),
		AmountMinor:   amount.Mul(decimal.NewFromInt(100)).IntPart(),
		Currency:      s.currency,
		CallbackURL:   s.callbackURL,
		StudentName:   st.FullName(),
	}, nil
}

// Refund marks a completed transaction refunded. Administrative action,
// separate from the reconciliation flow.
func (s *Service) Refund(transactionID int64) error {
	return s.ledger.MarkRefunded(transactionID)
}

// ResolvePayer decides which student a payment request applies to, based on
// the already-resolved actor.
func ResolvePayer(actor *internal.Actor, requested int64) (int64, error) {
	if actor.Role == internal.RoleStudent {
		if actor.StudentID == 0 {
			return 0, internal.ErrUnauthorizedAccess
		}
		return actor.StudentID, nil
	}
	if requested == 0 {
		return 0, internal.NewValidationError("student_id is required", internal.ErrCodeInvalidStudent)
	}
	return requested, nil
}
