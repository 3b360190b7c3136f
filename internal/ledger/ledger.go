package ledger

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	errors "github.com/schoolcore/fees-management/internal"
	"github.com/schoolcore/fees-management/internal/core/common/validation"
	"github.com/schoolcore/fees-management/internal/core/datamodel/student"
	"github.com/schoolcore/fees-management/internal/core/datamodel/transaction"
)

// RepositoryAPI is the storage contract for the transaction ledger. Writes
// never delete rows; the transition methods are conditional on the row's
// current status and report whether they performed the transition.
type RepositoryAPI interface {
	Create(tx *transaction.FeeTransaction) error
	GetByID(id int64) (*transaction.FeeTransaction, error)
	GetByExternalRef(ref string) (*transaction.FeeTransaction, error)
	AttachExternalRef(id int64, ref string) (bool, error)
	// Complete atomically marks the transaction completed and updates the
	// student's fee state in the same database transaction. It applies to
	// pending and failed rows; false means the row was in neither state.
	Complete(id int64, paymentRef, receiptNumber string, paidAt time.Time) (bool, error)
	Fail(id int64) (bool, error)
	Refund(id int64) (bool, error)
	GetStudent(id int64) (*student.Student, error)
	// ListPending returns pending transactions created at or before the
	// cutoff, oldest first.
	ListPending(olderThan time.Time, limit int) ([]*transaction.FeeTransaction, error)
	// ListUnsentReceipts returns completed transactions whose receipt email
	// has not gone out yet.
	ListUnsentReceipts(olderThan time.Time, limit int) ([]*transaction.FeeTransaction, error)
	MarkReceiptEmailed(id int64, at time.Time) (bool, error)
}

// Service is the authoritative write surface for payment attempts.
type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Create records a new pending payment attempt. The external reference is
// attached later, once the gateway accepts the charge.
func (s *Service) Create(studentID int64, amount decimal.Decimal, description string) (*transaction.FeeTransaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, errors.ErrInvalidAmount
	}
	if appErr := validation.ValidateFeeDescription(description); appErr != nil {
		return nil, appErr
	}

	if _, err := s.repo.GetStudent(studentID); err != nil {
		s.logger.Error("ledger: student lookup failed", "error", err, "student_id", studentID)
		return nil, errors.ErrStudentNotFound
	}

	tx := &transaction.FeeTransaction{
		StudentID:   studentID,
		Amount:      amount,
		Status:      transaction.StatusPending,
		Description: description,
	}
	if err := s.repo.Create(tx); err != nil {
		s.logger.Error("ledger: failed to create transaction", "error", err, "student_id", studentID)
		return nil, errors.NewInternalError("failed to create transaction", err)
	}

	s.logger.Info("ledger: transaction created",
		"transaction_id", tx.ID,
		"student_id", studentID,
		"amount", amount.String())
	return tx, nil
}

// AttachExternalRef binds the gateway order id to the transaction. Attaching
// the same reference twice is a no-op; a different reference is rejected
// because the reference is immutable once set.
func (s *Service) AttachExternalRef(tx *transaction.FeeTransaction, ref string) error {
	if ref == "" {
		return errors.NewValidationError("external reference is required", errors.ErrCodeValidationFailed)
	}
	if tx.ExternalRef != nil {
		if *tx.ExternalRef == ref {
			return nil
		}
		return errors.ErrAlreadyAttached
	}

	attached, err := s.repo.AttachExternalRef(tx.ID, ref)
	if err != nil {
		s.logger.Error("ledger: failed to attach external ref", "error", err, "transaction_id", tx.ID)
		return errors.NewInternalError("failed to attach external reference", err)
	}
	if !attached {
		// Lost a race with another attach; reload to see what is there now.
		current, err := s.repo.GetByID(tx.ID)
		if err != nil {
			return errors.NewInternalError("failed to reload transaction", err)
		}
		if current.ExternalRef != nil && *current.ExternalRef == ref {
			*tx = *current
			return nil
		}
		return errors.ErrAlreadyAttached
	}

	tx.ExternalRef = &ref
	return nil
}

// CompletionResult reports the outcome of MarkCompleted.
type CompletionResult struct {
	Transaction *transaction.FeeTransaction
	// Performed is true only for the call that made the pending -> completed
	// transition. Idempotent replays return the completed row with false.
	Performed bool
}

// MarkCompleted transitions a pending or failed transaction to completed and
// updates the student record in the same atomic unit. A failed transaction
// may still complete because the gateway reports failures per attempt and a
// retried attempt can capture. Replays on an already completed transaction
// succeed without mutating anything; a refunded transaction is an invalid
// transition.
func (s *Service) MarkCompleted(id int64, paymentRef string) (*CompletionResult, error) {
	tx, err := s.repo.GetByID(id)
	if err != nil {
		return nil, errors.ErrTransactionNotFound
	}

	if tx.IsCompleted() {
		return &CompletionResult{Transaction: tx, Performed: false}, nil
	}
	if tx.IsTerminal() {
		return nil, errors.ErrInvalidTransition
	}

	now := time.Now().UTC()
	receiptNumber := newReceiptNumber(tx.ID, now)

	performed, err := s.repo.Complete(tx.ID, paymentRef, receiptNumber, now)
	if err != nil {
		s.logger.Error("ledger: completion failed", "error", err, "transaction_id", tx.ID)
		return nil, errors.NewInternalError("failed to complete transaction", err)
	}

	current, err := s.repo.GetByID(tx.ID)
	if err != nil {
		return nil, errors.NewInternalError("failed to reload transaction", err)
	}
	if !performed {
		// A concurrent delivery won the conditional update.
		if current.IsCompleted() {
			return &CompletionResult{Transaction: current, Performed: false}, nil
		}
		return nil, errors.ErrInvalidTransition
	}

	s.logger.Info("ledger: transaction completed",
		"transaction_id", current.ID,
		"student_id", current.StudentID,
		"receipt_number", receiptNumber,
		"payment_ref", paymentRef)
	return &CompletionResult{Transaction: current, Performed: true}, nil
}

// MarkFailed transitions a pending transaction to failed.
func (s *Service) MarkFailed(id int64) error {
	tx, err := s.repo.GetByID(id)
	if err != nil {
		return errors.ErrTransactionNotFound
	}
	if !tx.IsPending() {
		return errors.ErrInvalidTransition
	}

	performed, err := s.repo.Fail(tx.ID)
	if err != nil {
		s.logger.Error("ledger: failure transition failed", "error", err, "transaction_id", tx.ID)
		return errors.NewInternalError("failed to mark transaction failed", err)
	}
	if !performed {
		return errors.ErrInvalidTransition
	}

	s.logger.Info("ledger: transaction failed", "transaction_id", tx.ID)
	return nil
}

// MarkRefunded transitions a completed transaction to refunded. This is an
// administrative action outside the reconciliation flow.
func (s *Service) MarkRefunded(id int64) error {
	tx, err := s.repo.GetByID(id)
	if err != nil {
		return errors.ErrTransactionNotFound
	}
	if !tx.IsCompleted() {
		return errors.ErrInvalidTransition
	}

	performed, err := s.repo.Refund(tx.ID)
	if err != nil {
		s.logger.Error("ledger: refund transition failed", "error", err, "transaction_id", tx.ID)
		return errors.NewInternalError("failed to mark transaction refunded", err)
	}
	if !performed {
		return errors.ErrInvalidTransition
	}

	s.logger.Info("ledger: transaction refunded", "transaction_id", tx.ID)
	return nil
}

func (s *Service) GetByID(id int64) (*transaction.FeeTransaction, error) {
	tx, err := s.repo.GetByID(id)
	if err != nil {
		return nil, errors.ErrTransactionNotFound
	}
	return tx, nil
}

func (s *Service) GetByExternalRef(ref string) (*transaction.FeeTransaction, error) {
	tx, err := s.repo.GetByExternalRef(ref)
	if err != nil {
		return nil, errors.ErrTransactionNotFound
	}
	return tx, nil
}

func (s *Service) GetStudent(id int64) (*student.Student, error) {
	st, err := s.repo.GetStudent(id)
	if err != nil {
		return nil, errors.ErrStudentNotFound
	}
	return st, nil
}

// ListPending exposes pending transactions for the payment audit sweep.
func (s *Service) ListPending(olderThan time.Time, limit int) ([]*transaction.FeeTransaction, error) {
	rows, err := s.repo.ListPending(olderThan, limit)
	if err != nil {
		return nil, errors.NewInternalError("failed to list pending transactions", err)
	}
	return rows, nil
}

// ListUnsentReceipts exposes completed transactions still owed a receipt
// email, for the receipts worker.
func (s *Service) ListUnsentReceipts(olderThan time.Time, limit int) ([]*transaction.FeeTransaction, error) {
	rows, err := s.repo.ListUnsentReceipts(olderThan, limit)
	if err != nil {
		return nil, errors.NewInternalError("failed to list unsent receipts", err)
	}
	return rows, nil
}

// MarkReceiptEmailed records that the receipt email for a completed
// transaction went out. It is called after a successful send, so a lost
// update only risks a duplicate email, never a missing one.
func (s *Service) MarkReceiptEmailed(id int64) error {
	performed, err := s.repo.MarkReceiptEmailed(id, time.Now().UTC())
	if err != nil {
		s.logger.Error("ledger: marking receipt emailed failed", "error", err, "transaction_id", id)
		return errors.NewInternalError("failed to mark receipt emailed", err)
	}
	if !performed {
		s.logger.Warn("ledger: receipt emailed mark skipped, row not completed or already marked",
			"transaction_id", id)
	}
	return nil
}

func newReceiptNumber(txID int64, at time.Time) string {
	return fmt.Sprintf("RCPT-%s-%06d", at.Format("20060102"), txID)
}
