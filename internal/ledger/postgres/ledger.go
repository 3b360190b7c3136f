package postgres

import (
	"time"

	"gorm.io/gorm"

	"github.com/schoolcore/fees-management/internal/core/datamodel/student"
	"github.com/schoolcore/fees-management/internal/core/datamodel/transaction"
	"github.com/schoolcore/fees-management/internal/ledger"
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) ledger.RepositoryAPI {
	return &LedgerRepository{
		db: db,
	}
}

func (r *LedgerRepository) Create(tx *transaction.FeeTransaction) error {
	return r.db.Create(tx).Error
}

func (r *LedgerRepository) GetByID(id int64) (*transaction.FeeTransaction, error) {
	var tx transaction.FeeTransaction
	err := r.db.First(&tx, id).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *LedgerRepository) GetByExternalRef(ref string) (*transaction.FeeTransaction, error) {
	var tx transaction.FeeTransaction
	err := r.db.Where("external_ref = ?", ref).First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// AttachExternalRef sets the external reference only if none is attached yet.
// The unique index on external_ref rejects reuse across transactions.
func (r *LedgerRepository) AttachExternalRef(id int64, ref string) (bool, error) {
	res := r.db.Model(&transaction.FeeTransaction{}).
		Where("id = ? AND external_ref IS NULL", id).
		Updates(map[string]interface{}{
			"external_ref": ref,
			"updated_at":   time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

// Complete performs the completion transition and the dependent student
// writes inside one database transaction, so a reader never observes a
// completed transaction with stale student fee state.
// The status condition makes the update a no-op when a concurrent delivery
// already completed the row. Failed rows are eligible too: failure notices
// arrive per payment attempt, and a retried attempt can capture.
func (r *LedgerRepository) Complete(id int64, paymentRef, receiptNumber string, paidAt time.Time) (bool, error) {
	performed := false
	err := r.db.Transaction(func(dbtx *gorm.DB) error {
		res := dbtx.Model(&transaction.FeeTransaction{}).
			Where("id = ? AND status IN ?", id, []string{transaction.StatusPending, transaction.StatusFailed}).
			Updates(map[string]interface{}{
				"status":         transaction.StatusCompleted,
				"payment_ref":    paymentRef,
				"receipt_number": receiptNumber,
				"completed_at":   paidAt,
				"updated_at":     paidAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		performed = true

		var tx transaction.FeeTransaction
		if err := dbtx.First(&tx, id).Error; err != nil {
			return err
		}

		return dbtx.Model(&student.Student{}).
			Where("id = ?", tx.StudentID).
			Updates(map[string]interface{}{
				"fee_status":        student.FeeStatusPaid,
				"last_payment_date": paidAt,
				"last_payment_ref":  paymentRef,
				"updated_at":        paidAt,
			}).Error
	})
	if err != nil {
		return false, err
	}
	return performed, nil
}

func (r *LedgerRepository) Fail(id int64) (bool, error) {
	res := r.db.Model(&transaction.FeeTransaction{}).
		Where("id = ? AND status = ?", id, transaction.StatusPending).
		Updates(map[string]interface{}{
			"status":     transaction.StatusFailed,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *LedgerRepository) Refund(id int64) (bool, error) {
	res := r.db.Model(&transaction.FeeTransaction{}).
		Where("id = ? AND status = ?", id, transaction.StatusCompleted).
		Updates(map[string]interface{}{
			"status":     transaction.StatusRefunded,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *LedgerRepository) ListPending(olderThan time.Time, limit int) ([]*transaction.FeeTransaction, error) {
	var rows []*transaction.FeeTransaction
	err := r.db.
		Where("status = ? AND created_at <= ?", transaction.StatusPending, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *LedgerRepository) ListUnsentReceipts(olderThan time.Time, limit int) ([]*transaction.FeeTransaction, error) {
	var rows []*transaction.FeeTransaction
	err := r.db.
		Where("status = ? AND receipt_emailed_at IS NULL AND completed_at <= ?",
			transaction.StatusCompleted, olderThan).
		Order("completed_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *LedgerRepository) MarkReceiptEmailed(id int64, at time.Time) (bool, error) {
	res := r.db.Model(&transaction.FeeTransaction{}).
		Where("id = ? AND status = ? AND receipt_emailed_at IS NULL", id, transaction.StatusCompleted).
		Updates(map[string]interface{}{
			"receipt_emailed_at": at,
			"updated_at":         at,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *LedgerRepository) GetStudent(id int64) (*student.Student, error) {
	var st student.Student
	err := r.db.First(&st, id).Error
	if err != nil {
		return nil, err
	}
	return &st, nil
}
