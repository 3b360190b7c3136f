package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/schoolcore/fees-management/internal"
	"github.com/schoolcore/fees-management/internal/reports"
)

// ReportsRepository serves the read-only listing queries. It deliberately
// goes straight to SQL rather than through the ledger models: listings join
// students, filter on several columns and never mutate anything.
type ReportsRepository struct {
	db *sqlx.DB
}

func NewReportsRepository(db *sqlx.DB) *ReportsRepository {
	return &ReportsRepository{db: db}
}

const baseSelect = `
SELECT t.id, t.student_id,
       s.first_name || ' ' || s.last_name AS student_name,
       t.amount, t.status, t.description,
       t.external_ref, t.payment_ref, t.receipt_number,
       t.completed_at, t.created_at
FROM fee_transactions t
JOIN students s ON s.id = t.student_id`

func (r *ReportsRepository) List(ctx context.Context, filter reports.Filter) ([]reports.Row, error) {
	var (
		conds []string
		args  []interface{}
	)

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.StudentID != nil {
		conds = append(conds, "t.student_id = "+arg(*filter.StudentID))
	}
	if filter.Status != "" {
		conds = append(conds, "t.status = "+arg(filter.Status))
	}
	if filter.From != nil {
		conds = append(conds, "t.created_at >= "+arg(*filter.From))
	}
	if filter.To != nil {
		conds = append(conds, "t.created_at < "+arg(*filter.To))
	}
	if filter.MinAmount != nil {
		conds = append(conds, "t.amount >= "+arg(*filter.MinAmount))
	}
	if filter.MaxAmount != nil {
		conds = append(conds, "t.amount <= "+arg(*filter.MaxAmount))
	}

	query := baseSelect
	if len(conds) > 0 {
		query += "\nWHERE " + strings.Join(conds, " AND ")
	}
	query += "\nORDER BY t.created_at DESC, t.id DESC"
	query += "\nLIMIT " + arg(filter.Limit) + " OFFSET " + arg(filter.Offset)

	rows := []reports.Row{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list fee transactions: %w", err)
	}
	return rows, nil
}

func (r *ReportsRepository) GetByID(ctx context.Context, id int64) (*reports.Row, error) {
	var row reports.Row
	err := r.db.GetContext(ctx, &row, baseSelect+"\nWHERE t.id = $1", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internal.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get fee transaction %d: %w", id, err)
	}
	return &row, nil
}
