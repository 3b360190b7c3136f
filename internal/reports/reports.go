package reports

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/schoolcore/fees-management/internal"
)

// Row is one fee transaction as the reporting surface presents it,
// joined with the student it belongs to.
type Row struct {
	ID            int64           `db:"id" json:"id"`
	StudentID     int64           `db:"student_id" json:"student_id"`
	StudentName   string          `db:"student_name" json:"student_name"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Status        string          `db:"status" json:"status"`
	Description   string          `db:"description" json:"description"`
	ExternalRef   *string         `db:"external_ref" json:"external_ref,omitempty"`
	PaymentRef    *string         `db:"payment_ref" json:"payment_ref,omitempty"`
	ReceiptNumber *string         `db:"receipt_number" json:"receipt_number,omitempty"`
	CompletedAt   *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Filter narrows a transaction listing. Zero values mean "no constraint".
type Filter struct {
	StudentID *int64
	Status    string
	From      *time.Time
	To        *time.Time
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	Limit     int
	Offset    int
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

func (f *Filter) normalize() {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

type RepositoryAPI interface {
	List(ctx context.Context, filter Filter) ([]Row, error)
	GetByID(ctx context.Context, id int64) (*Row, error)
}

type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// List returns transactions visible to the actor. Students are always
// scoped to their own rows regardless of what the filter asks for.
func (s *Service) List(ctx context.Context, actor *internal.Actor, filter Filter) ([]Row, error) {
	if actor == nil {
		return nil, internal.ErrUnauthorizedAccess
	}
	if !actor.IsStaff() {
		if actor.StudentID == 0 {
			return nil, internal.ErrUnauthorizedAccess
		}
		return s.ListForStudent(ctx, actor.StudentID, filter)
	}
	return s.ListAll(ctx, filter)
}

// ListAll lists transactions across all students.
func (s *Service) ListAll(ctx context.Context, filter Filter) ([]Row, error) {
	filter.normalize()

	rows, err := s.repo.List(ctx, filter)
	if err != nil {
		s.logger.Error("listing fee transactions", "error", err)
		return nil, internal.NewInternalError("could not list transactions", err)
	}
	return rows, nil
}

// ListForStudent lists one student's transactions, overriding any
// student_id the filter carries.
func (s *Service) ListForStudent(ctx context.Context, studentID int64, filter Filter) ([]Row, error) {
	filter.StudentID = &studentID
	return s.ListAll(ctx, filter)
}

// GetByID returns a single transaction, enforcing the same visibility rule.
func (s *Service) GetByID(ctx context.Context, actor *internal.Actor, id int64) (*Row, error) {
	if actor == nil {
		return nil, internal.ErrUnauthorizedAccess
	}

	row, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff() && row.StudentID != actor.StudentID {
		// hide existence of other students' transactions
		return nil, internal.ErrTransactionNotFound
	}
	return row, nil
}
