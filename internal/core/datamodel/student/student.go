package student

import "time"

// Fee statuses carried on the student record. The status mirrors the most
// recent completed transaction and must never regress because of a duplicate
// or out-of-order confirmation.
const (
	FeeStatusUnpaid  = "unpaid"
	FeeStatusPending = "pending"
	FeeStatusPaid    = "paid"
)

type Student struct {
	ID              int64      `json:"id" gorm:"primaryKey"`
	FirstName       string     `json:"first_name" gorm:"column:first_name;not null"`
	LastName        string     `json:"last_name" gorm:"column:last_name;not null"`
	Email           string     `json:"email" gorm:"column:email;not null;uniqueIndex"`
	PasswordHash    string     `json:"-" gorm:"column:password_hash"`
	FeeStatus       string     `json:"fee_status" gorm:"column:fee_status;default:unpaid"`
	LastPaymentDate *time.Time `json:"last_payment_date,omitempty" gorm:"column:last_payment_date"`
	LastPaymentRef  *string    `json:"last_payment_ref,omitempty" gorm:"column:last_payment_ref"`
	CreatedAt       time.Time  `json:"created_at" gorm:"column:created_at"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"column:updated_at"`
}

func (Student) TableName() string {
	return "students"
}

func (s *Student) FullName() string {
	return s.FirstName + " " + s.LastName
}
