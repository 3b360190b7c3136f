package fees_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/schoolcore/fees-management/internal"
	"github.com/schoolcore/fees-management/internal/core/datamodel/student"
	"github.com/schoolcore/fees-management/internal/core/datamodel/transaction"
	"github.com/schoolcore/fees-management/internal/fees"
	"github.com/schoolcore/fees-management/internal/gateway"
)

func TestFees(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Fees Suite")
}

type mockFeesLedger struct {
	students     map[int64]*student.Student
	transactions map[int64]*transaction.FeeTransaction
	nextID       int64
	createError  error
	attachError  error
	refundedIDs  []int64
}

func newMockFeesLedger() *mockFeesLedger {
	return &mockFeesLedger{
		students:     make(map[int64]*student.Student),
		transactions: make(map[int64]*transaction.FeeTransaction),
		nextID:       1,
	}
}

func (m *mockFeesLedger) addStudent(id int64, firstName, lastName string) {
	m.students[id] = &student.Student{
		ID:        id,
		FirstName: firstName,
		LastName:  lastName,
		FeeStatus: student.FeeStatusUnpaid,
	}
}

func (m *mockFeesLedger) GetStudent(id int64) (*student.Student, error) {
	st, ok := m.students[id]
	if !ok {
		return nil, internal.ErrStudentNotFound
	}
	return st, nil
}

func (m *mockFeesLedger) Create(studentID int64, amount decimal.Decimal, description string) (*transaction.FeeTransaction, error) {
	if m.createError != nil {
		return nil, m.createError
	}
	tx := &transaction.FeeTransaction{
		ID:          m.nextID,
		StudentID:   studentID,
		Amount:      amount,
		Description: description,
		Status:      transaction.StatusPending,
	}
	m.nextID++
	m.transactions[tx.ID] = tx
	return tx, nil
}

func (m *mockFeesLedger) AttachExternalRef(tx *transaction.FeeTransaction, ref string) error {
	if m.attachError != nil {
		return m.attachError
	}
	tx.ExternalRef = &ref
	return nil
}

func (m *mockFeesLedger) MarkRefunded(id int64) error {
	m.refundedIDs = append(m.refundedIDs, id)
	return nil
}

type fakeChargeAdapter struct {
	orderID     string
	openErr     error
	lastAmount  decimal.Decimal
	lastReceipt string
}

func (f *fakeChargeAdapter) OpenCharge(ctx context.Context, amount decimal.Decimal, receiptRef string) (string, error) {
	f.lastAmount = amount
	f.lastReceipt = receiptRef
	if f.openErr != nil {
		return "", f.openErr
	}
	return f.orderID, nil
}

func (f *fakeChargeAdapter) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return true
}

func (f *fakeChargeAdapter) VerifyWebhookSignature(body []byte, signature string) bool {
	return true
}

func (f *fakeChargeAdapter) FetchPayment(ctx context.Context, paymentID string) (*gateway.PaymentInfo, error) {
	return nil, internal.ErrTransactionNotFound
}

var _ = Describe("Fees Service", func() {
	var (
		service    *fees.Service
		mockLedger *mockFeesLedger
		adapter    *fakeChargeAdapter
		ctx        context.Context
	)

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		mockLedger = newMockFeesLedger()
		mockLedger.addStudent(1, "Aarav", "Sharma")
		adapter = &fakeChargeAdapter{orderID: "order_abc"}
		service = fees.NewService(mockLedger, adapter, "rzp_test_key", "INR", "https://school.example/api/v1/payments/callback", logger)
		ctx = context.Background()
	})

	Describe("InitiatePayment", func() {
		Context("when the request is valid", func() {
			It("should create a pending transaction and open a charge", func() {
				amount := decimal.RequireFromString("1500.50")

				checkout, err := service.InitiatePayment(ctx, 1, amount, "Term 2 fees")

				Expect(err).NotTo(HaveOccurred())
				Expect(checkout.TransactionID).To(Equal(int64(1)))
				Expect(checkout.OrderID).To(Equal("order_abc"))
				Expect(checkout.KeyID).To(Equal("rzp_test_key"))
				Expect(checkout.Amount).To(Equal("1500.50"))
				Expect(checkout.AmountMinor).To(Equal(int64(150050)))
				Expect(checkout.Currency).To(Equal("INR"))
				Expect(checkout.CallbackURL).To(Equal("https://school.example/api/v1/payments/callback"))
				Expect(checkout.StudentName).To(Equal("Aarav Sharma"))

				tx := mockLedger.transactions[1]
				Expect(tx.Status).To(Equal(transaction.StatusPending))
				Expect(tx.ExternalRef).NotTo(BeNil())
				Expect(*tx.ExternalRef).To(Equal("order_abc"))
				Expect(tx.Description).To(Equal("Term 2 fees"))
			})

			It("should pass the amount and a receipt reference to the gateway", func() {
				amount := decimal.RequireFromString("2000")

				_, err := service.InitiatePayment(ctx, 1, amount, "")

				Expect(err).NotTo(HaveOccurred())
				Expect(adapter.lastAmount.Equal(amount)).To(BeTrue())
				Expect(adapter.lastReceipt).To(Equal("receipt_1"))
			})

			It("should default the description from the student name", func() {
				_, err := service.InitiatePayment(ctx, 1, decimal.RequireFromString("100"), "")

				Expect(err).NotTo(HaveOccurred())
				Expect(mockLedger.transactions[1].Description).To(Equal("Fee payment for Aarav Sharma"))
			})
		})

		Context("when the student does not exist", func() {
			It("should fail without creating a transaction", func() {
				_, err := service.InitiatePayment(ctx, 99, decimal.RequireFromString("100"), "")

				Expect(err).To(HaveOccurred())
				appErr, ok := internal.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Code).To(Equal(internal.ErrCodeStudentNotFound))
				Expect(mockLedger.transactions).To(BeEmpty())
			})
		})

		Context("when the gateway is down", func() {
			It("should leave the pending row without an external reference", func() {
				adapter.openErr = internal.NewGatewayUnavailableError(errors.New("connection refused"))

				_, err := service.InitiatePayment(ctx, 1, decimal.RequireFromString("100"), "")

				Expect(err).To(HaveOccurred())
				tx := mockLedger.transactions[1]
				Expect(tx.Status).To(Equal(transaction.StatusPending))
				Expect(tx.ExternalRef).To(BeNil())
			})
		})
	})

	Describe("Refund", func() {
		It("should delegate to the ledger", func() {
			Expect(service.Refund(42)).To(Succeed())
			Expect(mockLedger.refundedIDs).To(Equal([]int64{42}))
		})
	})
})

var _ = Describe("ResolvePayer", func() {
	Context("when the actor is a student", func() {
		It("should always pay for themselves", func() {
			actor := &internal.Actor{UserID: "user-10", Role: internal.RoleStudent, StudentID: 5}

			payer, err := fees.ResolvePayer(actor, 0)

			Expect(err).NotTo(HaveOccurred())
			Expect(payer).To(Equal(int64(5)))
		})

		It("should ignore a requested student id", func() {
			actor := &internal.Actor{UserID: "user-10", Role: internal.RoleStudent, StudentID: 5}

			payer, err := fees.ResolvePayer(actor, 8)

			Expect(err).NotTo(HaveOccurred())
			Expect(payer).To(Equal(int64(5)))
		})

		It("should reject a student token without a student id", func() {
			actor := &internal.Actor{UserID: "user-10", Role: internal.RoleStudent}

			_, err := fees.ResolvePayer(actor, 8)

			Expect(err).To(MatchError(internal.ErrUnauthorizedAccess))
		})
	})

	Context("when the actor is staff", func() {
		It("should honor the requested student id", func() {
			actor := &internal.Actor{UserID: "user-2", Role: internal.RoleAdmin}

			payer, err := fees.ResolvePayer(actor, 8)

			Expect(err).NotTo(HaveOccurred())
			Expect(payer).To(Equal(int64(8)))
		})

		It("should require a student id", func() {
			actor := &internal.Actor{UserID: "user-2", Role: internal.RoleTeacher}

			_, err := fees.ResolvePayer(actor, 0)

			Expect(err).To(HaveOccurred())
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeInvalidStudent))
		})
	})
})
