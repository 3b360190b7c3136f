package reconcile_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/schoolcore/fees-management/internal"
	"github.com/schoolcore/fees-management/internal/core/datamodel/transaction"
	"github.com/schoolcore/fees-management/internal/gateway"
	"github.com/schoolcore/fees-management/internal/reconcile"
)

type mockAuditLedger struct {
	rows      []*transaction.FeeTransaction
	listError error
}

func (m *mockAuditLedger) ListPending(olderThan time.Time, limit int) ([]*transaction.FeeTransaction, error) {
	if m.listError != nil {
		return nil, m.listError
	}
	if len(m.rows) > limit {
		return m.rows[:limit], nil
	}
	return m.rows, nil
}

type fakeAuditGateway struct {
	payments map[string][]gateway.PaymentInfo
	errors   map[string]error
}

func (f *fakeAuditGateway) FetchOrderPayments(ctx context.Context, orderID string) ([]gateway.PaymentInfo, error) {
	if err, ok := f.errors[orderID]; ok {
		return nil, err
	}
	return f.payments[orderID], nil
}

var _ = Describe("Auditor", func() {
	var (
		auditor *reconcile.Auditor
		ledger  *mockAuditLedger
		gw      *fakeAuditGateway
	)

	pendingTx := func(id int64, orderID string, amount int64) *transaction.FeeTransaction {
		tx := &transaction.FeeTransaction{
			ID:        id,
			StudentID: 1,
			Amount:    decimal.NewFromInt(amount),
			Status:    transaction.StatusPending,
			CreatedAt: time.Now().UTC().Add(-time.Hour),
		}
		if orderID != "" {
			tx.ExternalRef = &orderID
		}
		return tx
	}

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		ledger = &mockAuditLedger{}
		gw = &fakeAuditGateway{
			payments: make(map[string][]gateway.PaymentInfo),
			errors:   make(map[string]error),
		}
		auditor = reconcile.NewAuditor(ledger, gw, logger)
	})

	It("should flag a capture the ledger never reconciled", func() {
		ledger.rows = []*transaction.FeeTransaction{pendingTx(1, "order_abc", 1500)}
		gw.payments["order_abc"] = []gateway.PaymentInfo{
			{PaymentID: "pay_1", OrderID: "order_abc", Status: gateway.PaymentStatusFailed, Amount: decimal.NewFromInt(1500)},
			{PaymentID: "pay_2", OrderID: "order_abc", Status: gateway.PaymentStatusCaptured, Amount: decimal.NewFromInt(1500)},
		}

		report, err := auditor.Sweep(context.Background(), time.Hour, 50)

		Expect(err).ToNot(HaveOccurred())
		Expect(report.Checked).To(Equal(1))
		Expect(report.Findings).To(HaveLen(1))
		Expect(report.Findings[0].Kind).To(Equal(reconcile.AuditCapturedNotReconciled))
		Expect(report.Findings[0].Detail).To(ContainSubstring("pay_2"))
		Expect(report.Mismatches()).To(HaveLen(1))
	})

	It("should flag a captured amount that disagrees with the ledger", func() {
		ledger.rows = []*transaction.FeeTransaction{pendingTx(1, "order_abc", 1500)}
		gw.payments["order_abc"] = []gateway.PaymentInfo{
			{PaymentID: "pay_1", OrderID: "order_abc", Status: gateway.PaymentStatusCaptured, Amount: decimal.NewFromInt(900)},
		}

		report, err := auditor.Sweep(context.Background(), time.Hour, 50)

		Expect(err).ToNot(HaveOccurred())
		Expect(report.Findings[0].Kind).To(Equal(reconcile.AuditAmountMismatch))
		Expect(report.Findings[0].Detail).To(ContainSubstring("900"))
	})

	It("should report failed attempts without raising a mismatch", func() {
		ledger.rows = []*transaction.FeeTransaction{pendingTx(1, "order_abc", 1500)}
		gw.payments["order_abc"] = []gateway.PaymentInfo{
			{PaymentID: "pay_1", OrderID: "order_abc", Status: gateway.PaymentStatusFailed, Amount: decimal.NewFromInt(1500)},
		}

		report, err := auditor.Sweep(context.Background(), time.Hour, 50)

		Expect(err).ToNot(HaveOccurred())
		Expect(report.Findings[0].Kind).To(Equal(reconcile.AuditAttemptsFailed))
		Expect(report.Mismatches()).To(BeEmpty())
	})

	It("should report an authorized but uncaptured attempt", func() {
		ledger.rows = []*transaction.FeeTransaction{pendingTx(1, "order_abc", 1500)}
		gw.payments["order_abc"] = []gateway.PaymentInfo{
			{PaymentID: "pay_1", OrderID: "order_abc", Status: gateway.PaymentStatusAuthorized, Amount: decimal.NewFromInt(1500)},
		}

		report, err := auditor.Sweep(context.Background(), time.Hour, 50)

		Expect(err).ToNot(HaveOccurred())
		Expect(report.Findings[0].Kind).To(Equal(reconcile.AuditAwaitingCapture))
	})

	It("should report orders the payer never attempted", func() {
		ledger.rows = []*transaction.FeeTransaction{pendingTx(1, "order_abc", 1500)}

		report, err := auditor.Sweep(context.Background(), time.Hour, 50)

		Expect(err).ToNot(HaveOccurred())
		Expect(report.Findings[0].Kind).To(Equal(reconcile.AuditNoAttempts))
	})

	It("should report rows that never got an order attached", func() {
		ledger.rows = []*transaction.FeeTransaction{pendingTx(1, "", 1500)}

		report, err := auditor.Sweep(context.Background(), time.Hour, 50)

		Expect(err).ToNot(HaveOccurred())
		Expect(report.Findings[0].Kind).To(Equal(reconcile.AuditUnreferenced))
	})

	It("should keep sweeping when the gateway fails for one order", func() {
		ledger.rows = []*transaction.FeeTransaction{
			pendingTx(1, "order_bad", 1500),
			pendingTx(2, "order_good", 900),
		}
		gw.errors["order_bad"] = internal.NewGatewayUnavailableError(errors.New("connection refused"))
		gw.payments["order_good"] = []gateway.PaymentInfo{
			{PaymentID: "pay_1", OrderID: "order_good", Status: gateway.PaymentStatusCaptured, Amount: decimal.NewFromInt(900)},
		}

		report, err := auditor.Sweep(context.Background(), time.Hour, 50)

		Expect(err).ToNot(HaveOccurred())
		Expect(report.Checked).To(Equal(2))
		Expect(report.Findings[0].Kind).To(Equal(reconcile.AuditGatewayError))
		Expect(report.Findings[1].Kind).To(Equal(reconcile.AuditCapturedNotReconciled))
	})

	It("should surface a ledger listing failure", func() {
		ledger.listError = errors.New("connection reset")

		_, err := auditor.Sweep(context.Background(), time.Hour, 50)

		Expect(err).To(HaveOccurred())
	})
})
