package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/schoolcore/fees-management/internal/core/datamodel/transaction"
	"github.com/schoolcore/fees-management/internal/gateway"
)

// Audit finding kinds, ordered roughly by how urgently an operator should
// look at them.
const (
	// AuditCapturedNotReconciled means money moved at the gateway while the
	// local row is still pending: a confirmation was lost on both trigger
	// paths and the row needs reconciling.
	AuditCapturedNotReconciled = "captured_not_reconciled"
	// AuditAmountMismatch means the gateway captured a different amount than
	// the ledger expects for the order.
	AuditAmountMismatch = "amount_mismatch"
	// AuditAwaitingCapture means an attempt is authorized but not captured.
	AuditAwaitingCapture = "awaiting_capture"
	// AuditAttemptsFailed means every attempt on the order failed.
	AuditAttemptsFailed = "attempts_failed"
	// AuditNoAttempts means the payer never reached checkout.
	AuditNoAttempts = "no_attempts"
	// AuditUnreferenced means the row never got a gateway order attached, so
	// there is nothing to cross-check.
	AuditUnreferenced = "unreferenced"
	// AuditGatewayError means the gateway could not answer for this order.
	AuditGatewayError = "gateway_error"
)

// AuditFinding is one pending transaction's cross-check outcome.
type AuditFinding struct {
	TransactionID int64
	StudentID     int64
	OrderID       string
	Kind          string
	Detail        string
}

// AuditReport is the result of one sweep over pending transactions.
type AuditReport struct {
	Checked  int
	Findings []AuditFinding
}

// Mismatches returns only the findings that contradict the local ledger:
// captures the ledger never saw and amounts that do not line up.
func (r *AuditReport) Mismatches() []AuditFinding {
	var out []AuditFinding
	for _, f := range r.Findings {
		if f.Kind == AuditCapturedNotReconciled || f.Kind == AuditAmountMismatch {
			out = append(out, f)
		}
	}
	return out
}

// AuditLedgerAPI is the slice of the ledger the auditor reads.
type AuditLedgerAPI interface {
	ListPending(olderThan time.Time, limit int) ([]*transaction.FeeTransaction, error)
}

// AuditGatewayAPI lists the gateway's payment attempts for an order.
type AuditGatewayAPI interface {
	FetchOrderPayments(ctx context.Context, orderID string) ([]gateway.PaymentInfo, error)
}

// Auditor cross-checks pending ledger rows against the gateway's records. It
// only reports; reconciling a found capture stays with the engine, fed by a
// verified confirmation.
type Auditor struct {
	ledger  AuditLedgerAPI
	gateway AuditGatewayAPI
	logger  *slog.Logger
}

func NewAuditor(ledgerSvc AuditLedgerAPI, gw AuditGatewayAPI, logger *slog.Logger) *Auditor {
	return &Auditor{
		ledger:  ledgerSvc,
		gateway: gw,
		logger:  logger,
	}
}

// Sweep examines pending transactions older than the grace period and asks
// the gateway what it knows about each order. A gateway error on one order is
// recorded and the sweep moves on.
func (a *Auditor) Sweep(ctx context.Context, grace time.Duration, limit int) (*AuditReport, error) {
	cutoff := time.Now().UTC().Add(-grace)
	rows, err := a.ledger.ListPending(cutoff, limit)
	if err != nil {
		return nil, err
	}

	report := &AuditReport{Checked: len(rows)}
	for _, tx := range rows {
		report.Findings = append(report.Findings, a.check(ctx, tx))
	}

	a.logger.Info("audit: sweep finished",
		"checked", report.Checked,
		"mismatches", len(report.Mismatches()))
	return report, nil
}

func (a *Auditor) check(ctx context.Context, tx *transaction.FeeTransaction) AuditFinding {
	finding := AuditFinding{
		TransactionID: tx.ID,
		StudentID:     tx.StudentID,
	}

	if tx.ExternalRef == nil {
		finding.Kind = AuditUnreferenced
		finding.Detail = "no gateway order attached"
		return finding
	}
	finding.OrderID = *tx.ExternalRef

	payments, err := a.gateway.FetchOrderPayments(ctx, finding.OrderID)
	if err != nil {
		a.logger.Error("audit: gateway lookup failed",
			"error", err,
			"transaction_id", tx.ID,
			"order_id", finding.OrderID)
		finding.Kind = AuditGatewayError
		finding.Detail = err.Error()
		return finding
	}

	if len(payments) == 0 {
		finding.Kind = AuditNoAttempts
		finding.Detail = "gateway has no payment attempts for this order"
		return finding
	}

	authorized := false
	for _, p := range payments {
		switch p.Status {
		case gateway.PaymentStatusCaptured:
			if !p.Amount.Equal(tx.Amount) {
				finding.Kind = AuditAmountMismatch
				finding.Detail = fmt.Sprintf("gateway captured %s for payment %s, ledger expects %s",
					p.Amount.String(), p.PaymentID, tx.Amount.String())
				return finding
			}
			finding.Kind = AuditCapturedNotReconciled
			finding.Detail = fmt.Sprintf("payment %s captured at the gateway, row still pending", p.PaymentID)
			return finding
		case gateway.PaymentStatusAuthorized:
			authorized = true
		}
	}

	if authorized {
		finding.Kind = AuditAwaitingCapture
		finding.Detail = "an attempt is authorized but not captured"
		return finding
	}

	finding.Kind = AuditAttemptsFailed
	finding.Detail = fmt.Sprintf("all %d attempts failed", len(payments))
	return finding
}
