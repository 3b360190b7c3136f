package reconcile

import (
	"context"
	"log/slog"

	"github.com/schoolcore/fees-management/internal"
	"github.com/schoolcore/fees-management/internal/core/datamodel/transaction"
	"github.com/schoolcore/fees-management/internal/core/events"
	"github.com/schoolcore/fees-management/internal/gateway"
	"github.com/schoolcore/fees-management/internal/ledger"
)

// Source identifies which trigger path delivered a confirmation. Both paths
// converge on the same engine so idempotency holds regardless of which
// arrives first, both arrive, or either arrives more than once.
type Source string

const (
	SourceCallback Source = "callback"
	SourceWebhook  Source = "webhook"
)

// Confirmation is the normalized inbound message from either trigger path.
// RawBody carries the signed payload on the webhook path.
type Confirmation struct {
	Source    Source
	PaymentID string
	OrderID   string
	Signature string
	RawBody   []byte
}

// Result reports a successful reconciliation. Performed is false for
// idempotent replays of an already completed transaction.
type Result struct {
	Transaction *transaction.FeeTransaction
	Performed   bool
}

// LedgerAPI is the slice of the ledger service the engine needs.
type LedgerAPI interface {
	GetByExternalRef(ref string) (*transaction.FeeTransaction, error)
	MarkCompleted(id int64, paymentRef string) (*ledger.CompletionResult, error)
	MarkFailed(id int64) error
}

// Engine applies gateway confirmations to the ledger exactly once.
type Engine struct {
	ledger   LedgerAPI
	gateway  gateway.Adapter
	eventBus *events.EventBus
	logger   *slog.Logger
}

func NewEngine(ledgerSvc LedgerAPI, gw gateway.Adapter, eventBus *events.EventBus, logger *slog.Logger) *Engine {
	return &Engine{
		ledger:   ledgerSvc,
		gateway:  gw,
		eventBus: eventBus,
		logger:   logger,
	}
}

// Process verifies and applies one confirmation. Any error return leaves the
// ledger exactly as it was: the transaction stays pending for a future
// legitimate trigger, and nothing is retried here.
func (e *Engine) Process(ctx context.Context, c Confirmation) (*Result, error) {
	if c.PaymentID == "" || c.OrderID == "" || c.Signature == "" {
		e.logger.Error("reconcile: confirmation missing required fields",
			"source", c.Source,
			"has_payment_id", c.PaymentID != "",
			"has_order_id", c.OrderID != "",
			"has_signature", c.Signature != "")
		return nil, internal.ErrMalformedConfirmation
	}

	if !e.verify(c) {
		// Untrusted input, possibly forged. Not evidence about the real
		// payment, so the transaction is left pending.
		e.logger.Error("reconcile: confirmation signature rejected",
			"source", c.Source,
			"order_id", c.OrderID,
			"payment_id", c.PaymentID)
		return nil, internal.ErrUntrustedConfirmation
	}

	tx, err := e.resolve(ctx, c)
	if err != nil {
		return nil, err
	}

	if tx.IsCompleted() {
		e.logger.Info("reconcile: transaction already completed, replay ignored",
			"source", c.Source,
			"transaction_id", tx.ID,
			"order_id", c.OrderID)
		return &Result{Transaction: tx, Performed: false}, nil
	}

	completion, err := e.ledger.MarkCompleted(tx.ID, c.PaymentID)
	if err != nil {
		e.logger.Error("reconcile: completion failed",
			"error", err,
			"source", c.Source,
			"transaction_id", tx.ID)
		return nil, err
	}

	if completion.Performed {
		e.publishCompleted(ctx, completion.Transaction, c)
	}

	return &Result{Transaction: completion.Transaction, Performed: completion.Performed}, nil
}

// ProcessFailure applies a gateway "payment failed" notification. A failure
// notice is weaker evidence than a capture: it never overrides a completed
// transaction, and an unknown order id is dropped without a gateway fallback.
// The failed state it produces is not terminal either, the gateway reports
// failures per attempt and a retried attempt on the same order can still
// capture through Process.
func (e *Engine) ProcessFailure(ctx context.Context, c Confirmation, reason string) error {
	if c.OrderID == "" || c.Signature == "" {
		e.logger.Error("reconcile: failure notice missing required fields",
			"source", c.Source,
			"has_order_id", c.OrderID != "",
			"has_signature", c.Signature != "")
		return internal.ErrMalformedConfirmation
	}

	if !e.verify(c) {
		e.logger.Error("reconcile: failure notice signature rejected",
			"source", c.Source,
			"order_id", c.OrderID)
		return internal.ErrUntrustedConfirmation
	}

	tx, err := e.ledger.GetByExternalRef(c.OrderID)
	if err != nil {
		e.logger.Error("reconcile: failure notice for unknown order, needs operator review",
			"error", err,
			"order_id", c.OrderID)
		return err
	}

	if !tx.IsPending() {
		// Settled rows outrank the notice; an already failed row makes the
		// notice a duplicate. Either way nothing changes.
		e.logger.Info("reconcile: failure notice for non-pending transaction, ignored",
			"transaction_id", tx.ID,
			"status", tx.Status,
			"order_id", c.OrderID)
		return nil
	}

	if err := e.ledger.MarkFailed(tx.ID); err != nil {
		if appErr, ok := internal.IsAppError(err); ok && appErr.Code == internal.ErrCodeInvalidTransition {
			// A concurrent delivery settled the row first; nothing to undo.
			e.logger.Info("reconcile: transaction settled concurrently, failure notice ignored",
				"transaction_id", tx.ID,
				"order_id", c.OrderID)
			return nil
		}
		e.logger.Error("reconcile: failure transition failed",
			"error", err,
			"transaction_id", tx.ID)
		return err
	}

	event := events.NewPaymentFailedEvent(tx.ID, tx.StudentID, c.OrderID, tx.Amount, reason)
	e.eventBus.Publish(ctx, event)

	e.logger.Info("reconcile: transaction marked failed",
		"transaction_id", tx.ID,
		"order_id", c.OrderID,
		"reason", reason)
	return nil
}

func (e *Engine) verify(c Confirmation) bool {
	switch c.Source {
	case SourceWebhook:
		return e.gateway.VerifyWebhookSignature(c.RawBody, c.Signature)
	default:
		return e.gateway.VerifyPaymentSignature(c.OrderID, c.PaymentID, c.Signature)
	}
}

// resolve finds the local transaction for a confirmation. When the order id
// is unknown locally it asks the gateway for the payment to recover the order
// id, covering the race where the reference was not yet persisted when the
// confirmation arrived.
func (e *Engine) resolve(ctx context.Context, c Confirmation) (*transaction.FeeTransaction, error) {
	tx, err := e.ledger.GetByExternalRef(c.OrderID)
	if err == nil {
		return tx, nil
	}

	e.logger.Warn("reconcile: no transaction for order id, trying gateway fallback",
		"source", c.Source,
		"order_id", c.OrderID,
		"payment_id", c.PaymentID)

	info, err := e.gateway.FetchPayment(ctx, c.PaymentID)
	if err != nil {
		if appErr, ok := internal.IsAppError(err); ok && appErr.Code == internal.ErrCodeGatewayUnavailable {
			// Inconclusive: do not mark anything failed, leave pending.
			e.logger.Error("reconcile: gateway unavailable during fallback lookup",
				"error", err,
				"payment_id", c.PaymentID)
			return nil, err
		}
		e.logger.Error("reconcile: transaction unresolved, needs operator review",
			"error", err,
			"source", c.Source,
			"order_id", c.OrderID,
			"payment_id", c.PaymentID)
		return nil, internal.ErrTransactionNotFound
	}

	if info.OrderID != "" {
		// Retry with the gateway's order id; the reference may have been
		// persisted since the first lookup.
		tx, err = e.ledger.GetByExternalRef(info.OrderID)
		if err == nil {
			return tx, nil
		}
	}

	e.logger.Error("reconcile: transaction unresolved after gateway fallback, needs operator review",
		"source", c.Source,
		"order_id", c.OrderID,
		"gateway_order_id", info.OrderID,
		"payment_id", c.PaymentID)
	return nil, internal.ErrTransactionNotFound
}

func (e *Engine) publishCompleted(ctx context.Context, tx *transaction.FeeTransaction, c Confirmation) {
	receiptNumber := ""
	if tx.ReceiptNumber != nil {
		receiptNumber = *tx.ReceiptNumber
	}
	event := events.NewPaymentCompletedEvent(
		tx.ID,
		tx.StudentID,
		c.OrderID,
		c.PaymentID,
		tx.Amount,
		receiptNumber,
	)
	e.eventBus.Publish(ctx, event)
	e.logger.Info("reconcile: published payment completed event",
		"event_id", event.EventID(),
		"transaction_id", tx.ID,
		"source", c.Source)
}
