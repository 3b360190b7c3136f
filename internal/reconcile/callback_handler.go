package reconcile

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/schoolcore/fees-management/internal/transport"
)

// CallbackHandler receives the synchronous browser redirect from the gateway
// checkout. The payer only ever sees a success or a generic failure page; the
// precise abort reason stays in the logs.
type CallbackHandler struct {
	*transport.BaseHandler
	engine     *Engine
	successURL string
	failureURL string
	logger     *slog.Logger
}

func NewCallbackHandler(baseHandler *transport.BaseHandler, engine *Engine, successURL, failureURL string, logger *slog.Logger) *CallbackHandler {
	return &CallbackHandler{
		BaseHandler: baseHandler,
		engine:      engine,
		successURL:  successURL,
		failureURL:  failureURL,
		logger:      logger,
	}
}

func (h *CallbackHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.logger.Error("callback: failed to parse form", "error", err)
		http.Redirect(w, r, h.failureURL, http.StatusSeeOther)
		return
	}

	confirmation := Confirmation{
		Source:    SourceCallback,
		PaymentID: r.PostFormValue("razorpay_payment_id"),
		OrderID:   r.PostFormValue("razorpay_order_id"),
		Signature: r.PostFormValue("razorpay_signature"),
	}

	h.logger.Info("callback: received",
		"order_id", confirmation.OrderID,
		"payment_id", confirmation.PaymentID)

	result, err := h.engine.Process(r.Context(), confirmation)
	if err != nil {
		// All abort reasons land on the same failure page; the distinction
		// is logged inside the engine.
		http.Redirect(w, r, h.failureURL, http.StatusSeeOther)
		return
	}

	h.logger.Info("callback: processed",
		"transaction_id", result.Transaction.ID,
		"performed", result.Performed)

	http.Redirect(w, r, fmt.Sprintf("%s?transaction_id=%d", h.successURL, result.Transaction.ID), http.StatusSeeOther)
}
