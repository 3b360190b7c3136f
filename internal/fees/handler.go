package fees

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/shopspring/decimal"

	"github.com/schoolcore/fees-management/internal"
	"github.com/schoolcore/fees-management/internal/transport"
)

type ServiceAPI interface {
	InitiatePayment(ctx context.Context, studentID int64, amount decimal.Decimal, description string) (*CheckoutResponse, error)
	Refund(transactionID int64) error
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     service,
	}
}

// InitiatePayment handles POST /fees/payments
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := internal.ActorFromContext(r.Context())
	if !ok || actor == nil {
		h.Logger.Error("InitiatePayment: actor not found in context")
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req InitiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("InitiatePayment: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, appErr := req.ParseAmount()
	if appErr != nil {
		h.HandleError(w, appErr)
		return
	}

	studentID, err := ResolvePayer(actor, req.StudentID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	checkout, err := h.Service.InitiatePayment(r.Context(), studentID, amount, req.Description)
	if err != nil {
		h.Logger.Error("InitiatePayment: service error",
			"error", err,
			"student_id", studentID,
			"actor_id", actor.UserID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("InitiatePayment: checkout opened",
		"transaction_id", checkout.TransactionID,
		"order_id", checkout.OrderID,
		"student_id", studentID)

	h.WriteJSON(w, http.StatusCreated, checkout)
}

// Refund handles PATCH /fees/transactions/{id}/refund (admin only)
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	if err := h.Service.Refund(id); err != nil {
		h.Logger.Error("Refund: service error", "error", err, "transaction_id", id)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("Refund: transaction refunded", "transaction_id", id)
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "refunded",
		"transaction_id": id,
	})
}
