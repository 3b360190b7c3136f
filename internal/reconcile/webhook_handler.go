package reconcile

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/schoolcore/fees-management/internal"
	"github.com/schoolcore/fees-management/internal/transport"
)

// EventStore is the durable replay short-circuit for webhook deliveries.
// Correctness never depends on it; the engine's conditional completion does
// the real work.
type EventStore interface {
	Seen(eventID string) (bool, error)
	Record(eventID, eventType, orderRef string) error
}

const webhookSignatureHeader = "X-Razorpay-Signature"

// Event types the gateway delivers for payment outcomes.
const (
	eventPaymentAuthorized = "payment.authorized"
	eventPaymentCaptured   = "payment.captured"
	eventPaymentFailed     = "payment.failed"
)

type webhookEvent struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID               string `json:"id"`
				OrderID          string `json:"order_id"`
				Status           string `json:"status"`
				ErrorDescription string `json:"error_description"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type webhookResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// WebhookHandler receives asynchronous server-to-server notifications from
// the gateway. It verifies the signature before reading any business fields
// and answers 200 for everything it has durably handled, including idempotent
// replays, so the gateway's retry policy only re-delivers genuine failures.
type WebhookHandler struct {
	*transport.BaseHandler
	engine     *Engine
	eventStore EventStore
	logger     *slog.Logger
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, engine *Engine, eventStore EventStore, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: baseHandler,
		engine:      engine,
		eventStore:  eventStore,
		logger:      logger,
	}
}

func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("webhook: failed to read body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	signature := r.Header.Get(webhookSignatureHeader)
	if signature == "" {
		h.logger.Error("webhook: missing signature header")
		h.WriteError(w, http.StatusBadRequest, "missing signature")
		return
	}

	// Authenticity first; business fields are not parsed before this check.
	if !h.engine.gateway.VerifyWebhookSignature(body, signature) {
		h.logger.Error("webhook: signature verification failed")
		h.WriteError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("webhook: malformed body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "malformed body")
		return
	}

	h.logger.Info("webhook: event received",
		"event_id", event.ID,
		"event_type", event.Event)

	switch event.Event {
	case eventPaymentAuthorized, eventPaymentCaptured:
	case eventPaymentFailed:
		h.handleFailure(w, r, event, body, signature)
		return
	default:
		h.WriteJSON(w, http.StatusOK, webhookResponse{Status: "ignored", Message: "event type not handled"})
		return
	}

	entity := event.Payload.Payment.Entity
	if entity.Status != "captured" {
		h.logger.Info("webhook: payment not captured yet, ignoring",
			"event_id", event.ID,
			"payment_status", entity.Status)
		h.WriteJSON(w, http.StatusOK, webhookResponse{Status: "ignored", Message: "payment not captured"})
		return
	}

	if event.ID != "" {
		seen, err := h.eventStore.Seen(event.ID)
		if err != nil {
			h.logger.Error("webhook: event store lookup failed", "error", err, "event_id", event.ID)
		} else if seen {
			h.logger.Info("webhook: duplicate event delivery, already processed", "event_id", event.ID)
			h.WriteJSON(w, http.StatusOK, webhookResponse{Status: "success", Message: "event already processed"})
			return
		}
	}

	result, err := h.engine.Process(r.Context(), Confirmation{
		Source:    SourceWebhook,
		PaymentID: entity.ID,
		OrderID:   entity.OrderID,
		Signature: signature,
		RawBody:   body,
	})
	if err != nil {
		h.respondError(w, event.ID, err)
		return
	}

	if event.ID != "" {
		if err := h.eventStore.Record(event.ID, event.Event, entity.OrderID); err != nil {
			// Replays fall through to the engine's idempotency check.
			h.logger.Warn("webhook: failed to record processed event", "error", err, "event_id", event.ID)
		}
	}

	message := "payment reconciled"
	if !result.Performed {
		message = "payment already reconciled"
	}

	h.logger.Info("webhook: processed",
		"event_id", event.ID,
		"transaction_id", result.Transaction.ID,
		"performed", result.Performed)

	h.WriteJSON(w, http.StatusOK, webhookResponse{Status: "success", Message: message})
}

func (h *WebhookHandler) handleFailure(w http.ResponseWriter, r *http.Request, event webhookEvent, body []byte, signature string) {
	entity := event.Payload.Payment.Entity

	if event.ID != "" {
		seen, err := h.eventStore.Seen(event.ID)
		if err != nil {
			h.logger.Error("webhook: event store lookup failed", "error", err, "event_id", event.ID)
		} else if seen {
			h.WriteJSON(w, http.StatusOK, webhookResponse{Status: "success", Message: "event already processed"})
			return
		}
	}

	err := h.engine.ProcessFailure(r.Context(), Confirmation{
		Source:    SourceWebhook,
		PaymentID: entity.ID,
		OrderID:   entity.OrderID,
		Signature: signature,
		RawBody:   body,
	}, entity.ErrorDescription)
	if err != nil {
		h.respondError(w, event.ID, err)
		return
	}

	if event.ID != "" {
		if err := h.eventStore.Record(event.ID, event.Event, entity.OrderID); err != nil {
			h.logger.Warn("webhook: failed to record processed event", "error", err, "event_id", event.ID)
		}
	}

	h.logger.Info("webhook: failure notice processed",
		"event_id", event.ID,
		"order_id", entity.OrderID)

	h.WriteJSON(w, http.StatusOK, webhookResponse{Status: "success", Message: "payment failure recorded"})
}

func (h *WebhookHandler) respondError(w http.ResponseWriter, eventID string, err error) {
	appErr, ok := internal.IsAppError(err)
	if !ok {
		h.logger.Error("webhook: processing failed", "error", err, "event_id", eventID)
		h.WriteError(w, http.StatusInternalServerError, "failed to process webhook")
		return
	}

	switch appErr.Code {
	case internal.ErrCodeMalformedConfirmation, internal.ErrCodeUntrustedConfirmation:
		// Non-200 so the gateway's retry policy re-delivers.
		h.logger.Error("webhook: confirmation rejected", "code", appErr.Code, "event_id", eventID)
		h.WriteError(w, http.StatusBadRequest, appErr.Message)
	case internal.ErrCodeGatewayUnavailable:
		h.logger.Error("webhook: gateway unavailable during fallback", "event_id", eventID)
		h.WriteError(w, http.StatusBadGateway, appErr.Message)
	case internal.ErrCodeTransactionNotFound:
		// Acknowledged but unmatched; flagged for operator review instead of
		// letting the gateway hammer us with redeliveries.
		h.logger.Error("webhook: no matching transaction, needs operator review", "event_id", eventID)
		h.WriteJSON(w, http.StatusOK, webhookResponse{Status: "unmatched", Message: "no matching transaction; flagged for review"})
	default:
		h.logger.Error("webhook: processing failed", "code", appErr.Code, "event_id", eventID)
		h.WriteError(w, http.StatusInternalServerError, "failed to process webhook")
	}
}
