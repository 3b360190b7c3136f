package reconcile_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/schoolcore/fees-management/internal"
	"github.com/schoolcore/fees-management/internal/core/datamodel/transaction"
	"github.com/schoolcore/fees-management/internal/core/events"
	"github.com/schoolcore/fees-management/internal/reconcile"
	"github.com/schoolcore/fees-management/internal/transport"
)

type mockEventStore struct {
	seen        map[string]bool
	recordError error
}

func newMockEventStore() *mockEventStore {
	return &mockEventStore{seen: make(map[string]bool)}
}

func (m *mockEventStore) Seen(eventID string) (bool, error) {
	return m.seen[eventID], nil
}

func (m *mockEventStore) Record(eventID, eventType, orderRef string) error {
	if m.recordError != nil {
		return m.recordError
	}
	m.seen[eventID] = true
	return nil
}

func webhookBody(eventID, eventType, paymentID, orderID, status string) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"id":    eventID,
		"event": eventType,
		"payload": map[string]interface{}{
			"payment": map[string]interface{}{
				"entity": map[string]interface{}{
					"id":       paymentID,
					"order_id": orderID,
					"status":   status,
				},
			},
		},
	})
	return body
}

var _ = Describe("WebhookHandler", func() {
	var (
		handler    *reconcile.WebhookHandler
		mockLedger *mockEngineLedger
		adapter    *fakeAdapter
		eventStore *mockEventStore
	)

	deliver := func(body []byte, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(body))
		if signature != "" {
			req.Header.Set("X-Razorpay-Signature", signature)
		}
		rec := httptest.NewRecorder()
		handler.HandleWebhook(rec, req)
		return rec
	}

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		mockLedger = newMockEngineLedger()
		mockLedger.addPending(1, "order_abc")
		adapter = &fakeAdapter{signatureValid: true}
		eventStore = newMockEventStore()

		engine := reconcile.NewEngine(mockLedger, adapter, events.NewEventBus(logger), logger)
		handler = reconcile.NewWebhookHandler(transport.NewBaseHandler(logger), engine, eventStore, logger)
	})

	Context("when a captured payment event arrives", func() {
		It("should reconcile and answer 200", func() {
			body := webhookBody("evt_1", "payment.captured", "pay_123", "order_abc", "captured")

			rec := deliver(body, "sig")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(mockLedger.completions).To(Equal(1))
			Expect(eventStore.seen["evt_1"]).To(BeTrue())
		})

		It("should answer 200 on a ledger-level replay without completing twice", func() {
			body := webhookBody("evt_1", "payment.captured", "pay_123", "order_abc", "captured")
			Expect(deliver(body, "sig").Code).To(Equal(http.StatusOK))

			// same payment, new event id: the dedup store cannot help, the
			// engine's idempotency must
			replay := webhookBody("evt_2", "payment.captured", "pay_123", "order_abc", "captured")
			rec := deliver(replay, "sig")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(mockLedger.completions).To(Equal(1))
		})

		It("should short-circuit a redelivered event id", func() {
			body := webhookBody("evt_1", "payment.captured", "pay_123", "order_abc", "captured")
			Expect(deliver(body, "sig").Code).To(Equal(http.StatusOK))

			rec := deliver(body, "sig")

			Expect(rec.Code).To(Equal(http.StatusOK))
			var resp map[string]string
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["message"]).To(Equal("event already processed"))
			Expect(mockLedger.completions).To(Equal(1))
		})

		It("should still be exactly-once when recording the event id fails", func() {
			eventStore.recordError = context.DeadlineExceeded
			body := webhookBody("evt_1", "payment.captured", "pay_123", "order_abc", "captured")

			Expect(deliver(body, "sig").Code).To(Equal(http.StatusOK))
			Expect(deliver(body, "sig").Code).To(Equal(http.StatusOK))

			Expect(mockLedger.completions).To(Equal(1))
		})
	})

	Context("when the signature is missing or invalid", func() {
		It("should answer 400 for a missing signature", func() {
			body := webhookBody("evt_1", "payment.captured", "pay_123", "order_abc", "captured")

			rec := deliver(body, "")

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(mockLedger.completions).To(Equal(0))
		})

		It("should answer 400 before parsing business fields", func() {
			adapter.signatureValid = false
			body := webhookBody("evt_1", "payment.captured", "pay_123", "order_abc", "captured")

			rec := deliver(body, "forged")

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(mockLedger.completions).To(Equal(0))
		})
	})

	Context("when the body is not valid JSON", func() {
		It("should answer 400", func() {
			rec := deliver([]byte("not-json"), "sig")

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Context("when the event is not a capture", func() {
		It("should ignore unrelated event types", func() {
			body := webhookBody("evt_1", "refund.processed", "pay_123", "order_abc", "refunded")

			rec := deliver(body, "sig")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(mockLedger.completions).To(Equal(0))
		})

		It("should ignore authorized-but-uncaptured payments", func() {
			body := webhookBody("evt_1", "payment.authorized", "pay_123", "order_abc", "authorized")

			rec := deliver(body, "sig")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(mockLedger.completions).To(Equal(0))
		})
	})

	Context("when a payment failed event arrives", func() {
		It("should mark the transaction failed and answer 200", func() {
			body := webhookBody("evt_1", "payment.failed", "pay_123", "order_abc", "failed")

			rec := deliver(body, "sig")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(mockLedger.failures).To(Equal(1))
			Expect(mockLedger.completions).To(Equal(0))
			Expect(eventStore.seen["evt_1"]).To(BeTrue())
		})

		It("should reconcile a capture delivered after a failed attempt", func() {
			declined := webhookBody("evt_1", "payment.failed", "pay_123", "order_abc", "failed")
			Expect(deliver(declined, "sig").Code).To(Equal(http.StatusOK))
			Expect(mockLedger.failures).To(Equal(1))

			retried := webhookBody("evt_2", "payment.captured", "pay_retry", "order_abc", "captured")
			rec := deliver(retried, "sig")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(mockLedger.completions).To(Equal(1))
			tx, err := mockLedger.GetByExternalRef("order_abc")
			Expect(err).ToNot(HaveOccurred())
			Expect(tx.Status).To(Equal(transaction.StatusCompleted))
		})

		It("should leave a completed transaction untouched", func() {
			captured := webhookBody("evt_1", "payment.captured", "pay_123", "order_abc", "captured")
			Expect(deliver(captured, "sig").Code).To(Equal(http.StatusOK))

			stale := webhookBody("evt_2", "payment.failed", "pay_123", "order_abc", "failed")
			rec := deliver(stale, "sig")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(mockLedger.failures).To(Equal(0))
			Expect(mockLedger.completions).To(Equal(1))
		})
	})

	Context("when no transaction matches", func() {
		It("should acknowledge with an unmatched status for operator review", func() {
			adapter.fetchErr = internal.ErrTransactionNotFound
			body := webhookBody("evt_1", "payment.captured", "pay_999", "order_unknown", "captured")

			rec := deliver(body, "sig")

			Expect(rec.Code).To(Equal(http.StatusOK))
			var resp map[string]string
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["status"]).To(Equal("unmatched"))
			Expect(mockLedger.completions).To(Equal(0))
		})
	})

	Context("when the gateway is unavailable during fallback", func() {
		It("should answer 502 so the gateway retries later", func() {
			adapter.fetchErr = internal.NewGatewayUnavailableError(errors.New("connection refused"))
			body := webhookBody("evt_1", "payment.captured", "pay_999", "order_unknown", "captured")

			rec := deliver(body, "sig")

			Expect(rec.Code).To(Equal(http.StatusBadGateway))
			Expect(mockLedger.completions).To(Equal(0))
		})
	})
})
