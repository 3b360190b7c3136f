package reconcile_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/schoolcore/fees-management/internal"
	"github.com/schoolcore/fees-management/internal/core/events"
	"github.com/schoolcore/fees-management/internal/reconcile"
	"github.com/schoolcore/fees-management/internal/transport"
)

const (
	callbackSuccessURL = "https://school.example/fees/success"
	callbackFailureURL = "https://school.example/fees/failure"
)

var _ = Describe("CallbackHandler", func() {
	var (
		handler    *reconcile.CallbackHandler
		mockLedger *mockEngineLedger
		adapter    *fakeAdapter
	)

	postCallback := func(form url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/payments/callback", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		handler.HandleCallback(rec, req)
		return rec
	}

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		mockLedger = newMockEngineLedger()
		mockLedger.addPending(7, "order_abc")
		adapter = &fakeAdapter{signatureValid: true}

		engine := reconcile.NewEngine(mockLedger, adapter, events.NewEventBus(logger), logger)
		handler = reconcile.NewCallbackHandler(transport.NewBaseHandler(logger), engine, callbackSuccessURL, callbackFailureURL, logger)
	})

	Context("when the gateway redirects back a signed confirmation", func() {
		It("should complete the transaction and redirect to the success page", func() {
			rec := postCallback(url.Values{
				"razorpay_payment_id": {"pay_123"},
				"razorpay_order_id":   {"order_abc"},
				"razorpay_signature":  {"sig"},
			})

			Expect(rec.Code).To(Equal(http.StatusSeeOther))
			Expect(rec.Header().Get("Location")).To(Equal(callbackSuccessURL + "?transaction_id=7"))
			Expect(mockLedger.completions).To(Equal(1))
		})

		It("should land a replayed confirmation on the same success page", func() {
			form := url.Values{
				"razorpay_payment_id": {"pay_123"},
				"razorpay_order_id":   {"order_abc"},
				"razorpay_signature":  {"sig"},
			}
			postCallback(form)

			rec := postCallback(form)

			Expect(rec.Code).To(Equal(http.StatusSeeOther))
			Expect(rec.Header().Get("Location")).To(Equal(callbackSuccessURL + "?transaction_id=7"))
			Expect(mockLedger.completions).To(Equal(1))
		})
	})

	Context("when the confirmation cannot be trusted", func() {
		It("should redirect to the failure page on a bad signature", func() {
			adapter.signatureValid = false

			rec := postCallback(url.Values{
				"razorpay_payment_id": {"pay_123"},
				"razorpay_order_id":   {"order_abc"},
				"razorpay_signature":  {"forged"},
			})

			Expect(rec.Code).To(Equal(http.StatusSeeOther))
			Expect(rec.Header().Get("Location")).To(Equal(callbackFailureURL))
			Expect(mockLedger.completions).To(Equal(0))
		})

		It("should redirect to the failure page when fields are missing", func() {
			rec := postCallback(url.Values{
				"razorpay_order_id": {"order_abc"},
			})

			Expect(rec.Code).To(Equal(http.StatusSeeOther))
			Expect(rec.Header().Get("Location")).To(Equal(callbackFailureURL))
			Expect(mockLedger.completions).To(Equal(0))
		})

		It("should redirect to the failure page for an unknown order", func() {
			adapter.fetchErr = internal.ErrTransactionNotFound

			rec := postCallback(url.Values{
				"razorpay_payment_id": {"pay_123"},
				"razorpay_order_id":   {"order_unknown"},
				"razorpay_signature":  {"sig"},
			})

			Expect(rec.Code).To(Equal(http.StatusSeeOther))
			Expect(rec.Header().Get("Location")).To(Equal(callbackFailureURL))
			Expect(mockLedger.completions).To(Equal(0))
		})
	})
})
