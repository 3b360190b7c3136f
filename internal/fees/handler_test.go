package fees_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/schoolcore/fees-management/internal"
	"github.com/schoolcore/fees-management/internal/fees"
	"github.com/schoolcore/fees-management/internal/transport"
)

type mockFeesService struct {
	checkout      *fees.CheckoutResponse
	initiateError error
	refundError   error

	lastStudentID   int64
	lastAmount      decimal.Decimal
	lastDescription string
	refundedID      int64
}

func (m *mockFeesService) InitiatePayment(ctx context.Context, studentID int64, amount decimal.Decimal, description string) (*fees.CheckoutResponse, error) {
	m.lastStudentID = studentID
	m.lastAmount = amount
	m.lastDescription = description
	if m.initiateError != nil {
		return nil, m.initiateError
	}
	return m.checkout, nil
}

func (m *mockFeesService) Refund(transactionID int64) error {
	m.refundedID = transactionID
	return m.refundError
}

var _ = Describe("Fees Handler", func() {
	var (
		router      *chi.Mux
		mockService *mockFeesService
	)

	doRequest := func(method, target string, body []byte, actor *internal.Actor) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, bytes.NewReader(body))
		if actor != nil {
			req = req.WithContext(internal.ContextWithActor(req.Context(), actor))
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		mockService = &mockFeesService{
			checkout: &fees.CheckoutResponse{
				TransactionID: 1,
				OrderID:       "order_abc",
				KeyID:         "rzp_test_key",
				Amount:        "1500.00",
				AmountMinor:   150000,
				Currency:      "INR",
			},
		}
		handler := fees.NewHandler(transport.NewBaseHandler(logger), mockService)

		router = chi.NewRouter()
		router.Post("/fees/payments", handler.InitiatePayment)
		router.Patch("/fees/transactions/{id}/refund", handler.Refund)
	})

	Describe("InitiatePayment", func() {
		studentActor := &internal.Actor{UserID: "user-10", Role: internal.RoleStudent, StudentID: 5}

		It("should answer 201 with the checkout payload", func() {
			body, _ := json.Marshal(map[string]string{"amount": "1500.00"})

			rec := doRequest(http.MethodPost, "/fees/payments", body, studentActor)

			Expect(rec.Code).To(Equal(http.StatusCreated))
			var checkout fees.CheckoutResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &checkout)).To(Succeed())
			Expect(checkout.OrderID).To(Equal("order_abc"))
			Expect(checkout.AmountMinor).To(Equal(int64(150000)))
			Expect(mockService.lastStudentID).To(Equal(int64(5)))
		})

		It("should answer 401 without an actor", func() {
			body, _ := json.Marshal(map[string]string{"amount": "1500.00"})

			rec := doRequest(http.MethodPost, "/fees/payments", body, nil)

			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("should answer 400 for a malformed body", func() {
			rec := doRequest(http.MethodPost, "/fees/payments", []byte("not-json"), studentActor)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should answer 400 for a non-decimal amount", func() {
			body, _ := json.Marshal(map[string]string{"amount": "lots"})

			rec := doRequest(http.MethodPost, "/fees/payments", body, studentActor)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should answer 400 for a zero amount", func() {
			body, _ := json.Marshal(map[string]string{"amount": "0"})

			rec := doRequest(http.MethodPost, "/fees/payments", body, studentActor)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should answer 400 when staff omit the student id", func() {
			body, _ := json.Marshal(map[string]string{"amount": "1500.00"})
			admin := &internal.Actor{UserID: "user-2", Role: internal.RoleAdmin}

			rec := doRequest(http.MethodPost, "/fees/payments", body, admin)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Refund", func() {
		adminActor := &internal.Actor{UserID: "user-2", Role: internal.RoleAdmin}

		It("should refund and echo the transaction id", func() {
			rec := doRequest(http.MethodPatch, "/fees/transactions/42/refund", nil, adminActor)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(mockService.refundedID).To(Equal(int64(42)))
		})

		It("should answer 400 for a non-numeric id", func() {
			rec := doRequest(http.MethodPatch, "/fees/transactions/abc/refund", nil, adminActor)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should map an invalid transition to the service error response", func() {
			mockService.refundError = internal.ErrInvalidTransition

			rec := doRequest(http.MethodPatch, "/fees/transactions/42/refund", nil, adminActor)

			Expect(rec.Code).To(Equal(http.StatusConflict))
		})
	})
})
