package reports_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/schoolcore/fees-management/internal"
	"github.com/schoolcore/fees-management/internal/reports"
)

type mockReportsService struct {
	rows       []reports.Row
	row        *reports.Row
	listError  error
	getError   error
	lastFilter reports.Filter
}

func (m *mockReportsService) List(ctx context.Context, actor *internal.Actor, filter reports.Filter) ([]reports.Row, error) {
	m.lastFilter = filter
	if m.listError != nil {
		return nil, m.listError
	}
	return m.rows, nil
}

func (m *mockReportsService) GetByID(ctx context.Context, actor *internal.Actor, id int64) (*reports.Row, error) {
	if m.getError != nil {
		return nil, m.getError
	}
	return m.row, nil
}

var _ = Describe("Reports Handler", func() {
	var (
		router      *chi.Mux
		mockService *mockReportsService
	)

	teacherActor := &internal.Actor{UserID: "user-2", Role: internal.RoleTeacher}

	doGet := func(target string, actor *internal.Actor) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		if actor != nil {
			req = req.WithContext(internal.ContextWithActor(req.Context(), actor))
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		mockService = &mockReportsService{
			rows: []reports.Row{{ID: 1, StudentID: 1, StudentName: "Aarav Sharma", Status: "completed"}},
			row:  &reports.Row{ID: 1, StudentID: 1, StudentName: "Aarav Sharma", Status: "completed"},
		}
		handler := reports.NewHandler(logger, mockService)

		router = chi.NewRouter()
		router.Get("/fees/transactions", handler.List)
		router.Get("/fees/transactions/{id}", handler.GetByID)
	})

	Describe("List", func() {
		It("should answer 200 with rows and a count", func() {
			rec := doGet("/fees/transactions", teacherActor)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var resp struct {
				Transactions []reports.Row `json:"transactions"`
				Count        int           `json:"count"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Count).To(Equal(1))
			Expect(resp.Transactions[0].StudentName).To(Equal("Aarav Sharma"))
		})

		It("should answer 401 without an actor", func() {
			rec := doGet("/fees/transactions", nil)

			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})

		It("should parse filter query parameters", func() {
			rec := doGet("/fees/transactions?status=pending&student_id=3&limit=10&from=2026-01-01", teacherActor)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(mockService.lastFilter.Status).To(Equal("pending"))
			Expect(mockService.lastFilter.StudentID).NotTo(BeNil())
			Expect(*mockService.lastFilter.StudentID).To(Equal(int64(3)))
			Expect(mockService.lastFilter.Limit).To(Equal(10))
			Expect(mockService.lastFilter.From).NotTo(BeNil())
		})

		It("should answer 400 for a malformed filter value", func() {
			rec := doGet("/fees/transactions?min_amount=lots", teacherActor)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should answer 400 for an unparseable date", func() {
			rec := doGet("/fees/transactions?from=yesterday", teacherActor)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GetByID", func() {
		It("should answer 200 with the row", func() {
			rec := doGet("/fees/transactions/1", teacherActor)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var row reports.Row
			Expect(json.Unmarshal(rec.Body.Bytes(), &row)).To(Succeed())
			Expect(row.ID).To(Equal(int64(1)))
		})

		It("should answer 400 for a non-numeric id", func() {
			rec := doGet("/fees/transactions/abc", teacherActor)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should answer 404 when the service hides the row", func() {
			mockService.getError = internal.ErrTransactionNotFound

			rec := doGet("/fees/transactions/1", teacherActor)

			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})
})
