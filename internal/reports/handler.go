package reports

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/shopspring/decimal"

	"github.com/schoolcore/fees-management/internal"
	"github.com/schoolcore/fees-management/internal/transport"
)

type ServiceAPI interface {
	List(ctx context.Context, actor *internal.Actor, filter Filter) ([]Row, error)
	GetByID(ctx context.Context, actor *internal.Actor, id int64) (*Row, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(logger *slog.Logger, service ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(logger),
		Service:     service,
	}
}

// List handles GET /fees/transactions and GET /fees/transactions/mine. The
// service scopes students to their own rows, so both routes share this
// handler.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := internal.ActorFromContext(r.Context())
	if !ok {
		h.HandleError(w, internal.ErrUnauthorizedAccess)
		return
	}

	filter, appErr := parseFilter(r)
	if appErr != nil {
		h.HandleError(w, appErr)
		return
	}

	rows, err := h.Service.List(r.Context(), actor, filter)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": rows,
		"count":        len(rows),
	})
}

// GetByID handles GET /fees/transactions/{id}.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	actor, ok := internal.ActorFromContext(r.Context())
	if !ok {
		h.HandleError(w, internal.ErrUnauthorizedAccess)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.HandleError(w, internal.NewValidationError("invalid transaction id", internal.ErrCodeValidationFailed))
		return
	}

	row, svcErr := h.Service.GetByID(r.Context(), actor, id)
	if svcErr != nil {
		h.HandleServiceError(w, svcErr)
		return
	}

	h.WriteJSON(w, http.StatusOK, row)
}

func parseFilter(r *http.Request) (Filter, *internal.AppError) {
	q := r.URL.Query()
	var f Filter

	if v := q.Get("student_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, internal.NewValidationFieldError("student_id", "must be an integer", internal.ErrCodeValidationFailed)
		}
		f.StudentID = &id
	}
	f.Status = q.Get("status")

	if v := q.Get("from"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return f, internal.NewValidationFieldError("from", "must be RFC3339 or YYYY-MM-DD", internal.ErrCodeValidationFailed)
		}
		f.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return f, internal.NewValidationFieldError("to", "must be RFC3339 or YYYY-MM-DD", internal.ErrCodeValidationFailed)
		}
		f.To = &t
	}

	if v := q.Get("min_amount"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return f, internal.NewValidationFieldError("min_amount", "must be a decimal number", internal.ErrCodeValidationFailed)
		}
		f.MinAmount = &d
	}
	if v := q.Get("max_amount"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return f, internal.NewValidationFieldError("max_amount", "must be a decimal number", internal.ErrCodeValidationFailed)
		}
		f.MaxAmount = &d
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, internal.NewValidationFieldError("limit", "must be an integer", internal.ErrCodeValidationFailed)
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, internal.NewValidationFieldError("offset", "must be an integer", internal.ErrCodeValidationFailed)
		}
		f.Offset = n
	}

	return f, nil
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}
