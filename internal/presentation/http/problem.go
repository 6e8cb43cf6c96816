package httppresentation

import (
	"encoding/json"
	"errors"
	"net/http"

	appOrder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
	domainInventory "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	domainOrder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	domainPayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"
)

const (
	contentTypeProblem = "application/problem+json"

	reasonValidation = "VALIDATION_ERROR"
	reasonInternal   = "INTERNAL_ERROR"
	reasonConflict   = "CONFLICT"
)

// problemDetails is an RFC 7807 body with a few extension members.
type problemDetails struct {
	Type          string     `json:"type"`
	Title         string     `json:"title"`
	Status        int        `json:"status"`
	Detail        string     `json:"detail,omitempty"`
	Instance      string     `json:"instance,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	CorrelationID string     `json:"correlationId,omitempty"`
	SKU           string     `json:"sku,omitempty"`
	Requested     *int       `json:"requested,omitempty"`
	Available     *int       `json:"available,omitempty"`
	Order         *orderView `json:"order,omitempty"`
}

func newProblem(r *http.Request, status int, reason, detail string) problemDetails {
	return problemDetails{
		Type:          "about:blank",
		Title:         http.StatusText(status),
		Status:        status,
		Detail:        detail,
		Instance:      r.URL.RequestURI(),
		Reason:        reason,
		CorrelationID: requestIDFromContext(r.Context()),
	}
}

func (h *Handler) writeProblem(w http.ResponseWriter, r *http.Request, p problemDetails) {
	if p.Status >= http.StatusInternalServerError {
		logctx.FromOr(r.Context(), h.log).Warn("http_problem",
			observability.F("status", p.Status),
			observability.F("reason", p.Reason),
			observability.F("detail", p.Detail),
		)
	}
	writeProblemBody(w, p)
}

func writeProblemBody(w http.ResponseWriter, p problemDetails) {
	w.Header().Set("Content-Type", contentTypeProblem)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// writeError maps the error taxonomy onto status codes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var oos *domainInventory.OutOfStockError
	switch {
	case errors.As(err, &oos):
		p := newProblem(r, http.StatusConflict, domainInventory.ReasonOutOfStock, err.Error())
		p.SKU, p.Requested, p.Available = oos.SKU, &oos.Requested, &oos.Available
		h.writeProblem(w, r, p)
	case errors.Is(err, domainInventory.ErrOutOfStock):
		h.writeProblem(w, r, newProblem(r, http.StatusConflict, domainInventory.ReasonOutOfStock, err.Error()))
	case errors.Is(err, domainOrder.ErrNotFound),
		errors.Is(err, domainInventory.ErrReservationNotFound):
		h.writeProblem(w, r, newProblem(r, http.StatusNotFound, domainOrder.ReasonNotFound, err.Error()))
	case errors.Is(err, domainOrder.ErrValidation),
		errors.Is(err, domainInventory.ErrInvalidQuantity),
		errors.Is(err, domainInventory.ErrInvalidSKU),
		errors.Is(err, domainPayment.ErrInvalid):
		h.writeProblem(w, r, newProblem(r, http.StatusBadRequest, reasonValidation, err.Error()))
	case errors.Is(err, domainOrder.ErrConflict):
		h.writeProblem(w, r, newProblem(r, http.StatusConflict, reasonConflict, err.Error()))
	case errors.Is(err, domainInventory.ErrUnavailable),
		errors.Is(err, domainPayment.ErrUnavailable):
		h.writeProblem(w, r, newProblem(r, http.StatusBadGateway, domainOrder.ReasonUpstreamUnavailable, err.Error()))
	case errors.Is(err, appOrder.ErrRepository):
		h.writeProblem(w, r, newProblem(r, http.StatusInternalServerError, reasonInternal, "order storage failure"))
	default:
		h.writeProblem(w, r, newProblem(r, http.StatusInternalServerError, reasonInternal, err.Error()))
	}
}
