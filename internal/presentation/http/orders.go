package httppresentation

import (
	"net/http"
	"time"

	appOrder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
	domainOrder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	"github.com/shopspring/decimal"
)

type customerDTO struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type lineItemDTO struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type addressDTO struct {
	Name       string `json:"name,omitempty"`
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

type createOrderRequest struct {
	OrderID         string        `json:"orderId,omitempty"`
	Customer        customerDTO   `json:"customer"`
	Items           []lineItemDTO `json:"items"`
	ShippingAddress addressDTO    `json:"shippingAddress"`
}

type transitionDTO struct {
	State domainOrder.State `json:"state"`
	At    time.Time         `json:"at"`
}

type orderView struct {
	ID                 string            `json:"id"`
	State              domainOrder.State `json:"state"`
	Reason             string            `json:"reason,omitempty"`
	Detail             string            `json:"detail,omitempty"`
	ReservationID      string            `json:"reservationId,omitempty"`
	PaymentID          string            `json:"paymentId,omitempty"`
	CompensationFailed bool              `json:"compensationFailed,omitempty"`
	Customer           customerDTO       `json:"customer"`
	Items              []lineItemDTO     `json:"items"`
	ShippingAddress    addressDTO        `json:"shippingAddress"`
	TotalAmount        decimal.Decimal   `json:"totalAmount"`
	History            []transitionDTO   `json:"history"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

func toOrderView(o *domainOrder.Order) orderView {
	items := make([]lineItemDTO, 0, len(o.Items()))
	for _, it := range o.Items() {
		items = append(items, lineItemDTO{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	history := make([]transitionDTO, 0, len(o.History()))
	for _, t := range o.History() {
		history = append(history, transitionDTO{State: t.State, At: t.At})
	}
	a := o.ShippingAddress
	return orderView{
		ID:                 o.ID,
		State:              o.State,
		Reason:             o.FailureReason,
		Detail:             o.FailureDetail,
		ReservationID:      o.ReservationID,
		PaymentID:          o.PaymentID,
		CompensationFailed: o.CompensationFailed,
		Customer:           customerDTO{FirstName: o.Customer.FirstName, LastName: o.Customer.LastName},
		Items:              items,
		ShippingAddress:    addressDTO{Name: a.Name, Street: a.Street, City: a.City, PostalCode: a.PostalCode, Country: a.Country},
		TotalAmount:        o.Total(),
		History:            history,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeProblem(w, r, newProblem(r, http.StatusBadRequest, reasonValidation, err.Error()))
		return
	}

	items := make([]domainOrder.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domainOrder.LineItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	a := req.ShippingAddress
	result, err := h.deps.PlaceOrder.Execute(r.Context(), appOrder.PlaceOrderInput{
		OrderID:         req.OrderID,
		Customer:        domainOrder.Customer{FirstName: req.Customer.FirstName, LastName: req.Customer.LastName},
		Items:           items,
		ShippingAddress: domainOrder.Address{Name: a.Name, Street: a.Street, City: a.City, PostalCode: a.PostalCode, Country: a.Country},
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	view := toOrderView(result.Order)
	status, reason := statusForState(result.Order)
	if status < http.StatusBadRequest {
		h.writeJSON(r.Context(), w, status, view)
		return
	}
	p := newProblem(r, status, reason, result.Order.FailureDetail)
	p.Order = &view
	h.writeProblem(w, r, p)
}

// statusForState maps a saga outcome to the create response status.
func statusForState(o *domainOrder.Order) (int, string) {
	switch o.State {
	case domainOrder.StateFulfillmentRequested:
		return http.StatusCreated, ""
	case domainOrder.StatePaid:
		// Paid but the fulfillment event is still undelivered.
		return http.StatusAccepted, o.FailureReason
	case domainOrder.StateOutOfStock:
		return http.StatusConflict, domainOrder.ReasonOutOfStock
	case domainOrder.StatePaymentDeclined:
		return http.StatusPaymentRequired, domainOrder.ReasonPaymentDeclined
	case domainOrder.StateCancelled, domainOrder.StateFailed:
		reason := o.FailureReason
		if reason == "" {
			reason = domainOrder.ReasonFailed
		}
		return http.StatusBadGateway, reason
	default:
		return http.StatusInternalServerError, domainOrder.ReasonFailed
	}
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.deps.GetOrder.Execute(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, toOrderView(o))
}

type listOrdersResponse struct {
	Orders []orderView `json:"orders"`
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.deps.ListOrders.Execute(r.Context(), struct{}{})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := listOrdersResponse{Orders: make([]orderView, 0, len(orders))}
	for _, o := range orders {
		out.Orders = append(out.Orders, toOrderView(o))
	}
	h.writeJSON(r.Context(), w, http.StatusOK, out)
}
