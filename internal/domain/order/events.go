package order

import (
	"time"

	"github.com/shopspring/decimal"
)

const EventFulfillmentCreated = "fulfillment.created"

type FulfillmentItem struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type ShippingAddress struct {
	Name       string `json:"name,omitempty"`
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// FulfillmentCreatedEvent asks the warehouse to pick and ship a paid order.
// It is keyed by OrderID; consumers must tolerate duplicates.
type FulfillmentCreatedEvent struct {
	OrderID         string            `json:"orderId"`
	ReservationID   string            `json:"reservationId"`
	Items           []FulfillmentItem `json:"items"`
	ShippingAddress ShippingAddress   `json:"shippingAddress"`
	TotalAmount     decimal.Decimal   `json:"totalAmount"`
	OccurredAt      time.Time         `json:"occurredAt"`
}

func (FulfillmentCreatedEvent) EventName() string { return EventFulfillmentCreated }

func (e FulfillmentCreatedEvent) EventKey() string { return e.OrderID }

func NewFulfillmentCreatedEvent(o *Order) FulfillmentCreatedEvent {
	items := make([]FulfillmentItem, 0, len(o.items))
	for _, it := range o.items {
		items = append(items, FulfillmentItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	a := o.ShippingAddress
	return FulfillmentCreatedEvent{
		OrderID:       o.ID,
		ReservationID: o.ReservationID,
		Items:         items,
		ShippingAddress: ShippingAddress{
			Name:       a.Name,
			Street:     a.Street,
			City:       a.City,
			PostalCode: a.PostalCode,
			Country:    a.Country,
		},
		TotalAmount: o.Total(),
		OccurredAt:  time.Now().UTC(),
	}
}
