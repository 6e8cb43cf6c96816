package order

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound               = errors.New("order: not found")
	ErrConflict               = errors.New("order: already exists")
	ErrValidation             = errors.New("order: validation failed")
	ErrInvalidStateTransition = errors.New("order: invalid state transition")
)

// Reason codes surfaced to callers alongside a failed order.
const (
	ReasonOutOfStock             = "OUT_OF_STOCK"
	ReasonPaymentDeclined        = "PAYMENT_DECLINED"
	ReasonUpstreamUnavailable    = "UPSTREAM_UNAVAILABLE"
	ReasonFailed                 = "FAILED"
	ReasonNotFound               = "NOT_FOUND"
	ReasonFulfillmentPublishFail = "FULFILLMENT_PUBLISH_FAILED"
)

// LineItem is immutable once attached to an Order.
type LineItem struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

func (li LineItem) Total() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

type Customer struct {
	FirstName string
	LastName  string
}

func (c Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

type Address struct {
	Name       string
	Street     string
	City       string
	PostalCode string
	Country    string
}

// Transition records one state change in the order history.
type Transition struct {
	State State
	At    time.Time
}

type Order struct {
	ID              string
	Customer        Customer
	ShippingAddress Address
	State           State
	ReservationID   string
	PaymentID       string
	// FailureReason is one of the Reason* codes; FailureDetail carries the upstream explanation.
	FailureReason      string
	FailureDetail      string
	CompensationFailed bool
	CreatedAt          time.Time
	UpdatedAt          time.Time

	items   []LineItem
	history []Transition
}

// New validates the input and returns an order in the RECEIVED state.
func New(id string, customer Customer, items []LineItem, shipping Address) (*Order, error) {
	if id == "" {
		return nil, validation("order id is required")
	}
	if strings.TrimSpace(customer.FirstName) == "" || strings.TrimSpace(customer.LastName) == "" {
		return nil, validation("customer first and last name are required")
	}
	if len(items) == 0 {
		return nil, validation("at least one line item is required")
	}
	perProduct := make(map[string]int, len(items))
	for i, it := range items {
		if strings.TrimSpace(it.ProductID) == "" {
			return nil, validation(fmt.Sprintf("items[%d]: product id is required", i))
		}
		if it.Quantity <= 0 {
			return nil, validation(fmt.Sprintf("items[%d]: quantity must be greater than zero", i))
		}
		if it.UnitPrice.IsNegative() {
			return nil, validation(fmt.Sprintf("items[%d]: unit price must be zero or greater", i))
		}
		if perProduct[it.ProductID] > math.MaxInt-it.Quantity {
			return nil, validation(fmt.Sprintf("items[%d]: total quantity of %s overflows", i, it.ProductID))
		}
		perProduct[it.ProductID] += it.Quantity
	}

	now := time.Now().UTC()
	return &Order{
		ID:              id,
		Customer:        customer,
		ShippingAddress: shipping,
		State:           StateReceived,
		CreatedAt:       now,
		UpdatedAt:       now,
		items:           append([]LineItem(nil), items...),
		history:         []Transition{{State: StateReceived, At: now}},
	}, nil
}

// Items returns a copy of the order's line items.
func (o *Order) Items() []LineItem {
	return append([]LineItem(nil), o.items...)
}

// History returns the transitions applied so far, oldest first.
func (o *Order) History() []Transition {
	return append([]Transition(nil), o.history...)
}

func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.items {
		total = total.Add(it.Total())
	}
	return total
}

func (o *Order) Reserved(reservationID string) error {
	if reservationID == "" {
		return fmt.Errorf("%w: reservation id is required", ErrInvalidStateTransition)
	}
	if err := o.transition(StateReserved); err != nil {
		return err
	}
	o.ReservationID = reservationID
	return nil
}

func (o *Order) OutOfStock(detail string) error {
	return o.fail(StateOutOfStock, ReasonOutOfStock, detail)
}

// Failed marks an internal or inventory transport failure before any stock was reserved.
func (o *Order) Failed(reason, detail string) error {
	return o.fail(StateFailed, reason, detail)
}

func (o *Order) Paid(paymentID string) error {
	if err := o.transition(StatePaid); err != nil {
		return err
	}
	o.PaymentID = paymentID
	return nil
}

func (o *Order) PaymentDeclined(detail string) error {
	return o.fail(StatePaymentDeclined, ReasonPaymentDeclined, detail)
}

func (o *Order) Cancelled(reason, detail string) error {
	return o.fail(StateCancelled, reason, detail)
}

func (o *Order) FulfillmentRequested() error {
	if err := o.transition(StateFulfillmentRequested); err != nil {
		return err
	}
	o.FailureReason, o.FailureDetail = "", ""
	return nil
}

// FulfillmentPublishFailed annotates a PAID order whose fulfillment event could not be delivered.
// The state does not change.
func (o *Order) FulfillmentPublishFailed(detail string) error {
	if o.State != StatePaid {
		return fmt.Errorf("%w: %s cannot record a publish failure", ErrInvalidStateTransition, o.State)
	}
	o.FailureReason, o.FailureDetail = ReasonFulfillmentPublishFail, detail
	o.touch()
	return nil
}

func (o *Order) MarkCompensationFailed() {
	o.CompensationFailed = true
	o.touch()
}

// Clone returns a deep copy safe to hand to another goroutine.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.items = append([]LineItem(nil), o.items...)
	clone.history = append([]Transition(nil), o.history...)
	return &clone
}

func (o *Order) fail(to State, reason, detail string) error {
	if err := o.transition(to); err != nil {
		return err
	}
	o.FailureReason, o.FailureDetail = reason, detail
	return nil
}

func (o *Order) transition(to State) error {
	if !o.State.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, o.State, to)
	}
	o.State = to
	o.touch()
	o.history = append(o.history, Transition{State: to, At: o.UpdatedAt})
	return nil
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}

func validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
