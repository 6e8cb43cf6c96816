package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable means the gateway could not be reached or did not answer in time.
	// It is never used for an explicit decline.
	ErrUnavailable = errors.New("payment: gateway unavailable")
	ErrInvalid     = errors.New("payment: invalid authorization request")
)

type Status string

const (
	StatusAuthorized Status = "AUTHORIZED"
	StatusDeclined   Status = "DECLINED"
)

const (
	DeclineUnknownCustomer   = "UNKNOWN_CUSTOMER"
	DeclineInsufficientFunds = "INSUFFICIENT_FUNDS"
	DeclineAmountMismatch    = "AMOUNT_MISMATCH"
)

type Customer struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type Item struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type AuthorizeRequest struct {
	OrderID  string          `json:"orderId"`
	Customer Customer        `json:"customer"`
	Items    []Item          `json:"items"`
	Amount   decimal.Decimal `json:"amount"`
	// IdempotencyKey travels as a header on remote gateways.
	IdempotencyKey string `json:"-"`
}

// Authorization is the gateway's answer. A decline is a normal result, not an error.
type Authorization struct {
	OrderID   string          `json:"orderId"`
	PaymentID string          `json:"paymentId,omitempty"`
	Status    Status          `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
}

func (a *Authorization) Approved() bool {
	return a != nil && a.Status == StatusAuthorized
}

// OrderIdempotencyKey is the key used when an authorization is retried on behalf of an order.
func OrderIdempotencyKey(orderID string) string { return "order:" + orderID }

type Gateway interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error)
}
