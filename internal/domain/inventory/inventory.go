package inventory

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrOutOfStock          = errors.New("inventory: out of stock")
	ErrInvalidQuantity     = errors.New("inventory: quantity must be greater than zero")
	ErrInvalidSKU          = errors.New("inventory: sku is required")
	ErrReservationNotFound = errors.New("inventory: reservation not found")
	ErrUnavailable         = errors.New("inventory: service unavailable")
)

const (
	ReasonOutOfStock = "OUT_OF_STOCK"
)

// OutOfStockError names the first SKU that could not be satisfied.
type OutOfStockError struct {
	SKU       string
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("inventory: out of stock: %s requested %d, available %d", e.SKU, e.Requested, e.Available)
}

func (e *OutOfStockError) Unwrap() error { return ErrOutOfStock }

// Line is one (SKU, quantity) pair of a reservation request.
type Line struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"qty"`
}

type ReservationStatus string

const (
	ReservationOpen      ReservationStatus = "open"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)

// Reservation is a hold against available stock. Ids are single-use: once committed or released
// a reservation never becomes open again.
type Reservation struct {
	ID        string
	OrderID   string
	Lines     []Line
	Status    ReservationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r Reservation) Clone() Reservation {
	r.Lines = append([]Line(nil), r.Lines...)
	return r
}

// StockLevel is a point-in-time view of one SKU.
// Available + Reserved + Committed == Provisioned at all times.
type StockLevel struct {
	SKU         string `json:"sku"`
	Available   int    `json:"available"`
	Reserved    int    `json:"reserved"`
	Committed   int    `json:"committed"`
	Provisioned int    `json:"provisioned"`
}

// Merge rejects empty SKUs and non-positive quantities, then sums duplicate SKUs in first-seen
// order. A per-SKU sum that would overflow int is rejected as ErrInvalidQuantity.
func Merge(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no lines", ErrInvalidQuantity)
	}
	merged := make([]Line, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, l := range lines {
		if l.SKU == "" {
			return nil, ErrInvalidSKU
		}
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidQuantity, l.SKU)
		}
		i, ok := index[l.SKU]
		if !ok {
			index[l.SKU] = len(merged)
			merged = append(merged, l)
			continue
		}
		if merged[i].Quantity > math.MaxInt-l.Quantity {
			return nil, fmt.Errorf("%w: %s total overflows", ErrInvalidQuantity, l.SKU)
		}
		merged[i].Quantity += l.Quantity
	}
	return merged, nil
}
