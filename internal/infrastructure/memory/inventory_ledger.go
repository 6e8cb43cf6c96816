package memory

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	"github.com/google/uuid"
)

// InventoryLedger is the process-wide stock table. A single mutex serializes every operation,
// so multi-SKU reservations never need lock ordering.
type InventoryLedger struct {
	mu           sync.Mutex
	available    map[string]int
	reserved     map[string]int
	committed    map[string]int
	provisioned  map[string]int
	reservations map[string]*domain.Reservation
	newID        func() string
}

var _ domain.Ledger = (*InventoryLedger)(nil)

type LedgerOption func(*InventoryLedger)

// WithReservationIDs overrides the reservation id generator.
func WithReservationIDs(gen func() string) LedgerOption {
	return func(l *InventoryLedger) {
		if gen != nil {
			l.newID = gen
		}
	}
}

func NewInventoryLedger(opts ...LedgerOption) *InventoryLedger {
	l := &InventoryLedger{
		available:    make(map[string]int),
		reserved:     make(map[string]int),
		committed:    make(map[string]int),
		provisioned:  make(map[string]int),
		reservations: make(map[string]*domain.Reservation),
		newID:        func() string { return "res-" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Provision adds qty units of sku to available stock.
func (l *InventoryLedger) Provision(sku string, qty int) error {
	if sku == "" {
		return domain.ErrInvalidSKU
	}
	if qty <= 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidQuantity, sku)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.provisioned[sku] > math.MaxInt-qty {
		return fmt.Errorf("%w: %s total overflows", domain.ErrInvalidQuantity, sku)
	}
	l.available[sku] += qty
	l.provisioned[sku] += qty
	return nil
}

func (l *InventoryLedger) Reserve(ctx context.Context, orderID string, lines []domain.Line) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	merged, err := domain.Merge(lines)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, ln := range merged {
		if have := l.available[ln.SKU]; have < ln.Quantity {
			return "", &domain.OutOfStockError{SKU: ln.SKU, Requested: ln.Quantity, Available: have}
		}
	}

	id := l.newID()
	if _, exists := l.reservations[id]; exists {
		return "", fmt.Errorf("inventory: reservation id %q already used", id)
	}
	for _, ln := range merged {
		l.available[ln.SKU] -= ln.Quantity
		l.reserved[ln.SKU] += ln.Quantity
	}
	now := time.Now().UTC()
	l.reservations[id] = &domain.Reservation{
		ID:        id,
		OrderID:   orderID,
		Lines:     merged,
		Status:    domain.ReservationOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return id, nil
}

// Commit converts an open reservation into consumed stock.
func (l *InventoryLedger) Commit(ctx context.Context, reservationID string) (bool, error) {

	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.open(reservationID)
	if !ok {
		return false, nil
	}
	for _, ln := range r.Lines {
		l.reserved[ln.SKU] -= ln.Quantity
		l.committed[ln.SKU] += ln.Quantity
	}
	r.Status = domain.ReservationCommitted
	r.UpdatedAt = time.Now().UTC()
	return true, nil
}

// Release returns an open reservation's quantities to available stock.
func (l *InventoryLedger) Release(ctx context.Context, reservationID string) (bool, error) {

	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.open(reservationID)
	if !ok {
		return false, nil
	}
	for _, ln := range r.Lines {
		l.reserved[ln.SKU] -= ln.Quantity
		l.available[ln.SKU] += ln.Quantity
	}
	r.Status = domain.ReservationReleased
	r.UpdatedAt = time.Now().UTC()
	return true, nil
}

// ReleaseOrder releases every open reservation of orderID.
func (l *InventoryLedger) ReleaseOrder(ctx context.Context, orderID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	released := 0
	now := time.Now().UTC()
	for _, r := range l.reservations {
		if r.OrderID != orderID || r.Status != domain.ReservationOpen {
			continue
		}
		for _, ln := range r.Lines {
			l.reserved[ln.SKU] -= ln.Quantity
			l.available[ln.SKU] += ln.Quantity
		}
		r.Status = domain.ReservationReleased
		r.UpdatedAt = now
		released++
	}
	return released, nil
}

func (l *InventoryLedger) Stock(ctx context.Context, sku string) (domain.StockLevel, error) {
	if sku == "" {
		return domain.StockLevel{}, domain.ErrInvalidSKU
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return domain.StockLevel{
		SKU:         sku,
		Available:   l.available[sku],
		Reserved:    l.reserved[sku],
		Committed:   l.committed[sku],
		Provisioned: l.provisioned[sku],
	}, nil
}

func (l *InventoryLedger) Reservation(ctx context.Context, id string) (domain.Reservation, error) {

	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return r.Clone(), nil
}

// open must be called with l.mu held.
func (l *InventoryLedger) open(id string) (*domain.Reservation, bool) {
	r, ok := l.reservations[id]
	if !ok || r.Status != domain.ReservationOpen {
		return nil, false
	}
	return r, true
}
