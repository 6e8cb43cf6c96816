package inventory

import "context"

// Ledger moves quantity between available stock and reservations.
//
// Reserve is all-or-nothing: when any line is short it returns an error wrapping ErrOutOfStock and
// no SKU changes. Commit and Release report false for unknown or already resolved reservations;
// the error return is reserved for transport failures of remote ledgers.
//
// ReleaseOrder releases every open reservation held by orderID and reports how many it released.
// Callers use it when a Reserve outcome is unknown.
type Ledger interface {
	Reserve(ctx context.Context, orderID string, lines []Line) (string, error)
	Commit(ctx context.Context, reservationID string) (bool, error)
	Release(ctx context.Context, reservationID string) (bool, error)
	ReleaseOrder(ctx context.Context, orderID string) (int, error)
}

// StockReader exposes read-only views of the ledger.
type StockReader interface {
	Stock(ctx context.Context, sku string) (StockLevel, error)
	Reservation(ctx context.Context, id string) (Reservation, error)
}
