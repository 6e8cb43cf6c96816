package order

import (
	"context"

	dominv "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
)

type IDGenerator interface {
	NewID() string
}

// InventoryPort is the slice of the ledger the saga drives. Commit belongs to the warehouse.
type InventoryPort interface {
	Reserve(ctx context.Context, orderID string, lines []dominv.Line) (string, error)
	Release(ctx context.Context, reservationID string) (bool, error)
	ReleaseOrder(ctx context.Context, orderID string) (int, error)
}

type PaymentPort interface {
	dompay.Gateway
}

// FulfillmentPublisher hands events to the warehouse with at-least-once delivery.
type FulfillmentPublisher interface {
	domoutbox.Publisher
}
