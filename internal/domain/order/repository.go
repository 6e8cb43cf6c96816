package order

import "context"

type Repository interface {
	Insert(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, order *Order) error
	// List returns every order ordered by creation time.
	List(ctx context.Context) ([]*Order, error)
}
