package memory

import (
	"context"
	"testing"

	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(t *testing.T, id string) *domain.Order {
	t.Helper()
	o, err := domain.New(id, domain.Customer{FirstName: "Amed", LastName: "Diyarbakir"},
		[]domain.LineItem{{ProductID: "SKU-123", Quantity: 1, UnitPrice: decimal.NewFromInt(7)}}, domain.Address{})
	require.NoError(t, err)
	return o
}

func TestOrderRepository_InsertGetUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	o := newOrder(t, "o-1")

	require.NoError(t, repo.Insert(ctx, o))
	assert.ErrorIs(t, repo.Insert(ctx, o), domain.ErrConflict)

	got, err := repo.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReceived, got.State)

	// Returned orders are copies.
	require.NoError(t, got.Reserved("res-1"))
	again, err := repo.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReceived, again.State)

	require.NoError(t, repo.Update(ctx, got))
	again, err = repo.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReserved, again.State)
	assert.Equal(t, "res-1", again.ReservationID)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, repo.Update(ctx, newOrder(t, "missing")), domain.ErrNotFound)
}

func TestOrderRepository_ListOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	for _, id := range []string{"o-1", "o-2", "o-3"} {
		require.NoError(t, repo.Insert(ctx, newOrder(t, id)))
	}

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i := 1; i < len(list); i++ {
		assert.False(t, list[i].CreatedAt.Before(list[i-1].CreatedAt))
	}
}
