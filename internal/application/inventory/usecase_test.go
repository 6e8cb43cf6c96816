package inventory

import (
	"context"
	"errors"
	"testing"

	dominv "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/memory"
	obsinfra "github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*Service, *prometrics.Registry) {
	t.Helper()
	metrics, err := prometrics.New(prometheus.NewRegistry(), "", observability.Specs)
	require.NoError(t, err)
	ledger := memory.NewInventoryLedger()
	require.NoError(t, Seed(ledger, DefaultStock()))
	return NewService(ledger, obsinfra.New(nil, nil, metrics)), metrics
}

func requests(m *prometrics.Registry, useCase, outcome string) float64 {
	return testutil.ToFloat64(m.CounterVec(observability.MUsecaseRequests).WithLabelValues(useCase, outcome))
}

func TestService_ReserveOutcomes(t *testing.T) {
	svc, m := newService(t)
	ctx := context.Background()

	id, err := svc.Reserve(ctx, "o-1", []dominv.Line{{SKU: "SKU-789", Quantity: 8}})
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, "o-2", []dominv.Line{{SKU: "SKU-789", Quantity: 1}})
	require.ErrorIs(t, err, dominv.ErrOutOfStock)
	_, err = svc.Reserve(ctx, "o-3", nil)
	require.ErrorIs(t, err, dominv.ErrInvalidQuantity)

	assert.Equal(t, float64(1), requests(m, useCaseReserve, "success"))
	assert.Equal(t, float64(1), requests(m, useCaseReserve, "rejected"))
	assert.Equal(t, float64(1), requests(m, useCaseReserve, "error"))

	ok, err := svc.Release(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.Commit(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	lvl, err := svc.Stock(ctx, "SKU-789")
	require.NoError(t, err)
	assert.Equal(t, 8, lvl.Available)

	r, err := svc.Reservation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, dominv.ReservationReleased, r.Status)
	_, err = svc.Reservation(ctx, "missing")
	assert.ErrorIs(t, err, dominv.ErrReservationNotFound)
}

func TestService_ReleaseOrder(t *testing.T) {
	svc, m := newService(t)
	ctx := context.Background()

	_, err := svc.Reserve(ctx, "o-1", []dominv.Line{{SKU: "SKU-123", Quantity: 4}})
	require.NoError(t, err)

	n, err := svc.ReleaseOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = svc.ReleaseOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, float64(1), requests(m, useCaseReleaseOrd, "success"))
	assert.Equal(t, float64(1), requests(m, useCaseReleaseOrd, "rejected"))

	lvl, err := svc.Stock(ctx, "SKU-123")
	require.NoError(t, err)
	assert.Equal(t, 20, lvl.Available)
}

type failingProvisioner struct{ seen []string }

func (p *failingProvisioner) Provision(sku string, _ int) error {
	p.seen = append(p.seen, sku)
	if sku == "SKU-456" {
		return errors.New("boom")
	}
	return nil
}

func TestSeed_ProvisionsInOrderAndStopsOnError(t *testing.T) {
	p := &failingProvisioner{}
	err := Seed(p, DefaultStock())
	require.Error(t, err)
	assert.Equal(t, []string{"SKU-123", "SKU-456"}, p.seen)
}
