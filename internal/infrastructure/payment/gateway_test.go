package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pay "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/idempotency"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingGateway struct {
	mu    sync.Mutex
	calls int
	auth  pay.Authorization
	err   error
}

func (g *countingGateway) Authorize(_ context.Context, req pay.AuthorizeRequest) (*pay.Authorization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	a := g.auth
	a.OrderID = req.OrderID
	return &a, nil
}

func newGateway(next pay.Gateway) *IdempotentGateway {
	return NewIdempotentGateway(next, idempotency.NewCache(idempotency.NewMemoryStore(), time.Minute, nil))
}

func TestIdempotentGateway_ReplaysSameKey(t *testing.T) {
	next := &countingGateway{auth: pay.Authorization{PaymentID: "pay-1", Status: pay.StatusAuthorized, Amount: decimal.NewFromInt(5)}}
	gw := newGateway(next)
	req := pay.AuthorizeRequest{OrderID: "o-1", Amount: decimal.NewFromInt(5)}

	first, err := gw.Authorize(context.Background(), req)
	require.NoError(t, err)
	second, err := gw.Authorize(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, "pay-1", first.PaymentID)
	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.True(t, second.Amount.Equal(decimal.NewFromInt(5)))
}

func TestIdempotentGateway_DistinctKeysExecute(t *testing.T) {
	next := &countingGateway{auth: pay.Authorization{Status: pay.StatusDeclined, Reason: pay.DeclineUnknownCustomer}}
	gw := newGateway(next)

	_, err := gw.Authorize(context.Background(), pay.AuthorizeRequest{OrderID: "o-1"})
	require.NoError(t, err)
	_, err = gw.Authorize(context.Background(), pay.AuthorizeRequest{OrderID: "o-1", IdempotencyKey: "client-key"})
	require.NoError(t, err)
	auth, err := gw.Authorize(context.Background(), pay.AuthorizeRequest{OrderID: "o-2"})
	require.NoError(t, err)

	assert.Equal(t, 3, next.calls)
	assert.Equal(t, pay.DeclineUnknownCustomer, auth.Reason)
}

func TestIdempotentGateway_ErrorsAreNotCached(t *testing.T) {
	next := &countingGateway{err: pay.ErrUnavailable}
	gw := newGateway(next)
	req := pay.AuthorizeRequest{OrderID: "o-1"}

	_, err := gw.Authorize(context.Background(), req)
	require.True(t, errors.Is(err, pay.ErrUnavailable))

	next.err = nil
	next.auth = pay.Authorization{PaymentID: "pay-2", Status: pay.StatusAuthorized}
	auth, err := gw.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "pay-2", auth.PaymentID)
	assert.Equal(t, 2, next.calls)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "order:o-1", Key(pay.AuthorizeRequest{OrderID: "o-1"}))
	assert.Equal(t, "k", Key(pay.AuthorizeRequest{OrderID: "o-1", IdempotencyKey: "k"}))
}
