package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	pay "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/idempotency"
)

// IdempotentGateway guards an in-process gateway with the idempotency cache, so a retried
// authorization for the same key replays the first answer instead of charging again.
type IdempotentGateway struct {
	next  pay.Gateway
	cache *idempotency.Cache
}

var _ pay.Gateway = (*IdempotentGateway)(nil)

func NewIdempotentGateway(next pay.Gateway, cache *idempotency.Cache) *IdempotentGateway {
	return &IdempotentGateway{next: next, cache: cache}
}

// Key is the cache key for req: the caller's idempotency key, else one derived from the order id.
func Key(req pay.AuthorizeRequest) string {
	if req.IdempotencyKey != "" {
		return req.IdempotencyKey
	}
	return pay.OrderIdempotencyKey(req.OrderID)
}

func (g *IdempotentGateway) Authorize(ctx context.Context, req pay.AuthorizeRequest) (*pay.Authorization, error) {
	resp, _, err := g.cache.Do(ctx, Key(req), func(ctx context.Context) (idempotency.Response, error) {
		auth, err := g.next.Authorize(ctx, req)
		if err != nil {
			return idempotency.Response{}, err
		}
		body, err := json.Marshal(auth)
		if err != nil {
			return idempotency.Response{}, fmt.Errorf("payment: encode authorization: %w", err)
		}
		return idempotency.Response{StatusCode: http.StatusOK, ContentType: "application/json", Body: body}, nil
	})
	if err != nil {
		return nil, err
	}

	var auth pay.Authorization
	if err := json.Unmarshal(resp.Body, &auth); err != nil {
		return nil, fmt.Errorf("payment: decode cached authorization: %w", err)
	}
	return &auth, nil
}
