package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL is how long a cached response replays for the same key.
	DefaultTTL = 30 * time.Minute

	keyPrefix        = "idem:"
	componentIdemp   = "idempotency_cache"
	resultHit        = "hit"
	resultMiss       = "miss"
	resultShared     = "shared"
	resultStoreError = "store_error"

	defaultExecTimeout = time.Minute
)

var ErrEmptyKey = errors.New("idempotency: key is required")

// Response is the cached outcome of a side-effecting request.
type Response struct {
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type,omitempty"`
	Body        []byte    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists responses with an expiry. Lookups after expiry are misses.
type Store interface {
	Get(ctx context.Context, key string) (Response, bool, error)
	Set(ctx context.Context, key string, resp Response, ttl time.Duration) error
}

// Outcome tells the caller whether its own function ran.
type Outcome int

const (
	Executed Outcome = iota
	Replayed
)

// Cache guards "check cache, else execute and store" with a per-key singleflight region, so
// concurrent duplicates inside one process share a single execution.
//
// TODO: take a SETNX lease in RedisStore so duplicates arriving at different replicas collapse too.
type Cache struct {
	store       Store
	ttl         time.Duration
	execTimeout time.Duration
	group       singleflight.Group
	log         observability.Logger
	lookups     observability.Counter
	now         func() time.Time
}

type CacheOption func(*Cache)

// WithExecTimeout bounds a shared execution once it is detached from its callers.
func WithExecTimeout(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.execTimeout = d
		}
	}
}

func NewCache(store Store, ttl time.Duration, tel observability.Observability, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	_, logger, metrics := observability.Components(tel, "")
	c := &Cache{
		store:       store,
		ttl:         ttl,
		execTimeout: defaultExecTimeout,
		log:         logger.With(observability.F("component", componentIdemp)),
		lookups:     metrics.Counter(observability.MIdempotencyLookups),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) TTL() time.Duration { return c.ttl }

// Lookup returns the cached response for key, if any.
func (c *Cache) Lookup(ctx context.Context, key string) (Response, bool, error) {
	if key == "" {
		return Response{}, false, ErrEmptyKey
	}
	resp, ok, err := c.store.Get(ctx, keyPrefix+key)
	if err != nil {
		return Response{}, false, fmt.Errorf("idempotency: lookup: %w", err)
	}
	return resp, ok, nil
}

// Put caches resp under key for the configured TTL.
func (c *Cache) Put(ctx context.Context, key string, resp Response) error {
	if key == "" {
		return ErrEmptyKey
	}
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = c.now().UTC()
	}
	if err := c.store.Set(ctx, keyPrefix+key, resp, c.ttl); err != nil {
		return fmt.Errorf("idempotency: store: %w", err)
	}
	return nil
}

// Do returns the cached response for key or runs fn exactly once among concurrent callers.
// Responses are cached only when fn succeeds with a status below 500.
func (c *Cache) Do(ctx context.Context, key string, fn func(ctx context.Context) (Response, error)) (Response, Outcome, error) {
	logger := logctx.FromOr(ctx, c.log).With(observability.F("idempotency_key", key))

	if resp, ok, err := c.Lookup(ctx, key); err != nil {
		return Response{}, Executed, err
	} else if ok {
		c.count(resultHit)
		logger.Debug("idempotent_replay")
		return resp, Replayed, nil
	}

	ran := false
	ch := c.group.DoChan(key, func() (any, error) {
		// Detached from the leader's cancellation and bounded by execTimeout.
		execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.execTimeout)
		defer cancel()

		// A previous leader may have stored the response after our first lookup.
		if resp, ok, err := c.Lookup(execCtx, key); err != nil {
			return Response{}, err
		} else if ok {
			return resp, nil
		}

		ran = true
		resp, err := fn(execCtx)
		if err != nil {
			return Response{}, err
		}
		if resp.CreatedAt.IsZero() {
			resp.CreatedAt = c.now().UTC()
		}
		if resp.StatusCode < 500 {
			if putErr := c.Put(execCtx, key, resp); putErr != nil {
				c.count(resultStoreError)
				logger.Warn("idempotency_store_failed", observability.F("error", putErr.Error()))
			}
		}
		return resp, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		logger.Debug("idempotent_wait_abandoned", observability.F("error", ctx.Err()))
		return Response{}, Executed, ctx.Err()
	}
	if res.Err != nil {
		return Response{}, Executed, res.Err
	}

	resp := res.Val.(Response)
	if ran {
		c.count(resultMiss)
		return resp, Executed, nil
	}
	c.count(resultShared)
	logger.Debug("idempotent_shared")
	return resp, Replayed, nil
}

func (c *Cache) count(result string) {
	if c.lookups != nil {
		c.lookups.Add(1, observability.L("result", result))
	}
}
