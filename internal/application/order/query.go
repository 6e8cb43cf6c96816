package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	useCaseGetOrder   = "order.get"
	useCaseListOrders = "order.list"
)

type queryMetrics struct {
	tracer observability.Tracer
	log    observability.Logger
	req    observability.Counter
	dur    observability.Histogram
}

func newQueryMetrics(tel observability.Observability) queryMetrics {
	tracer, logger, metrics := observability.Components(tel, orderService)
	return queryMetrics{
		tracer: tracer,
		log:    logger,
		req:    metrics.Counter(observability.MUsecaseRequests),
		dur:    metrics.Histogram(observability.MUsecaseDuration),
	}
}

func (m queryMetrics) done(ctx context.Context, useCase string, start time.Time, outcome string, err error, fields ...observability.Field) {
	lat := time.Since(start).Seconds()
	m.req.Add(1, observability.L("use_case", useCase), observability.L("outcome", outcome))
	m.dur.Observe(lat, observability.L("use_case", useCase))

	fields = append(fields,
		observability.F("outcome", outcome),
		observability.F("latency_seconds", lat),
	)
	if err != nil {
		fields = append(fields, observability.F("error", err.Error()))
	}
	logctx.FromOr(ctx, m.log).Debug("use_case_done", append(fields, observability.F("use_case", useCase))...)
}

var (
	_ application.UseCase[string, *domain.Order]     = (*GetOrderUseCase)(nil)
	_ application.UseCase[struct{}, []*domain.Order] = (*ListOrdersUseCase)(nil)
)

type GetOrderUseCase struct {
	repo domain.Repository
	m    queryMetrics
}

func NewGetOrderUseCase(repo domain.Repository, tel observability.Observability) *GetOrderUseCase {
	return &GetOrderUseCase{repo: repo, m: newQueryMetrics(tel)}
}

func (uc *GetOrderUseCase) Execute(ctx context.Context, id string) (_ *domain.Order, err error) {
	ctx, span := uc.m.tracer.Start(ctx, spanPrefix+"GetOrder",
		attribute.String("use_case", useCaseGetOrder),
		attribute.String("order.id", id),
	)
	start := time.Now()
	outcome := "success"
	defer func() {
		if err != nil && outcome == "error" {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		uc.m.done(ctx, useCaseGetOrder, start, outcome, err, observability.F("order_id", id))
	}()

	if id == "" {
		outcome = "rejected"
		return nil, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	o, err := uc.repo.Get(ctx, id)
	if err != nil {
		outcome = "error"
		if errors.Is(err, domain.ErrNotFound) {
			outcome = "rejected"
		}
		return nil, wrapRepositoryError(err)
	}
	return o, nil
}

type ListOrdersUseCase struct {
	repo domain.Repository
	m    queryMetrics
}

func NewListOrdersUseCase(repo domain.Repository, tel observability.Observability) *ListOrdersUseCase {
	return &ListOrdersUseCase{repo: repo, m: newQueryMetrics(tel)}
}

// Execute returns every order, oldest first.
func (uc *ListOrdersUseCase) Execute(ctx context.Context, _ struct{}) (_ []*domain.Order, err error) {
	ctx, span := uc.m.tracer.Start(ctx, spanPrefix+"ListOrders",
		attribute.String("use_case", useCaseListOrders),
	)
	start := time.Now()
	outcome := "success"
	var n int
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		uc.m.done(ctx, useCaseListOrders, start, outcome, err, observability.F("count", n))
	}()

	orders, err := uc.repo.List(ctx)
	if err != nil {
		outcome = "error"
		return nil, wrapRepositoryError(err)
	}
	n = len(orders)
	return orders, nil
}
