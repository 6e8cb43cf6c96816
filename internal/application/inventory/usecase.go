package inventory

import (
	"context"
	"errors"
	"time"

	dominv "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	inventoryService   = "inventory-service"
	spanPrefix         = "UC."
	useCaseReserve     = "inventory.reserve"
	useCaseCommit      = "inventory.commit"
	useCaseRelease     = "inventory.release"
	useCaseReleaseOrd  = "inventory.release_order"
	useCaseStock       = "inventory.stock"
	useCaseReservation = "inventory.reservation"
)

// Store is the ledger backing the service.
type Store interface {
	dominv.Ledger
	dominv.StockReader
}

// Service exposes the ledger's operations as instrumented use cases.
type Service struct {
	store Store

	tracer       observability.Tracer
	log          observability.Logger
	reqCounter   observability.Counter
	durHistogram observability.Histogram
}

var (
	_ dominv.Ledger      = (*Service)(nil)
	_ dominv.StockReader = (*Service)(nil)
)

func NewService(store Store, tel observability.Observability) *Service {
	tracer, logger, metrics := observability.Components(tel, inventoryService)
	return &Service{
		store:        store,
		tracer:       tracer,
		log:          logger,
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
	}
}

func (s *Service) Reserve(ctx context.Context, orderID string, lines []dominv.Line) (id string, err error) {
	ctx, done := s.begin(ctx, useCaseReserve, "Reserve", attribute.String("order.id", orderID), attribute.Int("inventory.lines", len(lines)))
	defer func() {
		if err == nil {
			done("success", "RESERVED", nil, observability.F("order_id", orderID), observability.F("reservation_id", id))
			return
		}
		status := "RESERVE_FAILED"
		var oos *dominv.OutOfStockError
		if errors.As(err, &oos) {
			status = dominv.ReasonOutOfStock
			done("rejected", status, err, observability.F("order_id", orderID), observability.F("sku", oos.SKU),
				observability.F("requested", oos.Requested), observability.F("available", oos.Available))
			return
		}
		done("error", status, err, observability.F("order_id", orderID))
	}()

	return s.store.Reserve(ctx, orderID, lines)
}

func (s *Service) Commit(ctx context.Context, reservationID string) (ok bool, err error) {
	ctx, done := s.begin(ctx, useCaseCommit, "Commit", attribute.String("reservation.id", reservationID))
	defer func() { done(resolveOutcome(ok, err), resolveStatus("COMMITTED", ok, err), err, observability.F("reservation_id", reservationID)) }()

	return s.store.Commit(ctx, reservationID)
}

func (s *Service) Release(ctx context.Context, reservationID string) (ok bool, err error) {
	ctx, done := s.begin(ctx, useCaseRelease, "Release", attribute.String("reservation.id", reservationID))
	defer func() { done(resolveOutcome(ok, err), resolveStatus("RELEASED", ok, err), err, observability.F("reservation_id", reservationID)) }()

	return s.store.Release(ctx, reservationID)
}

func (s *Service) ReleaseOrder(ctx context.Context, orderID string) (n int, err error) {
	ctx, done := s.begin(ctx, useCaseReleaseOrd, "ReleaseOrder", attribute.String("order.id", orderID))
	defer func() {
		done(resolveOutcome(n > 0, err), resolveStatus("RELEASED", n > 0, err), err,
			observability.F("order_id", orderID), observability.F("released", n))
	}()

	return s.store.ReleaseOrder(ctx, orderID)
}

func (s *Service) Stock(ctx context.Context, sku string) (lvl dominv.StockLevel, err error) {
	ctx, done := s.begin(ctx, useCaseStock, "Stock", attribute.String("inventory.sku", sku))
	defer func() {
		outcome, status := "success", "OK"
		if err != nil {
			outcome, status = "error", "STOCK_LOOKUP_FAILED"
		}
		done(outcome, status, err, observability.F("sku", sku), observability.F("available", lvl.Available))
	}()

	return s.store.Stock(ctx, sku)
}

func (s *Service) Reservation(ctx context.Context, id string) (r dominv.Reservation, err error) {
	ctx, done := s.begin(ctx, useCaseReservation, "Reservation", attribute.String("reservation.id", id))
	defer func() {
		outcome, status := "success", "OK"
		if errors.Is(err, dominv.ErrReservationNotFound) {
			outcome, status = "rejected", "NOT_FOUND"
		} else if err != nil {
			outcome, status = "error", "RESERVATION_LOOKUP_FAILED"
		}
		done(outcome, status, err, observability.F("reservation_id", id))
	}()

	return s.store.Reservation(ctx, id)
}

type finishFunc func(outcome, status string, err error, fields ...observability.Field)

// begin opens the use case span and returns the closure that records RED metrics and the
// use_case_done log entry.
func (s *Service) begin(ctx context.Context, useCase, spanName string, attrs ...attribute.KeyValue) (context.Context, finishFunc) {
	logger := logctx.FromOr(ctx, s.log).With(observability.F("use_case", useCase))
	attrs = append(attrs, attribute.String("use_case", useCase))
	ctx, span := s.tracer.Start(ctx, spanPrefix+spanName, attrs...)
	start := time.Now()

	return ctx, func(outcome, status string, err error, extra ...observability.Field) {
		lat := time.Since(start).Seconds()
		if err != nil && outcome == "error" {
			span.RecordError(err)
			span.SetStatus(codes.Error, status)
		} else {
			span.SetStatus(codes.Ok, status)
		}
		span.End()

		s.reqCounter.Add(1, observability.L("use_case", useCase), observability.L("outcome", outcome))
		s.durHistogram.Observe(lat, observability.L("use_case", useCase))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", status),
			observability.F("latency_seconds", lat),
		}
		fields = append(fields, extra...)
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}
}

func resolveOutcome(ok bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case !ok:
		return "rejected"
	default:
		return "success"
	}
}

func resolveStatus(success string, ok bool, err error) string {
	switch {
	case err != nil:
		return "LEDGER_ERROR"
	case !ok:
		return "NOT_OPEN"
	default:
		return success
	}
}
