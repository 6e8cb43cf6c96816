package fulfillment

import (
	"context"
	"fmt"
	"sync"
	"time"

	domorder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	warehouseService   = "warehouse-stub"
	useCaseFulfillment = "fulfillment.receive"
	spanPrefix         = "UC."
)

// Committer consumes reserved stock once the warehouse accepts an order.
type Committer interface {
	Commit(ctx context.Context, reservationID string) (bool, error)
}

// Worker stands in for the warehouse: it accepts fulfillment.created events, commits the
// reservation on first receipt and ignores redeliveries of the same order.
type Worker struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	received  []string
	committer Committer

	tracer     observability.Tracer
	log        observability.Logger
	reqCounter observability.Counter
	durHist    observability.Histogram
}

func NewWorker(committer Committer, tel observability.Observability) *Worker {
	tracer, logger, metrics := observability.Components(tel, warehouseService)
	return &Worker{
		seen:       make(map[string]time.Time),
		committer:  committer,
		tracer:     tracer,
		log:        logger,
		reqCounter: metrics.Counter(observability.MUsecaseRequests),
		durHist:    metrics.Histogram(observability.MUsecaseDuration),
	}
}

// EventName is the event this worker consumes.
func (w *Worker) EventName() string { return domorder.EventFulfillmentCreated }

func (w *Worker) Handle(ctx context.Context, e domoutbox.Event) (err error) {
	evt, ok := asFulfillment(e)
	if !ok {
		return fmt.Errorf("fulfillment: unexpected event %T", e)
	}

	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("use_case", useCaseFulfillment),
		observability.F("order_id", evt.OrderID),
		observability.F("reservation_id", evt.ReservationID),
	)
	ctx, span := w.tracer.Start(ctx, spanPrefix+"ReceiveFulfillment",
		attribute.String("use_case", useCaseFulfillment),
		attribute.String("order.id", evt.OrderID),
	)
	start := time.Now()
	outcome := "success"
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		lat := time.Since(start).Seconds()
		w.reqCounter.Add(1, observability.L("use_case", useCaseFulfillment), observability.L("outcome", outcome))
		w.durHist.Observe(lat, observability.L("use_case", useCaseFulfillment))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("latency_seconds", lat),
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, dup := w.seen[evt.OrderID]; dup {
		outcome = "duplicate"
		return nil
	}

	if w.committer != nil && evt.ReservationID != "" {
		committed, cerr := w.committer.Commit(ctx, evt.ReservationID)
		if cerr != nil {
			outcome = "error"
			return fmt.Errorf("fulfillment: commit %s: %w", evt.ReservationID, cerr)
		}
		if !committed {
			logger.Warn("fulfillment_reservation_not_open")
		}
	}

	w.seen[evt.OrderID] = time.Now().UTC()
	w.received = append(w.received, evt.OrderID)
	logger.Info("fulfillment_received",
		observability.F("items", len(evt.Items)),
		observability.F("total_amount", evt.TotalAmount.String()),
	)
	return nil
}

// Received lists accepted order ids in arrival order.
func (w *Worker) Received() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.received...)
}

func asFulfillment(e domoutbox.Event) (domorder.FulfillmentCreatedEvent, bool) {
	switch v := e.(type) {
	case domorder.FulfillmentCreatedEvent:
		return v, true
	case *domorder.FulfillmentCreatedEvent:
		if v != nil {
			return *v, true
		}
	}
	return domorder.FulfillmentCreatedEvent{}, false
}
