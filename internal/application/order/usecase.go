package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	dominv "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	orderService      = "order-service"
	useCasePlaceOrder = "order.place"
	spanPrefix        = "UC."

	peerInventory       = "inventory"
	peerPayment         = "payment"
	peerFulfillment     = "fulfillment"
	endpointReserve     = "reserve"
	endpointRelease     = "release"
	endpointReleaseOrd  = "release_order"
	endpointAuthorize   = "authorize"
	endpointPublish     = "fulfillment.created"
	stepReleaseReserved = "release_reservation"
	stepReleaseOrder    = "release_order"
)

var (
	ErrConflict   = domain.ErrConflict
	ErrNotFound   = domain.ErrNotFound
	ErrValidation = domain.ErrValidation
	ErrRepository = errors.New("order: repository failure")
)

// SagaConfig bounds every external call. Zero values take the defaults.
type SagaConfig struct {
	InventoryTimeout time.Duration
	PaymentTimeout   time.Duration
	PublishTimeout   time.Duration
	ReleaseTimeout   time.Duration
	PublishAttempts  int
	PublishBackoff   time.Duration
}

func DefaultSagaConfig() SagaConfig {
	return SagaConfig{
		InventoryTimeout: 2 * time.Second,
		PaymentTimeout:   3 * time.Second,
		PublishTimeout:   2 * time.Second,
		ReleaseTimeout:   2 * time.Second,
		PublishAttempts:  3,
		PublishBackoff:   100 * time.Millisecond,
	}
}

func (c SagaConfig) withDefaults() SagaConfig {
	d := DefaultSagaConfig()
	if c.InventoryTimeout <= 0 {
		c.InventoryTimeout = d.InventoryTimeout
	}
	if c.PaymentTimeout <= 0 {
		c.PaymentTimeout = d.PaymentTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = d.PublishTimeout
	}
	if c.ReleaseTimeout <= 0 {
		c.ReleaseTimeout = d.ReleaseTimeout
	}
	if c.PublishAttempts <= 0 {
		c.PublishAttempts = d.PublishAttempts
	}
	if c.PublishBackoff < 0 {
		c.PublishBackoff = 0
	}
	return c
}

// PlaceOrderUseCase drives one order through reserve, authorize and publish, releasing the
// reservation when payment does not go through.
type PlaceOrderUseCase struct {
	repo        domain.Repository
	idGenerator IDGenerator
	inventory   InventoryPort
	payments    PaymentPort
	publisher   FulfillmentPublisher
	cfg         SagaConfig

	tracer observability.Tracer
	log    observability.Logger

	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
	sagaOutcomes observability.Counter   // saga_outcomes_total{state}
	compFailures observability.Counter   // compensation_failures_total{step}
}

func NewPlaceOrderUseCase(
	repo domain.Repository,
	idGen IDGenerator,
	inventory InventoryPort,
	payments PaymentPort,
	publisher FulfillmentPublisher,
	cfg SagaConfig,
	tel observability.Observability,
) *PlaceOrderUseCase {
	tracer, logger, metrics := observability.Components(tel, orderService)
	return &PlaceOrderUseCase{
		repo:         repo,
		idGenerator:  idGen,
		inventory:    inventory,
		payments:     payments,
		publisher:    publisher,
		cfg:          cfg.withDefaults(),
		tracer:       tracer,
		log:          logger,
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
		extCounter:   metrics.Counter(observability.MExternalRequests),
		extHistogram: metrics.Histogram(observability.MExternalRequestDuration),
		sagaOutcomes: metrics.Counter(observability.MSagaOutcomes),
		compFailures: metrics.Counter(observability.MCompensationFailures),
	}
}

type PlaceOrderInput struct {
	// OrderID is optional; one is generated when empty.
	OrderID         string
	Customer        domain.Customer
	Items           []domain.LineItem
	ShippingAddress domain.Address
}

type PlaceOrderResult struct {
	Order *domain.Order
}

var _ application.UseCase[PlaceOrderInput, *PlaceOrderResult] = (*PlaceOrderUseCase)(nil)

// Execute runs the saga. Business outcomes (out of stock, decline, upstream failure) are reported
// through the order state; an error means the order was never accepted or could not be saved.
func (uc *PlaceOrderUseCase) Execute(ctx context.Context, cmd PlaceOrderInput) (_ *PlaceOrderResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(observability.F("use_case", useCasePlaceOrder))

	ctx, span := uc.tracer.Start(ctx, spanPrefix+"PlaceOrder",
		attribute.String("use_case", useCasePlaceOrder),
		attribute.Int("order.items", len(cmd.Items)),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	var entity *domain.Order

	defer func() {
		lat := time.Since(start).Seconds()

		if entity != nil {
			span.SetAttributes(attribute.String("order.state", string(entity.State)))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		uc.reqCounter.Add(1,
			observability.L("use_case", useCasePlaceOrder),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat,
			observability.L("use_case", useCasePlaceOrder),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if entity != nil {
			fields = append(fields,
				observability.F("order_id", entity.ID),
				observability.F("state", string(entity.State)),
			)
			if entity.ReservationID != "" {
				fields = append(fields, observability.F("reservation_id", entity.ReservationID))
			}
			if entity.PaymentID != "" {
				fields = append(fields, observability.F("payment_id", entity.PaymentID))
			}
			if entity.FailureReason != "" {
				fields = append(fields, observability.F("reason", entity.FailureReason))
			}
		}
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
	}()

	orderID := cmd.OrderID
	if orderID == "" {
		orderID = uc.idGenerator.NewID()
	}
	entity, err = domain.New(orderID, cmd.Customer, cmd.Items, cmd.ShippingAddress)
	if err != nil {
		outcome, statusText = "error", "VALIDATION_FAILED"
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		entity = nil
		outcome, statusText = "error", "CONTEXT_CANCELED"
		return nil, err
	}
	if err := uc.repo.Insert(ctx, entity); err != nil {
		entity = nil
		outcome, statusText = "error", "REPO_INSERT_FAILED"
		return nil, wrapRepositoryError(err)
	}

	logger = logger.With(observability.F("order_id", orderID))
	span.SetAttributes(attribute.String("order.id", orderID))

	// Once accepted, the saga runs to a terminal state even if the caller goes away.
	sagaCtx := logctx.With(context.WithoutCancel(ctx), logger)
	s := &saga{uc: uc, order: entity, log: logger, span: span}
	s.run(sagaCtx)

	uc.sagaOutcomes.Add(1, observability.L("state", string(entity.State)))
	statusText = string(entity.State)
	switch entity.State {
	case domain.StateFulfillmentRequested:
		outcome = "success"
	case domain.StateOutOfStock, domain.StatePaymentDeclined:
		outcome = "rejected"
	default:
		outcome = "error"
	}

	if s.err != nil {
		outcome = "error"
		return &PlaceOrderResult{Order: entity.Clone()}, s.err
	}
	return &PlaceOrderResult{Order: entity.Clone()}, nil
}

// saga carries the per-order state of one Execute call.
type saga struct {
	uc    *PlaceOrderUseCase
	order *domain.Order
	log   observability.Logger
	span  trace.Span
	err   error
}

func (s *saga) run(ctx context.Context) {
	if !s.reserve(ctx) {
		return
	}
	auth, ok := s.authorize(ctx)
	if !ok {
		return
	}
	if err := s.order.Paid(auth.PaymentID); err != nil {
		s.fail(err)
		return
	}
	s.save(ctx, "paid")
	s.publish(ctx)
}

func (s *saga) reserve(ctx context.Context) bool {
	lines := make([]dominv.Line, 0, len(s.order.Items()))
	for _, it := range s.order.Items() {
		lines = append(lines, dominv.Line{SKU: it.ProductID, Quantity: it.Quantity})
	}

	var reservationID string
	err := s.uc.external(ctx, peerInventory, endpointReserve, s.uc.cfg.InventoryTimeout, func(ctx context.Context) error {
		var err error
		reservationID, err = s.uc.inventory.Reserve(ctx, s.order.ID, lines)
		return err
	})

	switch {
	case err == nil:
		if terr := s.order.Reserved(reservationID); terr != nil {
			s.fail(terr)
			return false
		}
		s.span.AddEvent("saga.reserved", trace.WithAttributes(attribute.String("reservation.id", reservationID)))
		s.save(ctx, "reserved")
		return true
	case errors.Is(err, dominv.ErrOutOfStock):
		s.log.Info("saga_out_of_stock", observability.F("detail", err.Error()))
		if terr := s.order.OutOfStock(err.Error()); terr != nil {
			s.fail(terr)
			return false
		}
	default:
		reason := domain.ReasonFailed
		if isUnavailable(err) {
			reason = domain.ReasonUpstreamUnavailable
		}
		s.log.Warn("saga_reserve_failed", observability.F("reason", reason), observability.F("error", err.Error()))
		if reason == domain.ReasonUpstreamUnavailable {
			s.sweep(ctx)
		}
		if terr := s.order.Failed(reason, err.Error()); terr != nil {
			s.fail(terr)
			return false
		}
	}
	s.save(ctx, "reserve_failed")
	return false
}

func (s *saga) authorize(ctx context.Context) (*dompay.Authorization, bool) {
	customer := dompay.Customer{FirstName: s.order.Customer.FirstName, LastName: s.order.Customer.LastName}
	items := make([]dompay.Item, 0, len(s.order.Items()))
	for _, it := range s.order.Items() {
		items = append(items, dompay.Item{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	req := dompay.AuthorizeRequest{
		OrderID:        s.order.ID,
		Customer:       customer,
		Items:          items,
		Amount:         s.order.Total(),
		IdempotencyKey: dompay.OrderIdempotencyKey(s.order.ID),
	}

	var auth *dompay.Authorization
	err := s.uc.external(ctx, peerPayment, endpointAuthorize, s.uc.cfg.PaymentTimeout, func(ctx context.Context) error {
		var err error
		auth, err = s.uc.payments.Authorize(ctx, req)
		if err == nil && auth == nil {
			err = fmt.Errorf("%w: empty authorization", dompay.ErrUnavailable)
		}
		return err
	})

	switch {
	case err != nil:
		reason := domain.ReasonFailed
		if isUnavailable(err) {
			reason = domain.ReasonUpstreamUnavailable
		}
		s.log.Warn("saga_payment_failed", observability.F("reason", reason), observability.F("error", err.Error()))
		s.compensate(ctx)
		if terr := s.order.Cancelled(reason, err.Error()); terr != nil {
			s.fail(terr)
			return nil, false
		}
		s.save(ctx, "cancelled")
		return nil, false
	case !auth.Approved():
		s.log.Info("saga_payment_declined", observability.F("decline_reason", auth.Reason))
		s.compensate(ctx)
		if terr := s.order.PaymentDeclined(auth.Reason); terr != nil {
			s.fail(terr)
			return nil, false
		}
		s.save(ctx, "declined")
		return nil, false
	}

	s.span.AddEvent("saga.paid", trace.WithAttributes(attribute.String("payment.id", auth.PaymentID)))
	return auth, true
}

// compensate releases the reservation exactly once. Failures are recorded, never retried, and do
// not change the terminal state.
func (s *saga) compensate(ctx context.Context) {
	reservationID := s.order.ReservationID
	relCtx := context.WithoutCancel(ctx)

	var released bool
	err := s.uc.external(relCtx, peerInventory, endpointRelease, s.uc.cfg.ReleaseTimeout, func(ctx context.Context) error {
		var err error
		released, err = s.uc.inventory.Release(ctx, reservationID)
		return err
	})
	if err == nil && released {
		s.span.AddEvent("saga.released", trace.WithAttributes(attribute.String("reservation.id", reservationID)))
		return
	}

	fields := []observability.Field{observability.F("reservation_id", reservationID), observability.F("step", stepReleaseReserved)}
	if err != nil {
		fields = append(fields, observability.F("error", err.Error()))
	} else {
		fields = append(fields, observability.F("error", "reservation was not open"))
	}
	s.log.Error("saga_compensation_failed", fields...)
	s.uc.compFailures.Add(1, observability.L("step", stepReleaseReserved))
	s.order.MarkCompensationFailed()
}

// sweep releases anything a Reserve with an unknown outcome left open for this order. A
// reservation the remote ledger creates after the sweep lands stays held.
func (s *saga) sweep(ctx context.Context) {
	var released int
	err := s.uc.external(context.WithoutCancel(ctx), peerInventory, endpointReleaseOrd, s.uc.cfg.ReleaseTimeout, func(ctx context.Context) error {
		var err error
		released, err = s.uc.inventory.ReleaseOrder(ctx, s.order.ID)
		return err
	})
	if err != nil {
		s.log.Error("saga_compensation_failed", observability.F("step", stepReleaseOrder), observability.F("error", err.Error()))
		s.uc.compFailures.Add(1, observability.L("step", stepReleaseOrder))
		s.order.MarkCompensationFailed()
		return
	}
	if released > 0 {
		s.log.Warn("saga_orphan_reservation_released", observability.F("released", released))
		s.span.AddEvent("saga.orphans_released", trace.WithAttributes(attribute.Int("reservations", released)))
	}
}

// publish retries delivery; duplicates are safe because the event is keyed by order id.
func (s *saga) publish(ctx context.Context) {
	evt := domain.NewFulfillmentCreatedEvent(s.order)

	var lastErr error
	for attempt := 1; attempt <= s.uc.cfg.PublishAttempts; attempt++ {
		lastErr = s.uc.external(ctx, peerFulfillment, endpointPublish, s.uc.cfg.PublishTimeout, func(ctx context.Context) error {
			return s.uc.publisher.Publish(ctx, evt)
		})
		if lastErr == nil {
			break
		}
		s.log.Warn("saga_publish_failed",
			observability.F("attempt", attempt),
			observability.F("error", lastErr.Error()),
		)
		if attempt < s.uc.cfg.PublishAttempts && s.uc.cfg.PublishBackoff > 0 {
			time.Sleep(s.uc.cfg.PublishBackoff * time.Duration(attempt))
		}
	}

	if lastErr != nil {
		if terr := s.order.FulfillmentPublishFailed(lastErr.Error()); terr != nil {
			s.fail(terr)
			return
		}
		s.save(ctx, "publish_failed")
		return
	}

	if terr := s.order.FulfillmentRequested(); terr != nil {
		s.fail(terr)
		return
	}
	s.span.AddEvent("saga.fulfillment_requested")
	s.save(ctx, "fulfillment_requested")
}

// save persists the current order. A failure is remembered and reported by Execute, but the saga
// keeps going so reserved stock is still compensated.
func (s *saga) save(ctx context.Context, step string) {
	if err := s.uc.repo.Update(ctx, s.order); err != nil {
		s.log.Error("order_persist_failed",
			observability.F("step", step),
			observability.F("error", err.Error()),
		)
		if s.err == nil {
			s.err = wrapRepositoryError(err)
		}
	}
}

func (s *saga) fail(err error) {
	s.log.Error("saga_transition_failed", observability.F("error", err.Error()))
	if s.err == nil {
		s.err = err
	}
}

// external bounds fn with timeout and records external_requests_total / duration.
func (uc *PlaceOrderUseCase) external(ctx context.Context, peer, endpoint string, timeout time.Duration, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)

	callOutcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		callOutcome = "timeout"
	case errors.Is(err, dominv.ErrOutOfStock):
		callOutcome = "rejected"
	default:
		callOutcome = "error"
	}

	uc.extCounter.Add(1,
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
		observability.L("outcome", callOutcome),
	)
	uc.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
	)
	return err
}

func isUnavailable(err error) bool {
	return errors.Is(err, dominv.ErrUnavailable) ||
		errors.Is(err, dompay.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

func wrapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, domain.ErrConflict):
		return ErrConflict
	default:
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
}
