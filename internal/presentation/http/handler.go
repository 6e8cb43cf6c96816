package httppresentation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	appOrder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
	domainInventory "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	domainOrder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	domainPayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/idempotency"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	maxBodyBytes         = 1 << 20
)

// InventoryService is what the inventory routes need from the ledger.
type InventoryService interface {
	domainInventory.Ledger
	domainInventory.StockReader
}

// Deps lists the use cases behind each route group. Nil groups are not mounted.
type Deps struct {
	PlaceOrder  application.UseCase[appOrder.PlaceOrderInput, *appOrder.PlaceOrderResult]
	GetOrder    application.UseCase[string, *domainOrder.Order]
	ListOrders  application.UseCase[struct{}, []*domainOrder.Order]
	Inventory   InventoryService
	Payments    application.UseCase[domainPayment.AuthorizeRequest, *domainPayment.Authorization]
	Idempotency *idempotency.Cache
}

type Handler struct {
	deps       Deps
	log        observability.Logger
	httpTracer trace.Tracer

	httpRequests observability.Counter
	httpDuration observability.Histogram
}

func NewHandler(deps Deps, tel observability.Observability) *Handler {
	_, logger, metrics := observability.Components(tel, "")
	return &Handler{
		deps:         deps,
		log:          logger.With(observability.F("component", componentHTTPHandler)),
		httpTracer:   otel.Tracer("minishop-saga.http"),
		httpRequests: metrics.Counter(observability.MHTTPRequests),
		httpDuration: metrics.Histogram(observability.MHTTPRequestDuration),
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	if h.deps.PlaceOrder != nil {
		h.muxHandle(mux, http.MethodPost, "/orders", h.withIdempotency("orders", http.HandlerFunc(h.handleCreateOrder)))
	}
	if h.deps.GetOrder != nil {
		h.muxHandle(mux, http.MethodGet, "/orders/{id}", http.HandlerFunc(h.handleGetOrder))
	}
	if h.deps.ListOrders != nil {
		h.muxHandle(mux, http.MethodGet, "/orders", http.HandlerFunc(h.handleListOrders))
	}
	if h.deps.Inventory != nil {
		h.muxHandle(mux, http.MethodPost, "/inventory/reservations", http.HandlerFunc(h.handleReserve))
		h.muxHandle(mux, http.MethodGet, "/inventory/reservations/{id}", http.HandlerFunc(h.handleGetReservation))
		h.muxHandle(mux, http.MethodPost, "/inventory/reservations/{id}/commit", http.HandlerFunc(h.handleCommit))
		h.muxHandle(mux, http.MethodPost, "/inventory/reservations/{id}/release", http.HandlerFunc(h.handleRelease))
		h.muxHandle(mux, http.MethodPost, "/inventory/orders/{orderId}/release", http.HandlerFunc(h.handleReleaseOrder))
		h.muxHandle(mux, http.MethodGet, "/inventory/stock/{sku}", http.HandlerFunc(h.handleStock))
	}
	if h.deps.Payments != nil {
		h.muxHandle(mux, http.MethodPost, "/payments/authorize", h.withIdempotency("payments", http.HandlerFunc(h.handleAuthorize)))
	}
	h.muxHandle(mux, http.MethodGet, "/health", http.HandlerFunc(h.handleHealth))

	return mux
}

// muxHandle registers route with the middleware chain:
// Trace → Request Logger → Access Log → HTTP metrics → Handler
func (h *Handler) muxHandle(mux *http.ServeMux, method, route string, handler http.Handler) {
	template := method + " " + route
	wrapped := h.withTrace(
		ObservabilityMiddleware(
			h.log,
			func(r *http.Request) string { return r.Header.Get(headerRequestID) },
		)(
			h.withAccessLog(
				h.withHTTPMetrics(handler),
			),
		),
	)
	mux.Handle(template, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped.ServeHTTP(w, r.WithContext(contextWithRoute(r.Context(), template)))
	}))
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("malformed request body: %w", err)
	}
	return nil
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logctx.FromOr(ctx, h.log).Warn("http_response_encode_failed", observability.F("error", err))
	}
}
