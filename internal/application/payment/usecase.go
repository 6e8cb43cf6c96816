package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	pay "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"
	"github.com/shopspring/decimal"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	paymentService          = "payment-service"
	useCasePaymentAuthorize = "payment.authorize"
	paymentSpanName         = "AuthorizePayment"
	spanPrefix              = "UC."
)

type IDGenerator interface {
	NewID() string
}

// DefaultAccounts are the demo customers and their opening balances.
func DefaultAccounts() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"amed diyarbakir":   decimal.NewFromInt(200),
		"mock mock":         decimal.RequireFromString("4.2"),
		"nicht existierend": decimal.NewFromInt(200),
	}
}

// AuthorizePaymentUseCase simulates the payment provider: it checks the customer's balance
// against the order total and debits it on success.
type AuthorizePaymentUseCase struct {
	mu       sync.Mutex
	accounts map[string]decimal.Decimal
	ids      IDGenerator

	tel        observability.Observability
	log        observability.Logger
	reqCounter observability.Counter
	durHist    observability.Histogram
}

var (
	_ pay.Gateway                                                   = (*AuthorizePaymentUseCase)(nil)
	_ application.UseCase[pay.AuthorizeRequest, *pay.Authorization] = (*AuthorizePaymentUseCase)(nil)
)

func NewAuthorizePaymentUseCase(accounts map[string]decimal.Decimal, ids IDGenerator, tel observability.Observability) *AuthorizePaymentUseCase {
	_, logger, metrics := observability.Components(tel, paymentService)
	uc := &AuthorizePaymentUseCase{
		accounts:   make(map[string]decimal.Decimal, len(accounts)),
		ids:        ids,
		tel:        tel,
		log:        logger,
		reqCounter: metrics.Counter(observability.MUsecaseRequests),
		durHist:    metrics.Histogram(observability.MUsecaseDuration),
	}
	for name, balance := range accounts {
		uc.accounts[accountKey(name)] = balance
	}
	return uc
}

// Authorize lets the use case stand in for a remote gateway.
func (uc *AuthorizePaymentUseCase) Authorize(ctx context.Context, req pay.AuthorizeRequest) (*pay.Authorization, error) {
	return uc.Execute(ctx, req)
}

func (uc *AuthorizePaymentUseCase) Execute(ctx context.Context, cmd pay.AuthorizeRequest) (result *pay.Authorization, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCasePaymentAuthorize),
		observability.F("order_id", cmd.OrderID),
	)

	tracer, _, _ := observability.Components(uc.tel, "")
	ctx, span := tracer.Start(ctx, spanPrefix+paymentSpanName,
		attribute.String("use_case", useCasePaymentAuthorize),
		attribute.String("order.id", cmd.OrderID),
		attribute.String("payment.amount_requested", cmd.Amount.String()),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"

	defer func() {
		if result != nil {
			span.SetAttributes(attribute.String("payment.status", string(result.Status)))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		latency := time.Since(start).Seconds()
		uc.reqCounter.Add(1,
			observability.L("use_case", useCasePaymentAuthorize),
			observability.L("outcome", outcome),
		)
		uc.durHist.Observe(latency,
			observability.L("use_case", useCasePaymentAuthorize),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", latency),
			observability.F("amount", cmd.Amount.String()),
		}
		if result != nil {
			fields = append(fields, observability.F("payment_status", string(result.Status)))
			if result.PaymentID != "" {
				fields = append(fields, observability.F("payment_id", result.PaymentID))
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

	if err := validate(cmd); err != nil {
		outcome, statusText = "error", "REQUEST_INVALID"
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		outcome, statusText = "error", "CONTEXT_CANCELED"
		return nil, err
	}

	decline := func(reason string) *pay.Authorization {
		statusText = reason
		return &pay.Authorization{OrderID: cmd.OrderID, Status: pay.StatusDeclined, Reason: reason, Amount: cmd.Amount}
	}

	total := decimal.Zero
	for _, it := range cmd.Items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	if !total.Equal(cmd.Amount) {
		return decline(pay.DeclineAmountMismatch), nil
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	key := accountKey(cmd.Customer.FirstName + " " + cmd.Customer.LastName)
	balance, ok := uc.accounts[key]
	if !ok {
		return decline(pay.DeclineUnknownCustomer), nil
	}
	if balance.LessThan(cmd.Amount) {
		return decline(pay.DeclineInsufficientFunds), nil
	}

	uc.accounts[key] = balance.Sub(cmd.Amount)
	statusText = string(pay.StatusAuthorized)
	return &pay.Authorization{
		OrderID:   cmd.OrderID,
		PaymentID: uc.ids.NewID(),
		Status:    pay.StatusAuthorized,
		Amount:    cmd.Amount,
	}, nil
}

// Balance reports the current balance for a customer name.
func (uc *AuthorizePaymentUseCase) Balance(name string) (decimal.Decimal, bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	b, ok := uc.accounts[accountKey(name)]
	return b, ok
}

func validate(cmd pay.AuthorizeRequest) error {
	if cmd.OrderID == "" {
		return fmt.Errorf("%w: order id is required", pay.ErrInvalid)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", pay.ErrInvalid)
	}
	for i, it := range cmd.Items {
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: items[%d]: quantity must be greater than zero", pay.ErrInvalid, i)
		}
		if it.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: items[%d]: unit price must be zero or greater", pay.ErrInvalid, i)
		}
	}
	if cmd.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must be zero or greater", pay.ErrInvalid)
	}
	return nil
}

func accountKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
