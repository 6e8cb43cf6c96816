package workerpresentation

import (
	"context"
	"testing"

	domorder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type plainEvent struct{}

func (plainEvent) EventName() string { return "plain" }

func TestHandler_KeyedEventsUseKeyAsEventID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zaplogger.Wrap(zap.New(core))

	h := Handler(base, func(ctx context.Context, _ domoutbox.Event) error {
		logctx.From(ctx).Info("handled")
		return nil
	})
	require.NoError(t, h(context.Background(), domorder.FulfillmentCreatedEvent{OrderID: "o-1"}))

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "fulfillment.created:o-1", fields["event_id"])
	assert.Equal(t, "fulfillment.created", fields["event"])
	assert.NotContains(t, fields, "trace_id")
}

func TestWithEventContext_GeneratesIDAndCarriesTrace(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zaplogger.Wrap(zap.New(core))
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")

	ctx := WithEventContext(context.Background(), base, traceID, spanID, map[string]string{"use_case": "fulfillment.receive"})
	logctx.From(ctx).Info("handled")

	fields := logs.All()[0].ContextMap()
	assert.NotEmpty(t, fields["event_id"])
	assert.Equal(t, traceID.String(), fields["trace_id"])
	assert.Equal(t, spanID.String(), fields["span_id"])
	assert.Equal(t, "fulfillment.receive", fields["use_case"])

	h := Handler(nil, func(ctx context.Context, _ domoutbox.Event) error {
		assert.NotNil(t, logctx.From(ctx))
		return nil
	})
	assert.NoError(t, h(context.Background(), plainEvent{}))
}
