package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	domorder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	sent []published
	err  error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func tracedContext(t *testing.T) context.Context {
	t.Helper()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestPublisher_PublishesPersistentKeyedMessage(t *testing.T) {
	ch := &fakeChannel{}
	p := NewPublisher(ch, "")
	evt := domorder.FulfillmentCreatedEvent{OrderID: "o-1", ReservationID: "res-1"}

	require.NoError(t, p.Publish(tracedContext(t), evt))
	require.Len(t, ch.sent, 1)

	got := ch.sent[0]
	assert.Equal(t, DefaultExchange, got.exchange)
	assert.Equal(t, domorder.EventFulfillmentCreated, got.key)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, "o-1", got.msg.MessageId)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Contains(t, got.msg.Headers["traceparent"], "4bf92f3577b34da6a3ce929d0e0e4736")

	var decoded domorder.FulfillmentCreatedEvent
	require.NoError(t, json.Unmarshal(got.msg.Body, &decoded))
	assert.Equal(t, "res-1", decoded.ReservationID)
}

func TestPublisher_WrapsChannelErrors(t *testing.T) {
	boom := errors.New("channel closed")
	p := NewPublisher(&fakeChannel{err: boom}, "orders")

	err := p.Publish(context.Background(), domorder.FulfillmentCreatedEvent{OrderID: "o-1"})
	assert.ErrorIs(t, err, boom)
}
