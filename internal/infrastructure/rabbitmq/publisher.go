package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Channel is the part of *amqp.Channel the publisher needs.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher sends domain events as persistent JSON messages. The routing key is the event name
// and keyed events use their key as MessageId so consumers can drop redeliveries.
type Publisher struct {
	ch       Channel
	exchange string
	now      func() time.Time
}

var _ domoutbox.Publisher = (*Publisher)(nil)

func NewPublisher(ch Channel, exchange string) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &Publisher{ch: ch, exchange: exchange, now: time.Now}
}

func (p *Publisher) Publish(ctx context.Context, e domoutbox.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal %s: %w", e.EventName(), err)
	}

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, tableCarrier(headers))

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         e.EventName(),
		Timestamp:    p.now().UTC(),
		Headers:      headers,
		Body:         body,
	}
	if k, ok := e.(domoutbox.KeyedEvent); ok {
		msg.MessageId = k.EventKey()
	}

	if err := p.ch.PublishWithContext(ctx,
		p.exchange,     // exchange
		e.EventName(),  // routing key
		false,          // mandatory
		false,          // immediate
		msg,
	); err != nil {
		return fmt.Errorf("rabbitmq: publish %s: %w", e.EventName(), err)
	}
	return nil
}

// tableCarrier lets the W3C propagator write trace headers into AMQP message headers.
type tableCarrier amqp.Table

var _ propagation.TextMapCarrier = tableCarrier(nil)

func (c tableCarrier) Get(key string) string {
	v, _ := c[key].(string)
	return v
}

func (c tableCarrier) Set(key, value string) { c[key] = value }

func (c tableCarrier) Keys() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	return out
}
