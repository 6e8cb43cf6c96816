package oteltrace

import (
	"context"

	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type tracer struct{ t trace.Tracer }

// New returns a tracer from the global provider; telemetry.Setup installs the SDK one.
func New(name string) observability.Tracer {
	if name == "" {
		name = "minishop-saga"
	}
	return &tracer{t: otel.Tracer(name)}
}

// FromProvider is used by tests that want spans recorded on their own provider.
func FromProvider(tp trace.TracerProvider, name string) observability.Tracer {
	return &tracer{t: tp.Tracer(name)}
}

func (t *tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.t.Start(ctx, name, trace.WithAttributes(attrs...))
}
