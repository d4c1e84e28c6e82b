package tracer

import (
	"context"
	"net/http"
	"testing"

	"ai-notetaking-client/internal/config"
	"ai-notetaking-client/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestDisabledTracerStillPropagates(t *testing.T) {
	shutdown := InitTracer(config.TracingConfig{Enabled: false}, logger.NewNopLogger())
	assert.NoError(t, shutdown(context.Background()))

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	header := http.Header{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))

	assert.NotEmpty(t, header.Get("traceparent"))
}
