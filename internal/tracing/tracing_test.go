package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracerInstallsProvider(t *testing.T) {
	// The exporter connects lazily, so no collector is needed here.
	tp, err := InitTracer(context.Background(), "http://127.0.0.1:4318/v1/traces", "client-1")
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	})

	assert.Same(t, tp, otel.GetTracerProvider())
}
