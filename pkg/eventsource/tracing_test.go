package eventsource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/wilhg/evstate/internal/testutil"
)

func TestTracing_FlushAndRestoreSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	ctx := context.Background()
	typed, _ := newMemTyped()
	flaky := testutil.NewFlaky[counter, inc](typed)
	r := NewRecorder[counter, inc](flaky, WithScheduler(&testutil.ManualScheduler{}))
	r.Record(inc{N: 1}, counter{Count: 1})
	flaky.FailEvents(1)
	require.Error(t, r.Flush(ctx))
	require.NoError(t, r.Flush(ctx))
	_, err := Restore[counter, inc](ctx, typed, reduce, counter{})
	require.NoError(t, err)

	var names []string
	failed := 0
	for _, s := range rec.Ended() {
		names = append(names, s.Name())
		if s.Name() == "eventsource.Flush" && len(s.Events()) > 0 {
			failed++
		}
	}
	assert.Equal(t, []string{"eventsource.Flush", "eventsource.Flush", "eventsource.Restore"}, names)
	assert.Equal(t, 1, failed, "the failed flush records its error")
}
