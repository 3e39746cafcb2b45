package notify

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/herald/internal/domain/model"
)

func TestMetricsSink_CountsByTypeAndPlatform(t *testing.T) {
	sink := MetricsSink{}
	ctx := context.Background()

	before := testutil.ToFloat64(metricEvents.WithLabelValues("message_sent", "github"))

	require.NoError(t, sink.Emit(ctx, model.Event{Type: model.EventMessageSent, PlatformID: "github"}))
	require.NoError(t, sink.Emit(ctx, model.Event{Type: model.EventMessageSent, PlatformID: "github"}))
	require.NoError(t, sink.Emit(ctx, model.Event{Type: model.EventMessageFailed, PlatformID: "matrix"}))

	assert.Equal(t, before+2, testutil.ToFloat64(metricEvents.WithLabelValues("message_sent", "github")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metricEvents.WithLabelValues("message_failed", "matrix")))
}

func TestSlogSink_NeverFails(t *testing.T) {
	sink := SlogSink{}
	ctx := context.Background()

	for _, typ := range []model.EventType{
		model.EventMessageSent,
		model.EventMessageFailed,
		model.EventMentionObserved,
		model.EventHandlerFailure,
		model.EventPlatformDisabled,
	} {
		assert.NoError(t, sink.Emit(ctx, model.Event{Type: typ, PlatformID: "github", Error: "x"}))
	}
}
