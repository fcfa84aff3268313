// internal/checkpoint/metrics.go
package checkpoint

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("turnloop.checkpoint")
	meter  = otel.Meter("turnloop.checkpoint")
)

var (
	checkpointsTotal   metric.Int64Counter
	summarizeDuration  metric.Float64Histogram
	messagesSummarized metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		checkpointsTotal, err = meter.Int64Counter(
			"turnloop_checkpoints_total",
			metric.WithDescription("Checkpoint attempts by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		summarizeDuration, err = meter.Float64Histogram(
			"turnloop_summarize_duration_seconds",
			metric.WithDescription("Duration of summarization calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		messagesSummarized, err = meter.Int64Histogram(
			"turnloop_checkpoint_messages",
			metric.WithDescription("Messages folded into a checkpoint"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startCheckpointSpan(ctx context.Context, conversation string, count int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "checkpoint.AfterTurn",
		trace.WithAttributes(
			attribute.String("conversation.id", conversation),
			attribute.Int("messages.count", count),
		),
	)
}

// recordOutcome counts one checkpoint attempt. outcome is "created" or "failed".
func recordOutcome(ctx context.Context, outcome string, duration time.Duration, summarized int) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	checkpointsTotal.Add(ctx, 1, attrs)
	summarizeDuration.Record(ctx, duration.Seconds(), attrs)
	if outcome == "created" {
		messagesSummarized.Record(ctx, int64(summarized))
	}
}
