package runtime

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
	tracer = otel.Tracer("turnloop.runtime")
	meter  = otel.Meter("turnloop.runtime")
)

var (
	turnsTotal     metric.Int64Counter
	turnDuration   metric.Float64Histogram
	toolCallsTotal metric.Int64Counter
	toolRounds     metric.Int64Histogram
	contextTokens  metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		turnsTotal, err = meter.Int64Counter(
			"turnloop_turns_total",
			metric.WithDescription("Turns executed by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		turnDuration, err = meter.Float64Histogram(
			"turnloop_turn_duration_seconds",
			metric.WithDescription("Wall time of ExecuteTurn"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		toolCallsTotal, err = meter.Int64Counter(
			"turnloop_tool_calls_total",
			metric.WithDescription("Tool invocations by tool and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		toolRounds, err = meter.Int64Histogram(
			"turnloop_tool_rounds",
			metric.WithDescription("Tool rounds executed per turn"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		contextTokens, err = meter.Int64Histogram(
			"turnloop_context_tokens",
			metric.WithDescription("Estimated tokens of each selected context"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startTurnSpan(ctx context.Context, resumed bool) (context.Context, trace.Span) {
	return tracer.Start(ctx, "runtime.ExecuteTurn",
		trace.WithAttributes(attribute.Bool("turn.resumed", resumed)),
	)
}

func setTurnSpanResult(span trace.Span, rounds int, success bool) {
	span.SetAttributes(
		attribute.Int("turn.tool_rounds", rounds),
		attribute.Bool("turn.success", success),
	)
}

func recordTurn(ctx context.Context, duration time.Duration, rounds int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	turnsTotal.Add(ctx, 1, attrs)
	turnDuration.Record(ctx, duration.Seconds(), attrs)
	toolRounds.Record(ctx, int64(rounds))
}

// recordToolCall counts one tool invocation. outcome is "ok", "error" or "unknown".
func recordToolCall(ctx context.Context, tool, outcome string) {
	if err := initMetrics(); err != nil {
		return
	}
	toolCallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("outcome", outcome),
	))
}

func recordContextTokens(ctx context.Context, tokens int) {
	if err := initMetrics(); err != nil {
		return
	}
	contextTokens.Record(ctx, int64(tokens))
}
