// Package telemetry provides the fire-and-forget observer the engine emits
// events to. Emitting never blocks the caller and never fails an operation.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Event kinds emitted by the engine.
const (
	EventProviderCall    = "provider_call"
	EventProviderFailure = "provider_failure"
	EventNodeInvoked     = "node_invoked"
	EventRunCompleted    = "run_completed"
	EventGeneration      = "generation_evolved"
)

// Observer receives engine events. Implementations must not block and must
// not surface errors to the caller.
type Observer interface {
	Emit(kind string, attrs map[string]any)
}

// Noop is an Observer that discards everything.
type Noop struct{}

// Emit discards the event.
func (Noop) Emit(string, map[string]any) {}

// Metrics is an Observer backed by OpenTelemetry counters.
type Metrics struct {
	events  metric.Int64Counter
	costUSD metric.Float64Counter
}

// NewMetrics creates a Metrics observer on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("evoflow/engine")

	events, err := meter.Int64Counter("engine.events",
		metric.WithDescription("Engine events by kind"))
	if err != nil {
		return nil, err
	}
	costUSD, err := meter.Float64Counter("engine.cost_usd",
		metric.WithDescription("Accumulated provider spend in USD"))
	if err != nil {
		return nil, err
	}
	return &Metrics{events: events, costUSD: costUSD}, nil
}

// Emit records the event on the counters. Attribute conversion is best
// effort; unknown value types are stringified.
func (m *Metrics) Emit(kind string, attrs map[string]any) {
	ctx := context.Background()
	set := make([]attribute.KeyValue, 0, len(attrs)+1)
	set = append(set, attribute.String("kind", kind))
	for k, v := range attrs {
		if k == "cost_usd" {
			if usd, ok := v.(float64); ok {
				m.costUSD.Add(ctx, usd)
				continue
			}
		}
		set = append(set, toAttribute(k, v))
	}
	m.events.Add(ctx, 1, metric.WithAttributes(set...))
}

func toAttribute(k string, v any) attribute.KeyValue {
	switch value := v.(type) {
	case string:
		return attribute.String(k, value)
	case bool:
		return attribute.Bool(k, value)
	case int:
		return attribute.Int(k, value)
	case int64:
		return attribute.Int64(k, value)
	case float64:
		return attribute.Float64(k, value)
	default:
		return attribute.String(k, fmt.Sprint(value))
	}
}
