package correlator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metric names recorded by the Engine.
const (
	MetricProcessed = "callflow.events.processed"
	MetricEmitted   = "callflow.events.emitted"
	MetricGaps      = "callflow.correlation.gaps"
)

type engineMetrics struct {
	processed metric.Int64Counter
	emitted   metric.Int64Counter
	gaps      metric.Int64Counter
}

func newEngineMetrics(mp metric.MeterProvider) *engineMetrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m, err := buildEngineMetrics(mp.Meter("callflow"))
	if err != nil {
		otel.Handle(err)
		m, _ = buildEngineMetrics(noop.NewMeterProvider().Meter("callflow"))
	}
	return m
}

func buildEngineMetrics(meter metric.Meter) (*engineMetrics, error) {
	processed, err := meter.Int64Counter(MetricProcessed,
		metric.WithDescription("Raw AMI events that passed the interest filter"),
	)
	if err != nil {
		return nil, err
	}
	emitted, err := meter.Int64Counter(MetricEmitted,
		metric.WithDescription("Semantic call events delivered to the reporter"),
	)
	if err != nil {
		return nil, err
	}
	gaps, err := meter.Int64Counter(MetricGaps,
		metric.WithDescription("Events referring to channels the engine never saw"),
	)
	if err != nil {
		return nil, err
	}
	return &engineMetrics{processed: processed, emitted: emitted, gaps: gaps}, nil
}

func (m *engineMetrics) recordProcessed(eventType string) {
	m.processed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event", eventType)))
}

func (m *engineMetrics) recordEmitted(kind string) {
	m.emitted.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *engineMetrics) recordGap(eventType string) {
	m.gaps.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event", eventType)))
}
