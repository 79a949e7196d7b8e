package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/platinummonkey/portal"

// OTelMetrics mirrors the access-control counters as OpenTelemetry instruments
// so they reach the OTLP collector alongside traces.
type OTelMetrics struct {
	gateDecisions   metric.Int64Counter
	roleResolutions metric.Int64Counter
	resolveDuration metric.Float64Histogram
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter(instrumentationName)

	m := &OTelMetrics{}
	var err error

	m.gateDecisions, err = meter.Int64Counter(
		"portal.gate.decisions",
		metric.WithDescription("Access gate decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gate decisions counter: %w", err)
	}

	m.roleResolutions, err = meter.Int64Counter(
		"portal.role.resolutions",
		metric.WithDescription("Role resolutions by outcome"),
		metric.WithUnit("{resolution}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create role resolutions counter: %w", err)
	}

	m.resolveDuration, err = meter.Float64Histogram(
		"portal.role.resolution.duration",
		metric.WithDescription("Role resolution duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create role resolution histogram: %w", err)
	}

	return m, nil
}

// RecordGateDecision counts one gate decision
func (m *OTelMetrics) RecordGateDecision(ctx context.Context, state, outcome string) {
	if m == nil {
		return
	}
	m.gateDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", state),
		attribute.String("outcome", outcome),
	))
}

// RecordRoleResolution counts one resolution and its latency
func (m *OTelMetrics) RecordRoleResolution(ctx context.Context, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.roleResolutions.Add(ctx, 1, attrs)
	m.resolveDuration.Record(ctx, seconds, attrs)
}
