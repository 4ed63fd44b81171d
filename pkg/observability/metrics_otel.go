package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry metric instruments. These mirror the
// Prometheus metrics for deployments that export over OTLP instead of
// scraping.
type OTelMetrics struct {
	decisionsTotal   metric.Int64Counter
	decisionDuration metric.Float64Histogram

	cacheHitsTotal   metric.Int64Counter
	cacheMissesTotal metric.Int64Counter

	membershipOpsTotal metric.Int64Counter
}

// NewOTelMetrics creates the OTel metric instruments.
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/greenroomhq/greenroom")

	m := &OTelMetrics{}
	var err error

	m.decisionsTotal, err = meter.Int64Counter(
		"authz.decisions",
		metric.WithDescription("Total number of authorization decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz.decisions counter: %w", err)
	}

	m.decisionDuration, err = meter.Float64Histogram(
		"authz.decision.duration",
		metric.WithDescription("Authorization decision evaluation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz.decision.duration histogram: %w", err)
	}

	m.cacheHitsTotal, err = meter.Int64Counter(
		"authz.context_cache.hits",
		metric.WithDescription("Total number of permission context cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz.context_cache.hits counter: %w", err)
	}

	m.cacheMissesTotal, err = meter.Int64Counter(
		"authz.context_cache.misses",
		metric.WithDescription("Total number of permission context cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz.context_cache.misses counter: %w", err)
	}

	m.membershipOpsTotal, err = meter.Int64Counter(
		"membership.operations",
		metric.WithDescription("Total number of membership lifecycle operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create membership.operations counter: %w", err)
	}

	return m, nil
}

// RecordDecision records one authorization decision.
func (m *OTelMetrics) RecordDecision(ctx context.Context, resource, action, reason string, allowed bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("resource", resource),
		attribute.String("action", action),
		attribute.String("reason", reason),
		attribute.Bool("allowed", allowed),
	)
	m.decisionsTotal.Add(ctx, 1, attrs)
	m.decisionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("resource", resource)))
}

// RecordCacheHit records a context cache hit.
func (m *OTelMetrics) RecordCacheHit(ctx context.Context) {
	m.cacheHitsTotal.Add(ctx, 1)
}

// RecordCacheMiss records a context cache miss.
func (m *OTelMetrics) RecordCacheMiss(ctx context.Context) {
	m.cacheMissesTotal.Add(ctx, 1)
}

// RecordMembershipOp records one membership lifecycle operation.
func (m *OTelMetrics) RecordMembershipOp(ctx context.Context, operation, status string) {
	m.membershipOpsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
}
