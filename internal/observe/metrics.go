// Package observe wires OpenTelemetry metrics for the game server.
//
// Instruments are created from a [metric.MeterProvider]; production uses the
// Prometheus-backed provider from [InitProvider] and tests use [NewNop].
package observe

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "github.com/CodeAndHammer/hearsay"

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

type Metrics struct {
	// PhrasesServed counts phrases handed out. Attributes: strategy, path
	// ("accepted" or "forced").
	PhrasesServed metric.Int64Counter

	// GenerationFailures counts generation requests aborted by a service
	// error. Attribute: strategy.
	GenerationFailures metric.Int64Counter

	// DuplicateCandidates counts candidates rejected by the dedup cache.
	DuplicateCandidates metric.Int64Counter

	CacheEvictions metric.Int64Counter
	CacheResets    metric.Int64Counter

	// ProviderDuration tracks external call latency. Attributes: kind, status.
	ProviderDuration metric.Float64Histogram

	// Answers counts graded answers. Attribute: result.
	Answers metric.Int64Counter

	ActiveSessions metric.Int64UpDownCounter

	HTTPRequestDuration metric.Float64Histogram
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var errs []error
	var err error

	met.PhrasesServed, err = m.Int64Counter("hearsay.phrases.served",
		metric.WithDescription("Phrases returned to players."))
	errs = append(errs, err)
	met.GenerationFailures, err = m.Int64Counter("hearsay.phrases.failures",
		metric.WithDescription("Phrase requests aborted by a generation service error."))
	errs = append(errs, err)
	met.DuplicateCandidates, err = m.Int64Counter("hearsay.phrases.duplicates",
		metric.WithDescription("Generated candidates rejected as recent repeats."))
	errs = append(errs, err)
	met.CacheEvictions, err = m.Int64Counter("hearsay.cache.evictions",
		metric.WithDescription("Phrases evicted from the recency cache."))
	errs = append(errs, err)
	met.CacheResets, err = m.Int64Counter("hearsay.cache.resets",
		metric.WithDescription("Per-level recency cache resets."))
	errs = append(errs, err)
	met.ProviderDuration, err = m.Float64Histogram("hearsay.provider.duration",
		metric.WithDescription("Latency of external text and speech calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...))
	errs = append(errs, err)
	met.Answers, err = m.Int64Counter("hearsay.answers",
		metric.WithDescription("Graded player answers."))
	errs = append(errs, err)
	met.ActiveSessions, err = m.Int64UpDownCounter("hearsay.sessions.active",
		metric.WithDescription("Live game sessions."))
	errs = append(errs, err)
	met.HTTPRequestDuration, err = m.Float64Histogram("hearsay.http.duration",
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return met, nil
}

// NewNop returns instruments that record nothing.
func NewNop() *Metrics {
	met, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic(err)
	}
	return met
}

// InitProvider installs a Prometheus-backed meter provider as the global
// provider. The returned function flushes and shuts it down.
func InitProvider(ctx context.Context, serviceName string) (*Metrics, func(context.Context) error, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, nil, err
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)

	met, err := NewMetrics(mp)
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	return met, mp.Shutdown, nil
}

func (m *Metrics) RecordPhrase(ctx context.Context, strategy string, forced bool) {
	path := "accepted"
	if forced {
		path = "forced"
	}
	m.PhrasesServed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.String("path", path),
	))
}

func (m *Metrics) RecordGenerationFailure(ctx context.Context, strategy string) {
	m.GenerationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}

func (m *Metrics) RecordDuplicate(ctx context.Context, strategy string) {
	m.DuplicateCandidates.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}

func (m *Metrics) RecordEviction(level int) {
	m.CacheEvictions.Add(context.Background(), 1, metric.WithAttributes(attribute.Int("level", level)))
}

func (m *Metrics) RecordReset(level int) {
	m.CacheResets.Add(context.Background(), 1, metric.WithAttributes(attribute.Int("level", level)))
}

// ObserveProvider records the latency of one external call.
func (m *Metrics) ObserveProvider(ctx context.Context, kind string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ProviderDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

func (m *Metrics) RecordAnswer(ctx context.Context, correct bool) {
	result := "incorrect"
	if correct {
		result = "correct"
	}
	m.Answers.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) SessionOpened() {
	m.ActiveSessions.Add(context.Background(), 1)
}

func (m *Metrics) SessionClosed(n int) {
	m.ActiveSessions.Add(context.Background(), -int64(n))
}

// Middleware records request duration keyed by the matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestDuration.Record(c.Request.Context(), time.Since(start).Seconds(),
			metric.WithAttributes(
				attribute.String("method", c.Request.Method),
				attribute.String("path", path),
				attribute.String("status", strconv.Itoa(c.Writer.Status())),
			))
	}
}
