package observe_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	observe "github.com/CodeAndHammer/hearsay/internal/observe"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("aggregation %T is not an int64 sum", data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecordersFeedInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ctx := context.Background()
	met.RecordPhrase(ctx, "phrase", false)
	met.RecordPhrase(ctx, "phrase", true)
	met.RecordAnswer(ctx, true)
	met.RecordEviction(3)
	met.RecordReset(3)
	met.SessionOpened()
	met.SessionOpened()
	met.SessionClosed(1)

	got := collect(t, reader)
	if n := sumOf(t, got["hearsay.phrases.served"]); n != 2 {
		t.Errorf("phrases served = %d, want 2", n)
	}
	if n := sumOf(t, got["hearsay.answers"]); n != 1 {
		t.Errorf("answers = %d, want 1", n)
	}
	if n := sumOf(t, got["hearsay.cache.evictions"]); n != 1 {
		t.Errorf("evictions = %d, want 1", n)
	}
	if n := sumOf(t, got["hearsay.sessions.active"]); n != 1 {
		t.Errorf("active sessions = %d, want 1", n)
	}
}

func TestMiddlewareRecordsDuration(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reader := sdkmetric.NewManualReader()
	met, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	router := gin.New()
	router.Use(met.Middleware())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	got := collect(t, reader)
	hist, ok := got["hearsay.http.duration"].(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("http duration missing or wrong type: %T", got["hearsay.http.duration"])
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("expected one recorded request, got %+v", hist.DataPoints)
	}
}

func TestNewNop(t *testing.T) {
	met := observe.NewNop()
	met.RecordPhrase(context.Background(), "word", false)
}
