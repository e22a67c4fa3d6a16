package billing

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/streambill/streambill/internal/billing"

// Instrumented wraps a billing Service with instrumentation.
// Tracks vendor calls, latency, and errors using OpenTelemetry metrics.
type Instrumented struct {
	service  Service
	logger   *slog.Logger
	provider string

	// In-memory counters (atomic for thread safety, used for GetStats)
	totalCalls  atomic.Int64
	totalErrors atomic.Int64

	// OTel metrics
	requestCounter   metric.Int64Counter
	errorCounter     metric.Int64Counter
	latencyHistogram metric.Float64Histogram
}

var _ Service = (*Instrumented)(nil)

// NewInstrumented wraps a billing service with instrumentation. provider
// names the backing vendor client for metric attribution.
func NewInstrumented(service Service, logger *slog.Logger, provider string) *Instrumented {
	if logger == nil {
		logger = slog.Default()
	}

	meter := otel.Meter(meterName)

	// Create OTel metrics - log warnings on failure but continue.
	// Metrics will be nil if creation fails, handled in recording helpers.
	requestCounter, err := meter.Int64Counter("billing.requests",
		metric.WithDescription("Total number of billing requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create billing.requests metric", "error", err)
	}

	errorCounter, err := meter.Int64Counter("billing.errors",
		metric.WithDescription("Total number of billing errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn("failed to create billing.errors metric", "error", err)
	}

	latencyHistogram, err := meter.Float64Histogram("billing.request.duration",
		metric.WithDescription("Billing request latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		logger.Warn("failed to create billing.request.duration metric", "error", err)
	}

	return &Instrumented{
		service:          service,
		logger:           logger,
		provider:         provider,
		requestCounter:   requestCounter,
		errorCounter:     errorCounter,
		latencyHistogram: latencyHistogram,
	}
}

// safeAddCounter safely adds to a counter, handling nil metrics
func safeAddCounter(ctx context.Context, counter metric.Int64Counter, value int64, attrs ...attribute.KeyValue) {
	if counter != nil {
		counter.Add(ctx, value, metric.WithAttributes(attrs...))
	}
}

// safeRecordHistogram safely records to a histogram, handling nil metrics
func safeRecordHistogram(ctx context.Context, hist metric.Float64Histogram, value float64, attrs ...attribute.KeyValue) {
	if hist != nil {
		hist.Record(ctx, value, metric.WithAttributes(attrs...))
	}
}

// observe records one request's metrics and error accounting.
func (i *Instrumented) observe(ctx context.Context, operation string, start time.Time, err error) {
	duration := time.Since(start)

	attrs := []attribute.KeyValue{
		attribute.String("billing.provider", i.provider),
		attribute.String("operation", operation),
	}
	safeAddCounter(ctx, i.requestCounter, 1, attrs...)

	latencyAttrs := append(attrs, attribute.Bool("error", err != nil))
	safeRecordHistogram(ctx, i.latencyHistogram, float64(duration.Milliseconds()), latencyAttrs...)

	if err == nil {
		return
	}
	i.totalErrors.Add(1)

	var ve *VendorError
	if errors.As(err, &ve) {
		errorAttrs := append(attrs, attribute.Int("vendor_code", int(ve.Code)))
		safeAddCounter(ctx, i.errorCounter, 1, errorAttrs...)
		i.logger.Error("billing_error",
			"error", err,
			"provider", i.provider,
			"operation", operation,
			"vendor_code", ve.Code.String(),
			"duration_ms", duration.Milliseconds(),
		)
	} else {
		safeAddCounter(ctx, i.errorCounter, 1, attrs...)
		i.logger.Error("billing_error",
			"error", err,
			"provider", i.provider,
			"operation", operation,
			"duration_ms", duration.Milliseconds(),
		)
	}
}

// Products implements Service with instrumentation.
func (i *Instrumented) Products(ctx context.Context, ids []string, kind ProductKind) (<-chan ProductResult, error) {
	start := time.Now()
	i.totalCalls.Add(1)

	stream, err := i.service.Products(ctx, ids, kind)
	i.observe(ctx, "products", start, err)
	return stream, err
}

// OwnedPurchases implements Service with instrumentation.
func (i *Instrumented) OwnedPurchases(ctx context.Context, kind ProductKind) (<-chan PurchaseResult, error) {
	start := time.Now()
	i.totalCalls.Add(1)

	stream, err := i.service.OwnedPurchases(ctx, kind)
	i.observe(ctx, "owned_purchases", start, err)
	return stream, err
}

// Purchase implements Service with instrumentation.
func (i *Instrumented) Purchase(ctx context.Context, params PurchaseParams) (ResultCode, error) {
	start := time.Now()
	i.totalCalls.Add(1)

	code, err := i.service.Purchase(ctx, params)
	i.observe(ctx, "purchase", start, err)
	return code, err
}

// Acknowledge implements Service with instrumentation.
func (i *Instrumented) Acknowledge(ctx context.Context, p Purchase) (ResultCode, error) {
	start := time.Now()
	i.totalCalls.Add(1)

	code, err := i.service.Acknowledge(ctx, p)
	i.observe(ctx, "acknowledge", start, err)
	return code, err
}

// Consume implements Service with instrumentation.
func (i *Instrumented) Consume(ctx context.Context, p Purchase) (ResultCode, error) {
	start := time.Now()
	i.totalCalls.Add(1)

	code, err := i.service.Consume(ctx, p)
	i.observe(ctx, "consume", start, err)
	return code, err
}

// FeatureSupported implements Service.
func (i *Instrumented) FeatureSupported(f Feature) ResultCode {
	return i.service.FeatureSupported(f)
}

// Updates implements Service.
func (i *Instrumented) Updates() (<-chan UpdateEvent, func()) {
	return i.service.Updates()
}

// Close implements Service.
func (i *Instrumented) Close() {
	i.service.Close()
}

// Stats holds instrumentation statistics
type Stats struct {
	TotalCalls  int64
	TotalErrors int64
}

// GetStats returns current in-memory statistics
func (i *Instrumented) GetStats() Stats {
	return Stats{
		TotalCalls:  i.totalCalls.Load(),
		TotalErrors: i.totalErrors.Load(),
	}
}
