package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/streambill/streambill/internal/billing"
)

const instrumentationName = "streambill/billing"

// BillingMiddleware wraps a billing service with OpenTelemetry tracing.
// One span is recorded per adapter operation, carrying the vendor result
// code for failed calls.
type BillingMiddleware struct {
	service  billing.Service
	provider string

	tracer trace.Tracer
	meter  metric.Meter

	callCounter       metric.Int64Counter
	errorCounter      metric.Int64Counter
	durationHistogram metric.Float64Histogram
}

var _ billing.Service = (*BillingMiddleware)(nil)

// NewBillingMiddleware creates a new traced billing middleware
func NewBillingMiddleware(service billing.Service, provider string) (*BillingMiddleware, error) {
	tracer := Tracer(instrumentationName)
	meter := Meter(instrumentationName)

	callCounter, err := meter.Int64Counter(
		"billing.calls",
		metric.WithDescription("Number of billing adapter calls"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create call counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"billing.call_errors",
		metric.WithDescription("Number of billing adapter call errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	durationHistogram, err := meter.Float64Histogram(
		"billing.call_duration",
		metric.WithDescription("Billing adapter call duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &BillingMiddleware{
		service:           service,
		provider:          provider,
		tracer:            tracer,
		meter:             meter,
		callCounter:       callCounter,
		errorCounter:      errorCounter,
		durationHistogram: durationHistogram,
	}, nil
}

// traced records the span, counters, and duration around one operation.
func (m *BillingMiddleware) traced(ctx context.Context, operation string, extra []attribute.KeyValue, call func(context.Context) error) {
	spanAttrs := append([]attribute.KeyValue{
		attribute.String("billing.provider", m.provider),
	}, extra...)

	ctx, span := m.tracer.Start(ctx, "billing."+operation, trace.WithAttributes(spanAttrs...))
	defer span.End()

	attrs := metric.WithAttributes(
		attribute.String("provider", m.provider),
		attribute.String("operation", operation),
	)
	m.callCounter.Add(ctx, 1, attrs)

	start := time.Now()
	err := call(ctx)
	m.durationHistogram.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)

	if err != nil {
		m.errorCounter.Add(ctx, 1, attrs)
		if ve, ok := billing.AsVendorError(err); ok {
			span.SetAttributes(attribute.String("billing.vendor_code", ve.Code.String()))
		}
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return
	}
	span.SetStatus(codes.Ok, "")
}

// Products implements billing.Service with tracing.
func (m *BillingMiddleware) Products(ctx context.Context, ids []string, kind billing.ProductKind) (<-chan billing.ProductResult, error) {
	var stream <-chan billing.ProductResult
	var err error
	m.traced(ctx, "products", []attribute.KeyValue{
		attribute.Int("billing.products.requested", len(ids)),
		attribute.String("billing.kind", string(kind)),
	}, func(ctx context.Context) error {
		stream, err = m.service.Products(ctx, ids, kind)
		return err
	})
	return stream, err
}

// OwnedPurchases implements billing.Service with tracing.
func (m *BillingMiddleware) OwnedPurchases(ctx context.Context, kind billing.ProductKind) (<-chan billing.PurchaseResult, error) {
	var stream <-chan billing.PurchaseResult
	var err error
	m.traced(ctx, "owned_purchases", []attribute.KeyValue{
		attribute.String("billing.kind", string(kind)),
	}, func(ctx context.Context) error {
		stream, err = m.service.OwnedPurchases(ctx, kind)
		return err
	})
	return stream, err
}

// Purchase implements billing.Service with tracing.
func (m *BillingMiddleware) Purchase(ctx context.Context, params billing.PurchaseParams) (billing.ResultCode, error) {
	var code billing.ResultCode
	var err error
	m.traced(ctx, "purchase", []attribute.KeyValue{
		attribute.String("billing.product_id", params.Product.ID),
	}, func(ctx context.Context) error {
		code, err = m.service.Purchase(ctx, params)
		return err
	})
	return code, err
}

// Acknowledge implements billing.Service with tracing.
func (m *BillingMiddleware) Acknowledge(ctx context.Context, p billing.Purchase) (billing.ResultCode, error) {
	var code billing.ResultCode
	var err error
	m.traced(ctx, "acknowledge", []attribute.KeyValue{
		attribute.String("billing.product_id", p.ProductID),
	}, func(ctx context.Context) error {
		code, err = m.service.Acknowledge(ctx, p)
		return err
	})
	return code, err
}

// Consume implements billing.Service with tracing.
func (m *BillingMiddleware) Consume(ctx context.Context, p billing.Purchase) (billing.ResultCode, error) {
	var code billing.ResultCode
	var err error
	m.traced(ctx, "consume", []attribute.KeyValue{
		attribute.String("billing.product_id", p.ProductID),
	}, func(ctx context.Context) error {
		code, err = m.service.Consume(ctx, p)
		return err
	})
	return code, err
}

// FeatureSupported implements billing.Service.
func (m *BillingMiddleware) FeatureSupported(f billing.Feature) billing.ResultCode {
	return m.service.FeatureSupported(f)
}

// Updates implements billing.Service.
func (m *BillingMiddleware) Updates() (<-chan billing.UpdateEvent, func()) {
	return m.service.Updates()
}

// Close implements billing.Service.
func (m *BillingMiddleware) Close() {
	m.service.Close()
}
