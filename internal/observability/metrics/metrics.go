package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments. All methods are safe on a nil receiver.
type Metrics struct {
	jobsCreated      metric.Int64Counter
	jobsReplayed     metric.Int64Counter
	stepFailures     metric.Int64Counter
	queueDepth       metric.Int64Gauge
	usageBlocked     metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
	webhookEvents    metric.Int64Counter
	transitions      metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down meter provider")
			return provider.Shutdown(ctx)
		},
	})

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the domain instruments on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "accessflow"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.jobsCreated, "accessflow_jobs_created_total", "Pipeline bundles created."},
		{&m.jobsReplayed, "accessflow_jobs_replayed_total", "Pipeline requests answered from the idempotency cache."},
		{&m.stepFailures, "accessflow_step_failures_total", "Pipeline steps observed in a failed state."},
		{&m.usageBlocked, "accessflow_usage_blocked_total", "Requests blocked by the usage gate."},
		{&m.rateLimitAllowed, "accessflow_rate_limit_allowed_total", "Requests admitted by the rate limiter."},
		{&m.rateLimitDenied, "accessflow_rate_limit_denied_total", "Requests rejected by the rate limiter."},
		{&m.webhookEvents, "accessflow_webhook_events_total", "Billing webhook events received."},
		{&m.transitions, "accessflow_subscription_transitions_total", "Subscription state transitions applied."},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}

	m.queueDepth, err = meter.Int64Gauge("accessflow_queue_depth", metric.WithDescription("Jobs waiting per queue."))
	if err != nil {
		return nil, err
	}

	return &m, nil
}

func (m *Metrics) RecordJobCreated(ctx context.Context, preset string) {
	if m == nil {
		return
	}
	m.jobsCreated.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("preset", preset))...))
}

func (m *Metrics) RecordJobReplayed(ctx context.Context, preset string) {
	if m == nil {
		return
	}
	m.jobsReplayed.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("preset", preset))...))
}

func (m *Metrics) RecordStepFailure(ctx context.Context, step string) {
	if m == nil {
		return
	}
	m.stepFailures.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("step", step))...))
}

func (m *Metrics) RecordQueueDepth(ctx context.Context, queue string, depth int64) {
	if m == nil {
		return
	}
	m.queueDepth.Record(ctx, depth, metric.WithAttributes(FilterAttributes(attribute.String("queue", queue))...))
}

func (m *Metrics) RecordUsageBlocked(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.usageBlocked.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("reason", reason))...))
}

func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("endpoint", endpoint))...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("endpoint", endpoint))...))
}

func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", provider),
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordTransition(ctx context.Context, eventType, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_type", eventType),
		attribute.String("status", status),
	)
	m.transitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Tenant ids are deliberately absent to keep series bounded.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":   {},
	"preset":     {},
	"step":       {},
	"queue":      {},
	"reason":     {},
	"provider":   {},
	"event_type": {},
	"outcome":    {},
	"status":     {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
