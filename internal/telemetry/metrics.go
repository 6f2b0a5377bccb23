// Package telemetry exports attempt lifecycle metrics over OTLP.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "exstem.attempt"

// Metrics holds the attempt lifecycle instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	provider *sdkmetric.MeterProvider

	started    metric.Int64Counter
	rejected   metric.Int64Counter
	saved      metric.Int64Counter
	violations metric.Int64Counter
	terminated metric.Int64Counter
	reaped     metric.Int64Counter
}

// Setup builds the OTLP/gRPC meter provider. With an empty endpoint a no-op
// meter is used and nothing is exported.
func Setup(ctx context.Context, serviceName, endpoint string, log zerolog.Logger) (*Metrics, error) {
	log = log.With().Str("component", "telemetry").Logger()

	if endpoint == "" {
		log.Info().Msg("OTLP endpoint not set, metrics disabled")
		return NewMetrics(noop.NewMeterProvider().Meter(meterName))
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(provider)

	m, err := NewMetrics(provider.Meter(meterName))
	if err != nil {
		return nil, err
	}
	m.provider = provider

	log.Info().Str("endpoint", endpoint).Msg("Metrics exporter initialized")
	return m, nil
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.started, err = meter.Int64Counter("exam.attempts.started",
		metric.WithDescription("Attempts created or resumed"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}
	if m.rejected, err = meter.Int64Counter("exam.admission.rejected",
		metric.WithDescription("Start requests rejected by admission"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.saved, err = meter.Int64Counter("exam.answers.saved",
		metric.WithDescription("Answers accepted by the journal"),
		metric.WithUnit("{answer}"),
	); err != nil {
		return nil, err
	}
	if m.violations, err = meter.Int64Counter("exam.violations.recorded",
		metric.WithDescription("Integrity violations recorded"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, err
	}
	if m.terminated, err = meter.Int64Counter("exam.attempts.terminated",
		metric.WithDescription("Terminal transitions by reason"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}
	if m.reaped, err = meter.Int64Counter("exam.reaper.leases_released",
		metric.WithDescription("Orphaned leases released by the reaper"),
		metric.WithUnit("{lease}"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// Shutdown flushes pending metrics.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

func (m *Metrics) AttemptStarted(ctx context.Context, resumed bool) {
	if m == nil {
		return
	}
	m.started.Add(ctx, 1, metric.WithAttributes(attribute.Bool("resumed", resumed)))
}

func (m *Metrics) AdmissionRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) AnswerSaved(ctx context.Context) {
	if m == nil {
		return
	}
	m.saved.Add(ctx, 1)
}

func (m *Metrics) ViolationRecorded(ctx context.Context, violationType string) {
	if m == nil {
		return
	}
	m.violations.Add(ctx, 1, metric.WithAttributes(attribute.String("type", violationType)))
}

func (m *Metrics) AttemptTerminated(ctx context.Context, status, reason string) {
	if m == nil {
		return
	}
	m.terminated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("reason", reason),
	))
}

func (m *Metrics) LeasesReleased(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.reaped.Add(ctx, int64(n))
}
