// Package instrumentation provides the OpenTelemetry tracer and metric
// instruments the provider records its endpoint operations with.
//
// Attributes carry metadata only: client ids, grant types, error kinds. Tokens,
// codes and secrets are never recorded.
package instrumentation

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const scopeName = "github.com/jrsteele09/go-oauth-engine/provider"

// Span attribute keys.
const (
	AttrClientID     = "oauth.client_id"
	AttrGrantType    = "oauth.grant_type"
	AttrResponseType = "oauth.response_type"
	AttrTokenType    = "oauth.token_type"
	AttrActive       = "oauth.introspection.active"
	AttrError        = "oauth.error"
	AttrOperation    = "oauth.operation"
)

// Config selects the providers. Disabled instrumentation uses no-op providers;
// enabled instrumentation falls back to the global providers.
type Config struct {
	Enabled        bool
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Instrumentation holds the tracer and the metric instruments.
type Instrumentation struct {
	tracer  trace.Tracer
	metrics *Metrics
}

// Metrics are the counters recorded per endpoint operation.
type Metrics struct {
	AuthorizeRequests metric.Int64Counter
	TokensIssued      metric.Int64Counter
	Introspections    metric.Int64Counter
	Revocations       metric.Int64Counter
	Errors            metric.Int64Counter
}

// New creates the instrumentation.
func New(cfg Config) (*Instrumentation, error) {
	tp, mp := cfg.TracerProvider, cfg.MeterProvider
	if !cfg.Enabled {
		tp, mp = tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	metrics, err := newMetrics(mp.Meter(scopeName))
	if err != nil {
		return nil, err
	}
	return &Instrumentation{tracer: tp.Tracer(scopeName), metrics: metrics}, nil
}

// Disabled returns instrumentation that records nothing.
func Disabled() *Instrumentation {
	inst, _ := New(Config{})
	return inst
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.AuthorizeRequests, err = meter.Int64Counter("oauth.authorize.requests",
		metric.WithDescription("Authorize requests answered"), metric.WithUnit("{request}")); err != nil {
		return nil, errors.Wrap(err, "failed to create authorize.requests counter")
	}
	if m.TokensIssued, err = meter.Int64Counter("oauth.token.issued",
		metric.WithDescription("Token endpoint responses issued"), metric.WithUnit("{response}")); err != nil {
		return nil, errors.Wrap(err, "failed to create token.issued counter")
	}
	if m.Introspections, err = meter.Int64Counter("oauth.introspection.requests",
		metric.WithDescription("Introspection requests answered"), metric.WithUnit("{request}")); err != nil {
		return nil, errors.Wrap(err, "failed to create introspection.requests counter")
	}
	if m.Revocations, err = meter.Int64Counter("oauth.token.revoked",
		metric.WithDescription("Tokens revoked"), metric.WithUnit("{revocation}")); err != nil {
		return nil, errors.Wrap(err, "failed to create token.revoked counter")
	}
	if m.Errors, err = meter.Int64Counter("oauth.errors",
		metric.WithDescription("Protocol errors returned, by kind"), metric.WithUnit("{error}")); err != nil {
		return nil, errors.Wrap(err, "failed to create errors counter")
	}
	return m, nil
}

// Metrics returns the metric instruments.
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// Start opens a span for an endpoint operation.
func (i *Instrumentation) Start(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String(AttrOperation, operation))
	return i.tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
}

// RecordError marks span as failed and counts the error under kind.
func (i *Instrumentation) RecordError(ctx context.Context, span trace.Span, operation, kind string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, kind)
	span.SetAttributes(attribute.String(AttrError, kind))
	i.metrics.Errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrOperation, operation),
		attribute.String(AttrError, kind),
	))
}

// SetSuccess marks span as successful.
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
