package provider

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/tutorgo-dev/tutorgo/pkg/observability"
)

// InstrumentedProvider wraps a Provider with rate limiting, per-call timeout,
// tracing, and Prometheus metrics. Workflows use it transparently via the
// Provider interface.
type InstrumentedProvider struct {
	inner   Provider
	limiter *rate.Limiter
	timeout time.Duration
	tracer  trace.Tracer
}

// InstrumentOptions configures the instrumented wrapper
type InstrumentOptions struct {
	// RateLimit is the sustained requests-per-second allowed; 0 disables limiting
	RateLimit float64

	// Burst is the burst size for the limiter
	Burst int

	// Timeout is the per-call timeout; 0 disables the wrapper's deadline
	Timeout time.Duration
}

// NewInstrumentedProvider wraps a provider with rate limiting and observability
func NewInstrumentedProvider(inner Provider, opts InstrumentOptions) *InstrumentedProvider {
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &InstrumentedProvider{
		inner:   inner,
		limiter: limiter,
		timeout: opts.Timeout,
		tracer:  otel.Tracer("tutorgo/llm"),
	}
}

// Name returns the wrapped provider's name
func (p *InstrumentedProvider) Name() string {
	return p.inner.Name()
}

// CreateCompletion implements Provider
func (p *InstrumentedProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, span := p.tracer.Start(ctx, "llm.completion",
		trace.WithAttributes(
			attribute.String("llm.provider", p.inner.Name()),
			attribute.String("llm.model", req.Model),
		))
	defer span.End()

	ctx, cancel, err := p.admit(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer cancel()

	start := time.Now()
	resp, err := p.inner.CreateCompletion(ctx, req)
	p.record(span, start, err)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("llm.tokens.total", resp.Usage.TotalTokens))
	return resp, nil
}

// CreateStructured implements Provider
func (p *InstrumentedProvider) CreateStructured(ctx context.Context, req StructuredRequest) (*StructuredResponse, error) {
	ctx, span := p.tracer.Start(ctx, "llm.structured",
		trace.WithAttributes(
			attribute.String("llm.provider", p.inner.Name()),
			attribute.String("llm.model", req.Model),
		))
	defer span.End()

	ctx, cancel, err := p.admit(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer cancel()

	start := time.Now()
	resp, err := p.inner.CreateStructured(ctx, req)
	p.record(span, start, err)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("llm.tokens.total", resp.Usage.TotalTokens))
	return resp, nil
}

// admit waits for a rate limiter token and applies the per-call timeout
func (p *InstrumentedProvider) admit(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return ctx, func() {}, NewProviderError(p.inner.Name(), ErrorCodeTimeout,
				"rate limiter wait cancelled: "+err.Error(), err)
		}
	}

	if p.timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		return ctx, cancel, nil
	}
	return ctx, func() {}, nil
}

// record updates the span and metrics for a finished call
func (p *InstrumentedProvider) record(span trace.Span, start time.Time, err error) {
	duration := time.Since(start)
	status := "ok"
	if err != nil {
		status = "error"
		var pe *ProviderError
		if errors.As(err, &pe) {
			status = pe.Code
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	observability.RecordLLMCall(p.inner.Name(), status, duration)
}

// Close closes the wrapped provider
func (p *InstrumentedProvider) Close() error {
	return p.inner.Close()
}
