package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mittimoney/mittimoney/internal/logging"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// GuardConfig tunes the protection wrapped around a backend.
type GuardConfig struct {
	// CallTimeout bounds each call; expiry is reported as retryable.
	CallTimeout time.Duration
	// ConsecutiveFailures opens the breaker; zero disables tripping.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before a probe.
	OpenTimeout time.Duration
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		CallTimeout:         10 * time.Second,
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
	}
}

// Guard decorates a Gateway with a per-call timeout, a circuit breaker and
// tracing spans. Only retryable failures count against the breaker.
type Guard struct {
	next    Gateway
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
	tracer  trace.Tracer
	log     logging.Logger
}

type GuardOption func(*Guard)

func WithTracerProvider(tp trace.TracerProvider) GuardOption {
	return func(g *Guard) { g.tracer = tp.Tracer("github.com/mittimoney/mittimoney/remote") }
}

func NewGuard(next Gateway, cfg GuardConfig, log logging.Logger, opts ...GuardOption) *Guard {
	g := &Guard{
		next:    next,
		timeout: cfg.CallTimeout,
		tracer:  otel.Tracer("github.com/mittimoney/mittimoney/remote"),
		log:     log,
	}
	for _, o := range opts {
		o(g)
	}

	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote-gateway",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return cfg.ConsecutiveFailures > 0 && c.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return Classify(err) != ClassRetryable
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn(context.Background(), "circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return g
}

// BreakerState exposes the breaker state for status reporting.
func (g *Guard) BreakerState() string {
	return g.cb.State().String()
}

func guarded[T any](ctx context.Context, g *Guard, op, collection string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := g.tracer.Start(ctx, "remote."+op,
		trace.WithAttributes(attribute.String("remote.collection", collection)))
	defer span.End()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	type result struct {
		v   T
		err error
	}

	res, err := g.cb.Execute(func() (any, error) {
		done := make(chan result, 1)
		go func() {
			v, err := fn(ctx)
			done <- result{v, err}
		}()
		// a backend that ignores ctx must not stall the caller
		select {
		case r := <-done:
			return r.v, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	var zero T
	if err != nil {
		err = g.classify(op, err)
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		span.SetAttributes(attribute.String("remote.error_class", Classify(err).String()))
		return zero, err
	}
	if v, ok := res.(T); ok {
		return v, nil
	}
	return zero, nil
}

// CircuitOpen reports whether err was produced by an open breaker rather
// than by the backend.
func CircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func (g *Guard) classify(op string, err error) error {
	switch {
	case CircuitOpen(err):
		return Retryable(fmt.Errorf("%s: circuit open: %w", op, err))
	case errors.Is(err, context.DeadlineExceeded):
		return Retryable(fmt.Errorf("%s: timed out after %s: %w", op, g.timeout, err))
	}
	return err
}

func (g *Guard) Apply(ctx context.Context, m Mutation) error {
	_, err := guarded(ctx, g, "apply."+string(m.Op), m.Collection, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.next.Apply(ctx, m)
	})
	return err
}

func (g *Guard) Create(ctx context.Context, collection string, doc Document) (string, error) {
	return guarded(ctx, g, "create", collection, func(ctx context.Context) (string, error) {
		return g.next.Create(ctx, collection, doc)
	})
}

func (g *Guard) Get(ctx context.Context, collection, id string) (Document, error) {
	return guarded(ctx, g, "get", collection, func(ctx context.Context) (Document, error) {
		return g.next.Get(ctx, collection, id)
	})
}

func (g *Guard) Update(ctx context.Context, collection, id string, patch Document) error {
	_, err := guarded(ctx, g, "update", collection, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.next.Update(ctx, collection, id, patch)
	})
	return err
}

func (g *Guard) Delete(ctx context.Context, collection, id string) error {
	_, err := guarded(ctx, g, "delete", collection, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.next.Delete(ctx, collection, id)
	})
	return err
}

func (g *Guard) Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	return guarded(ctx, g, "query", collection, func(ctx context.Context) ([]Document, error) {
		return g.next.Query(ctx, collection, filters...)
	})
}

// Subscribe is not wrapped: it is long-lived and its own polling calls are
// made against the inner gateway.
func (g *Guard) Subscribe(ctx context.Context, collection string, filters []Filter, fn func([]Document)) (func(), error) {
	return g.next.Subscribe(ctx, collection, filters, fn)
}

func (g *Guard) Ping(ctx context.Context) error {
	_, err := guarded(ctx, g, "ping", "", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.next.Ping(ctx)
	})
	return err
}

func (g *Guard) Close() error {
	return g.next.Close()
}
