package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/l0p7/foorest/internal/foo"
	"github.com/l0p7/foorest/internal/metrics"
)

type instrumentedStore struct {
	inner   Service
	backend string
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// Instrument wraps svc so every call is timed into rec and failures are logged.
// A nil recorder still yields debug logs.
func Instrument(svc Service, backend string, rec *metrics.Recorder, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &instrumentedStore{
		inner:   svc,
		backend: backend,
		metrics: rec,
		logger:  logger.With(slog.String("agent", "store"), slog.String("backend", backend)),
	}
}

func (s *instrumentedStore) observe(ctx context.Context, op metrics.StoreOperation, start time.Time, outcome metrics.StoreOutcome, err error) {
	duration := time.Since(start)
	s.metrics.ObserveStore(s.backend, op, outcome, duration)
	attrs := []slog.Attr{
		slog.String("operation", string(op)),
		slog.String("result", string(outcome)),
		slog.Float64("latency_ms", float64(duration)/float64(time.Millisecond)),
	}
	if outcome == metrics.StoreOutcomeError {
		attrs = append(attrs, slog.Any("error", err))
		s.logger.LogAttrs(ctx, slog.LevelError, "store operation failed", attrs...)
		return
	}
	if outcome == metrics.StoreOutcomeRejected {
		attrs = append(attrs, slog.Any("error", err))
	}
	s.logger.LogAttrs(ctx, slog.LevelDebug, "store operation", attrs...)
}

func outcomeOf(err error) metrics.StoreOutcome {
	switch {
	case err == nil:
		return metrics.StoreOutcomeOK
	case errors.Is(err, ErrNotFound):
		return metrics.StoreOutcomeNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, foo.ErrNameRequired):
		return metrics.StoreOutcomeRejected
	default:
		return metrics.StoreOutcomeError
	}
}

func (s *instrumentedStore) FindOne(ctx context.Context, id int64) (foo.Foo, bool, error) {
	start := time.Now()
	entity, ok, err := s.inner.FindOne(ctx, id)
	outcome := outcomeOf(err)
	if err == nil && !ok {
		outcome = metrics.StoreOutcomeNotFound
	}
	s.observe(ctx, metrics.StoreOperationFind, start, outcome, err)
	return entity, ok, err
}

func (s *instrumentedStore) Create(ctx context.Context, entity foo.Foo) (foo.Foo, error) {
	start := time.Now()
	created, err := s.inner.Create(ctx, entity)
	s.observe(ctx, metrics.StoreOperationCreate, start, outcomeOf(err), err)
	return created, err
}

func (s *instrumentedStore) Update(ctx context.Context, entity foo.Foo) (foo.Foo, error) {
	start := time.Now()
	updated, err := s.inner.Update(ctx, entity)
	s.observe(ctx, metrics.StoreOperationUpdate, start, outcomeOf(err), err)
	return updated, err
}

func (s *instrumentedStore) Delete(ctx context.Context, id int64) error {
	start := time.Now()
	err := s.inner.Delete(ctx, id)
	s.observe(ctx, metrics.StoreOperationDelete, start, outcomeOf(err), err)
	return err
}

func (s *instrumentedStore) List(ctx context.Context) ([]foo.Foo, error) {
	start := time.Now()
	entities, err := s.inner.List(ctx)
	s.observe(ctx, metrics.StoreOperationList, start, outcomeOf(err), err)
	return entities, err
}

func (s *instrumentedStore) Close(ctx context.Context) error {
	return s.inner.Close(ctx)
}
