package store

import (
	"context"
	"errors"
	"time"

	"github.com/dd0wney/roadnet/pkg/metrics"
	"github.com/dd0wney/roadnet/pkg/roadnet"
)

// Instrumented records the outcome and duration of every transaction.
type Instrumented struct {
	Store
	metrics *metrics.Registry
}

// NewInstrumented wraps s. A nil registry disables recording.
func NewInstrumented(s Store, m *metrics.Registry) *Instrumented {
	return &Instrumented{Store: s, metrics: m}
}

func (s *Instrumented) Update(ctx context.Context, lockKey string, fn func(tx Tx) error) error {
	start := time.Now()
	err := s.Store.Update(ctx, lockKey, fn)
	s.metrics.RecordStorageOperation("update", outcome(err), time.Since(start))
	return err
}

func (s *Instrumented) View(ctx context.Context, fn func(tx ReadTx) error) error {
	start := time.Now()
	err := s.Store.View(ctx, fn)
	s.metrics.RecordStorageOperation("view", outcome(err), time.Since(start))
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, roadnet.ErrReconciliationConflict):
		return "conflict"
	case errors.Is(err, roadnet.ErrStorageFailure):
		return "error"
	default:
		return "rejected"
	}
}
