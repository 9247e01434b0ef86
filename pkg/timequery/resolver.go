// Package timequery answers "which edges made up the network at instant T".
package timequery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dd0wney/roadnet/pkg/logging"
	"github.com/dd0wney/roadnet/pkg/metrics"
	"github.com/dd0wney/roadnet/pkg/roadnet"
	"github.com/dd0wney/roadnet/pkg/store"
)

const (
	ModeCurrent = "current"
	ModeInstant = "instant"
)

// Resolver runs point-in-time queries. It never writes.
type Resolver struct {
	logger  logging.Logger
	metrics *metrics.Registry
}

// NewResolver creates a resolver. Queries run inside the caller's read
// transaction.
func NewResolver(logger logging.Logger, m *metrics.Registry) *Resolver {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Resolver{
		logger:  logger.With(logging.Component("resolver")),
		metrics: m,
	}
}

// QueryTx returns the edges of networkID valid at instant, or the current
// edges when instant is nil. It runs inside the caller's read transaction so
// that the network lookup and the edge scan see the same snapshot.
func (r *Resolver) QueryTx(ctx context.Context, tx store.ReadTx, networkID int64, instant *time.Time) (*roadnet.EdgeSet, error) {
	start := time.Now()
	mode := ModeCurrent
	if instant != nil {
		mode = ModeInstant
	}

	set, err := r.query(ctx, tx, networkID, instant)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		r.metrics.RecordQuery(mode, "success", elapsed, set.Len())
		r.logger.Debug("query resolved",
			logging.NetworkID(networkID),
			logging.Instant(instant),
			logging.Count(set.Len()),
			logging.Latency(elapsed),
		)
	case errors.Is(err, roadnet.ErrNoEdgesAtInstant):
		r.metrics.RecordQuery(mode, "no_edges", elapsed, 0)
	case errors.Is(err, roadnet.ErrNetworkNotFound):
		r.metrics.RecordQuery(mode, "not_found", elapsed, 0)
	default:
		r.metrics.RecordQuery(mode, "error", elapsed, 0)
		r.logger.Error("query failed",
			logging.NetworkID(networkID),
			logging.Instant(instant),
			logging.Error(err),
		)
	}
	return set, err
}

func (r *Resolver) query(ctx context.Context, tx store.ReadTx, networkID int64, instant *time.Time) (*roadnet.EdgeSet, error) {
	if _, err := tx.NetworkByID(ctx, networkID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, roadnet.NewError("query", roadnet.ErrNetworkNotFound).NetworkID(networkID).Err()
		}
		return nil, roadnet.StorageError("query", err)
	}

	var (
		edges []*roadnet.Edge
		err   error
	)
	if instant == nil {
		edges, err = tx.CurrentEdges(ctx, networkID)
	} else {
		edges, err = tx.EdgesAt(ctx, networkID, *instant)
	}
	if err != nil {
		return nil, roadnet.StorageError("query", fmt.Errorf("load edges: %w", err))
	}
	if len(edges) == 0 {
		return nil, roadnet.NewError("query", roadnet.ErrNoEdgesAtInstant).
			NetworkID(networkID).
			Instant(instant).
			Err()
	}

	set := &roadnet.EdgeSet{NetworkID: networkID, Edges: edges}
	if instant != nil {
		at := *instant
		set.Instant = &at
	}
	return set, nil
}
