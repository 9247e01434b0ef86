// Package reconcile turns a newly uploaded edge set into the minimal set of
// mutations on a network's temporal edge history.
//
// A pass closes every current row at the update instant, then walks the
// candidates in upload order. A candidate whose identity matches an
// unconsumed historical row reactivates that row; otherwise a new row is
// inserted. Current rows that were not reactivated stay closed and are
// reported as retired. All of it runs inside the caller's transaction.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/dd0wney/roadnet/pkg/geometry"
	"github.com/dd0wney/roadnet/pkg/logging"
	"github.com/dd0wney/roadnet/pkg/roadnet"
	"github.com/dd0wney/roadnet/pkg/store"
	"github.com/dd0wney/roadnet/pkg/validation"
	"github.com/paulmach/orb"
)

// Plan is the outcome of one reconciliation pass.
type Plan struct {
	NetworkID   int64
	At          time.Time
	Reactivated []int64
	Inserted    []int64
	Retired     []int64
}

// Stats summarizes a plan for logging and API responses.
type Stats struct {
	Reactivated int `json:"reactivated"`
	Inserted    int `json:"inserted"`
	Retired     int `json:"retired"`
}

// Stats returns the mutation counts of the plan.
func (p *Plan) Stats() Stats {
	return Stats{
		Reactivated: len(p.Reactivated),
		Inserted:    len(p.Inserted),
		Retired:     len(p.Retired),
	}
}

// Reconciler applies uploaded edge sets to the store.
type Reconciler struct {
	policy geometry.Policy
	logger logging.Logger
}

// New creates a reconciler. A nil policy selects exact matching and a nil
// logger discards output.
func New(policy geometry.Policy, logger logging.Logger) *Reconciler {
	if policy == nil {
		policy = geometry.ExactPolicy{}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Reconciler{
		policy: policy,
		logger: logger.With(logging.Component("reconciler")),
	}
}

type bucketKey struct {
	propsHash string
	geomKey   string
}

type prepared struct {
	candidate roadnet.Candidate
	identity  geometry.Identity
	bucket    bucketKey
}

// Reconcile replaces the current edge set of networkID with candidates as of
// now. Candidates are checked before anything is written; the first malformed
// one fails the pass with roadnet.ErrInvalidCandidateEdge. An empty candidate
// set retires every current edge.
func (r *Reconciler) Reconcile(ctx context.Context, tx store.Tx, networkID int64, candidates []roadnet.Candidate, now time.Time) (*Plan, error) {
	items, err := r.prepare(networkID, candidates)
	if err != nil {
		return nil, err
	}

	op := logging.StartTimer(r.logger, "network reconciled",
		logging.NetworkID(networkID),
		logging.String("policy", r.policy.Name()),
	)
	plan, err := r.apply(ctx, tx, networkID, items, now)
	if err != nil {
		op.EndError(err)
		return nil, err
	}
	stats := plan.Stats()
	op.EndWith(
		logging.Int("candidates", len(items)),
		logging.Int("reactivated", stats.Reactivated),
		logging.Int("inserted", stats.Inserted),
		logging.Int("retired", stats.Retired),
	)
	return plan, nil
}

// apply retires the current edges, then reactivates or inserts one row per
// prepared candidate.
func (r *Reconciler) apply(ctx context.Context, tx store.Tx, networkID int64, items []prepared, now time.Time) (*Plan, error) {
	before, err := tx.CurrentEdges(ctx, networkID)
	if err != nil {
		return nil, roadnet.StorageError("reconcile", fmt.Errorf("load current edges: %w", err))
	}
	if _, err := tx.CloseCurrentEdges(ctx, networkID, now); err != nil {
		return nil, roadnet.StorageError("reconcile", fmt.Errorf("close current edges: %w", err))
	}

	plan := &Plan{NetworkID: networkID, At: now}
	consumed := make(map[int64]bool, len(items))
	buckets := make(map[bucketKey][]*roadnet.Edge)

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return nil, roadnet.StorageError("reconcile", err)
		}

		rows, ok := buckets[it.bucket]
		if !ok {
			rows, err = tx.FindEdges(ctx, networkID, it.bucket.propsHash, it.bucket.geomKey)
			if err != nil {
				return nil, roadnet.StorageError("reconcile", fmt.Errorf("find edges: %w", err))
			}
			buckets[it.bucket] = rows
		}

		if row := r.match(rows, consumed, it.candidate.Geometry); row != nil {
			if err := tx.ReactivateEdge(ctx, row.ID, now); err != nil {
				return nil, roadnet.StorageError("reconcile", fmt.Errorf("reactivate edge %d: %w", row.ID, err))
			}
			consumed[row.ID] = true
			plan.Reactivated = append(plan.Reactivated, row.ID)
			continue
		}

		e := &roadnet.Edge{
			NetworkID:  networkID,
			Properties: it.candidate.Properties,
			Geometry:   it.candidate.Geometry,
			PropsHash:  it.identity.PropsHash,
			GeomHash:   it.identity.GeomHash,
			Intervals:  []roadnet.Interval{{From: now}},
		}
		if err := tx.InsertEdge(ctx, e); err != nil {
			return nil, roadnet.StorageError("reconcile", fmt.Errorf("insert edge: %w", err))
		}
		consumed[e.ID] = true
		plan.Inserted = append(plan.Inserted, e.ID)
	}

	for _, e := range before {
		if !consumed[e.ID] {
			plan.Retired = append(plan.Retired, e.ID)
		}
	}
	return plan, nil
}

// prepare validates every candidate and computes its identity.
func (r *Reconciler) prepare(networkID int64, candidates []roadnet.Candidate) ([]prepared, error) {
	if err := validation.ValidateBatchSize(len(candidates)); err != nil {
		return nil, roadnet.NewError("reconcile", roadnet.ErrInvalidCandidateEdge).
			NetworkID(networkID).
			Cause(err).
			Err()
	}

	items := make([]prepared, len(candidates))
	for i, c := range candidates {
		invalid := func(err error) error {
			return roadnet.NewError("reconcile", roadnet.ErrInvalidCandidateEdge).
				NetworkID(networkID).
				Candidate(i).
				Cause(err).
				Err()
		}
		if err := validation.ValidateCandidate(c); err != nil {
			return nil, invalid(err)
		}
		id, err := geometry.IdentityOf(c.Properties, c.Geometry)
		if err != nil {
			return nil, invalid(err)
		}
		if c.Properties == nil {
			c.Properties = roadnet.Properties{}
		}
		items[i] = prepared{
			candidate: c,
			identity:  id,
			bucket:    bucketKey{propsHash: id.PropsHash, geomKey: r.policy.BucketKey(c.Geometry)},
		}
	}
	return items, nil
}

// match returns the lowest-id unconsumed row whose geometry the policy
// considers equal, or nil.
func (r *Reconciler) match(rows []*roadnet.Edge, consumed map[int64]bool, ls orb.LineString) *roadnet.Edge {
	for _, row := range rows {
		if consumed[row.ID] {
			continue
		}
		if r.policy.Equal(row.Geometry, ls) {
			return row
		}
	}
	return nil
}
