package reconcile

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/dd0wney/roadnet/pkg/geometry"
	"github.com/dd0wney/roadnet/pkg/roadnet"
	"github.com/dd0wney/roadnet/pkg/store"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	t1 = t0.Add(24 * time.Hour)
	t2 = t1.Add(24 * time.Hour)
)

var (
	mainSt = roadnet.Candidate{
		Properties: roadnet.Properties{"name": "Main St"},
		Geometry:   orb.LineString{{0, 0}, {1, 1}},
	}
	sideSt = roadnet.Candidate{
		Properties: roadnet.Properties{"name": "Side St"},
		Geometry:   orb.LineString{{2, 2}, {3, 3}},
	}
)

type fixture struct {
	t         *testing.T
	store     store.Store
	rec       *Reconciler
	networkID int64
}

func newFixture(t *testing.T, policy geometry.Policy) *fixture {
	t.Helper()
	s := store.NewMemoryStore(time.Second)
	t.Cleanup(s.Close)

	ctx := context.Background()
	var networkID int64
	err := s.Update(ctx, store.CustomerLockKey("acme"), func(tx store.Tx) error {
		c := &roadnet.Customer{Name: "acme", KeyID: "k", KeyHash: []byte("h"), CreatedAt: t0}
		if err := tx.InsertCustomer(ctx, c); err != nil {
			return err
		}
		n := &roadnet.Network{CustomerID: c.ID, Name: "city", Version: "1.0", UpdatedAt: t0}
		if err := tx.InsertNetwork(ctx, n); err != nil {
			return err
		}
		networkID = n.ID
		return nil
	})
	require.NoError(t, err)

	return &fixture{t: t, store: s, rec: New(policy, nil), networkID: networkID}
}

func (f *fixture) apply(at time.Time, cands ...roadnet.Candidate) (*Plan, error) {
	var plan *Plan
	ctx := context.Background()
	err := f.store.Update(ctx, "test", func(tx store.Tx) error {
		var err error
		plan, err = f.rec.Reconcile(ctx, tx, f.networkID, cands, at)
		return err
	})
	return plan, err
}

func (f *fixture) mustApply(at time.Time, cands ...roadnet.Candidate) *Plan {
	f.t.Helper()
	plan, err := f.apply(at, cands...)
	require.NoError(f.t, err)
	return plan
}

func (f *fixture) namesAt(at time.Time) []string {
	f.t.Helper()
	var names []string
	err := f.store.View(context.Background(), func(tx store.ReadTx) error {
		edges, err := tx.EdgesAt(context.Background(), f.networkID, at)
		for _, e := range edges {
			names = append(names, e.Properties["name"].(string))
		}
		return err
	})
	require.NoError(f.t, err)
	sort.Strings(names)
	return names
}

func (f *fixture) current() []*roadnet.Edge {
	f.t.Helper()
	var edges []*roadnet.Edge
	err := f.store.View(context.Background(), func(tx store.ReadTx) error {
		var err error
		edges, err = tx.CurrentEdges(context.Background(), f.networkID)
		return err
	})
	require.NoError(f.t, err)
	return edges
}

func (f *fixture) edge(id int64) *roadnet.Edge {
	f.t.Helper()
	for _, e := range f.all() {
		if e.ID == id {
			return e
		}
	}
	f.t.Fatalf("edge %d not found", id)
	return nil
}

// all returns every row of the network, current or not.
func (f *fixture) all() []*roadnet.Edge {
	f.t.Helper()
	seen := map[string]bool{}
	var out []*roadnet.Edge
	err := f.store.View(context.Background(), func(tx store.ReadTx) error {
		for _, c := range []roadnet.Candidate{mainSt, sideSt} {
			id, err := geometry.IdentityOf(c.Properties, c.Geometry)
			if err != nil {
				return err
			}
			if seen[id.PropsHash] {
				continue
			}
			seen[id.PropsHash] = true
			rows, err := tx.FindEdges(context.Background(), f.networkID, id.PropsHash, "")
			if err != nil {
				return err
			}
			out = append(out, rows...)
		}
		return nil
	})
	require.NoError(f.t, err)
	return out
}

func TestReconcile_MainStreetSideStreet(t *testing.T) {
	f := newFixture(t, nil)

	first := f.mustApply(t0, mainSt)
	require.Len(t, first.Inserted, 1)
	mainID := first.Inserted[0]

	plan := f.mustApply(t1, mainSt, sideSt)
	assert.Equal(t, []int64{mainID}, plan.Reactivated)
	assert.Len(t, plan.Inserted, 1)
	assert.Empty(t, plan.Retired)
	assert.Equal(t, Stats{Reactivated: 1, Inserted: 1, Retired: 0}, plan.Stats())

	assert.Equal(t, []string{"Main St"}, f.namesAt(t1.Add(-time.Nanosecond)))
	assert.Equal(t, []string{"Main St", "Side St"}, f.namesAt(t1.Add(time.Nanosecond)))

	main := f.edge(mainID)
	require.Len(t, main.Intervals, 1, "unchanged edge keeps a single interval")
	assert.True(t, main.IsCurrent())
	assert.Equal(t, t0, main.ValidFrom())

	side := f.edge(plan.Inserted[0])
	assert.Equal(t, t1, side.ValidFrom())
	assert.True(t, side.IsCurrent())
}

func TestReconcile_RoundTripReuse(t *testing.T) {
	f := newFixture(t, nil)

	v1 := f.mustApply(t0, sideSt, mainSt)
	require.Len(t, v1.Inserted, 2)
	sideID := v1.Inserted[0]

	v2 := f.mustApply(t1, mainSt)
	assert.Equal(t, []int64{sideID}, v2.Retired)

	v3 := f.mustApply(t2, sideSt, mainSt)
	assert.Empty(t, v3.Inserted, "reappearing segment reuses its row")
	assert.Contains(t, v3.Reactivated, sideID)
	assert.Empty(t, v3.Retired)

	assert.Equal(t, []string{"Main St", "Side St"}, f.namesAt(t0.Add(time.Hour)))
	assert.Equal(t, []string{"Main St"}, f.namesAt(t1.Add(time.Hour)))
	assert.Equal(t, []string{"Main St", "Side St"}, f.namesAt(t2.Add(time.Hour)))

	side := f.edge(sideID)
	require.Len(t, side.Intervals, 2)
	assert.Equal(t, t0, side.Intervals[0].From)
	require.NotNil(t, side.Intervals[0].To)
	assert.Equal(t, t1, *side.Intervals[0].To)
	assert.Equal(t, t2, side.Intervals[1].From)
	assert.Nil(t, side.Intervals[1].To)
}

func TestReconcile_BoundaryIsInclusive(t *testing.T) {
	f := newFixture(t, nil)
	f.mustApply(t0, mainSt, sideSt)
	f.mustApply(t1, mainSt)

	// Side St was valid up to and including t1.
	assert.Equal(t, []string{"Main St", "Side St"}, f.namesAt(t1))
	assert.Equal(t, []string{"Main St"}, f.namesAt(t1.Add(time.Nanosecond)))
}

func TestReconcile_Duplicates(t *testing.T) {
	f := newFixture(t, nil)

	first := f.mustApply(t0, mainSt, mainSt)
	require.Len(t, first.Inserted, 2)

	second := f.mustApply(t1, mainSt, mainSt, mainSt)
	assert.Equal(t, first.Inserted, second.Reactivated, "copies claim distinct rows in id order")
	assert.Len(t, second.Inserted, 1)

	third := f.mustApply(t2, mainSt)
	assert.Equal(t, []int64{first.Inserted[0]}, third.Reactivated)
	assert.Len(t, third.Retired, 2)
	assert.Len(t, f.current(), 1)
}

func TestReconcile_EmptyCandidateSetRetiresEverything(t *testing.T) {
	f := newFixture(t, nil)
	f.mustApply(t0, mainSt, sideSt)

	plan := f.mustApply(t1)
	assert.Len(t, plan.Retired, 2)
	assert.Empty(t, f.current())
	assert.Empty(t, f.namesAt(t1.Add(time.Second)))
	assert.Len(t, f.namesAt(t0.Add(time.Second)), 2)
}

func TestReconcile_InvalidCandidateMutatesNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.mustApply(t0, mainSt)

	bad := roadnet.Candidate{Properties: roadnet.Properties{"name": "Broken"}, Geometry: orb.LineString{{5, 5}}}
	_, err := f.apply(t1, sideSt, bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, roadnet.ErrInvalidCandidateEdge))

	var re *roadnet.Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 1, re.Index)
	assert.Equal(t, f.networkID, re.NetworkID)

	current := f.current()
	require.Len(t, current, 1)
	assert.Equal(t, "Main St", current[0].Properties["name"])
	require.Len(t, current[0].Intervals, 1)
	assert.Nil(t, current[0].Intervals[0].To)
}

func TestReconcile_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.mustApply(t0, mainSt, sideSt)
	before := f.all()

	plan := f.mustApply(t1, sideSt, mainSt)
	assert.Len(t, plan.Reactivated, 2)
	assert.Empty(t, plan.Inserted)
	assert.Empty(t, plan.Retired)

	after := f.all()
	assert.Equal(t, before, after)
}

func TestReconcile_StructuralPropertyEquality(t *testing.T) {
	f := newFixture(t, nil)
	a := roadnet.Candidate{
		Properties: roadnet.Properties{"name": "Main St", "lanes": 2, "tags": map[string]any{"x": 1, "y": "z"}},
		Geometry:   orb.LineString{{0, 0}, {1, 1}},
	}
	b := roadnet.Candidate{
		Properties: roadnet.Properties{"tags": map[string]any{"y": "z", "x": 1}, "lanes": 2, "name": "Main St"},
		Geometry:   orb.LineString{{0, 0}, {1, 1}},
	}
	f.mustApply(t0, a)
	plan := f.mustApply(t1, b)
	assert.Len(t, plan.Reactivated, 1)
	assert.Empty(t, plan.Inserted)
}

func TestReconcile_ReversedLineIsNewEdge(t *testing.T) {
	f := newFixture(t, nil)
	f.mustApply(t0, mainSt)

	reversed := roadnet.Candidate{Properties: mainSt.Properties, Geometry: orb.LineString{{1, 1}, {0, 0}}}
	plan := f.mustApply(t1, reversed)
	assert.Empty(t, plan.Reactivated)
	assert.Len(t, plan.Inserted, 1)
	assert.Len(t, plan.Retired, 1)
}

func TestReconcile_TolerancePolicy(t *testing.T) {
	nudged := roadnet.Candidate{
		Properties: mainSt.Properties,
		Geometry:   orb.LineString{{0.0000001, 0}, {1, 1.0000001}},
	}

	t.Run("exact inserts", func(t *testing.T) {
		f := newFixture(t, geometry.ExactPolicy{})
		f.mustApply(t0, mainSt)
		plan := f.mustApply(t1, nudged)
		assert.Len(t, plan.Inserted, 1)
		assert.Len(t, plan.Retired, 1)
	})

	t.Run("tolerance reuses", func(t *testing.T) {
		f := newFixture(t, geometry.TolerancePolicy{Epsilon: 1e-6})
		first := f.mustApply(t0, mainSt)
		plan := f.mustApply(t1, nudged)
		assert.Equal(t, first.Inserted, plan.Reactivated)
		assert.Empty(t, plan.Inserted)
	})
}

func TestReconcile_NilPropertiesMatchEmpty(t *testing.T) {
	f := newFixture(t, nil)
	f.mustApply(t0, roadnet.Candidate{Geometry: orb.LineString{{0, 0}, {1, 1}}})
	plan := f.mustApply(t1, roadnet.Candidate{Properties: roadnet.Properties{}, Geometry: orb.LineString{{0, 0}, {1, 1}}})
	assert.Len(t, plan.Reactivated, 1)
}

func TestReconcile_CanceledContext(t *testing.T) {
	f := newFixture(t, nil)
	f.mustApply(t0, mainSt)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.store.Update(context.Background(), "test", func(tx store.Tx) error {
		_, err := f.rec.Reconcile(ctx, tx, f.networkID, []roadnet.Candidate{sideSt}, t1)
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, roadnet.ErrStorageFailure)
	assert.Len(t, f.current(), 1, "rolled back")
}
