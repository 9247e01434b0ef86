package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dd0wney/roadnet/pkg/geometry"
	"github.com/dd0wney/roadnet/pkg/roadnet"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
	t2 = t1.Add(time.Hour)
)

// storeSuite runs the behaviour every Store implementation must share.
func storeSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CustomerUniqueName", func(t *testing.T) { testCustomerUniqueName(t, newStore(t)) })
	t.Run("NetworkAndVersions", func(t *testing.T) { testNetworkAndVersions(t, newStore(t)) })
	t.Run("EdgeLifecycle", func(t *testing.T) { testEdgeLifecycle(t, newStore(t)) })
	t.Run("FindEdgesOrdering", func(t *testing.T) { testFindEdgesOrdering(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollbackOnError(t, newStore(t)) })
	t.Run("ViewIsReadOnly", func(t *testing.T) { testViewIsReadOnly(t, newStore(t)) })
}

func mustEdge(t *testing.T, networkID int64, props map[string]any, ls orb.LineString, from time.Time) *roadnet.Edge {
	t.Helper()
	id, err := geometry.IdentityOf(props, ls)
	require.NoError(t, err)
	return &roadnet.Edge{
		NetworkID:  networkID,
		Properties: props,
		Geometry:   ls,
		PropsHash:  id.PropsHash,
		GeomHash:   id.GeomHash,
		Intervals:  []roadnet.Interval{{From: from}},
	}
}

func seedNetwork(t *testing.T, s Store, name string) (customerID, networkID int64) {
	t.Helper()
	ctx := context.Background()
	err := s.Update(ctx, CustomerLockKey(name), func(tx Tx) error {
		c := &roadnet.Customer{Name: "customer-" + name, KeyID: "key-" + name, KeyHash: []byte("hash"), CreatedAt: t0}
		if err := tx.InsertCustomer(ctx, c); err != nil {
			return err
		}
		n := &roadnet.Network{CustomerID: c.ID, Name: name, Version: "1.0", UpdatedAt: t0}
		if err := tx.InsertNetwork(ctx, n); err != nil {
			return err
		}
		customerID, networkID = c.ID, n.ID
		return tx.InsertVersion(ctx, roadnet.VersionRecord{NetworkID: n.ID, Label: "1.0", RegisteredAt: t0})
	})
	require.NoError(t, err)
	return customerID, networkID
}

func testCustomerUniqueName(t *testing.T, s Store) {
	ctx := context.Background()
	insert := func(name, key string) error {
		return s.Update(ctx, CustomerLockKey(name), func(tx Tx) error {
			return tx.InsertCustomer(ctx, &roadnet.Customer{Name: name, KeyID: key, KeyHash: []byte("h"), CreatedAt: t0})
		})
	}

	require.NoError(t, insert("acme", "k1"))
	err := insert("acme", "k2")
	assert.ErrorIs(t, err, roadnet.ErrCustomerExists)

	err = s.View(ctx, func(tx ReadTx) error {
		c, err := tx.CustomerByKeyID(ctx, "k1")
		if err != nil {
			return err
		}
		assert.Equal(t, "acme", c.Name)
		_, err = tx.CustomerByKeyID(ctx, "k2")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func testNetworkAndVersions(t *testing.T, s Store) {
	ctx := context.Background()
	customerID, networkID := seedNetwork(t, s, "net")

	err := s.Update(ctx, NetworkLockKey(customerID, "net"), func(tx Tx) error {
		return tx.InsertNetwork(ctx, &roadnet.Network{CustomerID: customerID, Name: "net", Version: "9.9", UpdatedAt: t1})
	})
	assert.ErrorIs(t, err, roadnet.ErrNetworkExists)

	err = s.Update(ctx, NetworkLockKey(customerID, "net"), func(tx Tx) error {
		return tx.InsertVersion(ctx, roadnet.VersionRecord{NetworkID: networkID, Label: "1.0", RegisteredAt: t1})
	})
	assert.ErrorIs(t, err, roadnet.ErrDuplicateVersion)

	err = s.Update(ctx, NetworkLockKey(customerID, "net"), func(tx Tx) error {
		if err := tx.InsertVersion(ctx, roadnet.VersionRecord{NetworkID: networkID, Label: "1.1", RegisteredAt: t1}); err != nil {
			return err
		}
		return tx.SetNetworkVersion(ctx, networkID, "1.1", t1)
	})
	require.NoError(t, err)

	err = s.View(ctx, func(tx ReadTx) error {
		n, err := tx.Network(ctx, customerID, "net")
		require.NoError(t, err)
		assert.Equal(t, networkID, n.ID)
		assert.Equal(t, "1.1", n.Version)
		assert.True(t, n.UpdatedAt.Equal(t1))

		versions, err := tx.Versions(ctx, networkID)
		require.NoError(t, err)
		require.Len(t, versions, 2)
		assert.Equal(t, "1.0", versions[0].Label)
		assert.Equal(t, "1.1", versions[1].Label)

		_, err = tx.Network(ctx, customerID, "other")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func testEdgeLifecycle(t *testing.T, s Store) {
	ctx := context.Background()
	customerID, networkID := seedNetwork(t, s, "life")
	lock := NetworkLockKey(customerID, "life")

	main := mustEdge(t, networkID, map[string]any{"name": "Main St"}, orb.LineString{{0, 0}, {1, 1}}, t0)
	side := mustEdge(t, networkID, map[string]any{"name": "Side St"}, orb.LineString{{1, 1}, {2, 2}}, t0)
	require.NoError(t, s.Update(ctx, lock, func(tx Tx) error {
		if err := tx.InsertEdge(ctx, main); err != nil {
			return err
		}
		return tx.InsertEdge(ctx, side)
	}))
	require.NotZero(t, main.ID)
	require.Greater(t, side.ID, main.ID)

	// t1: close both, keep main open again in the same pass.
	require.NoError(t, s.Update(ctx, lock, func(tx Tx) error {
		n, err := tx.CloseCurrentEdges(ctx, networkID, t1)
		if err != nil {
			return err
		}
		assert.Equal(t, 2, n)
		return tx.ReactivateEdge(ctx, main.ID, t1)
	}))

	// t2: side comes back after a gap.
	require.NoError(t, s.Update(ctx, lock, func(tx Tx) error {
		return tx.ReactivateEdge(ctx, side.ID, t2)
	}))

	require.NoError(t, s.View(ctx, func(tx ReadTx) error {
		current, err := tx.CurrentEdges(ctx, networkID)
		require.NoError(t, err)
		require.Len(t, current, 2)

		byID := map[int64]*roadnet.Edge{}
		for _, e := range current {
			byID[e.ID] = e
		}
		assert.Len(t, byID[main.ID].Intervals, 1, "same-pass reactivation reopens the interval")
		require.Len(t, byID[side.ID].Intervals, 2, "later reactivation appends an interval")
		assert.True(t, byID[side.ID].Intervals[0].To.Equal(t1))
		assert.True(t, byID[side.ID].Intervals[1].From.Equal(t2))
		assert.Equal(t, "Side St", byID[side.ID].Properties["name"])
		assert.True(t, byID[side.ID].Geometry.Equal(orb.LineString{{1, 1}, {2, 2}}))

		gap := t1.Add(30 * time.Minute)
		at, err := tx.EdgesAt(ctx, networkID, gap)
		require.NoError(t, err)
		require.Len(t, at, 1)
		assert.Equal(t, main.ID, at[0].ID)

		// Boundaries are inclusive.
		at, err = tx.EdgesAt(ctx, networkID, t1)
		require.NoError(t, err)
		assert.Len(t, at, 2)

		at, err = tx.EdgesAt(ctx, networkID, t0.Add(-time.Second))
		require.NoError(t, err)
		assert.Empty(t, at)
		return nil
	}))
}

func testFindEdgesOrdering(t *testing.T, s Store) {
	ctx := context.Background()
	customerID, networkID := seedNetwork(t, s, "find")
	props := map[string]any{"name": "Dup Rd"}

	var ids []int64
	require.NoError(t, s.Update(ctx, NetworkLockKey(customerID, "find"), func(tx Tx) error {
		for i := 0; i < 3; i++ {
			ls := orb.LineString{{0, 0}, {1, 1}}
			if i == 1 {
				ls = orb.LineString{{0, 0}, {1, 2}}
			}
			e := mustEdge(t, networkID, props, ls, t0)
			if err := tx.InsertEdge(ctx, e); err != nil {
				return err
			}
			ids = append(ids, e.ID)
		}
		return nil
	}))

	require.NoError(t, s.View(ctx, func(tx ReadTx) error {
		ph, _ := geometry.PropsHash(props)
		exact, err := tx.FindEdges(ctx, networkID, ph, geometry.GeomHash(orb.LineString{{0, 0}, {1, 1}}))
		require.NoError(t, err)
		require.Len(t, exact, 2)
		assert.Equal(t, []int64{ids[0], ids[2]}, []int64{exact[0].ID, exact[1].ID})

		anyGeom, err := tx.FindEdges(ctx, networkID, ph, "")
		require.NoError(t, err)
		require.Len(t, anyGeom, 3)
		for i, e := range anyGeom {
			assert.Equal(t, ids[i], e.ID, "ascending id order")
		}
		return nil
	}))
}

func testRollbackOnError(t *testing.T, s Store) {
	ctx := context.Background()
	customerID, networkID := seedNetwork(t, s, "rollback")
	boom := errors.New("boom")

	err := s.Update(ctx, NetworkLockKey(customerID, "rollback"), func(tx Tx) error {
		e := mustEdge(t, networkID, map[string]any{"name": "Ghost Rd"}, orb.LineString{{0, 0}, {1, 0}}, t1)
		if err := tx.InsertEdge(ctx, e); err != nil {
			return err
		}
		if err := tx.SetNetworkVersion(ctx, networkID, "2.0", t1); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx ReadTx) error {
		current, err := tx.CurrentEdges(ctx, networkID)
		require.NoError(t, err)
		assert.Empty(t, current)
		n, err := tx.NetworkByID(ctx, networkID)
		require.NoError(t, err)
		assert.Equal(t, "1.0", n.Version)
		return nil
	}))
}

func testViewIsReadOnly(t *testing.T, s Store) {
	ctx := context.Background()
	_, networkID := seedNetwork(t, s, "readonly")

	err := s.View(ctx, func(tx ReadTx) error {
		w, ok := tx.(Tx)
		if !ok {
			return nil
		}
		_, err := w.CloseCurrentEdges(ctx, networkID, t1)
		return err
	})
	if err != nil {
		assert.ErrorIs(t, err, ErrReadOnly)
	}
}

func TestLockKeys(t *testing.T) {
	assert.Equal(t, "network:7:city", NetworkLockKey(7, "city"))
	assert.NotEqual(t, advisoryKey(NetworkLockKey(7, "city")), advisoryKey(NetworkLockKey(8, "city")))
	assert.Equal(t, advisoryKey(CustomerLockKey("a")), advisoryKey(CustomerLockKey("a")))
	assert.NotEqual(t, advisoryKey(CustomerLockKey("a")), advisoryKey(fmt.Sprintf("network:%d:%s", 0, "a")))
}
