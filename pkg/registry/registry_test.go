package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dd0wney/roadnet/pkg/roadnet"
	"github.com/dd0wney/roadnet/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
	t2 = t1.Add(time.Hour)
)

type env struct {
	store      store.Store
	reg        *Registry
	customerID int64
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s := store.NewMemoryStore(time.Second)
	t.Cleanup(s.Close)

	ctx := context.Background()
	var customerID int64
	err := s.Update(ctx, store.CustomerLockKey("acme"), func(tx store.Tx) error {
		c := &roadnet.Customer{Name: "acme", KeyID: "k", KeyHash: []byte("h"), CreatedAt: t0}
		err := tx.InsertCustomer(ctx, c)
		customerID = c.ID
		return err
	})
	require.NoError(t, err)
	return &env{store: s, reg: New(nil), customerID: customerID}
}

func (e *env) register(name, label string, now time.Time, mode Mode) (*roadnet.NetworkRef, error) {
	var ref *roadnet.NetworkRef
	ctx := context.Background()
	err := e.store.Update(ctx, store.NetworkLockKey(e.customerID, name), func(tx store.Tx) error {
		var err error
		ref, err = e.reg.RegisterVersion(ctx, tx, e.customerID, name, label, now, mode)
		return err
	})
	return ref, err
}

func (e *env) history(t *testing.T, networkID int64) []string {
	t.Helper()
	var labels []string
	err := e.store.View(context.Background(), func(tx store.ReadTx) error {
		versions, err := e.reg.History(context.Background(), tx, networkID)
		for _, v := range versions {
			labels = append(labels, v.Label)
		}
		return err
	})
	require.NoError(t, err)
	return labels
}

func TestRegisterVersion_CreateThenUpdate(t *testing.T) {
	e := newEnv(t)

	first, err := e.register("city", "1.0", t0, CreateOrUpdate)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, "1.0", first.Version)

	second, err := e.register("city", "2.0", t1, CreateOrUpdate)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.ID, second.ID, "network id is stable across versions")
	assert.Equal(t, t1, second.UpdatedAt)

	assert.Equal(t, []string{"1.0", "2.0"}, e.history(t, first.ID))
}

func TestRegisterVersion_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		label   string
		now     time.Time
		mode    Mode
		wantErr error
	}{
		{"active label", "2.0", t2, CreateOrUpdate, roadnet.ErrDuplicateVersion},
		{"earlier label", "1.0", t2, CreateOrUpdate, roadnet.ErrDuplicateVersion},
		{"create existing", "3.0", t2, CreateOnly, roadnet.ErrNetworkExists},
		{"clock went back", "3.0", t0, UpdateOnly, roadnet.ErrReconciliationConflict},
		{"bad label", "not a label", t2, UpdateOnly, roadnet.ErrInvalidFilename},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			ref, err := e.register("city", "1.0", t0, CreateOnly)
			require.NoError(t, err)
			_, err = e.register("city", "2.0", t1, UpdateOnly)
			require.NoError(t, err)

			_, err = e.register("city", tt.label, tt.now, tt.mode)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)

			// Nothing changed.
			assert.Equal(t, []string{"1.0", "2.0"}, e.history(t, ref.ID))
			err = e.store.View(context.Background(), func(tx store.ReadTx) error {
				cur, err := e.reg.Resolve(context.Background(), tx, e.customerID, "city")
				if err != nil {
					return err
				}
				assert.Equal(t, "2.0", cur.Version)
				assert.Equal(t, t1, cur.UpdatedAt)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestRegisterVersion_DuplicateErrorCarriesContext(t *testing.T) {
	e := newEnv(t)
	_, err := e.register("city", "1.0", t0, CreateOrUpdate)
	require.NoError(t, err)
	_, err = e.register("city", "2.0", t1, CreateOrUpdate)
	require.NoError(t, err)

	_, err = e.register("city", "1.0", t2, CreateOrUpdate)
	var re *roadnet.Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, roadnet.ErrDuplicateVersion, re.Kind)
	assert.Equal(t, e.customerID, re.CustomerID)
	assert.Equal(t, "city", re.Network)
	assert.Equal(t, "1.0", re.Version)
	assert.NotZero(t, re.NetworkID)
	assert.False(t, roadnet.IsRetryable(err))
}

func TestRegisterVersion_UpdateUnknown(t *testing.T) {
	e := newEnv(t)
	_, err := e.register("ghost", "1.0", t0, UpdateOnly)
	assert.ErrorIs(t, err, roadnet.ErrNetworkNotFound)
}

func TestRegisterVersion_NamesAreScopedPerCustomer(t *testing.T) {
	e := newEnv(t)
	_, err := e.register("city", "1.0", t0, CreateOnly)
	require.NoError(t, err)

	ctx := context.Background()
	var other int64
	err = e.store.Update(ctx, store.CustomerLockKey("globex"), func(tx store.Tx) error {
		c := &roadnet.Customer{Name: "globex", KeyID: "k2", KeyHash: []byte("h"), CreatedAt: t0}
		err := tx.InsertCustomer(ctx, c)
		other = c.ID
		return err
	})
	require.NoError(t, err)

	err = e.store.Update(ctx, store.NetworkLockKey(other, "city"), func(tx store.Tx) error {
		ref, err := e.reg.RegisterVersion(ctx, tx, other, "city", "1.0", t1, CreateOnly)
		if err == nil {
			assert.True(t, ref.Created)
		}
		return err
	})
	require.NoError(t, err)
}

func TestResolve_NotFound(t *testing.T) {
	e := newEnv(t)
	err := e.store.View(context.Background(), func(tx store.ReadTx) error {
		_, err := e.reg.Resolve(context.Background(), tx, e.customerID, "missing")
		return err
	})
	assert.ErrorIs(t, err, roadnet.ErrNetworkNotFound)
}
