package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/dd0wney/roadnet/pkg/logging"
	"github.com/dd0wney/roadnet/pkg/roadnet"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPGStore connects to ROADNET_TEST_DATABASE_URL and empties the
// schema. The test is skipped when the variable is unset.
func newTestPGStore(t *testing.T) *PGStore {
	t.Helper()
	url := os.Getenv("ROADNET_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ROADNET_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := NewPGStore(ctx, PGConfig{URL: url, MaxConns: 4, MinConns: 1, LockTimeout: 200 * time.Millisecond}, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate(ctx))
	_, err = s.pool.Exec(ctx, `TRUNCATE edge_intervals, road_edges, network_versions, networks, customers RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return s
}

func TestPGStore(t *testing.T) {
	storeSuite(t, func(t *testing.T) Store { return newTestPGStore(t) })
}

func TestPGStore_AdvisoryLockTimeoutIsConflict(t *testing.T) {
	s := newTestPGStore(t)
	ctx := context.Background()

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.Update(ctx, "network:1:busy", func(tx Tx) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held
	defer close(done)

	err := s.Update(ctx, "network:1:busy", func(tx Tx) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, roadnet.ErrReconciliationConflict)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"customer name", &pgconn.PgError{Code: "23505", ConstraintName: constraintCustomerName}, roadnet.ErrCustomerExists},
		{"network name", &pgconn.PgError{Code: "23505", ConstraintName: constraintNetworkName}, roadnet.ErrNetworkExists},
		{"version label", &pgconn.PgError{Code: "23505", ConstraintName: constraintVersionLabel}, roadnet.ErrDuplicateVersion},
		{"other unique", &pgconn.PgError{Code: "23505", ConstraintName: "idx_edge_intervals_open"}, roadnet.ErrStorageFailure},
		{"lock not available", &pgconn.PgError{Code: "55P03"}, roadnet.ErrReconciliationConflict},
		{"serialization", &pgconn.PgError{Code: "40001"}, roadnet.ErrReconciliationConflict},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, roadnet.ErrReconciliationConflict},
		{"syntax", &pgconn.PgError{Code: "42601"}, roadnet.ErrStorageFailure},
		{"plain", errors.New("conn reset"), roadnet.ErrStorageFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify("op", tt.err), tt.want)
		})
	}

	assert.NoError(t, classify("op", nil))
	assert.True(t, isLockTimeout(&pgconn.PgError{Code: "55P03"}))
	assert.False(t, isLockTimeout(errors.New("x")))
}
