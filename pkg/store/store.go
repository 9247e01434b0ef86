// Package store persists customers, networks, their version history and the
// temporal edge rows. Writes run inside Update, which holds a per-key lock for
// the whole transaction so that two updates of one network never interleave.
package store

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/dd0wney/roadnet/pkg/roadnet"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("not found")

// ErrReadOnly is returned when a write is attempted inside View.
var ErrReadOnly = errors.New("read-only transaction")

// ReadTx exposes the read primitives used by the resolver and the registry.
// Edges are returned ordered by ascending id.
type ReadTx interface {
	CustomerByName(ctx context.Context, name string) (*roadnet.Customer, error)
	CustomerByKeyID(ctx context.Context, keyID string) (*roadnet.Customer, error)

	Network(ctx context.Context, customerID int64, name string) (*roadnet.Network, error)
	NetworkByID(ctx context.Context, networkID int64) (*roadnet.Network, error)
	Versions(ctx context.Context, networkID int64) ([]roadnet.VersionRecord, error)

	// CurrentEdges returns the rows whose latest interval is open.
	CurrentEdges(ctx context.Context, networkID int64) ([]*roadnet.Edge, error)
	// EdgesAt returns the rows with an interval containing t, ends inclusive.
	EdgesAt(ctx context.Context, networkID int64, t time.Time) ([]*roadnet.Edge, error)
	// FindEdges returns every historical row with the given identity. An empty
	// geomHash matches any geometry.
	FindEdges(ctx context.Context, networkID int64, propsHash, geomHash string) ([]*roadnet.Edge, error)
}

// Tx adds the write primitives used by the reconciler and the registry.
type Tx interface {
	ReadTx

	// InsertCustomer assigns c.ID. Fails with roadnet.ErrCustomerExists.
	InsertCustomer(ctx context.Context, c *roadnet.Customer) error
	// InsertNetwork assigns n.ID. Fails with roadnet.ErrNetworkExists.
	InsertNetwork(ctx context.Context, n *roadnet.Network) error
	SetNetworkVersion(ctx context.Context, networkID int64, label string, at time.Time) error
	// InsertVersion fails with roadnet.ErrDuplicateVersion if the label was
	// used before for the network.
	InsertVersion(ctx context.Context, v roadnet.VersionRecord) error

	// CloseCurrentEdges closes every open interval of the network at t and
	// returns the number of rows closed.
	CloseCurrentEdges(ctx context.Context, networkID int64, t time.Time) (int, error)
	// ReactivateEdge opens the row again at t. A latest interval that ends at
	// or after t is reopened; otherwise a new interval starting at t is added.
	ReactivateEdge(ctx context.Context, edgeID int64, t time.Time) error
	// InsertEdge assigns e.ID and stores e with its intervals.
	InsertEdge(ctx context.Context, e *roadnet.Edge) error
}

// Store is a transactional temporal edge store.
type Store interface {
	// Update runs fn in a write transaction holding the lock for lockKey.
	// The transaction commits if fn returns nil and rolls back otherwise.
	Update(ctx context.Context, lockKey string, fn func(tx Tx) error) error
	// View runs fn against a consistent snapshot.
	View(ctx context.Context, fn func(tx ReadTx) error) error

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}

// NetworkLockKey serializes registration and reconciliation of one network.
func NetworkLockKey(customerID int64, name string) string {
	return fmt.Sprintf("network:%d:%s", customerID, name)
}

// CustomerLockKey serializes creation of customers with the same name.
func CustomerLockKey(name string) string {
	return "customer:" + name
}

// advisoryKey maps a lock key onto the bigint space of pg_advisory_xact_lock.
func advisoryKey(lockKey string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("roadnet:"))
	_, _ = h.Write([]byte(lockKey))
	return int64(h.Sum64())
}

// lockConflict is the error returned when a lock cannot be acquired in time.
func lockConflict(lockKey string, cause error) error {
	return roadnet.NewError("lock", roadnet.ErrReconciliationConflict).
		Detail("lock %s not acquired", lockKey).
		Cause(cause).
		Err()
}
