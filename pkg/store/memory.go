package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/roadnet/pkg/roadnet"
	"github.com/tidwall/btree"
)

type nameKey struct {
	key string
	id  int64
}

type networkNameKey struct {
	customerID int64
	name       string
	id         int64
}

type edgeRef struct {
	networkID int64
	id        int64
}

type identityKey struct {
	networkID int64
	propsHash string
	geomHash  string
	id        int64
}

// memState is one immutable generation of the in-memory database. Trees are
// copied lazily, so a transaction works on its own generation.
type memState struct {
	customers    *btree.BTreeG[*roadnet.Customer]
	customerName *btree.BTreeG[nameKey]
	customerKey  *btree.BTreeG[nameKey]
	networks     *btree.BTreeG[*roadnet.Network]
	networkName  *btree.BTreeG[networkNameKey]
	versions     *btree.BTreeG[roadnet.VersionRecord]
	edges        *btree.BTreeG[*roadnet.Edge]
	networkEdges *btree.BTreeG[edgeRef]
	identities   *btree.BTreeG[identityKey]
}

func newMemState() *memState {
	return &memState{
		customers: btree.NewBTreeG(func(a, b *roadnet.Customer) bool { return a.ID < b.ID }),
		customerName: btree.NewBTreeG(func(a, b nameKey) bool {
			return a.key < b.key
		}),
		customerKey: btree.NewBTreeG(func(a, b nameKey) bool {
			return a.key < b.key
		}),
		networks: btree.NewBTreeG(func(a, b *roadnet.Network) bool { return a.ID < b.ID }),
		networkName: btree.NewBTreeG(func(a, b networkNameKey) bool {
			if a.customerID != b.customerID {
				return a.customerID < b.customerID
			}
			return a.name < b.name
		}),
		versions: btree.NewBTreeG(func(a, b roadnet.VersionRecord) bool {
			if a.NetworkID != b.NetworkID {
				return a.NetworkID < b.NetworkID
			}
			return a.Label < b.Label
		}),
		edges: btree.NewBTreeG(func(a, b *roadnet.Edge) bool { return a.ID < b.ID }),
		networkEdges: btree.NewBTreeG(func(a, b edgeRef) bool {
			if a.networkID != b.networkID {
				return a.networkID < b.networkID
			}
			return a.id < b.id
		}),
		identities: btree.NewBTreeG(func(a, b identityKey) bool {
			if a.networkID != b.networkID {
				return a.networkID < b.networkID
			}
			if a.propsHash != b.propsHash {
				return a.propsHash < b.propsHash
			}
			if a.geomHash != b.geomHash {
				return a.geomHash < b.geomHash
			}
			return a.id < b.id
		}),
	}
}

func (st *memState) copy() *memState {
	return &memState{
		customers:    st.customers.Copy(),
		customerName: st.customerName.Copy(),
		customerKey:  st.customerKey.Copy(),
		networks:     st.networks.Copy(),
		networkName:  st.networkName.Copy(),
		versions:     st.versions.Copy(),
		edges:        st.edges.Copy(),
		networkEdges: st.networkEdges.Copy(),
		identities:   st.identities.Copy(),
	}
}

func (st *memState) putCustomer(c *roadnet.Customer) {
	st.customers.Set(c)
	st.customerName.Set(nameKey{key: c.Name, id: c.ID})
	st.customerKey.Set(nameKey{key: c.KeyID, id: c.ID})
}

func (st *memState) putNetwork(n *roadnet.Network) {
	st.networks.Set(n)
	st.networkName.Set(networkNameKey{customerID: n.CustomerID, name: n.Name, id: n.ID})
}

func (st *memState) putEdge(e *roadnet.Edge) {
	st.edges.Set(e)
	st.networkEdges.Set(edgeRef{networkID: e.NetworkID, id: e.ID})
	st.identities.Set(identityKey{networkID: e.NetworkID, propsHash: e.PropsHash, geomHash: e.GeomHash, id: e.ID})
}

// MemoryStore is an in-memory Store. Each transaction works on a lazily
// copied generation of the state and replays its writes onto the shared
// state at commit.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	locks *lockTable

	lockTimeout time.Duration
	customerSeq atomic.Int64
	networkSeq  atomic.Int64
	edgeSeq     atomic.Int64
	closed      atomic.Bool
}

// NewMemoryStore creates an empty store. A positive lockTimeout bounds how
// long Update waits for a busy lock key.
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		state:       newMemState(),
		locks:       newLockTable(),
		lockTimeout: lockTimeout,
	}
}

func (s *MemoryStore) snapshot() *memState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.copy()
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, lockKey string, fn func(tx Tx) error) error {
	if s.closed.Load() {
		return roadnet.StorageError("begin", errClosed)
	}
	release, err := s.locks.acquire(ctx, lockKey, s.lockTimeout)
	if err != nil {
		return err
	}
	defer release()

	tx := &memTx{store: s, state: s.snapshot(), writable: true}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return roadnet.StorageError("commit", err)
	}

	s.mu.Lock()
	for _, op := range tx.ops {
		op(s.state)
	}
	s.mu.Unlock()
	return nil
}

// View implements Store.
func (s *MemoryStore) View(ctx context.Context, fn func(tx ReadTx) error) error {
	if s.closed.Load() {
		return roadnet.StorageError("begin", errClosed)
	}
	return fn(&memTx{store: s, state: s.snapshot()})
}

// Migrate is a no-op for the in-memory store.
func (s *MemoryStore) Migrate(ctx context.Context) error {
	return nil
}

// Ping reports whether the store is open.
func (s *MemoryStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return errClosed
	}
	return nil
}

// Close marks the store closed. Later calls fail.
func (s *MemoryStore) Close() {
	s.closed.Store(true)
}

var errClosed = fmt.Errorf("store is closed")

type memTx struct {
	store    *MemoryStore
	state    *memState
	writable bool
	ops      []func(*memState)
}

func (tx *memTx) write(op func(*memState)) error {
	if !tx.writable {
		return ErrReadOnly
	}
	op(tx.state)
	tx.ops = append(tx.ops, op)
	return nil
}

func (tx *memTx) CustomerByName(ctx context.Context, name string) (*roadnet.Customer, error) {
	k, ok := tx.state.customerName.Get(nameKey{key: name})
	if !ok {
		return nil, fmt.Errorf("customer %q: %w", name, ErrNotFound)
	}
	return tx.customer(k.id)
}

func (tx *memTx) CustomerByKeyID(ctx context.Context, keyID string) (*roadnet.Customer, error) {
	k, ok := tx.state.customerKey.Get(nameKey{key: keyID})
	if !ok {
		return nil, fmt.Errorf("customer key %q: %w", keyID, ErrNotFound)
	}
	return tx.customer(k.id)
}

func (tx *memTx) customer(id int64) (*roadnet.Customer, error) {
	c, ok := tx.state.customers.Get(&roadnet.Customer{ID: id})
	if !ok {
		return nil, fmt.Errorf("customer %d: %w", id, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (tx *memTx) Network(ctx context.Context, customerID int64, name string) (*roadnet.Network, error) {
	k, ok := tx.state.networkName.Get(networkNameKey{customerID: customerID, name: name})
	if !ok {
		return nil, fmt.Errorf("network %q: %w", name, ErrNotFound)
	}
	return tx.NetworkByID(ctx, k.id)
}

func (tx *memTx) NetworkByID(ctx context.Context, networkID int64) (*roadnet.Network, error) {
	n, ok := tx.state.networks.Get(&roadnet.Network{ID: networkID})
	if !ok {
		return nil, fmt.Errorf("network %d: %w", networkID, ErrNotFound)
	}
	cp := *n
	return &cp, nil
}

func (tx *memTx) Versions(ctx context.Context, networkID int64) ([]roadnet.VersionRecord, error) {
	var out []roadnet.VersionRecord
	tx.state.versions.Ascend(roadnet.VersionRecord{NetworkID: networkID}, func(v roadnet.VersionRecord) bool {
		if v.NetworkID != networkID {
			return false
		}
		out = append(out, v)
		return true
	})
	sortVersions(out)
	return out, nil
}

// scanNetwork calls fn for every edge of the network in ascending id order.
func (tx *memTx) scanNetwork(networkID int64, fn func(e *roadnet.Edge)) {
	tx.state.networkEdges.Ascend(edgeRef{networkID: networkID}, func(ref edgeRef) bool {
		if ref.networkID != networkID {
			return false
		}
		if e, ok := tx.state.edges.Get(&roadnet.Edge{ID: ref.id}); ok {
			fn(e)
		}
		return true
	})
}

func (tx *memTx) CurrentEdges(ctx context.Context, networkID int64) ([]*roadnet.Edge, error) {
	var out []*roadnet.Edge
	tx.scanNetwork(networkID, func(e *roadnet.Edge) {
		if e.IsCurrent() {
			out = append(out, e.Clone())
		}
	})
	return out, nil
}

func (tx *memTx) EdgesAt(ctx context.Context, networkID int64, t time.Time) ([]*roadnet.Edge, error) {
	var out []*roadnet.Edge
	tx.scanNetwork(networkID, func(e *roadnet.Edge) {
		if e.ValidAt(t) {
			out = append(out, e.Clone())
		}
	})
	return out, nil
}

func (tx *memTx) FindEdges(ctx context.Context, networkID int64, propsHash, geomHash string) ([]*roadnet.Edge, error) {
	var out []*roadnet.Edge
	pivot := identityKey{networkID: networkID, propsHash: propsHash, geomHash: geomHash}
	tx.state.identities.Ascend(pivot, func(k identityKey) bool {
		if k.networkID != networkID || k.propsHash != propsHash {
			return false
		}
		if geomHash != "" && k.geomHash != geomHash {
			return false
		}
		if e, ok := tx.state.edges.Get(&roadnet.Edge{ID: k.id}); ok {
			out = append(out, e.Clone())
		}
		return true
	})
	if geomHash == "" {
		slices.SortFunc(out, func(a, b *roadnet.Edge) int { return cmp.Compare(a.ID, b.ID) })
	}
	return out, nil
}

func (tx *memTx) InsertCustomer(ctx context.Context, c *roadnet.Customer) error {
	if _, ok := tx.state.customerName.Get(nameKey{key: c.Name}); ok {
		return roadnet.NewError("create customer", roadnet.ErrCustomerExists).Detail("name %q", c.Name).Err()
	}
	if _, ok := tx.state.customerKey.Get(nameKey{key: c.KeyID}); ok {
		return roadnet.StorageError("create customer", fmt.Errorf("key id %q already in use", c.KeyID))
	}
	c.ID = tx.store.customerSeq.Add(1)
	cp := *c
	return tx.write(func(st *memState) { st.putCustomer(&cp) })
}

func (tx *memTx) InsertNetwork(ctx context.Context, n *roadnet.Network) error {
	if _, ok := tx.state.networkName.Get(networkNameKey{customerID: n.CustomerID, name: n.Name}); ok {
		return roadnet.NewError("create network", roadnet.ErrNetworkExists).
			Customer(n.CustomerID).Network(n.Name).Err()
	}
	n.ID = tx.store.networkSeq.Add(1)
	cp := *n
	return tx.write(func(st *memState) { st.putNetwork(&cp) })
}

func (tx *memTx) SetNetworkVersion(ctx context.Context, networkID int64, label string, at time.Time) error {
	n, err := tx.NetworkByID(ctx, networkID)
	if err != nil {
		return err
	}
	n.Version = label
	n.UpdatedAt = at
	return tx.write(func(st *memState) { st.putNetwork(n) })
}

func (tx *memTx) InsertVersion(ctx context.Context, v roadnet.VersionRecord) error {
	if _, ok := tx.state.versions.Get(v); ok {
		return roadnet.NewError("register version", roadnet.ErrDuplicateVersion).
			NetworkID(v.NetworkID).Version(v.Label).Err()
	}
	return tx.write(func(st *memState) { st.versions.Set(v) })
}

func (tx *memTx) CloseCurrentEdges(ctx context.Context, networkID int64, t time.Time) (int, error) {
	var closed []*roadnet.Edge
	tx.scanNetwork(networkID, func(e *roadnet.Edge) {
		if e.IsCurrent() {
			c := e.Clone()
			end := t
			c.Intervals[len(c.Intervals)-1].To = &end
			closed = append(closed, c)
		}
	})
	for _, e := range closed {
		if err := tx.write(func(st *memState) { st.putEdge(e) }); err != nil {
			return 0, err
		}
	}
	return len(closed), nil
}

func (tx *memTx) ReactivateEdge(ctx context.Context, edgeID int64, t time.Time) error {
	e, ok := tx.state.edges.Get(&roadnet.Edge{ID: edgeID})
	if !ok {
		return roadnet.StorageError("reactivate edge", fmt.Errorf("edge %d: %w", edgeID, ErrNotFound))
	}
	if e.IsCurrent() {
		return roadnet.StorageError("reactivate edge", fmt.Errorf("edge %d is already current", edgeID))
	}
	c := e.Clone()
	last := &c.Intervals[len(c.Intervals)-1]
	if !last.To.Before(t) {
		last.To = nil
	} else {
		c.Intervals = append(c.Intervals, roadnet.Interval{From: t})
	}
	return tx.write(func(st *memState) { st.putEdge(c) })
}

func (tx *memTx) InsertEdge(ctx context.Context, e *roadnet.Edge) error {
	if len(e.Intervals) == 0 {
		return roadnet.StorageError("insert edge", fmt.Errorf("edge without interval"))
	}
	e.ID = tx.store.edgeSeq.Add(1)
	c := e.Clone()
	return tx.write(func(st *memState) { st.putEdge(c) })
}

func sortVersions(vs []roadnet.VersionRecord) {
	slices.SortStableFunc(vs, func(a, b roadnet.VersionRecord) int {
		if c := a.RegisteredAt.Compare(b.RegisteredAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Label, b.Label)
	})
}

// lockTable hands out one binary semaphore per lock key. Entries are
// reference counted and dropped when the last waiter or holder lets go.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*keyLock)}
}

func (l *lockTable) acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case kl.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-kl.sem
				l.release(key, kl)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, kl)
		return nil, lockConflict(key, ctx.Err())
	}
}

func (l *lockTable) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// len reports the number of keys currently held or waited on.
func (l *lockTable) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
