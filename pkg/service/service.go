// Package service ties the registry, the reconciler and the resolver together
// behind the operations exposed over HTTP and GraphQL.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/dd0wney/roadnet/pkg/archive"
	"github.com/dd0wney/roadnet/pkg/auth"
	"github.com/dd0wney/roadnet/pkg/events"
	"github.com/dd0wney/roadnet/pkg/geojson"
	"github.com/dd0wney/roadnet/pkg/geometry"
	"github.com/dd0wney/roadnet/pkg/logging"
	"github.com/dd0wney/roadnet/pkg/metrics"
	"github.com/dd0wney/roadnet/pkg/reconcile"
	"github.com/dd0wney/roadnet/pkg/registry"
	"github.com/dd0wney/roadnet/pkg/roadnet"
	"github.com/dd0wney/roadnet/pkg/store"
	"github.com/dd0wney/roadnet/pkg/timequery"
	"github.com/dd0wney/roadnet/pkg/validation"
)

// Options holds the optional collaborators of a Service.
type Options struct {
	Policy    geometry.Policy
	Logger    logging.Logger
	Metrics   *metrics.Registry
	Publisher events.Publisher
	Archiver  *archive.Archiver
	// Clock returns the update instant. Defaults to time.Now in UTC,
	// truncated to the microsecond precision of PostgreSQL.
	Clock func() time.Time
}

// Service runs customer, upload, update and query operations.
type Service struct {
	store      store.Store
	registry   *registry.Registry
	reconciler *reconcile.Reconciler
	resolver   *timequery.Resolver
	publisher  events.Publisher
	archiver   *archive.Archiver
	logger     logging.Logger
	metrics    *metrics.Registry
	clock      func() time.Time
}

// New creates a service over s.
func New(s store.Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
	}
	return &Service{
		store:      s,
		registry:   registry.New(logger),
		reconciler: reconcile.New(opts.Policy, logger),
		resolver:   timequery.NewResolver(logger, opts.Metrics),
		publisher:  publisher,
		archiver:   opts.Archiver,
		logger:     logger.With(logging.Component("service")),
		metrics:    opts.Metrics,
		clock:      clock,
	}
}

// NewCustomer is a created customer together with its API key. The key is
// only ever returned here.
type NewCustomer struct {
	Customer *roadnet.Customer `json:"customer"`
	APIKey   string            `json:"api_key"`
}

// CreateCustomer registers a customer and issues its API key.
func (s *Service) CreateCustomer(ctx context.Context, name string) (*NewCustomer, error) {
	if err := validation.ValidateCustomerRequest(&validation.CustomerRequest{Name: name}); err != nil {
		return nil, roadnet.NewError("create customer", roadnet.ErrInvalidRequest).Cause(err).Err()
	}

	issued, err := auth.GenerateKey()
	if err != nil {
		return nil, roadnet.StorageError("create customer", err)
	}
	c := &roadnet.Customer{
		Name:      name,
		KeyID:     issued.KeyID,
		KeyHash:   issued.Hash,
		CreatedAt: s.clock(),
	}
	err = s.store.Update(ctx, store.CustomerLockKey(name), func(tx store.Tx) error {
		return tx.InsertCustomer(ctx, c)
	})
	if err != nil {
		return nil, roadnet.StorageError("create customer", err)
	}

	s.metrics.RecordCustomerCreated()
	s.logger.Info("customer created", logging.CustomerID(c.ID), logging.String("name", name))

	out := *c
	out.KeyHash = nil
	return &NewCustomer{Customer: &out, APIKey: issued.Key}, nil
}

// Result describes a committed upload or update.
type Result struct {
	NetworkID  int64           `json:"id"`
	Name       string          `json:"name"`
	Version    string          `json:"version"`
	UploadTime time.Time       `json:"upload_time"`
	Created    bool            `json:"created"`
	Stats      reconcile.Stats `json:"stats"`
}

// Upload creates a network from a file named
// road_network_<name>_<version>.geojson. It fails with
// roadnet.ErrNetworkExists if the customer already has the network.
func (s *Service) Upload(ctx context.Context, customerID int64, filename string, candidates []roadnet.Candidate) (*Result, error) {
	name, version, err := geojson.ParseFilename(filename)
	if err != nil {
		return nil, err
	}
	return s.commit(ctx, customerID, name, version, candidates, registry.CreateOnly)
}

// Update adds a version to the network called name. The name encoded in
// filename must match.
func (s *Service) Update(ctx context.Context, customerID int64, name, filename string, candidates []roadnet.Candidate) (*Result, error) {
	fileName, version, err := geojson.ParseFilename(filename)
	if err != nil {
		return nil, err
	}
	if fileName != name {
		return nil, roadnet.NewError("update", roadnet.ErrNameMismatch).
			Customer(customerID).Network(name).Version(version).
			Detail("file is for network %q", fileName).
			Err()
	}
	return s.commit(ctx, customerID, name, version, candidates, registry.UpdateOnly)
}

// Apply registers version for the network and reconciles candidates into it,
// creating the network if needed.
func (s *Service) Apply(ctx context.Context, customerID int64, name, version string, candidates []roadnet.Candidate) (*Result, error) {
	return s.commit(ctx, customerID, name, version, candidates, registry.CreateOrUpdate)
}

func (s *Service) commit(ctx context.Context, customerID int64, name, version string, candidates []roadnet.Candidate, mode registry.Mode) (*Result, error) {
	start := time.Now()

	var (
		ref      *roadnet.NetworkRef
		plan     *reconcile.Plan
		snapshot []*roadnet.Edge
	)
	err := s.store.Update(ctx, store.NetworkLockKey(customerID, name), func(tx store.Tx) error {
		// Read under the lock so serialized writers see increasing instants.
		now := s.clock()
		var err error
		ref, err = s.registry.RegisterVersion(ctx, tx, customerID, name, version, now, mode)
		if err != nil {
			return err
		}
		plan, err = s.reconciler.Reconcile(ctx, tx, ref.ID, candidates, now)
		if err != nil {
			return err
		}
		if s.archiver != nil {
			snapshot, err = tx.CurrentEdges(ctx, ref.ID)
		}
		return err
	})
	elapsed := time.Since(start)
	if err != nil {
		err = roadnet.StorageError("commit", err)
		s.metrics.RecordReconciliation(reconciliationStatus(err), elapsed, 0, 0, 0)
		s.logger.Warn("version rejected",
			logging.CustomerID(customerID),
			logging.NetworkName(name),
			logging.Version(version),
			logging.Error(err),
		)
		return nil, err
	}

	stats := plan.Stats()
	s.metrics.RecordReconciliation("success", elapsed, stats.Reactivated, stats.Inserted, stats.Retired)
	s.afterCommit(ctx, ref, stats, snapshot)

	return &Result{
		NetworkID:  ref.ID,
		Name:       ref.Name,
		Version:    ref.Version,
		UploadTime: ref.UpdatedAt,
		Created:    ref.Created,
		Stats:      stats,
	}, nil
}

// Restore applies the snapshot archived under key as version of the
// customer's network, creating the network if it does not exist.
func (s *Service) Restore(ctx context.Context, customerID int64, name, version, key string) (*Result, error) {
	if s.archiver == nil {
		return nil, roadnet.NewError("restore", roadnet.ErrInvalidRequest).
			Detail("snapshot archive is not configured").
			Err()
	}
	candidates, err := s.archiver.Load(ctx, key)
	if err != nil {
		return nil, roadnet.NewError("restore", roadnet.ErrInvalidRequest).
			Customer(customerID).Network(name).Version(version).
			Cause(err).
			Err()
	}
	s.logger.Info("restoring snapshot",
		logging.CustomerID(customerID),
		logging.NetworkName(name),
		logging.Version(version),
		logging.String("key", key),
		logging.Count(len(candidates)),
	)
	return s.Apply(ctx, customerID, name, version, candidates)
}

// CustomerByName returns the named customer without its key hash.
func (s *Service) CustomerByName(ctx context.Context, name string) (*roadnet.Customer, error) {
	var c *roadnet.Customer
	err := s.store.View(ctx, func(tx store.ReadTx) error {
		var err error
		c, err = tx.CustomerByName(ctx, name)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, roadnet.NewError("customer", roadnet.ErrInvalidRequest).
			Detail("no customer named %q", name).
			Err()
	}
	if err != nil {
		return nil, roadnet.StorageError("customer", err)
	}
	out := *c
	out.KeyHash = nil
	return &out, nil
}

func reconciliationStatus(err error) string {
	switch {
	case errors.Is(err, roadnet.ErrReconciliationConflict):
		return "conflict"
	case errors.Is(err, roadnet.ErrStorageFailure):
		return "error"
	default:
		return "rejected"
	}
}

// afterCommit publishes the version event and archives edges, the current
// set read inside the committing transaction. The version is already
// committed, so failures are only logged.
func (s *Service) afterCommit(ctx context.Context, ref *roadnet.NetworkRef, stats reconcile.Stats, edges []*roadnet.Edge) {
	ctx = context.WithoutCancel(ctx)

	evType := events.TypeNetworkUpdated
	if ref.Created {
		evType = events.TypeNetworkCreated
	}
	ev := events.NewVersionEvent(evType)
	ev.CustomerID = ref.CustomerID
	ev.NetworkID = ref.ID
	ev.Network = ref.Name
	ev.Version = ref.Version
	ev.At = ref.UpdatedAt
	ev.Reactivated = stats.Reactivated
	ev.Inserted = stats.Inserted
	ev.Retired = stats.Retired

	err := s.publisher.Publish(ev)
	s.metrics.RecordEventPublished(err)
	if err != nil {
		s.logger.Warn("failed to publish version event",
			logging.NetworkID(ref.ID),
			logging.Version(ref.Version),
			logging.Error(err),
		)
	}

	if s.archiver == nil {
		return
	}
	_, err = s.archiver.Archive(ctx, archive.Snapshot{
		CustomerID: ref.CustomerID,
		NetworkID:  ref.ID,
		Network:    ref.Name,
		Version:    ref.Version,
		At:         ref.UpdatedAt,
		Edges:      edges,
	})
	if err != nil {
		s.logger.Warn("failed to archive snapshot",
			logging.NetworkID(ref.ID),
			logging.Version(ref.Version),
			logging.Error(err),
		)
	}
}

// NetworkView is a network together with its edges at one instant.
type NetworkView struct {
	Network *roadnet.NetworkRef
	Edges   *roadnet.EdgeSet
}

// Query returns the customer's network as it was at instant, or as it is now
// when instant is nil. The lookup and the scan read the same snapshot.
func (s *Service) Query(ctx context.Context, customerID int64, name string, instant *time.Time) (*NetworkView, error) {
	var view NetworkView
	err := s.store.View(ctx, func(tx store.ReadTx) error {
		ref, err := s.registry.Resolve(ctx, tx, customerID, name)
		if err != nil {
			return err
		}
		set, err := s.resolver.QueryTx(ctx, tx, ref.ID, instant)
		if err != nil {
			return err
		}
		view = NetworkView{Network: ref, Edges: set}
		return nil
	})
	if err != nil {
		return nil, roadnet.StorageError("query", err)
	}
	return &view, nil
}

// Network returns the customer's network without its edges.
func (s *Service) Network(ctx context.Context, customerID int64, name string) (*roadnet.NetworkRef, error) {
	var ref *roadnet.NetworkRef
	err := s.store.View(ctx, func(tx store.ReadTx) error {
		var err error
		ref, err = s.registry.Resolve(ctx, tx, customerID, name)
		return err
	})
	if err != nil {
		return nil, roadnet.StorageError("network", err)
	}
	return ref, nil
}

// History lists the versions of the customer's network, oldest first.
func (s *Service) History(ctx context.Context, customerID int64, name string) ([]roadnet.VersionRecord, error) {
	var versions []roadnet.VersionRecord
	err := s.store.View(ctx, func(tx store.ReadTx) error {
		ref, err := s.registry.Resolve(ctx, tx, customerID, name)
		if err != nil {
			return err
		}
		versions, err = s.registry.History(ctx, tx, ref.ID)
		return err
	})
	if err != nil {
		return nil, roadnet.StorageError("history", err)
	}
	return versions, nil
}
