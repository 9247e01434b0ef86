// Package registry tracks which version label is active for each network and
// which labels a network has used before.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/dd0wney/roadnet/pkg/logging"
	"github.com/dd0wney/roadnet/pkg/roadnet"
	"github.com/dd0wney/roadnet/pkg/store"
	"github.com/dd0wney/roadnet/pkg/validation"
)

// Mode says whether a registration may create the network, update it, or
// both.
type Mode int

const (
	// CreateOrUpdate creates the network on first use and updates it after.
	CreateOrUpdate Mode = iota
	// CreateOnly fails with roadnet.ErrNetworkExists if the network exists.
	CreateOnly
	// UpdateOnly fails with roadnet.ErrNetworkNotFound if it does not.
	UpdateOnly
)

// Registry advances network version labels. All methods run inside the
// caller's transaction; Update callers must hold store.NetworkLockKey.
type Registry struct {
	logger logging.Logger
}

// New creates a registry.
func New(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Registry{logger: logger.With(logging.Component("registry"))}
}

// RegisterVersion records label as the active version of the customer's
// network name at now. The label must be new for the network: re-uploading
// the active label or any earlier label fails with roadnet.ErrDuplicateVersion.
func (r *Registry) RegisterVersion(ctx context.Context, tx store.Tx, customerID int64, name, label string, now time.Time, mode Mode) (*roadnet.NetworkRef, error) {
	if err := validation.ValidateNetworkName(name); err != nil {
		return nil, roadnet.NewError("register version", roadnet.ErrInvalidFilename).
			Customer(customerID).Network(name).Cause(err).Err()
	}
	if err := validation.ValidateVersionLabel(label); err != nil {
		return nil, roadnet.NewError("register version", roadnet.ErrInvalidFilename).
			Customer(customerID).Network(name).Version(label).Cause(err).Err()
	}

	n, err := tx.Network(ctx, customerID, name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if mode == UpdateOnly {
			return nil, roadnet.NewError("register version", roadnet.ErrNetworkNotFound).
				Customer(customerID).Network(name).Err()
		}
		return r.create(ctx, tx, customerID, name, label, now)
	case err != nil:
		return nil, roadnet.StorageError("register version", err)
	}

	if mode == CreateOnly {
		return nil, roadnet.NewError("register version", roadnet.ErrNetworkExists).
			Customer(customerID).NetworkID(n.ID).Network(name).
			Detail("use update to add a version").
			Err()
	}
	if n.Version == label {
		return nil, roadnet.NewError("register version", roadnet.ErrDuplicateVersion).
			Customer(customerID).NetworkID(n.ID).Network(name).Version(label).
			Detail("version is already active").
			Err()
	}
	if now.Before(n.UpdatedAt) {
		return nil, roadnet.NewError("register version", roadnet.ErrReconciliationConflict).
			Customer(customerID).NetworkID(n.ID).Network(name).Version(label).
			Detail("update instant %s precedes last update %s", now.Format(time.RFC3339Nano), n.UpdatedAt.Format(time.RFC3339Nano)).
			Err()
	}

	if err := tx.InsertVersion(ctx, roadnet.VersionRecord{NetworkID: n.ID, Label: label, RegisteredAt: now}); err != nil {
		return nil, decorate(err, customerID, n.ID, name, label)
	}
	if err := tx.SetNetworkVersion(ctx, n.ID, label, now); err != nil {
		return nil, roadnet.StorageError("register version", err)
	}

	r.logger.Info("version registered",
		logging.CustomerID(customerID),
		logging.NetworkID(n.ID),
		logging.NetworkName(name),
		logging.String("previous_version", n.Version),
		logging.Version(label),
	)
	return &roadnet.NetworkRef{
		ID:         n.ID,
		CustomerID: customerID,
		Name:       name,
		Version:    label,
		UpdatedAt:  now,
	}, nil
}

func (r *Registry) create(ctx context.Context, tx store.Tx, customerID int64, name, label string, now time.Time) (*roadnet.NetworkRef, error) {
	n := &roadnet.Network{CustomerID: customerID, Name: name, Version: label, UpdatedAt: now}
	if err := tx.InsertNetwork(ctx, n); err != nil {
		return nil, decorate(err, customerID, 0, name, label)
	}
	if err := tx.InsertVersion(ctx, roadnet.VersionRecord{NetworkID: n.ID, Label: label, RegisteredAt: now}); err != nil {
		return nil, decorate(err, customerID, n.ID, name, label)
	}

	r.logger.Info("network created",
		logging.CustomerID(customerID),
		logging.NetworkID(n.ID),
		logging.NetworkName(name),
		logging.Version(label),
	)
	return &roadnet.NetworkRef{
		ID:         n.ID,
		CustomerID: customerID,
		Name:       name,
		Version:    label,
		UpdatedAt:  now,
		Created:    true,
	}, nil
}

// Resolve looks up the customer's network by name. It returns
// roadnet.ErrNetworkNotFound if the customer has no such network.
func (r *Registry) Resolve(ctx context.Context, tx store.ReadTx, customerID int64, name string) (*roadnet.NetworkRef, error) {
	n, err := tx.Network(ctx, customerID, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, roadnet.NewError("resolve", roadnet.ErrNetworkNotFound).
			Customer(customerID).Network(name).Err()
	}
	if err != nil {
		return nil, roadnet.StorageError("resolve", err)
	}
	return &roadnet.NetworkRef{
		ID:         n.ID,
		CustomerID: n.CustomerID,
		Name:       n.Name,
		Version:    n.Version,
		UpdatedAt:  n.UpdatedAt,
	}, nil
}

// History lists every label the network has used, oldest first.
func (r *Registry) History(ctx context.Context, tx store.ReadTx, networkID int64) ([]roadnet.VersionRecord, error) {
	versions, err := tx.Versions(ctx, networkID)
	if err != nil {
		return nil, roadnet.StorageError("history", err)
	}
	return versions, nil
}

// decorate adds the registration context to a classified store error.
func decorate(err error, customerID, networkID int64, name, label string) error {
	var re *roadnet.Error
	if errors.As(err, &re) {
		b := roadnet.NewError("register version", re.Kind).
			Customer(customerID).Network(name).Version(label).Cause(re.Cause)
		if networkID != 0 {
			b = b.NetworkID(networkID)
		}
		if re.Detail != "" {
			b = b.Detail("%s", re.Detail)
		}
		return b.Err()
	}
	return roadnet.StorageError("register version", err)
}
