// Package archive keeps a compressed GeoJSON snapshot of every committed
// network version in object storage.
package archive

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/dd0wney/roadnet/pkg/geojson"
	"github.com/dd0wney/roadnet/pkg/logging"
	"github.com/dd0wney/roadnet/pkg/metrics"
	"github.com/dd0wney/roadnet/pkg/roadnet"
	"github.com/golang/snappy"
	"github.com/google/uuid"
)

// ContentType is the media type of archived snapshots.
const ContentType = "application/geo+json+snappy"

// ObjectStore is the subset of object storage the archiver needs.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// Snapshot is the current edge set of a network right after a commit.
type Snapshot struct {
	CustomerID int64
	NetworkID  int64
	Network    string
	Version    string
	At         time.Time
	Edges      []*roadnet.Edge
}

// Archiver writes snapshots to an ObjectStore.
type Archiver struct {
	objects ObjectStore
	prefix  string
	logger  logging.Logger
	metrics *metrics.Registry
}

// NewArchiver creates an archiver writing under prefix.
func NewArchiver(objects ObjectStore, prefix string, logger logging.Logger, m *metrics.Registry) *Archiver {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Archiver{
		objects: objects,
		prefix:  prefix,
		logger:  logger.With(logging.Component("archive")),
		metrics: m,
	}
}

// Key returns the object key of a snapshot. A random suffix keeps keys
// unique when a label is archived twice.
func (a *Archiver) Key(s Snapshot) string {
	name := fmt.Sprintf("%s-%s-%s.geojson.sz", s.Version, s.At.UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
	return path.Join(a.prefix, fmt.Sprintf("customer-%d", s.CustomerID), s.Network, name)
}

// Archive compresses and stores s, returning its object key.
func (a *Archiver) Archive(ctx context.Context, s Snapshot) (string, error) {
	data, err := geojson.Marshal(s.Edges)
	if err != nil {
		a.metrics.RecordSnapshotArchived(0, err)
		return "", err
	}
	compressed := snappy.Encode(nil, data)

	key := a.Key(s)
	if err := a.objects.PutObject(ctx, key, compressed, ContentType); err != nil {
		err = fmt.Errorf("failed to store snapshot %s: %w", key, err)
		a.metrics.RecordSnapshotArchived(0, err)
		return "", err
	}

	a.metrics.RecordSnapshotArchived(len(compressed), nil)
	a.logger.Info("snapshot archived",
		logging.NetworkID(s.NetworkID),
		logging.Version(s.Version),
		logging.String("key", key),
		logging.Count(len(s.Edges)),
		logging.Int("raw_bytes", len(data)),
		logging.Int("stored_bytes", len(compressed)),
	)
	return key, nil
}

// Load reads an archived snapshot back as candidates, ready to be uploaded
// again.
func (a *Archiver) Load(ctx context.Context, key string) ([]roadnet.Candidate, error) {
	compressed, err := a.objects.GetObject(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot %s: %w", key, err)
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress snapshot %s: %w", key, err)
	}
	return geojson.Unmarshal(data)
}
