package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dd0wney/roadnet/pkg/geometry"
	"github.com/dd0wney/roadnet/pkg/roadnet"
	"github.com/jackc/pgx/v5"
)

type pgTx struct {
	tx       pgx.Tx
	writable bool
}

func (t *pgTx) checkWritable() error {
	if !t.writable {
		return ErrReadOnly
	}
	return nil
}

const customerColumns = `id, name, key_id, key_hash, created_at`

func scanCustomer(row pgx.Row) (*roadnet.Customer, error) {
	var c roadnet.Customer
	if err := row.Scan(&c.ID, &c.Name, &c.KeyID, &c.KeyHash, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *pgTx) CustomerByName(ctx context.Context, name string) (*roadnet.Customer, error) {
	c, err := scanCustomer(t.tx.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("customer %q: %w", name, ErrNotFound)
	}
	return c, classify("get customer", err)
}

func (t *pgTx) CustomerByKeyID(ctx context.Context, keyID string) (*roadnet.Customer, error) {
	c, err := scanCustomer(t.tx.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE key_id = $1`, keyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("customer key %q: %w", keyID, ErrNotFound)
	}
	return c, classify("get customer", err)
}

func (t *pgTx) InsertCustomer(ctx context.Context, c *roadnet.Customer) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO customers (name, key_id, key_hash, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, c.Name, c.KeyID, c.KeyHash, c.CreatedAt).Scan(&c.ID)
	return classify("create customer", err)
}

const networkColumns = `id, customer_id, name, current_version, updated_at`

func scanNetwork(row pgx.Row) (*roadnet.Network, error) {
	var n roadnet.Network
	if err := row.Scan(&n.ID, &n.CustomerID, &n.Name, &n.Version, &n.UpdatedAt); err != nil {
		return nil, err
	}
	return &n, nil
}

func (t *pgTx) Network(ctx context.Context, customerID int64, name string) (*roadnet.Network, error) {
	n, err := scanNetwork(t.tx.QueryRow(ctx,
		`SELECT `+networkColumns+` FROM networks WHERE customer_id = $1 AND name = $2`, customerID, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("network %q: %w", name, ErrNotFound)
	}
	return n, classify("get network", err)
}

func (t *pgTx) NetworkByID(ctx context.Context, networkID int64) (*roadnet.Network, error) {
	n, err := scanNetwork(t.tx.QueryRow(ctx,
		`SELECT `+networkColumns+` FROM networks WHERE id = $1`, networkID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("network %d: %w", networkID, ErrNotFound)
	}
	return n, classify("get network", err)
}

func (t *pgTx) InsertNetwork(ctx context.Context, n *roadnet.Network) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO networks (customer_id, name, current_version, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, n.CustomerID, n.Name, n.Version, n.UpdatedAt).Scan(&n.ID)
	return classify("create network", err)
}

func (t *pgTx) SetNetworkVersion(ctx context.Context, networkID int64, label string, at time.Time) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE networks SET current_version = $2, updated_at = $3 WHERE id = $1`,
		networkID, label, at)
	if err != nil {
		return classify("set network version", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("network %d: %w", networkID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) Versions(ctx context.Context, networkID int64) ([]roadnet.VersionRecord, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT network_id, label, registered_at
		FROM network_versions
		WHERE network_id = $1
		ORDER BY registered_at, label
	`, networkID)
	if err != nil {
		return nil, classify("list versions", err)
	}
	defer rows.Close()

	var out []roadnet.VersionRecord
	for rows.Next() {
		var v roadnet.VersionRecord
		if err := rows.Scan(&v.NetworkID, &v.Label, &v.RegisteredAt); err != nil {
			return nil, classify("list versions", err)
		}
		out = append(out, v)
	}
	return out, classify("list versions", rows.Err())
}

func (t *pgTx) InsertVersion(ctx context.Context, v roadnet.VersionRecord) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO network_versions (network_id, label, registered_at) VALUES ($1, $2, $3)`,
		v.NetworkID, v.Label, v.RegisteredAt)
	if err != nil {
		err = classify("register version", err)
		if errors.Is(err, roadnet.ErrDuplicateVersion) {
			return roadnet.NewError("register version", roadnet.ErrDuplicateVersion).
				NetworkID(v.NetworkID).Version(v.Label).Err()
		}
	}
	return err
}

// selectEdges loads the edges whose id is produced by idQuery, with all
// their intervals, ordered by edge id.
func (t *pgTx) selectEdges(ctx context.Context, op, idQuery string, args ...any) ([]*roadnet.Edge, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT e.id, e.network_id, e.properties, ST_AsBinary(e.geometry),
		       e.props_hash, e.geom_hash, i.valid_from, i.valid_to
		FROM road_edges e
		JOIN edge_intervals i ON i.edge_id = e.id
		WHERE e.id IN (`+idQuery+`)
		ORDER BY e.id, i.valid_from, i.id
	`, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var (
		out  []*roadnet.Edge
		last *roadnet.Edge
	)
	for rows.Next() {
		var (
			id, networkID       int64
			props               map[string]any
			wkb                 []byte
			propsHash, geomHash string
			validFrom           time.Time
			validTo             *time.Time
		)
		if err := rows.Scan(&id, &networkID, &props, &wkb, &propsHash, &geomHash, &validFrom, &validTo); err != nil {
			return nil, classify(op, err)
		}
		if last == nil || last.ID != id {
			ls, err := geometry.UnmarshalWKB(wkb)
			if err != nil {
				return nil, classify(op, err)
			}
			last = &roadnet.Edge{
				ID:         id,
				NetworkID:  networkID,
				Properties: props,
				Geometry:   ls,
				PropsHash:  propsHash,
				GeomHash:   geomHash,
			}
			out = append(out, last)
		}
		last.Intervals = append(last.Intervals, roadnet.Interval{From: validFrom, To: validTo})
	}
	return out, classify(op, rows.Err())
}

func (t *pgTx) CurrentEdges(ctx context.Context, networkID int64) ([]*roadnet.Edge, error) {
	return t.selectEdges(ctx, "current edges", `
		SELECT edge_id FROM edge_intervals
		WHERE network_id = $1 AND valid_to IS NULL
	`, networkID)
}

func (t *pgTx) EdgesAt(ctx context.Context, networkID int64, at time.Time) ([]*roadnet.Edge, error) {
	return t.selectEdges(ctx, "edges at instant", `
		SELECT edge_id FROM edge_intervals
		WHERE network_id = $1 AND valid_from <= $2 AND (valid_to IS NULL OR valid_to >= $2)
	`, networkID, at)
}

func (t *pgTx) FindEdges(ctx context.Context, networkID int64, propsHash, geomHash string) ([]*roadnet.Edge, error) {
	return t.selectEdges(ctx, "find edges", `
		SELECT id FROM road_edges
		WHERE network_id = $1 AND props_hash = $2 AND ($3::text = '' OR geom_hash = $3::text)
	`, networkID, propsHash, geomHash)
}

func (t *pgTx) CloseCurrentEdges(ctx context.Context, networkID int64, at time.Time) (int, error) {
	if err := t.checkWritable(); err != nil {
		return 0, err
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE edge_intervals SET valid_to = $2 WHERE network_id = $1 AND valid_to IS NULL`,
		networkID, at)
	if err != nil {
		return 0, classify("close edges", err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) ReactivateEdge(ctx context.Context, edgeID int64, at time.Time) error {
	if err := t.checkWritable(); err != nil {
		return err
	}

	// Reopen the latest interval if it ends at or after the reactivation.
	tag, err := t.tx.Exec(ctx, `
		UPDATE edge_intervals SET valid_to = NULL
		WHERE id = (
			SELECT id FROM edge_intervals
			WHERE edge_id = $1
			ORDER BY valid_from DESC, id DESC
			LIMIT 1
		) AND valid_to IS NOT NULL AND valid_to >= $2
	`, edgeID, at)
	if err != nil {
		return classify("reactivate edge", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	tag, err = t.tx.Exec(ctx, `
		INSERT INTO edge_intervals (edge_id, network_id, valid_from)
		SELECT id, network_id, $2 FROM road_edges WHERE id = $1
	`, edgeID, at)
	if err != nil {
		return classify("reactivate edge", err)
	}
	if tag.RowsAffected() == 0 {
		return roadnet.StorageError("reactivate edge", fmt.Errorf("edge %d: %w", edgeID, ErrNotFound))
	}
	return nil
}

func (t *pgTx) InsertEdge(ctx context.Context, e *roadnet.Edge) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if len(e.Intervals) == 0 {
		return roadnet.StorageError("insert edge", fmt.Errorf("edge without interval"))
	}

	props, err := geometry.CanonicalProperties(e.Properties)
	if err != nil {
		return roadnet.StorageError("insert edge", err)
	}
	wkb, err := geometry.MarshalWKB(e.Geometry)
	if err != nil {
		return roadnet.StorageError("insert edge", err)
	}

	err = t.tx.QueryRow(ctx, `
		INSERT INTO road_edges (network_id, properties, props_hash, geom_hash, geometry)
		VALUES ($1, $2::jsonb, $3, $4, ST_GeomFromWKB($5, 4326))
		RETURNING id
	`, e.NetworkID, string(props), e.PropsHash, e.GeomHash, wkb).Scan(&e.ID)
	if err != nil {
		return classify("insert edge", err)
	}

	batch := &pgx.Batch{}
	for _, iv := range e.Intervals {
		batch.Queue(
			`INSERT INTO edge_intervals (edge_id, network_id, valid_from, valid_to) VALUES ($1, $2, $3, $4)`,
			e.ID, e.NetworkID, iv.From, iv.To)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return classify("insert edge", err)
	}
	return nil
}
