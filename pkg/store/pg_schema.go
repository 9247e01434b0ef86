package store

import (
	"context"

	"github.com/dd0wney/roadnet/pkg/logging"
)

// Constraint names referenced by classify.
const (
	constraintCustomerName = "customers_name_key"
	constraintNetworkName  = "networks_customer_name_key"
	constraintVersionLabel = "network_versions_pkey"
)

// Migrate creates the necessary database tables
func (s *PGStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE EXTENSION IF NOT EXISTS postgis;

	CREATE TABLE IF NOT EXISTS customers (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		key_id TEXT NOT NULL,
		key_hash BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT customers_name_key UNIQUE (name),
		CONSTRAINT customers_key_id_key UNIQUE (key_id)
	);

	CREATE TABLE IF NOT EXISTS networks (
		id BIGSERIAL PRIMARY KEY,
		customer_id BIGINT NOT NULL REFERENCES customers(id),
		name TEXT NOT NULL,
		current_version TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT networks_customer_name_key UNIQUE (customer_id, name)
	);

	CREATE TABLE IF NOT EXISTS network_versions (
		network_id BIGINT NOT NULL REFERENCES networks(id),
		label TEXT NOT NULL,
		registered_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT network_versions_pkey PRIMARY KEY (network_id, label)
	);

	CREATE TABLE IF NOT EXISTS road_edges (
		id BIGSERIAL PRIMARY KEY,
		network_id BIGINT NOT NULL REFERENCES networks(id),
		properties JSONB NOT NULL,
		props_hash TEXT NOT NULL,
		geom_hash TEXT NOT NULL,
		geometry geometry(LineString, 4326) NOT NULL
	);

	CREATE TABLE IF NOT EXISTS edge_intervals (
		id BIGSERIAL PRIMARY KEY,
		edge_id BIGINT NOT NULL REFERENCES road_edges(id),
		network_id BIGINT NOT NULL REFERENCES networks(id),
		valid_from TIMESTAMPTZ NOT NULL,
		valid_to TIMESTAMPTZ,
		CHECK (valid_to IS NULL OR valid_from <= valid_to)
	);

	CREATE INDEX IF NOT EXISTS idx_road_edges_identity ON road_edges(network_id, props_hash, geom_hash, id);
	CREATE INDEX IF NOT EXISTS idx_road_edges_geometry ON road_edges USING GIST (geometry);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_edge_intervals_open ON edge_intervals(edge_id) WHERE valid_to IS NULL;
	CREATE INDEX IF NOT EXISTS idx_edge_intervals_edge ON edge_intervals(edge_id, valid_from);
	CREATE INDEX IF NOT EXISTS idx_edge_intervals_window ON edge_intervals(network_id, valid_from, valid_to);
	CREATE INDEX IF NOT EXISTS idx_edge_intervals_current ON edge_intervals(network_id) WHERE valid_to IS NULL;
	`

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return classify("migrate", err)
	}
	s.logger.Info("schema migrated", logging.Component("store"))
	return nil
}
