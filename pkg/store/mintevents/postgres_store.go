package mintevents

import (
	"database/sql"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS mint_events (
	id BIGSERIAL PRIMARY KEY,
	task_id TEXT NOT NULL UNIQUE,
	token_id BIGINT NOT NULL DEFAULT 0,
	ack BOOLEAN NOT NULL DEFAULT FALSE,
	eden_success BOOLEAN,
	image_uri TEXT,
	ipfs_uri TEXT,
	ipfs_image_uri TEXT,
	metadata_uri TEXT,
	tx_success BOOLEAN,
	tx_hash TEXT,
	tx_failure_reason TEXT,
	tx_attempts INTEGER
);
CREATE INDEX IF NOT EXISTS mint_events_pending_idx ON mint_events (id) WHERE ack = FALSE;
`

// NewPostgresStore returns a Store backed by a Postgres database (lib/pq).
func NewPostgresStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, schema: postgresSchema}
}
