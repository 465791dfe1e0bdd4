package mintevents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLStore implements Store using database/sql.
// It supports both Postgres and SQLite via standard drivers; only the schema differs.
type SQLStore struct {
	db     *sql.DB
	schema string
}

const selectColumns = `task_id, token_id, ack, eden_success, image_uri, ipfs_uri, ipfs_image_uri, metadata_uri, tx_success, tx_hash, tx_failure_reason, tx_attempts`

// upsertQuery merges every non-NULL parameter into the row. ack is OR-ed so it
// can never go back to false.
const upsertQuery = `
	INSERT INTO mint_events (task_id, token_id, ack, eden_success, image_uri, ipfs_uri, ipfs_image_uri, metadata_uri, tx_success, tx_hash, tx_failure_reason, tx_attempts)
	VALUES ($1, COALESCE($2, CAST(0 AS BIGINT)), COALESCE($3, FALSE), $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (task_id) DO UPDATE SET
		token_id = COALESCE($2, mint_events.token_id),
		ack = (mint_events.ack OR COALESCE($3, FALSE)),
		eden_success = COALESCE($4, mint_events.eden_success),
		image_uri = COALESCE($5, mint_events.image_uri),
		ipfs_uri = COALESCE($6, mint_events.ipfs_uri),
		ipfs_image_uri = COALESCE($7, mint_events.ipfs_image_uri),
		metadata_uri = COALESCE($8, mint_events.metadata_uri),
		tx_success = COALESCE($9, mint_events.tx_success),
		tx_hash = COALESCE($10, mint_events.tx_hash),
		tx_failure_reason = COALESCE($11, mint_events.tx_failure_reason),
		tx_attempts = COALESCE($12, mint_events.tx_attempts)
`

func (s *SQLStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.schema); err != nil {
		return fmt.Errorf("failed to init mint_events schema: %w", err)
	}
	return nil
}

func (s *SQLStore) FindPending(ctx context.Context) ([]MintEvent, error) {
	query := `SELECT ` + selectColumns + ` FROM mint_events WHERE ack = FALSE ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending mint events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	//nolint:prealloc // result count unknown from SQL query
	var events []MintEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *SQLStore) UpsertByTaskID(ctx context.Context, taskID string, p Patch) error {
	_, err := s.db.ExecContext(ctx, upsertQuery,
		taskID,
		nullable(p.TokenID),
		nullable(p.Ack),
		nullable(p.EdenSuccess),
		nullable(p.ImageURI),
		nullable(p.IPFSURI),
		nullable(p.IPFSImageURI),
		nullable(p.MetadataURI),
		nullable(p.TxSuccess),
		nullable(p.TxHash),
		nullable(p.TxFailureReason),
		nullable(p.TxAttempts),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert mint event %s: %w", taskID, err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, taskID string) (MintEvent, error) {
	query := `SELECT ` + selectColumns + ` FROM mint_events WHERE task_id = $1`
	ev, err := scanEvent(s.db.QueryRowContext(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MintEvent{}, ErrNotFound
		}
		return MintEvent{}, err
	}
	return ev, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (MintEvent, error) {
	var (
		ev                                   MintEvent
		edenSuccess, txSuccess               sql.NullBool
		imageURI, ipfsURI, ipfsImageURI      sql.NullString
		metadataURI, txHash, txFailureReason sql.NullString
		txAttempts                           sql.NullInt64
	)
	err := row.Scan(&ev.TaskID, &ev.TokenID, &ev.Ack, &edenSuccess,
		&imageURI, &ipfsURI, &ipfsImageURI, &metadataURI,
		&txSuccess, &txHash, &txFailureReason, &txAttempts)
	if err != nil {
		return MintEvent{}, err
	}
	if edenSuccess.Valid {
		ev.EdenSuccess = Bool(edenSuccess.Bool)
	}
	if txSuccess.Valid {
		ev.TxSuccess = Bool(txSuccess.Bool)
	}
	ev.ImageURI = imageURI.String
	ev.IPFSURI = ipfsURI.String
	ev.IPFSImageURI = ipfsImageURI.String
	ev.MetadataURI = metadataURI.String
	ev.TxHash = txHash.String
	ev.TxFailureReason = txFailureReason.String
	ev.TxAttempts = int(txAttempts.Int64)
	return ev, nil
}

// nullable turns an unset patch field into SQL NULL so COALESCE keeps the stored value.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
