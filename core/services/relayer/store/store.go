// Package store is the durable persistence layer for transfers and their
// event logs (spec.md §4.2), built on github.com/smartcontractkit/sqlx the
// same way chainlink's bulletprooftxmanager package talks to eth_txes: raw
// parameterized SQL, *sqlx.DB.Get/Select for reads, a transaction for
// multi-statement writes, and github.com/jackc/pgconn.PgError inspection to
// turn a constraint violation into a typed error the caller can branch on.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgconn"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/pkg/errors"
	"github.com/smartcontractkit/sqlx"
	null "gopkg.in/guregu/null.v4"

	"go.uber.org/atomic"

	"github.com/aionpay/relayer/core/logger"
	"github.com/aionpay/relayer/core/services/relayer/types"
)

// Store is the relayer's Postgres-backed persistence layer.
type Store struct {
	lggr    logger.Logger
	db      *sqlx.DB
	healthy atomic.Bool
}

// New connects to databaseURL and bootstraps the schema. A connection
// failure is not fatal: Store remembers it is unhealthy and every
// subsequent method returns ErrUnavailable, matching spec.md §4.2's
// "tolerate missing connection at startup" requirement.
func New(databaseURL string, lggr logger.Logger) (*Store, error) {
	s := &Store{lggr: lggr.Named("Store")}

	db, err := sqlx.Connect("pgx", databaseURL)
	if err != nil {
		s.lggr.Errorw("failed to connect to database, starting in degraded mode", "err", err)
		s.healthy.Store(false)
		return s, nil
	}

	if _, err := db.Exec(schema); err != nil {
		s.lggr.Errorw("failed to bootstrap schema, starting in degraded mode", "err", err)
		s.healthy.Store(false)
		return s, nil
	}

	s.db = db
	s.healthy.Store(true)
	return s, nil
}

// Healthy reports whether the store has a live database connection.
func (s *Store) Healthy() bool {
	return s.healthy.Load()
}

func (s *Store) requireHealthy() error {
	if !s.healthy.Load() {
		return ErrUnavailable
	}
	return nil
}

const insertReceivedQuery = `
INSERT INTO signed_transfers
	(nonce, from_address, to_address, amount, deadline, signature, contract_address, token_address, status, created_at)
VALUES
	(:nonce, :from_address, :to_address, :amount, :deadline, :signature, :contract_address, :token_address, :status, NOW())
RETURNING *`

// InsertReceived atomically persists a new transfer in status `received`
// (spec.md §4.2). A nonce collision returns ErrDuplicateNonce.
func (s *Store) InsertReceived(ctx context.Context, t *types.SignedTransfer) error {
	if err := s.requireHealthy(); err != nil {
		return err
	}
	t.Status = types.StatusReceived

	query, args, err := s.db.BindNamed(insertReceivedQuery, t)
	if err != nil {
		return errors.Wrap(err, "failed to BindNamed insertReceived")
	}
	err = s.db.GetContext(ctx, t, query, args...)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.ConstraintName == "signed_transfers_nonce_key" {
			return ErrDuplicateNonce
		}
		return errors.Wrap(err, "insertReceived failed")
	}
	return nil
}

const insertValidatedQuery = `
INSERT INTO signed_transfers
	(nonce, from_address, to_address, amount, deadline, signature, contract_address, token_address, status, created_at, validated_at)
VALUES
	(:nonce, :from_address, :to_address, :amount, :deadline, :signature, :contract_address, :token_address, :status, NOW(), NOW())
RETURNING *`

// InsertValidated atomically persists a new transfer directly in status
// `validated`, for a candidate that has already passed Validate against its
// unvalidated (unsaved, id 0) form (spec.md §3/§8 E2E scenario 3: a failing
// ingest must never create a persistent row). The nonce unique constraint
// is still the race-safety net against a concurrent duplicate submission
// that raced past the pre-insert ExistsByNonce check.
func (s *Store) InsertValidated(ctx context.Context, t *types.SignedTransfer) error {
	if err := s.requireHealthy(); err != nil {
		return err
	}
	t.Status = types.StatusValidated

	query, args, err := s.db.BindNamed(insertValidatedQuery, t)
	if err != nil {
		return errors.Wrap(err, "failed to BindNamed insertValidated")
	}
	err = s.db.GetContext(ctx, t, query, args...)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.ConstraintName == "signed_transfers_nonce_key" {
			return ErrDuplicateNonce
		}
		return errors.Wrap(err, "insertValidated failed")
	}
	return nil
}

// StatusUpdate is the partial-update payload for UpdateStatus.
type StatusUpdate struct {
	Status       types.Status
	TxHash       null.String
	BlockNumber  null.Int
	RetryCount   *int
	ErrorMessage null.String
}

// UpdateStatus performs a partial update, setting the status-transition
// timestamp (validatedAt/submittedAt/confirmedAt) only when the new status
// is the one that timestamp corresponds to (spec.md §4.2).
func (s *Store) UpdateStatus(ctx context.Context, id int64, upd StatusUpdate) (*types.SignedTransfer, error) {
	if err := s.requireHealthy(); err != nil {
		return nil, err
	}

	var timestampClause string
	switch upd.Status {
	case types.StatusValidated:
		timestampClause = ", validated_at = NOW()"
	case types.StatusPending:
		timestampClause = ", submitted_at = NOW()"
	case types.StatusConfirmed:
		timestampClause = ", confirmed_at = NOW()"
	}

	query := `UPDATE signed_transfers SET
			status = :status,
			tx_hash = COALESCE(:tx_hash, tx_hash),
			block_number = COALESCE(:block_number, block_number),
			error_message = COALESCE(:error_message, error_message)` +
		timestampClause + `
		WHERE id = :id
		RETURNING *`

	params := struct {
		ID           int64       `db:"id"`
		Status       types.Status `db:"status"`
		TxHash       null.String  `db:"tx_hash"`
		BlockNumber  null.Int     `db:"block_number"`
		ErrorMessage null.String  `db:"error_message"`
	}{ID: id, Status: upd.Status, TxHash: upd.TxHash, BlockNumber: upd.BlockNumber, ErrorMessage: upd.ErrorMessage}

	namedQuery, args, err := s.db.BindNamed(query, params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to BindNamed updateStatus")
	}

	var t types.SignedTransfer
	if err := s.db.GetContext(ctx, &t, namedQuery, args...); err != nil {
		return nil, errors.Wrap(err, "updateStatus failed")
	}

	if upd.RetryCount != nil {
		if _, err := s.db.ExecContext(ctx, `UPDATE signed_transfers SET retry_count = $1 WHERE id = $2`, *upd.RetryCount, id); err != nil {
			return nil, errors.Wrap(err, "updateStatus failed to bump retry_count")
		}
		t.RetryCount = *upd.RetryCount
	}
	return &t, nil
}

// FindByNonce returns the row with the given nonce, or ErrNotFound.
func (s *Store) FindByNonce(ctx context.Context, nonce string) (*types.SignedTransfer, error) {
	if err := s.requireHealthy(); err != nil {
		return nil, err
	}
	var t types.SignedTransfer
	err := s.db.GetContext(ctx, &t, `SELECT * FROM signed_transfers WHERE nonce = $1`, nonce)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "findByNonce failed")
	}
	return &t, nil
}

// FindByID returns the row with the given id, or ErrNotFound.
func (s *Store) FindByID(ctx context.Context, id int64) (*types.SignedTransfer, error) {
	if err := s.requireHealthy(); err != nil {
		return nil, err
	}
	var t types.SignedTransfer
	err := s.db.GetContext(ctx, &t, `SELECT * FROM signed_transfers WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "findById failed")
	}
	return &t, nil
}

// ExistsByNonce reports whether any row other than excludeID carries
// nonce, for the Validator's dual-source uniqueness check (spec.md §4.1
// check 4a).
func (s *Store) ExistsByNonce(ctx context.Context, nonce string, excludeID int64) (bool, error) {
	if err := s.requireHealthy(); err != nil {
		return false, err
	}
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM signed_transfers WHERE nonce = $1 AND id != $2`, nonce, excludeID)
	if err != nil {
		return false, errors.Wrap(err, "existsByNonce failed")
	}
	return count > 0, nil
}

// ListByStatus returns up to limit rows in status, ordered by createdAt
// ascending for fair queueing (spec.md §4.2/§4.5).
func (s *Store) ListByStatus(ctx context.Context, status types.Status, limit int) ([]*types.SignedTransfer, error) {
	if err := s.requireHealthy(); err != nil {
		return nil, err
	}
	var rows []*types.SignedTransfer
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM signed_transfers WHERE status = $1 ORDER BY created_at ASC LIMIT $2`, status, limit)
	return rows, errors.Wrap(err, "listByStatus failed")
}

// ListStalePending returns `pending` rows whose submittedAt is older than
// olderThan, i.e. rows an in-process AwaitReceipt poll lost track of
// because the process restarted mid-wait. The reconciler resets these back
// to validated so the executor re-validates and resubmits them.
func (s *Store) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*types.SignedTransfer, error) {
	if err := s.requireHealthy(); err != nil {
		return nil, err
	}
	var rows []*types.SignedTransfer
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM signed_transfers
		WHERE status = 'pending' AND submitted_at < $1
		ORDER BY submitted_at ASC
		LIMIT $2`, time.Now().Add(-olderThan), limit)
	return rows, errors.Wrap(err, "listStalePending failed")
}

// ListRetryable returns `failed` rows with retryCount < maxRetries, oldest
// first. It does not read the event log: the executor looks up each row's
// LastFailedAt separately so its backoff computation is based on
// time-since-last-failure, not time-since-creation (SPEC_FULL.md's
// backoff-basis fix to the naive reading of the original design).
func (s *Store) ListRetryable(ctx context.Context, maxRetries, limit int) ([]*types.SignedTransfer, error) {
	if err := s.requireHealthy(); err != nil {
		return nil, err
	}
	var rows []*types.SignedTransfer
	err := s.db.SelectContext(ctx, &rows, `
		SELECT st.* FROM signed_transfers st
		WHERE st.status = 'failed' AND st.retry_count < $1
		ORDER BY st.created_at ASC
		LIMIT $2`, maxRetries, limit)
	return rows, errors.Wrap(err, "listRetryable failed")
}

// LastFailedAt returns the timestamp of transferID's most recent failure
// TransferEvent (status `failed`, or `retry` as the executor records each
// retryable failure), used as the basis for exponential backoff instead of
// CreatedAt (see ListRetryable).
func (s *Store) LastFailedAt(ctx context.Context, transferID int64) (time.Time, error) {
	if err := s.requireHealthy(); err != nil {
		return time.Time{}, err
	}
	var ts time.Time
	err := s.db.GetContext(ctx, &ts, `
		SELECT timestamp FROM transfer_events
		WHERE transfer_id = $1 AND status IN ('failed', 'retry')
		ORDER BY timestamp DESC LIMIT 1`, transferID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, errors.Wrap(err, "lastFailedAt failed")
	}
	return ts, nil
}

// AppendEvent appends one row to a transfer's audit trail (spec.md §4.2).
func (s *Store) AppendEvent(ctx context.Context, transferID int64, status, message string, metadata null.String) error {
	if err := s.requireHealthy(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transfer_events (transfer_id, status, message, metadata, timestamp) VALUES ($1, $2, $3, $4, NOW())`,
		transferID, status, message, metadata)
	return errors.Wrap(err, "appendEvent failed")
}

// ListEvents returns transferID's event log ordered by timestamp ascending.
func (s *Store) ListEvents(ctx context.Context, transferID int64) ([]*types.TransferEvent, error) {
	if err := s.requireHealthy(); err != nil {
		return nil, err
	}
	var rows []*types.TransferEvent
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM transfer_events WHERE transfer_id = $1 ORDER BY timestamp ASC`, transferID)
	return rows, errors.Wrap(err, "listEvents failed")
}

// ListForAddress returns up to limit rows where from_address or to_address
// equals address, newest first (spec.md §4.2, used by the history API).
func (s *Store) ListForAddress(ctx context.Context, address string, limit int) ([]*types.SignedTransfer, error) {
	if err := s.requireHealthy(); err != nil {
		return nil, err
	}
	var rows []*types.SignedTransfer
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM signed_transfers
		WHERE from_address = $1 OR to_address = $1
		ORDER BY created_at DESC
		LIMIT $2`, address, limit)
	return rows, errors.Wrap(err, "listForAddress failed")
}

// CountByStatus is a small helper for the stats endpoint.
func (s *Store) CountByStatus(ctx context.Context, status types.Status) (int, error) {
	if err := s.requireHealthy(); err != nil {
		return 0, err
	}
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM signed_transfers WHERE status = $1`, status)
	return count, errors.Wrap(err, "countByStatus failed")
}

// Close releases the underlying database connection, if any.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
