package pgdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/generousbank/bankd/internal/core/domain"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const driverName = "postgres"

type ledgerRepository struct {
	db *sql.DB
}

// eventPayload is the JSONB shape of the kind-specific part of an event.
type eventPayload struct {
	Account  *domain.Account  `json:"account,omitempty"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	Snapshot *domain.Snapshot `json:"snapshot,omitempty"`
}

func NewLedgerRepository(config ...interface{}) (domain.LedgerRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config")
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("invalid db handle")
	}

	return &ledgerRepository{db}, nil
}

func (r *ledgerRepository) Close() {
	// nolint:errcheck
	r.db.Close()
}

func (r *ledgerRepository) AppendEvent(
	ctx context.Context, expected domain.Marker, event domain.Event,
) (*domain.Marker, *domain.Event, error) {
	next, err := expected.Advance(event)
	if err != nil {
		return nil, nil, err
	}
	next.ConcurrencyToken = uuid.NewString()

	payload, err := marshalPayload(event)
	if err != nil {
		return nil, nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, err)
	}
	// nolint:errcheck
	defer tx.Rollback()

	res, err := tx.ExecContext(
		ctx,
		`UPDATE ledger_marker
		 SET last_sequence = $1, last_snapshot_version = $2, concurrency_token = $3,
		     updated_at = now()
		 WHERE account_key = $4 AND concurrency_token = $5`,
		next.LastSequence, next.LastSnapshotVersion, next.ConcurrencyToken,
		event.AccountKey, expected.ConcurrencyToken,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, err)
	}
	if affected == 0 {
		// The update misses both on a stale token and on a marker that was
		// never created. Tell them apart so both backends report the same
		// error for the same input.
		var one int
		err := tx.QueryRowContext(
			ctx,
			`SELECT 1 FROM ledger_marker WHERE account_key = $1`,
			event.AccountKey,
		).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf(
				"%w: no marker for account %s", domain.ErrNotFound, event.AccountKey,
			)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, err)
		}
		return nil, nil, domain.ErrConcurrencyConflict
	}

	// Upsert by (account_key, sequence): a collision can only be a retried
	// write of the same event, so replacing is safe.
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO ledger_event (account_key, sequence, kind, timestamp, payload)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (account_key, sequence) DO UPDATE
		 SET kind = EXCLUDED.kind, timestamp = EXCLUDED.timestamp,
		     payload = EXCLUDED.payload`,
		event.AccountKey, event.Sequence, string(event.Kind), event.Timestamp, payload,
	); err != nil {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, err)
	}

	return &next, &event, nil
}

func (r *ledgerRepository) GetMarker(
	ctx context.Context, accountKey string,
) (*domain.Marker, error) {
	row := r.db.QueryRowContext(
		ctx,
		`SELECT last_sequence, last_snapshot_version, concurrency_token
		 FROM ledger_marker WHERE account_key = $1`,
		accountKey,
	)

	marker := domain.Marker{AccountKey: accountKey}
	err := row.Scan(&marker.LastSequence, &marker.LastSnapshotVersion, &marker.ConcurrencyToken)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no marker for account %s", domain.ErrNotFound, accountKey)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, err)
	}
	return &marker, nil
}

func (r *ledgerRepository) CreateMarkerIfAbsent(
	ctx context.Context, accountKey string,
) (*domain.Marker, error) {
	initial := domain.NewMarker(accountKey)
	initial.ConcurrencyToken = uuid.NewString()

	res, err := r.db.ExecContext(
		ctx,
		`INSERT INTO ledger_marker (account_key, last_sequence, last_snapshot_version, concurrency_token)
		 VALUES ($1, 0, 0, $2)
		 ON CONFLICT (account_key) DO NOTHING`,
		accountKey, initial.ConcurrencyToken,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected > 0 {
		return &initial, nil
	}
	return r.GetMarker(ctx, accountKey)
}

func (r *ledgerRepository) GetLatestSnapshot(
	ctx context.Context, accountKey string,
) (*domain.Event, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT account_key, sequence, kind, timestamp, payload
		 FROM ledger_event
		 WHERE account_key = $1 AND kind = $2
		 ORDER BY sequence DESC LIMIT 1`,
		accountKey, string(domain.EventKindSnapshotCreated),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, err)
	}
	// nolint:errcheck
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

func (r *ledgerRepository) GetEventsAfter(
	ctx context.Context, accountKey string, afterSequence int64, limit int,
) ([]domain.Event, error) {
	query := `SELECT account_key, sequence, kind, timestamp, payload
	          FROM ledger_event
	          WHERE account_key = $1 AND sequence > $2
	          ORDER BY sequence ASC`
	args := []interface{}{accountKey, afterSequence}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, err)
	}
	// nolint:errcheck
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	events := make([]domain.Event, 0)
	for rows.Next() {
		var (
			event   domain.Event
			kind    string
			rawJSON []byte
		)
		if err := rows.Scan(
			&event.AccountKey, &event.Sequence, &kind, &event.Timestamp, &rawJSON,
		); err != nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, err)
		}

		var payload eventPayload
		if err := json.Unmarshal(rawJSON, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode event payload: %s", err)
		}

		event.ID = strconv.FormatInt(event.Sequence, 10)
		event.Kind = domain.EventKind(kind)
		event.Account = payload.Account
		event.Snapshot = payload.Snapshot
		event.Amount = decimal.Zero
		if payload.Amount != nil {
			event.Amount = *payload.Amount
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, err)
	}
	return events, nil
}

func marshalPayload(event domain.Event) ([]byte, error) {
	payload := eventPayload{
		Account:  event.Account,
		Snapshot: event.Snapshot,
	}
	switch event.Kind {
	case domain.EventKindDepositPerformed, domain.EventKindWithdrawPerformed:
		amount := event.Amount
		payload.Amount = &amount
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event payload: %s", err)
	}
	return data, nil
}

// OpenDb opens a connection with the DB and verifies it is reachable.
// sql.Open is lazy, it only validates the arguments without creating a
// connection.
func OpenDb(dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres db: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("unable to establish connection with db: %v", err)
	}

	return db, nil
}
