package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/generousbank/bankd/internal/core/domain"
	"github.com/google/uuid"
	"github.com/timshannon/badgerhold/v4"
)

const ledgerStoreDir = "ledger"

type ledgerRepository struct {
	store *badgerhold.Store
}

type markerDTO struct {
	domain.Marker
	UpdatedAt int64
}

type eventDTO struct {
	domain.Event
	StoredAt int64
}

func NewLedgerRepository(config ...interface{}) (domain.LedgerRepository, error) {
	if len(config) != 2 {
		return nil, fmt.Errorf("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid base directory")
	}
	var logger badger.Logger
	if config[1] != nil {
		logger, ok = config[1].(badger.Logger)
		if !ok {
			return nil, fmt.Errorf("invalid logger")
		}
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, ledgerStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger store: %s", err)
	}

	return &ledgerRepository{store}, nil
}

func (r *ledgerRepository) Close() {
	// nolint:errcheck
	r.store.Close()
}

// AppendEvent runs the marker replace and the event upsert in one badger
// transaction. The replace is fenced on the concurrency token: a mismatch,
// like a commit-time write conflict, means another writer advanced the
// partition and nothing is persisted.
func (r *ledgerRepository) AppendEvent(
	ctx context.Context, expected domain.Marker, event domain.Event,
) (*domain.Marker, *domain.Event, error) {
	next, err := expected.Advance(event)
	if err != nil {
		return nil, nil, err
	}
	next.ConcurrencyToken = uuid.NewString()

	tx := r.store.Badger().NewTransaction(true)
	defer tx.Discard()

	var current markerDTO
	if err := r.store.TxGet(tx, markerKey(event.AccountKey), &current); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, nil, fmt.Errorf(
				"%w: no marker for account %s", domain.ErrNotFound, event.AccountKey,
			)
		}
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, err)
	}
	if current.ConcurrencyToken != expected.ConcurrencyToken {
		return nil, nil, domain.ErrConcurrencyConflict
	}

	now := time.Now().UnixMilli()
	if err := r.store.TxUpsert(tx, markerKey(event.AccountKey), markerDTO{
		Marker:    next,
		UpdatedAt: now,
	}); err != nil {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, err)
	}
	if err := r.store.TxUpsert(tx, eventKey(event), eventDTO{
		Event:    event,
		StoredAt: now,
	}); err != nil {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return nil, nil, domain.ErrConcurrencyConflict
		}
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, err)
	}

	return &next, &event, nil
}

func (r *ledgerRepository) GetMarker(
	ctx context.Context, accountKey string,
) (*domain.Marker, error) {
	var dto markerDTO
	if err := r.store.Get(markerKey(accountKey), &dto); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf(
				"%w: no marker for account %s", domain.ErrNotFound, accountKey,
			)
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, err)
	}
	return &dto.Marker, nil
}

func (r *ledgerRepository) CreateMarkerIfAbsent(
	ctx context.Context, accountKey string,
) (*domain.Marker, error) {
	initial := domain.NewMarker(accountKey)
	initial.ConcurrencyToken = uuid.NewString()

	err := r.store.Insert(markerKey(accountKey), markerDTO{
		Marker:    initial,
		UpdatedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return r.GetMarker(ctx, accountKey)
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, err)
	}
	return &initial, nil
}

func (r *ledgerRepository) GetLatestSnapshot(
	ctx context.Context, accountKey string,
) (*domain.Event, error) {
	query := badgerhold.Where("AccountKey").Eq(accountKey).
		And("Kind").Eq(domain.EventKindSnapshotCreated).
		SortBy("Sequence").Reverse().Limit(1)

	var dtos []eventDTO
	if err := r.store.Find(&dtos, query); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, err)
	}
	if len(dtos) == 0 {
		return nil, nil
	}
	return &dtos[0].Event, nil
}

func (r *ledgerRepository) GetEventsAfter(
	ctx context.Context, accountKey string, afterSequence int64, limit int,
) ([]domain.Event, error) {
	query := badgerhold.Where("AccountKey").Eq(accountKey).
		And("Sequence").Gt(afterSequence).
		SortBy("Sequence")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var dtos []eventDTO
	if err := r.store.Find(&dtos, query); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, err)
	}

	events := make([]domain.Event, 0, len(dtos))
	for _, dto := range dtos {
		events = append(events, dto.Event)
	}
	return events, nil
}

func markerKey(accountKey string) string {
	return fmt.Sprintf("%s/%s", accountKey, domain.MarkerID)
}

func eventKey(event domain.Event) string {
	return fmt.Sprintf("%s/%s", event.AccountKey, event.ID)
}

func createDB(dbDir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	}

	db, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, err
	}

	return db, nil
}
