package domain

import "context"

type LedgerRepository interface {
	// AppendEvent atomically replaces the marker and upserts the event in
	// one transaction. The replace is fenced on expected.ConcurrencyToken:
	// on a mismatch it fails with ErrConcurrencyConflict and nothing is
	// written. The event must carry expected.NextSequence(). On success it
	// returns the stored marker, holding the freshly minted token, and the
	// persisted event. The event upsert is idempotent by
	// (AccountKey, Sequence): a sequence collision is evidence of a
	// retried write, not a second transaction.
	AppendEvent(ctx context.Context, expected Marker, event Event) (*Marker, *Event, error)
	// GetMarker returns the marker of the account key, or ErrNotFound.
	GetMarker(ctx context.Context, accountKey string) (*Marker, error)
	// CreateMarkerIfAbsent inserts the initial marker for the key unless
	// one exists, and returns the stored marker either way. Safe to call
	// from concurrent cold starts.
	CreateMarkerIfAbsent(ctx context.Context, accountKey string) (*Marker, error)
	// GetLatestSnapshot returns the most recent SnapshotCreated event of
	// the key, or nil if the key has never been snapshotted.
	GetLatestSnapshot(ctx context.Context, accountKey string) (*Event, error)
	// GetEventsAfter returns up to limit events of the key with sequence
	// strictly greater than afterSequence, in ascending sequence order.
	GetEventsAfter(ctx context.Context, accountKey string, afterSequence int64, limit int) ([]Event, error)
	Close()
}
