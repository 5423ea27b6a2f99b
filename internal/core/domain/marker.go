package domain

import "fmt"

// MarkerID is the reserved record id of the marker within an account
// partition. Event ids are stringified sequence numbers and never collide
// with it.
const MarkerID = "_metadata"

// Marker is the durable concurrency anchor of one account partition. It
// records the sequence of the last applied event and the sequence of the
// last snapshot, and carries an opaque token that the store refreshes on
// every successful write. A writer must present the token it last observed;
// a mismatch means another writer advanced the partition in the meantime.
type Marker struct {
	AccountKey          string
	LastSequence        int64
	LastSnapshotVersion int64
	ConcurrencyToken    string
}

// NewMarker returns the initial marker for a fresh account partition.
func NewMarker(accountKey string) Marker {
	return Marker{AccountKey: accountKey}
}

// NextSequence is the sequence the next appended event must carry.
func (m Marker) NextSequence() int64 {
	return m.LastSequence + 1
}

// Advance returns the marker value to be persisted atomically with event.
// The event must carry exactly the next sequence; anything else would open
// a gap in the log. Snapshot events also move the snapshot pointer, so the
// replay engine can skip everything at or before it. The concurrency token
// is left untouched: minting a fresh one is the store's job.
func (m Marker) Advance(event Event) (Marker, error) {
	if event.AccountKey != m.AccountKey {
		return Marker{}, fmt.Errorf(
			"event account key %s does not match marker %s", event.AccountKey, m.AccountKey,
		)
	}
	if event.Sequence != m.NextSequence() {
		return Marker{}, fmt.Errorf(
			"event sequence %d breaks the log of account %s, expected %d",
			event.Sequence, m.AccountKey, m.NextSequence(),
		)
	}

	next := m
	next.LastSequence = event.Sequence
	if event.Kind == EventKindSnapshotCreated {
		next.LastSnapshotVersion = event.Sequence
	}
	return next, nil
}
