package domain

import "errors"

var (
	// ErrConcurrencyConflict is returned by the ledger store when the
	// presented concurrency token no longer matches the persisted marker.
	// Nothing was written. The caller must re-read the marker (and, if its
	// in-memory state is suspect, replay) before retrying.
	ErrConcurrencyConflict = errors.New("marker concurrency token mismatch")

	// ErrStoreUnavailable wraps transient store failures. The outcome of
	// an in-flight write is unknown and must be resolved by re-reading
	// state, never by blind resubmission.
	ErrStoreUnavailable = errors.New("ledger store unavailable")

	// ErrKeyMismatch means a command carried an account number different
	// from the key of the actor it was delivered to. This signals a
	// routing bug upstream and is never retryable.
	ErrKeyMismatch = errors.New("command account key does not match actor key")

	// ErrInvalidAmount rejects non-positive deposit and withdraw amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientFunds rejects withdrawals that would drive the
	// balance negative. Only enforced when the overdraft policy is off.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNotFound indicates a missing marker or snapshot. Expected on the
	// first activation of a fresh account key.
	ErrNotFound = errors.New("record not found")
)
