package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type EventKind string

const (
	EventKindAccountCreated    EventKind = "AccountCreated"
	EventKindDepositPerformed  EventKind = "DepositPerformed"
	EventKindWithdrawPerformed EventKind = "WithdrawPerformed"
	EventKindSnapshotCreated   EventKind = "SnapshotCreated"
)

// Account is the payload of an AccountCreated event.
type Account struct {
	AccountNumber string
	HolderName    string
}

// Snapshot is the payload of a SnapshotCreated event: the account balance
// at the event's sequence.
type Snapshot struct {
	Balance decimal.Decimal
}

// Event is one immutable entry of an account's transaction log. Events are
// keyed by (AccountKey, Sequence) and, ordered by sequence, form the
// authoritative history of the account. The payload fields are
// kind-specific: Account for AccountCreated, Amount for DepositPerformed
// and WithdrawPerformed, Snapshot for SnapshotCreated.
type Event struct {
	// ID is the string form of Sequence. The "_metadata" id is reserved
	// for the marker record sharing the account partition.
	ID         string
	AccountKey string
	Sequence   int64
	Kind       EventKind
	Timestamp  time.Time

	Account  *Account
	Amount   decimal.Decimal
	Snapshot *Snapshot
}

func NewAccountCreatedEvent(account Account, sequence int64) Event {
	return Event{
		ID:         strconv.FormatInt(sequence, 10),
		AccountKey: account.AccountNumber,
		Sequence:   sequence,
		Kind:       EventKindAccountCreated,
		Timestamp:  time.Now(),
		Account:    &account,
		Amount:     decimal.Zero,
	}
}

func NewDepositPerformedEvent(accountKey string, amount decimal.Decimal, sequence int64) Event {
	return Event{
		ID:         strconv.FormatInt(sequence, 10),
		AccountKey: accountKey,
		Sequence:   sequence,
		Kind:       EventKindDepositPerformed,
		Timestamp:  time.Now(),
		Amount:     amount,
	}
}

func NewWithdrawPerformedEvent(accountKey string, amount decimal.Decimal, sequence int64) Event {
	return Event{
		ID:         strconv.FormatInt(sequence, 10),
		AccountKey: accountKey,
		Sequence:   sequence,
		Kind:       EventKindWithdrawPerformed,
		Timestamp:  time.Now(),
		Amount:     amount,
	}
}

func NewSnapshotCreatedEvent(accountKey string, balance decimal.Decimal, sequence int64) Event {
	return Event{
		ID:         strconv.FormatInt(sequence, 10),
		AccountKey: accountKey,
		Sequence:   sequence,
		Kind:       EventKindSnapshotCreated,
		Timestamp:  time.Now(),
		Amount:     decimal.Zero,
		Snapshot:   &Snapshot{Balance: balance},
	}
}

// BalanceDelta returns the signed contribution of the event to the account
// balance: positive for deposits, negative for withdrawals, zero for every
// other kind.
func (e Event) BalanceDelta() decimal.Decimal {
	switch e.Kind {
	case EventKindDepositPerformed:
		return e.Amount
	case EventKindWithdrawPerformed:
		return e.Amount.Neg()
	default:
		return decimal.Zero
	}
}
