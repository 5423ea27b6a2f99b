package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/generousbank/bankd/internal/core/domain"
	"github.com/generousbank/bankd/internal/core/ports"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Actor is the single writer for one account key. It turns each accepted
// command into exactly one fenced event append and keeps an in-memory
// {marker, balance} cache of the durable log. The cache is never the
// source of truth: it is rebuilt by replay on activation and discarded on
// a concurrency conflict, which can only mean the cache went stale (e.g.
// a crash mid-write, or a second instance violating the single-writer
// placement).
//
// An Actor is not safe for concurrent use. Serialized delivery per key is
// the dispatcher's job; in-process the account service holds a per-key
// lock around every call.
type Actor struct {
	key       string
	repo      domain.LedgerRepository
	publisher ports.EventPublisher

	allowNegativeBalance bool

	marker  *domain.Marker
	balance decimal.Decimal
}

func NewActor(
	accountKey string, repo domain.LedgerRepository, publisher ports.EventPublisher,
	allowNegativeBalance bool,
) *Actor {
	return &Actor{
		key:                  accountKey,
		repo:                 repo,
		publisher:            publisher,
		allowNegativeBalance: allowNegativeBalance,
		balance:              decimal.Zero,
	}
}

func (a *Actor) Key() string {
	return a.key
}

// Active reports whether the actor has completed activation and holds a
// valid cache.
func (a *Actor) Active() bool {
	return a.marker != nil
}

// Balance returns the cached balance. Only meaningful while Active.
func (a *Actor) Balance() decimal.Decimal {
	return a.balance
}

// Activate transitions the actor from uninitialized to active by replaying
// durable state. It must complete before any command is processed and is a
// no-op when the actor is already active.
func (a *Actor) Activate(ctx context.Context) error {
	if a.Active() {
		return nil
	}

	marker, balance, err := ReplayAccount(ctx, a.repo, a.key)
	if err != nil {
		return fmt.Errorf("failed to activate account %s: %w", a.key, err)
	}

	a.marker = marker
	a.balance = balance
	log.Debugf(
		"activated account %s at sequence %d with balance %s",
		a.key, marker.LastSequence, balance,
	)
	return nil
}

// Handle dispatches a command to its handler, activating the actor first
// if needed.
func (a *Actor) Handle(ctx context.Context, command Command) error {
	if err := a.Activate(ctx); err != nil {
		return err
	}

	switch cmd := command.(type) {
	case CreateAccountCommand:
		return a.CreateAccount(ctx, domain.Account{
			AccountNumber: cmd.AccountNumber,
			HolderName:    cmd.HolderName,
		})
	case DepositCommand:
		return a.Deposit(ctx, cmd.AccountNumber, cmd.Amount)
	case WithdrawCommand:
		return a.Withdraw(ctx, cmd.AccountNumber, cmd.Amount)
	case CreateSnapshotCommand:
		return a.CreateSnapshot(ctx)
	default:
		return fmt.Errorf("unknown command type %T", command)
	}
}

// CreateAccount appends an AccountCreated event. The account number must
// equal the actor's own key. The balance is unaffected.
func (a *Actor) CreateAccount(ctx context.Context, account domain.Account) error {
	if !a.Active() {
		return fmt.Errorf("account %s is not activated", a.key)
	}
	if account.AccountNumber != a.key {
		return fmt.Errorf("%w: got %s, actor owns %s",
			domain.ErrKeyMismatch, account.AccountNumber, a.key)
	}

	event := domain.NewAccountCreatedEvent(account, a.marker.NextSequence())
	return a.append(ctx, event)
}

// Deposit appends a DepositPerformed event and adds the amount to the
// cached balance.
func (a *Actor) Deposit(ctx context.Context, accountNumber string, amount decimal.Decimal) error {
	if !a.Active() {
		return fmt.Errorf("account %s is not activated", a.key)
	}
	if accountNumber != a.key {
		return fmt.Errorf("%w: got %s, actor owns %s",
			domain.ErrKeyMismatch, accountNumber, a.key)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", domain.ErrInvalidAmount, amount)
	}

	event := domain.NewDepositPerformedEvent(a.key, amount, a.marker.NextSequence())
	return a.append(ctx, event)
}

// Withdraw appends a WithdrawPerformed event and subtracts the amount from
// the cached balance. Overdrafts are allowed unless the negative-balance
// policy is off.
func (a *Actor) Withdraw(ctx context.Context, accountNumber string, amount decimal.Decimal) error {
	if !a.Active() {
		return fmt.Errorf("account %s is not activated", a.key)
	}
	if accountNumber != a.key {
		return fmt.Errorf("%w: got %s, actor owns %s",
			domain.ErrKeyMismatch, accountNumber, a.key)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", domain.ErrInvalidAmount, amount)
	}
	if !a.allowNegativeBalance && a.balance.Sub(amount).IsNegative() {
		return fmt.Errorf("%w: balance %s, withdrawal %s",
			domain.ErrInsufficientFunds, a.balance, amount)
	}

	event := domain.NewWithdrawPerformedEvent(a.key, amount, a.marker.NextSequence())
	return a.append(ctx, event)
}

// CreateSnapshot persists the current cached balance as a SnapshotCreated
// event, re-anchoring the source of truth to the stored value. Snapshots
// advance the same sequence counter as transactions, so they are part of
// the gap-free log.
func (a *Actor) CreateSnapshot(ctx context.Context) error {
	if !a.Active() {
		return fmt.Errorf("account %s is not activated", a.key)
	}

	event := domain.NewSnapshotCreatedEvent(a.key, a.balance, a.marker.NextSequence())
	return a.append(ctx, event)
}

func (a *Actor) append(ctx context.Context, event domain.Event) error {
	marker, stored, err := a.repo.AppendEvent(ctx, *a.marker, event)
	if err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			// The durable marker moved under us, so every cached value is
			// suspect. Drop the cache and force a replay before the next
			// command.
			log.Warnf(
				"concurrency conflict on account %s at sequence %d, invalidating cache",
				a.key, event.Sequence,
			)
			a.marker = nil
			a.balance = decimal.Zero
		}
		return err
	}

	a.marker = marker
	if stored.Kind == domain.EventKindSnapshotCreated {
		a.balance = stored.Snapshot.Balance
	} else {
		a.balance = a.balance.Add(stored.BalanceDelta())
	}

	a.publish(ctx, *stored)
	return nil
}

func (a *Actor) publish(ctx context.Context, event domain.Event) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.Publish(ctx, event); err != nil {
		log.WithError(err).Warnf(
			"failed to publish %s event for account %s", event.Kind, a.key,
		)
	}
}
