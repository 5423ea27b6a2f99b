package application_test

import (
	"context"
	"errors"
	"testing"

	"github.com/generousbank/bankd/internal/core/application"
	"github.com/generousbank/bankd/internal/core/domain"
	"github.com/generousbank/bankd/internal/core/ports"
	"github.com/generousbank/bankd/internal/infrastructure/db"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestRepoManager(t *testing.T) ports.RepoManager {
	t.Helper()

	svc, err := db.NewService(db.ServiceConfig{
		DataStoreType:   "badger",
		DataStoreConfig: []interface{}{"", nil},
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	return svc
}

func TestAccountLifecycle(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepoManager(t)

	actor := application.NewActor("ACC-1", repos.Ledger(), nil, true)
	require.False(t, actor.Active())

	require.NoError(t, actor.Activate(ctx))
	require.True(t, actor.Active())

	err := actor.CreateAccount(ctx, domain.Account{
		AccountNumber: "ACC-1", HolderName: "alice",
	})
	require.NoError(t, err)

	require.NoError(t, actor.Deposit(ctx, "ACC-1", decimal.NewFromInt(100)))
	require.NoError(t, actor.Withdraw(ctx, "ACC-1", decimal.NewFromInt(30)))

	require.Equal(t, "70", actor.Balance().String())

	marker, err := repos.Ledger().GetMarker(ctx, "ACC-1")
	require.NoError(t, err)
	require.Equal(t, int64(3), marker.LastSequence)

	// The persisted log is contiguous from 1 with no gaps or repeats.
	events, err := repos.Ledger().GetEventsAfter(ctx, "ACC-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, event := range events {
		require.Equal(t, int64(i+1), event.Sequence)
	}
	require.Equal(t, domain.EventKindAccountCreated, events[0].Kind)
	require.Equal(t, domain.EventKindDepositPerformed, events[1].Kind)
	require.Equal(t, domain.EventKindWithdrawPerformed, events[2].Kind)
}

func TestOverdraftAllowedByDefault(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepoManager(t)

	actor := application.NewActor("ACC-1", repos.Ledger(), nil, true)
	require.NoError(t, actor.Activate(ctx))
	require.NoError(t, actor.Deposit(ctx, "ACC-1", decimal.NewFromInt(70)))

	// No overdraft protection: the balance goes negative.
	require.NoError(t, actor.Withdraw(ctx, "ACC-1", decimal.NewFromInt(1000)))
	require.Equal(t, "-930", actor.Balance().String())
}

func TestOverdraftRejectedByPolicy(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepoManager(t)

	actor := application.NewActor("ACC-1", repos.Ledger(), nil, false)
	require.NoError(t, actor.Activate(ctx))
	require.NoError(t, actor.Deposit(ctx, "ACC-1", decimal.NewFromInt(70)))

	err := actor.Withdraw(ctx, "ACC-1", decimal.NewFromInt(71))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	require.Equal(t, "70", actor.Balance().String())

	// Nothing was appended.
	events, err := repos.Ledger().GetEventsAfter(ctx, "ACC-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestValidationHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepoManager(t)

	actor := application.NewActor("ACC-1", repos.Ledger(), nil, true)
	require.NoError(t, actor.Activate(ctx))

	tests := []struct {
		name    string
		run     func() error
		wantErr error
	}{
		{
			name: "create_account_key_mismatch",
			run: func() error {
				return actor.CreateAccount(ctx, domain.Account{AccountNumber: "ACC-2"})
			},
			wantErr: domain.ErrKeyMismatch,
		},
		{
			name: "deposit_key_mismatch",
			run: func() error {
				return actor.Deposit(ctx, "ACC-2", decimal.NewFromInt(10))
			},
			wantErr: domain.ErrKeyMismatch,
		},
		{
			name: "deposit_zero_amount",
			run: func() error {
				return actor.Deposit(ctx, "ACC-1", decimal.Zero)
			},
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name: "withdraw_negative_amount",
			run: func() error {
				return actor.Withdraw(ctx, "ACC-1", decimal.NewFromInt(-5))
			},
			wantErr: domain.ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.run(), tt.wantErr)

			events, err := repos.Ledger().GetEventsAfter(ctx, "ACC-1", 0, 0)
			require.NoError(t, err)
			require.Empty(t, events)
		})
	}
}

// spyLedgerRepository records the cursors passed to GetEventsAfter so tests
// can assert how far back a replay had to reach.
type spyLedgerRepository struct {
	domain.LedgerRepository
	eventsAfterCursors []int64
}

func (s *spyLedgerRepository) GetEventsAfter(
	ctx context.Context, accountKey string, afterSequence int64, limit int,
) ([]domain.Event, error) {
	s.eventsAfterCursors = append(s.eventsAfterCursors, afterSequence)
	return s.LedgerRepository.GetEventsAfter(ctx, accountKey, afterSequence, limit)
}

func TestSnapshotBoundsColdStartReplay(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepoManager(t)

	actor := application.NewActor("ACC-1", repos.Ledger(), nil, true)
	require.NoError(t, actor.Activate(ctx))
	require.NoError(t, actor.CreateAccount(ctx, domain.Account{AccountNumber: "ACC-1"}))
	require.NoError(t, actor.Deposit(ctx, "ACC-1", decimal.NewFromInt(100)))
	require.NoError(t, actor.Withdraw(ctx, "ACC-1", decimal.NewFromInt(30)))

	require.NoError(t, actor.CreateSnapshot(ctx))
	require.Equal(t, "70", actor.Balance().String())

	snapshot, err := repos.Ledger().GetLatestSnapshot(ctx, "ACC-1")
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	require.Equal(t, int64(4), snapshot.Sequence)
	require.Equal(t, "70", snapshot.Snapshot.Balance.String())

	marker, err := repos.Ledger().GetMarker(ctx, "ACC-1")
	require.NoError(t, err)
	require.Equal(t, int64(4), marker.LastSequence)
	require.Equal(t, int64(4), marker.LastSnapshotVersion)

	// A cold start reads the snapshot and only the (empty) tail after it,
	// never the three events the snapshot covers.
	spy := &spyLedgerRepository{LedgerRepository: repos.Ledger()}
	restarted := application.NewActor("ACC-1", spy, nil, true)
	require.NoError(t, restarted.Activate(ctx))

	require.Equal(t, "70", restarted.Balance().String())
	require.Equal(t, []int64{4}, spy.eventsAfterCursors)
}

func TestConflictInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepoManager(t)

	// Two instances for the same key simulate a placement violation: both
	// activate on the same marker value.
	first := application.NewActor("ACC-1", repos.Ledger(), nil, true)
	second := application.NewActor("ACC-1", repos.Ledger(), nil, true)
	require.NoError(t, first.Activate(ctx))
	require.NoError(t, second.Activate(ctx))

	require.NoError(t, first.Deposit(ctx, "ACC-1", decimal.NewFromInt(10)))

	// The second instance now holds a stale token: its append must lose.
	err := second.Deposit(ctx, "ACC-1", decimal.NewFromInt(25))
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	require.False(t, second.Active())

	// Exactly one event was committed at sequence 1.
	events, err := repos.Ledger().GetEventsAfter(ctx, "ACC-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "10", events[0].Amount.String())

	// After re-activation the loser observes the winner's write and can
	// append again.
	require.NoError(t, second.Activate(ctx))
	require.Equal(t, "10", second.Balance().String())
	require.NoError(t, second.Deposit(ctx, "ACC-1", decimal.NewFromInt(25)))
	require.Equal(t, "35", second.Balance().String())
}

// spyPublisher records every published event and can be set to fail.
type spyPublisher struct {
	events []domain.Event
	err    error
}

func (p *spyPublisher) Publish(_ context.Context, event domain.Event) error {
	p.events = append(p.events, event)
	return p.err
}

func (p *spyPublisher) Close() error {
	return nil
}

func TestPublishesAppendedEvents(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepoManager(t)

	publisher := &spyPublisher{}
	actor := application.NewActor("ACC-1", repos.Ledger(), publisher, true)
	require.NoError(t, actor.Activate(ctx))

	require.NoError(t, actor.CreateAccount(ctx, domain.Account{AccountNumber: "ACC-1"}))
	require.NoError(t, actor.Deposit(ctx, "ACC-1", decimal.NewFromInt(100)))
	require.NoError(t, actor.CreateSnapshot(ctx))

	// Every appended event went out, in append order.
	require.Len(t, publisher.events, 3)
	for i, event := range publisher.events {
		require.Equal(t, int64(i+1), event.Sequence)
	}
	require.Equal(t, domain.EventKindAccountCreated, publisher.events[0].Kind)
	require.Equal(t, domain.EventKindDepositPerformed, publisher.events[1].Kind)
	require.Equal(t, domain.EventKindSnapshotCreated, publisher.events[2].Kind)
	require.Equal(t, "100", publisher.events[2].Snapshot.Balance.String())
}

func TestPublishFailureDoesNotFailCommands(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepoManager(t)

	publisher := &spyPublisher{err: errors.New("broker unreachable")}
	actor := application.NewActor("ACC-1", repos.Ledger(), publisher, true)
	require.NoError(t, actor.Activate(ctx))

	// Publishing is best-effort: the command succeeds, the cache and the
	// durable marker advance.
	require.NoError(t, actor.Deposit(ctx, "ACC-1", decimal.NewFromInt(100)))
	require.Equal(t, "100", actor.Balance().String())

	marker, err := repos.Ledger().GetMarker(ctx, "ACC-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), marker.LastSequence)

	// The publish was still attempted.
	require.Len(t, publisher.events, 1)
}

func TestHandleDispatch(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepoManager(t)

	actor := application.NewActor("ACC-1", repos.Ledger(), nil, true)

	commands := []application.Command{
		application.CreateAccountCommand{AccountNumber: "ACC-1", HolderName: "alice"},
		application.DepositCommand{AccountNumber: "ACC-1", Amount: decimal.NewFromInt(100)},
		application.WithdrawCommand{AccountNumber: "ACC-1", Amount: decimal.NewFromInt(30)},
		application.CreateSnapshotCommand{},
	}
	for _, cmd := range commands {
		require.NoError(t, actor.Handle(ctx, cmd))
	}

	require.Equal(t, "70", actor.Balance().String())

	marker, err := repos.Ledger().GetMarker(ctx, "ACC-1")
	require.NoError(t, err)
	require.Equal(t, int64(4), marker.LastSequence)
}
