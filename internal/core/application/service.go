package application

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/generousbank/bankd/internal/core/ports"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Service routes commands to per-account actors and serializes delivery
// within each account key. It is the in-process half of the entity
// dispatch contract: commands for one key never run concurrently inside
// this process, commands for different keys run independently. Keeping at
// most one live process per deployment (or fencing writers across
// processes) remains the job of the surrounding placement runtime; the
// store's concurrency token catches violations either way.
type Service interface {
	Start() error
	Stop()
	// Activate replays the account's durable state, blocking until the
	// actor is ready to process commands. Calling it is optional: Handle
	// activates on demand.
	Activate(ctx context.Context, accountKey string) error
	Handle(ctx context.Context, accountKey string, command Command) error
	Balance(ctx context.Context, accountKey string) (decimal.Decimal, error)
}

type service struct {
	repoManager ports.RepoManager
	publisher   ports.EventPublisher
	scheduler   ports.SchedulerService

	snapshotInterval     time.Duration
	allowNegativeBalance bool

	lock   sync.Mutex
	actors map[string]*actorEntry
}

// actorEntry pairs an actor with the lock serializing its commands.
type actorEntry struct {
	lock  sync.Mutex
	actor *Actor
}

func NewService(
	repoManager ports.RepoManager,
	publisher ports.EventPublisher,
	scheduler ports.SchedulerService,
	snapshotInterval time.Duration,
	allowNegativeBalance bool,
) (Service, error) {
	if repoManager == nil {
		return nil, fmt.Errorf("missing repo manager")
	}
	if snapshotInterval > 0 && scheduler == nil {
		return nil, fmt.Errorf("snapshot interval set but scheduler is missing")
	}

	return &service{
		repoManager:          repoManager,
		publisher:            publisher,
		scheduler:            scheduler,
		snapshotInterval:     snapshotInterval,
		allowNegativeBalance: allowNegativeBalance,
		actors:               make(map[string]*actorEntry),
	}, nil
}

func (s *service) Start() error {
	if s.scheduler == nil {
		return nil
	}
	if s.snapshotInterval > 0 {
		if err := s.scheduler.ScheduleTaskRepeating(s.snapshotInterval, s.snapshotAll); err != nil {
			return fmt.Errorf("failed to schedule periodic snapshots: %w", err)
		}
		log.Infof("snapshotting live accounts every %s", s.snapshotInterval)
	}
	s.scheduler.Start()
	return nil
}

func (s *service) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.publisher != nil {
		// nolint:errcheck
		s.publisher.Close()
	}
}

func (s *service) Activate(ctx context.Context, accountKey string) error {
	entry, err := s.entry(accountKey)
	if err != nil {
		return err
	}

	entry.lock.Lock()
	defer entry.lock.Unlock()
	return entry.actor.Activate(ctx)
}

func (s *service) Handle(ctx context.Context, accountKey string, command Command) error {
	entry, err := s.entry(accountKey)
	if err != nil {
		return err
	}

	entry.lock.Lock()
	defer entry.lock.Unlock()
	return entry.actor.Handle(ctx, command)
}

func (s *service) Balance(ctx context.Context, accountKey string) (decimal.Decimal, error) {
	entry, err := s.entry(accountKey)
	if err != nil {
		return decimal.Zero, err
	}

	entry.lock.Lock()
	defer entry.lock.Unlock()
	if err := entry.actor.Activate(ctx); err != nil {
		return decimal.Zero, err
	}
	return entry.actor.Balance(), nil
}

func (s *service) entry(accountKey string) (*actorEntry, error) {
	if strings.TrimSpace(accountKey) == "" {
		return nil, fmt.Errorf("account key is required")
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	entry, ok := s.actors[accountKey]
	if !ok {
		entry = &actorEntry{
			actor: NewActor(
				accountKey, s.repoManager.Ledger(), s.publisher, s.allowNegativeBalance,
			),
		}
		s.actors[accountKey] = entry
	}
	return entry, nil
}

// snapshotAll snapshots every live actor that appended events since its
// last snapshot. Failures are logged and skipped, the next run retries.
func (s *service) snapshotAll() {
	s.lock.Lock()
	entries := make(map[string]*actorEntry, len(s.actors))
	for key, entry := range s.actors {
		entries[key] = entry
	}
	s.lock.Unlock()

	ctx := context.Background()
	for key, entry := range entries {
		entry.lock.Lock()
		if entry.actor.Active() && entry.actor.marker.LastSequence > entry.actor.marker.LastSnapshotVersion {
			if err := entry.actor.CreateSnapshot(ctx); err != nil {
				log.WithError(err).Warnf("failed to snapshot account %s", key)
			}
		}
		entry.lock.Unlock()
	}
}
