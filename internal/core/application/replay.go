package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/generousbank/bankd/internal/core/domain"
	"github.com/shopspring/decimal"
)

const replayPageSize = 200

// ReplayAccount reconstructs the balance of an account key from durable
// state: the most recent snapshot seeds the balance and every event after
// it is folded in ascending sequence order. The marker is created on the
// fly when the key has never been written, so activation of a fresh key is
// indistinguishable from activation of an existing one. Ordering by
// sequence, never by timestamp, keeps the result deterministic under
// clock skew and retried writes.
func ReplayAccount(
	ctx context.Context, repo domain.LedgerRepository, accountKey string,
) (*domain.Marker, decimal.Decimal, error) {
	if repo == nil {
		return nil, decimal.Zero, fmt.Errorf("ledger repository is not configured")
	}
	if strings.TrimSpace(accountKey) == "" {
		return nil, decimal.Zero, fmt.Errorf("account key is required")
	}

	marker, err := repo.CreateMarkerIfAbsent(ctx, accountKey)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("failed to read marker: %w", err)
	}

	balance := decimal.Zero
	var cursor int64

	snapshot, err := repo.GetLatestSnapshot(ctx, accountKey)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, decimal.Zero, fmt.Errorf("failed to read latest snapshot: %w", err)
	}
	if snapshot != nil {
		balance = snapshot.Snapshot.Balance
		cursor = snapshot.Sequence
	}

	for {
		events, err := repo.GetEventsAfter(ctx, accountKey, cursor, replayPageSize)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("failed to read event tail: %w", err)
		}
		if len(events) == 0 {
			break
		}
		for _, event := range events {
			balance = balance.Add(event.BalanceDelta())
			cursor = event.Sequence
		}
	}

	// The marker may be ahead of the last observed event after a crash of
	// unknown write outcome. It stays authoritative for the next append,
	// the events stay authoritative for the balance.
	return marker, balance, nil
}
