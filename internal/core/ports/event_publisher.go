package ports

import (
	"context"

	"github.com/generousbank/bankd/internal/core/domain"
)

// EventPublisher pushes successfully appended events to downstream
// consumers. Publishing is best-effort: the durable log is the source of
// truth and a failed publish never rolls a command back.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
	Close() error
}
