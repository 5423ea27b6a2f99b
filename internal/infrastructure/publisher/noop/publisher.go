package nooppublisher

import (
	"context"

	"github.com/generousbank/bankd/internal/core/domain"
	"github.com/generousbank/bankd/internal/core/ports"
)

// publisher drops every event. Used when no brokers are configured.
type publisher struct{}

func NewPublisher() ports.EventPublisher {
	return &publisher{}
}

func (p *publisher) Publish(_ context.Context, _ domain.Event) error {
	return nil
}

func (p *publisher) Close() error {
	return nil
}
