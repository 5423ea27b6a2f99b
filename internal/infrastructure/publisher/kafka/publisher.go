package kafkapublisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/generousbank/bankd/internal/core/domain"
	"github.com/generousbank/bankd/internal/core/ports"
	"github.com/segmentio/kafka-go"
)

// message is the wire shape of a published ledger event. Amounts travel
// as strings to keep precision across consumers.
type message struct {
	AccountKey string `json:"accountKey"`
	Sequence   int64  `json:"sequence"`
	Kind       string `json:"kind"`
	Timestamp  int64  `json:"timestamp"`
	Amount     string `json:"amount,omitempty"`
	Balance    string `json:"balance,omitempty"`
}

type publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) (ports.EventPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("missing kafka brokers")
	}
	if topic == "" {
		return nil, fmt.Errorf("missing kafka topic")
	}

	return &publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}, nil
}

// Publish writes the event keyed by account, so per-account ordering
// survives partitioning.
func (p *publisher) Publish(ctx context.Context, event domain.Event) error {
	msg := message{
		AccountKey: event.AccountKey,
		Sequence:   event.Sequence,
		Kind:       string(event.Kind),
		Timestamp:  event.Timestamp.UnixMilli(),
	}
	switch event.Kind {
	case domain.EventKindDepositPerformed, domain.EventKindWithdrawPerformed:
		msg.Amount = event.Amount.String()
	case domain.EventKindSnapshotCreated:
		msg.Balance = event.Snapshot.Balance.String()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.AccountKey),
		Value: data,
	})
}

func (p *publisher) Close() error {
	return p.writer.Close()
}
