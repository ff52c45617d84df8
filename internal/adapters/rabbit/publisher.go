package rabbit

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ticketforge/ticket-registry/internal/domain"
	"github.com/ticketforge/ticket-registry/internal/observability"
)

const Exchange = "registry.events"

type Publisher struct {
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	err = ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	return &Publisher{ch: ch}, nil
}

func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	return p.ch.PublishWithContext(ctx, Exchange, key, false, false, msg)
}

// PublishEvent serializes a registry event and publishes it keyed by its
// event type. The event id doubles as the message id for consumer dedupe.
func (p *Publisher) PublishEvent(ctx context.Context, ev domain.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.Publish(ctx, string(ev.Type), amqp.Publishing{
		MessageId:   ev.ID.String(),
		ContentType: "application/json",
		Body:        body,
	})
}

// Handler adapts the publisher into an emitter subscriber. Publish failures
// are logged and counted, never surfaced to the operation that emitted; the
// registry has already committed by the time events fan out.
func (p *Publisher) Handler(logger observability.Logger) func(domain.Event) {
	return func(ev domain.Event) {
		if err := p.PublishEvent(context.Background(), ev); err != nil {
			observability.EventPublishRetries.Inc()
			logger.WithField("event_type", string(ev.Type)).Error("publish event", err)
		}
	}
}
