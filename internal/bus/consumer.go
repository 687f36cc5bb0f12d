package bus

import (
	"context"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tinode/fanout/internal/corerr"
	"github.com/tinode/fanout/internal/metrics"
)

// Handler processes one decoded envelope delivered off a bound queue.
// Returning an error nacks the delivery for redelivery; handlers must be
// idempotent since at-least-once delivery means duplicates are expected.
type Handler func(ctx context.Context, routingKey string, env Envelope) error

// Subscription consumes a durable, node-local queue bound to one or more
// routing-key patterns on the chat_events exchange.
type Subscription struct {
	ch    *amqp.Channel
	queue string
}

// Bind declares a durable queue named queueName, binds it to each of
// patterns, and starts delivering to handle until ctx is cancelled.
// Deliveries are manually acknowledged after handle returns, so a
// handler panic or crash leaves the message for redelivery.
func (b *Bus) Bind(ctx context.Context, queueName string, patterns []string, handle Handler) (*Subscription, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, corerr.New(corerr.BusUnavailable, err)
	}
	if err := ch.Qos(32, 0, false); err != nil {
		ch.Close()
		return nil, corerr.New(corerr.BusUnavailable, err)
	}

	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, corerr.New(corerr.BusUnavailable, err)
	}
	for _, pattern := range patterns {
		if err := ch.QueueBind(q.Name, pattern, Exchange, false, nil); err != nil {
			ch.Close()
			return nil, corerr.New(corerr.BusUnavailable, err)
		}
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, corerr.New(corerr.BusUnavailable, err)
	}

	sub := &Subscription{ch: ch, queue: q.Name}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var env Envelope
				if err := unmarshalEnvelope(d.Body, &env); err != nil {
					log.Printf("bus: poison message on %q, dropping: %v", q.Name, err)
					d.Nack(false, false)
					metrics.ConsumerNacks.Inc()
					continue
				}
				if err := handle(ctx, d.RoutingKey, env); err != nil {
					log.Printf("bus: handler error on %q: %v, requeueing", q.Name, err)
					d.Nack(false, true)
					metrics.ConsumerNacks.Inc()
					continue
				}
				d.Ack(false)
				metrics.ConsumerAcks.Inc()
			}
		}
	}()

	return sub, nil
}

// Close stops consuming and releases the subscription's channel.
func (s *Subscription) Close() error {
	return s.ch.Close()
}
