// Package bus wraps a durable topic exchange (RabbitMQ via amqp091-go)
// that decouples the Dispatcher's write path from downstream consumers.
package bus

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tinode/fanout/internal/corerr"
)

// Exchange is the one durable topic exchange used by the whole system.
const Exchange = "chat_events"

// Routing keys used for publish and for binding consumer queues.
const (
	RoutingMessageSent      = "message.sent"
	RoutingMessageRead      = "message.read"
	RoutingTypingIndicator  = "typing.indicator"
	RoutingUserConnected    = "user.connected"
	RoutingUserDisconnected = "user.disconnected"
	RoutingStoryCreated     = "story.created"
)

// Envelope is the JSON payload carried on every routing key, matching
// the wire protocol frame shape used over the websocket connection.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Bus is a publisher-side handle to the exchange. One Bus is constructed
// per node and reused across emissions; the underlying channel is
// guarded internally.
type Bus struct {
	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
	url  string
}

// Dial connects to url and declares the durable chat_events exchange.
func Dial(url string) (*Bus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, corerr.New(corerr.BusUnavailable, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, corerr.New(corerr.BusUnavailable, err)
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, corerr.New(corerr.BusUnavailable, err)
	}
	return &Bus{conn: conn, ch: ch, url: url}, nil
}

// Close tears down the channel and connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	if b.ch != nil {
		errs = append(errs, b.ch.Close())
	}
	if b.conn != nil {
		errs = append(errs, b.conn.Close())
	}
	return errors.Join(errs...)
}

// Publish marks the message persistent and publishes it under routingKey.
// A publish failure after a Store commit is logged by the caller and
// never surfaced to the client: the message is already durable.
func (b *Bus) Publish(routingKey string, env Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	body, err := json.Marshal(env)
	if err != nil {
		return corerr.New(corerr.Internal, err)
	}

	err = b.ch.Publish(Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    env.Timestamp,
		Body:         body,
	})
	if err != nil {
		return corerr.New(corerr.BusUnavailable, err)
	}
	return nil
}

func unmarshalEnvelope(body []byte, env *Envelope) error {
	return json.Unmarshal(body, env)
}
