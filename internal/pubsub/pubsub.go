// Package pubsub wraps an ephemeral, cross-node publish/subscribe layer
// (Redis via go-redis) keyed by recipient user identifier. It is not
// durable: a publish to a channel with no live subscriber is lost,
// which is acceptable because the Bus (internal/bus) provides the
// redundant at-least-once path.
package pubsub

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/tinode/fanout/internal/corerr"
)

// UserChannel returns the channel name for a user's per-user fan-out.
func UserChannel(userID string) string {
	return "ws:user:" + userID
}

// ChatChannel returns the reserved per-chat broadcast channel name.
func ChatChannel(chatID string) string {
	return "ws:chat:" + chatID
}

// Message is the envelope published to a channel, carrying the
// originating node's instanceID for loop prevention.
type Message struct {
	InstanceID string          `json:"instanceID"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}

// Client is a thin wrapper around *redis.Client scoped to this system's
// publish/subscribe needs.
type Client struct {
	rdb        *redis.Client
	instanceID string
}

// New wraps an already-constructed *redis.Client. instanceID identifies
// this node so that its own publishes can be ignored on receipt.
func New(rdb *redis.Client, instanceID string) *Client {
	return &Client{rdb: rdb, instanceID: instanceID}
}

// Dial connects to a Redis instance given either a redis:// URL or a
// bare host:port address, optionally with a password override.
func Dial(addr, password string, instanceID string) *Client {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	if password != "" {
		opts.Password = password
	}
	return New(redis.NewClient(opts), instanceID)
}

// InstanceID reports the node identity this client tags outgoing messages with.
func (c *Client) InstanceID() string { return c.instanceID }

// Publish marshals payload under typ and publishes it to channel,
// tagging it with this node's instanceID. Publish failure is logged
// by the caller and treated as non-fatal.
func (c *Client) Publish(ctx context.Context, channel, typ string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return corerr.New(corerr.Internal, err)
	}
	msg := Message{InstanceID: c.instanceID, Type: typ, Payload: raw}
	body, err := json.Marshal(msg)
	if err != nil {
		return corerr.New(corerr.Internal, err)
	}
	if err := c.rdb.Publish(ctx, channel, body).Err(); err != nil {
		return corerr.New(corerr.PubSubUnavailable, err)
	}
	return nil
}

// Subscription is a single channel's live subscription.
type Subscription struct {
	ps *redis.PubSub
	ch <-chan *redis.Message
}

// Subscribe opens a subscription to channel. Callers are responsible for
// reference-counting: one subscription per user per node, shared across
// that user's local sessions.
func (c *Client) Subscribe(ctx context.Context, channel string) *Subscription {
	ps := c.rdb.Subscribe(ctx, channel)
	return &Subscription{ps: ps, ch: ps.Channel()}
}

// Close releases the subscription.
func (s *Subscription) Close() error {
	return s.ps.Close()
}

// Receive decodes the next message off the subscription. It returns
// ok=false when the subscription's channel is closed (e.g. after Close).
func (s *Subscription) Receive() (msg Message, ok bool) {
	raw, open := <-s.ch
	if !open {
		return Message{}, false
	}
	var m Message
	if err := json.Unmarshal([]byte(raw.Payload), &m); err != nil {
		return Message{}, false
	}
	return m, true
}

// Close closes the underlying redis client.
func (c *Client) Close() error {
	return c.rdb.Close()
}
