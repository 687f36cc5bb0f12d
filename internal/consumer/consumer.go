// Package consumer implements the Bus-backed redundant delivery path: a
// per-node background worker that consumes the node-local durable queue
// and re-derives the same Hub.DeliverToUser calls the Dispatcher's
// direct PubSub publish already made, so a node that misses a PubSub
// message still converges. Clients dedup by message id; the two paths
// overlapping is expected.
package consumer

import (
	"context"
	"encoding/json"
	"log"

	"github.com/tinode/fanout/internal/bus"
	"github.com/tinode/fanout/internal/hub"
	"github.com/tinode/fanout/internal/store"
	"github.com/tinode/fanout/internal/types"
)

// Hub is the narrow interface the Consumer needs from the session layer.
type Hub interface {
	DeliverToUser(ctx context.Context, userID string, frame hub.ServerFrame)
}

// MemberLister is the narrow Store slice the Consumer needs to resolve
// a chat's recipients.
type MemberLister interface {
	ListMembers(ctx context.Context, chatID string) ([]types.Membership, error)
}

// QueuePatterns are the routing-key patterns the Consumer binds to.
var QueuePatterns = []string{bus.RoutingMessageSent, bus.RoutingMessageRead, bus.RoutingTypingIndicator}

// Binder is the narrow Bus capability the Consumer needs: binding a
// durable node-local queue to a handler.
type Binder interface {
	Bind(ctx context.Context, queueName string, patterns []string, handle bus.Handler) (*bus.Subscription, error)
}

// Consumer binds one node-local queue to the chat_events exchange and
// re-derives Hub deliveries from bus envelopes.
type Consumer struct {
	store store.Store
	hub   Hub
}

// New constructs a Consumer.
func New(st store.Store, h Hub) *Consumer {
	return &Consumer{store: st, hub: h}
}

// Start binds queueName (one per node, typically "fanout.<instanceID>")
// to QueuePatterns and begins handling deliveries until ctx is
// cancelled. It returns the live Subscription so the caller can Close it
// during shutdown.
func (c *Consumer) Start(ctx context.Context, b Binder, queueName string) (*bus.Subscription, error) {
	return b.Bind(ctx, queueName, QueuePatterns, c.handle)
}

func (c *Consumer) handle(ctx context.Context, routingKey string, env bus.Envelope) error {
	switch routingKey {
	case bus.RoutingMessageSent:
		return c.handleMessageSent(ctx, env)
	case bus.RoutingMessageRead:
		return c.handleMessageRead(ctx, env)
	case bus.RoutingTypingIndicator:
		return c.handleTypingIndicator(ctx, env)
	default:
		log.Printf("consumer: ignoring unbound routing key %q", routingKey)
		return nil
	}
}

func (c *Consumer) handleMessageSent(ctx context.Context, env bus.Envelope) error {
	var msg types.Message
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return err
	}
	return c.fanOutExcept(ctx, msg.ChatID, msg.SenderID, hub.ServerFrame{
		Type:      hub.TypeMessageSent,
		Payload:   msg,
		Timestamp: env.Timestamp,
	})
}

func (c *Consumer) handleMessageRead(ctx context.Context, env bus.Envelope) error {
	var payload hub.MessageReadPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return err
	}
	return c.fanOutExcept(ctx, payload.ChatID, "", hub.ServerFrame{
		Type:      hub.TypeMessageRead,
		Payload:   payload,
		Timestamp: env.Timestamp,
	})
}

func (c *Consumer) handleTypingIndicator(ctx context.Context, env bus.Envelope) error {
	var payload hub.TypingIndicatorBroadcast
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return err
	}
	return c.fanOutExcept(ctx, payload.ChatID, payload.UserID, hub.ServerFrame{
		Type:      hub.TypeTypingIndicator,
		Payload:   payload,
		Timestamp: env.Timestamp,
	})
}

// fanOutExcept delivers frame to every member of chatID other than
// excludeUserID (pass "" to exclude no one, as with message.read).
func (c *Consumer) fanOutExcept(ctx context.Context, chatID, excludeUserID string, frame hub.ServerFrame) error {
	members, err := c.store.ListMembers(ctx, chatID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.UserID == excludeUserID {
			continue
		}
		c.hub.DeliverToUser(ctx, m.UserID, frame)
	}
	return nil
}
