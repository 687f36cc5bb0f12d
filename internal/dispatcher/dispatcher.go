// Package dispatcher implements the sole authority that mutates the
// Store and emits real-time events. It accepts API write calls,
// enforces authorization and dedup-of-block, writes to Store, and emits
// to Bus and PubSub.
package dispatcher

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tinode/fanout/internal/bus"
	"github.com/tinode/fanout/internal/corerr"
	"github.com/tinode/fanout/internal/hub"
	"github.com/tinode/fanout/internal/metrics"
	"github.com/tinode/fanout/internal/store"
	"github.com/tinode/fanout/internal/types"
)

// Hub is the narrow interface the Dispatcher needs from the session
// layer: delivering an event to every local/remote session of one user.
// Keeping it narrow lets Dispatcher and Hub be constructed without
// depending on each other's concrete types.
type Hub interface {
	DeliverToUser(ctx context.Context, userID string, frame hub.ServerFrame)
}

// Publisher is the narrow interface the Dispatcher needs from the Bus.
// *bus.Bus satisfies it; tests substitute a no-op recorder so Store/Hub
// behavior can be exercised without a live RabbitMQ.
type Publisher interface {
	Publish(routingKey string, env bus.Envelope) error
}

// Dispatcher is the single writer of the Store and single emitter to Bus
// and PubSub.
type Dispatcher struct {
	store store.Store
	bus   Publisher
	hub   Hub
}

// New constructs a Dispatcher. h may be nil and supplied later via
// SetHub, since the Hub's own constructor in turn depends on the
// Dispatcher as its TypingEmitter (cmd/fanoutd wires the two together
// after both exist).
func New(st store.Store, b Publisher, h Hub) *Dispatcher {
	return &Dispatcher{store: st, bus: b, hub: h}
}

// SetHub wires the Hub in after construction, breaking the
// Dispatcher<->Hub constructor cycle.
func (d *Dispatcher) SetHub(h Hub) {
	d.hub = h
}

var _ hub.TypingEmitter = (*Dispatcher)(nil)

// EmitTyping implements hub.TypingEmitter, letting the Hub ask the
// Dispatcher to publish a typing.indicator without the Hub depending on
// the Dispatcher package directly (it depends on the interface from its
// own package; Dispatcher is wired in at startup).
func (d *Dispatcher) EmitTyping(ctx context.Context, chatID, userID string, isTyping bool) {
	now := time.Now().UTC()
	payload := hub.TypingIndicatorBroadcast{ChatID: chatID, UserID: userID, IsTyping: isTyping}

	d.publishBusBestEffort(bus.RoutingTypingIndicator, hub.TypeTypingIndicator, payload, now)

	members, err := d.store.ListMembers(ctx, chatID)
	if err != nil {
		log.Printf("dispatcher: typing: failed to list members of %s: %v", chatID, err)
		return
	}
	for _, m := range members {
		if m.UserID == userID {
			continue
		}
		d.hub.DeliverToUser(ctx, m.UserID, frameFor(hub.TypeTypingIndicator, payload, now))
	}
}

// EmitConnected implements hub.TypingEmitter.
func (d *Dispatcher) EmitConnected(ctx context.Context, userID string) {
	if err := d.store.UpdatePresence(ctx, userID, types.PresenceOnline); err != nil {
		log.Printf("dispatcher: failed to mark %s online: %v", userID, err)
	}
	d.publishBusBestEffort(bus.RoutingUserConnected, hub.TypeUserConnected, hub.PresencePayload{UserID: userID}, time.Now().UTC())
}

// EmitDisconnected implements hub.TypingEmitter.
func (d *Dispatcher) EmitDisconnected(ctx context.Context, userID string) {
	if err := d.store.UpdatePresence(ctx, userID, types.PresenceOffline); err != nil {
		log.Printf("dispatcher: failed to mark %s offline: %v", userID, err)
	}
	d.publishBusBestEffort(bus.RoutingUserDisconnected, hub.TypeUserDisconnected, hub.PresencePayload{UserID: userID}, time.Now().UTC())
}

// SendToChat validates membership and the block flag, then persists and
// fans out a message sent directly to a chat. The check here is an
// advisory fast path: the authoritative blocked check happens inside
// InsertMessageClearingBlock under a row lock, so a Block that commits
// between this read and the insert still rejects the send.
func (d *Dispatcher) SendToChat(ctx context.Context, chatID, senderID string, kind types.MessageKind, content, mediaURL string) (*types.Message, error) {
	membership, err := d.store.GetMembership(ctx, chatID, senderID)
	if err != nil {
		return nil, err
	}
	if membership.Blocked {
		return nil, corerr.Forbiddenf(corerr.ReasonBlocked, "dispatcher: sender %q has blocked this chat", senderID)
	}

	msg := &types.Message{
		ID:       uuid.NewString(),
		ChatID:   chatID,
		SenderID: senderID,
		Kind:     kind,
		Content:  content,
		MediaURL: mediaURL,
	}

	if err := d.store.InsertMessageClearingBlock(ctx, msg); err != nil {
		return nil, err
	}
	metrics.MessagesSent.Inc()

	d.emitMessageSent(ctx, msg)

	return msg, nil
}

// SendToUser auto-creates a personal chat between the two users if one
// doesn't already exist, then behaves like SendToChat.
func (d *Dispatcher) SendToUser(ctx context.Context, senderID, recipientID string, kind types.MessageKind, content, mediaURL string) (*types.Message, error) {
	if senderID == recipientID {
		return nil, corerr.Forbiddenf(corerr.ReasonSelfSend, "dispatcher: %q cannot message itself", senderID)
	}

	chatID, err := d.store.FindPersonalChat(ctx, senderID, recipientID)
	if corerr.KindOf(err) == corerr.NotFound {
		chatID, err = d.store.CreatePersonalChat(ctx, senderID, recipientID)
	}
	if err != nil {
		return nil, err
	}

	recipientMembership, err := d.store.GetMembership(ctx, chatID, recipientID)
	if err != nil {
		return nil, err
	}
	if recipientMembership.Blocked {
		return nil, corerr.Forbiddenf(corerr.ReasonBlockedByRecipient, "dispatcher: %q has blocked %q", recipientID, senderID)
	}

	return d.SendToChat(ctx, chatID, senderID, kind, content, mediaURL)
}

// CreatePersonalChat idempotently looks up or creates the personal chat
// between the two users.
func (d *Dispatcher) CreatePersonalChat(ctx context.Context, currentID, otherID string) (string, error) {
	chatID, err := d.store.FindPersonalChat(ctx, currentID, otherID)
	if corerr.KindOf(err) == corerr.NotFound {
		return d.store.CreatePersonalChat(ctx, currentID, otherID)
	}
	return chatID, err
}

// CreateChannel creates a channel chat with creatorID as its sole admin.
func (d *Dispatcher) CreateChannel(ctx context.Context, creatorID, name string) (string, error) {
	if name == "" {
		return "", corerr.Validationf("dispatcher: channel name is required")
	}
	return d.store.CreateChannel(ctx, creatorID, name)
}

// Block sets the blocked flag on userID's membership in chatID. Idempotent.
func (d *Dispatcher) Block(ctx context.Context, chatID, userID string) error {
	return d.store.SetBlocked(ctx, chatID, userID, true)
}

// Unblock clears the blocked flag. Idempotent.
func (d *Dispatcher) Unblock(ctx context.Context, chatID, userID string) error {
	return d.store.SetBlocked(ctx, chatID, userID, false)
}

// CreateStory persists a story expiring 24 hours out and announces it on
// the Bus for downstream consumers (push, archival). No Hub fan-out:
// stories are pull-only over the HTTP surface.
func (d *Dispatcher) CreateStory(ctx context.Context, userID, mediaURL string) (*types.Story, error) {
	if mediaURL == "" {
		return nil, corerr.Validationf("dispatcher: story mediaUrl is required")
	}
	s := &types.Story{
		ID:        uuid.NewString(),
		UserID:    userID,
		MediaURL:  mediaURL,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.store.CreateStory(ctx, s); err != nil {
		return nil, err
	}
	d.publishBusBestEffort(bus.RoutingStoryCreated, hub.TypeStoryCreated, s, s.CreatedAt)
	return s, nil
}

// MarkRead emits a read receipt over the Bus and to every member's Hub
// session, with no Store write, since read receipts are ephemeral.
func (d *Dispatcher) MarkRead(ctx context.Context, chatID, messageID, userID string) error {
	now := time.Now().UTC()
	payload := hub.MessageReadPayload{ChatID: chatID, MessageID: messageID, UserID: userID}

	d.publishBusBestEffort(bus.RoutingMessageRead, hub.TypeMessageRead, payload, now)

	members, err := d.store.ListMembers(ctx, chatID)
	if err != nil {
		return err
	}
	frame := frameFor(hub.TypeMessageRead, payload, now)
	for _, m := range members {
		d.hub.DeliverToUser(ctx, m.UserID, frame)
	}
	return nil
}

// emitMessageSent publishes message.sent to the Bus and delivers it to
// every member except the sender via the Hub. Bus and Hub failures
// after the Store commit are logged and not surfaced: the write already
// succeeded.
func (d *Dispatcher) emitMessageSent(ctx context.Context, msg *types.Message) {
	d.publishBusBestEffort(bus.RoutingMessageSent, hub.TypeMessageSent, msg, msg.CreatedAt)

	members, err := d.store.ListMembers(ctx, msg.ChatID)
	if err != nil {
		log.Printf("dispatcher: failed to list members of %s for fan-out: %v", msg.ChatID, err)
		return
	}

	frame := frameFor(hub.TypeMessageSent, msg, msg.CreatedAt)
	for _, m := range members {
		if m.UserID == msg.SenderID {
			continue
		}
		d.hub.DeliverToUser(ctx, m.UserID, frame)
	}
}

func (d *Dispatcher) publishBusBestEffort(routingKey, frameType string, payload interface{}, ts time.Time) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("dispatcher: failed to marshal %s payload: %v", frameType, err)
		return
	}
	if err := d.bus.Publish(routingKey, bus.Envelope{Type: frameType, Payload: raw, Timestamp: ts}); err != nil {
		metrics.BusPublishFailures.Inc()
		log.Printf("dispatcher: bus publish %s failed (non-fatal, write already durable): %v", routingKey, err)
	}
}

func frameFor(frameType string, payload interface{}, ts time.Time) hub.ServerFrame {
	return hub.ServerFrame{Type: frameType, Payload: payload, Timestamp: ts}
}
