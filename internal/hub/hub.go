// Package hub implements the per-node session registry: the component
// responsible for authenticating sessions, subscribing to the
// recipient's fan-out channel on first connect, unsubscribing on last
// disconnect, and serializing event writes to client sockets. Live
// state is indexed by recipient user id, since cross-node routing is
// keyed by the user a frame is destined for.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tinode/fanout/internal/auth"
	"github.com/tinode/fanout/internal/metrics"
	"github.com/tinode/fanout/internal/pubsub"
)

// TypingEmitter lets the Hub publish a typing.indicator to the Bus
// without depending on the Dispatcher package, keeping the
// Session <-> Hub <-> PubSub cycle broken
// to the Bus only through this narrow interface.
type TypingEmitter interface {
	EmitTyping(ctx context.Context, chatID, userID string, isTyping bool)
	EmitConnected(ctx context.Context, userID string)
	EmitDisconnected(ctx context.Context, userID string)
}

// userEntry tracks the live sessions and the PubSub subscription for one
// user on this node.
type userEntry struct {
	mu       sync.Mutex
	sessions map[*Session]bool
	sub      *pubsub.Subscription
	cancel   context.CancelFunc
}

// Hub is a per-node in-memory registry of live sessions.
type Hub struct {
	mu    sync.RWMutex
	users map[string]*userEntry

	validator auth.Validator
	ps        *pubsub.Client
	emitter   TypingEmitter

	// PingInterval and WriteTimeout override the session timing defaults
	// when set before the first Accept; zero values keep the package
	// defaults (30 s ping, 10 s write).
	PingInterval time.Duration
	WriteTimeout time.Duration

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New constructs a Hub. validator authenticates the handshake bearer
// token; ps is the cross-node PubSub client; emitter is used only to
// publish typing/connect/disconnect events to the Bus.
func New(validator auth.Validator, ps *pubsub.Client, emitter TypingEmitter) *Hub {
	return &Hub{
		users:      map[string]*userEntry{},
		validator:  validator,
		ps:         ps,
		emitter:    emitter,
		shutdownCh: make(chan struct{}),
	}
}

// Authenticate validates a handshake bearer token before the HTTP layer
// upgrades the connection, so an invalid/missing/expired token can still
// be rejected with a plain 401 instead of after switching protocols.
func (h *Hub) Authenticate(token string) (userID string, err error) {
	userID, _, err = h.validator.Validate(token)
	return userID, err
}

// Accept takes an already-upgraded websocket connection for a
// previously authenticated userID and runs the session's read/write
// loops until the connection closes. It blocks until the session
// terminates.
func (h *Hub) Accept(ws *websocket.Conn, userID, userAgent string) error {
	sess := newSession(uuid.NewString(), userID, userAgent, ws, h.PingInterval, h.WriteTimeout)
	h.register(sess)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sess.writeLoop()
	}()

	sess.readLoop(
		func(chatID string, isTyping bool) {
			h.emitter.EmitTyping(context.Background(), chatID, userID, isTyping)
		},
		func() {
			h.unregister(sess)
			sess.close()
		},
	)

	wg.Wait()
	return nil
}

// register adds sess to the local set for its user. If this is the
// user's first live session on this node, it subscribes to the user's
// PubSub channel and emits user.connected.
func (h *Hub) register(sess *Session) {
	entry := h.entryFor(sess.userID, true)

	entry.mu.Lock()
	first := len(entry.sessions) == 0
	entry.sessions[sess] = true
	entry.mu.Unlock()
	metrics.SessionsActive.Inc()

	if first {
		h.subscribe(entry, sess.userID)
		h.emitter.EmitConnected(context.Background(), sess.userID)
	}
}

// unregister removes sess from the local set. If the set becomes empty,
// it unsubscribes PubSub and emits user.disconnected.
func (h *Hub) unregister(sess *Session) {
	h.mu.RLock()
	entry, ok := h.users[sess.userID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	if _, live := entry.sessions[sess]; live {
		delete(entry.sessions, sess)
		metrics.SessionsActive.Dec()
	}
	last := len(entry.sessions) == 0
	var cancel context.CancelFunc
	if last {
		cancel = entry.cancel
	}
	entry.mu.Unlock()

	if last {
		if cancel != nil {
			cancel()
		}
		if entry.sub != nil {
			entry.sub.Close()
		}
		h.mu.Lock()
		delete(h.users, sess.userID)
		h.mu.Unlock()
		h.emitter.EmitDisconnected(context.Background(), sess.userID)
	}
}

func (h *Hub) entryFor(userID string, create bool) *userEntry {
	h.mu.RLock()
	entry, ok := h.users[userID]
	h.mu.RUnlock()
	if ok || !create {
		return entry
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if entry, ok := h.users[userID]; ok {
		return entry
	}
	entry = &userEntry{sessions: map[*Session]bool{}}
	h.users[userID] = entry
	return entry
}

// subscribe opens this node's PubSub subscription for userID and starts
// a receive loop that re-invokes local delivery only, never re-publishing
// to PubSub, which is what keeps the Session <-> Hub <-> PubSub delivery
// loop from re-broadcasting a message it just received.
func (h *Hub) subscribe(entry *userEntry, userID string) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := h.ps.Subscribe(ctx, pubsub.UserChannel(userID))

	entry.mu.Lock()
	entry.sub = sub
	entry.cancel = cancel
	entry.mu.Unlock()

	go func() {
		for {
			msg, ok := sub.Receive()
			if !ok {
				return
			}
			if msg.InstanceID == h.ps.InstanceID() {
				// This node originated the message; it already delivered
				// locally before publishing. Ignore to avoid a double
				// delivery.
				continue
			}
			h.deliverLocal(userID, ServerFrame{
				Type:      msg.Type,
				Payload:   json.RawMessage(msg.Payload),
				Timestamp: time.Now().UTC(),
			})
		}
	}()
}

// DeliverToUser writes event to every writable local session for userID,
// then publishes it to ws:user:<userID> on PubSub so subscriber nodes
// re-invoke local delivery there too. This is the system's broadcast
// primitive.
func (h *Hub) DeliverToUser(ctx context.Context, userID string, frame ServerFrame) {
	h.deliverLocal(userID, frame)

	payload, err := json.Marshal(frame.Payload)
	if err != nil {
		log.Printf("hub: failed to marshal payload for %s: %v", userID, err)
		return
	}
	if err := h.ps.Publish(ctx, pubsub.UserChannel(userID), frame.Type, json.RawMessage(payload)); err != nil {
		// Non-fatal: local same-node sessions already received it above.
		log.Printf("hub: pubsub publish to %s failed: %v", userID, err)
	}
}

// deliverLocal writes frame to every writable session in the local set
// for userID. It never touches PubSub.
func (h *Hub) deliverLocal(userID string, frame ServerFrame) {
	entry := h.entryFor(userID, false)
	if entry == nil {
		return
	}

	entry.mu.Lock()
	sessions := make([]*Session, 0, len(entry.sessions))
	for s := range entry.sessions {
		sessions = append(sessions, s)
	}
	entry.mu.Unlock()

	for _, s := range sessions {
		if s.writable() {
			s.queueOut(frame)
		}
	}
}

// LocalSessionCount reports how many live sessions this node holds for
// userID, for tests and diagnostics.
func (h *Hub) LocalSessionCount(userID string) int {
	entry := h.entryFor(userID, false)
	if entry == nil {
		return 0
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return len(entry.sessions)
}

// Shutdown closes every local session and unsubscribes every channel,
// bounded by a deadline on ctx.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() { close(h.shutdownCh) })

	h.mu.Lock()
	entries := make([]*userEntry, 0, len(h.users))
	for _, e := range h.users {
		entries = append(entries, e)
	}
	h.users = map[string]*userEntry{}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, entry := range entries {
			entry.mu.Lock()
			for s := range entry.sessions {
				s.close()
			}
			if entry.cancel != nil {
				entry.cancel()
			}
			if entry.sub != nil {
				entry.sub.Close()
			}
			entry.mu.Unlock()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
