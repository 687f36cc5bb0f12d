package consumer_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinode/fanout/internal/bus"
	"github.com/tinode/fanout/internal/consumer"
	"github.com/tinode/fanout/internal/hub"
	"github.com/tinode/fanout/internal/store/storetest"
	"github.com/tinode/fanout/internal/types"
)

// fakeBinder invokes handle synchronously instead of consuming from a
// real AMQP channel, letting tests drive specific envelopes directly.
type fakeBinder struct {
	handle bus.Handler
}

func (b *fakeBinder) Bind(_ context.Context, _ string, _ []string, handle bus.Handler) (*bus.Subscription, error) {
	b.handle = handle
	return nil, nil
}

type recordingHub struct {
	mu   sync.Mutex
	recv map[string][]hub.ServerFrame
}

func newRecordingHub() *recordingHub {
	return &recordingHub{recv: map[string][]hub.ServerFrame{}}
}

func (h *recordingHub) DeliverToUser(_ context.Context, userID string, frame hub.ServerFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recv[userID] = append(h.recv[userID], frame)
}

func (h *recordingHub) countFor(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.recv[userID])
}

func mustEnvelope(t *testing.T, frameType string, payload interface{}) bus.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return bus.Envelope{Type: frameType, Payload: raw, Timestamp: time.Now().UTC()}
}

func TestConsumer_MessageSent_DeliversToAllButSender(t *testing.T) {
	ctx := context.Background()
	st := storetest.New()
	chatID, err := st.CreatePersonalChat(ctx, "alice", "bob")
	require.NoError(t, err)

	rh := newRecordingHub()
	c := consumer.New(st, rh)
	binder := &fakeBinder{}
	_, err = c.Start(ctx, binder, "fanout.node-1")
	require.NoError(t, err)

	msg := types.Message{ID: "m1", ChatID: chatID, SenderID: "alice", Kind: types.MsgText, Content: "hi"}
	require.NoError(t, binder.handle(ctx, bus.RoutingMessageSent, mustEnvelope(t, hub.TypeMessageSent, msg)))

	assert.Equal(t, 1, rh.countFor("bob"))
	assert.Equal(t, 0, rh.countFor("alice"))
}

func TestConsumer_MessageRead_DeliversToEveryMember(t *testing.T) {
	ctx := context.Background()
	st := storetest.New()
	chatID, err := st.CreatePersonalChat(ctx, "alice", "bob")
	require.NoError(t, err)

	rh := newRecordingHub()
	c := consumer.New(st, rh)
	binder := &fakeBinder{}
	_, err = c.Start(ctx, binder, "fanout.node-1")
	require.NoError(t, err)

	payload := hub.MessageReadPayload{ChatID: chatID, MessageID: "m1", UserID: "bob"}
	require.NoError(t, binder.handle(ctx, bus.RoutingMessageRead, mustEnvelope(t, hub.TypeMessageRead, payload)))

	assert.Equal(t, 1, rh.countFor("alice"))
	assert.Equal(t, 1, rh.countFor("bob"))
}

func TestConsumer_TypingIndicator_ExcludesTypist(t *testing.T) {
	ctx := context.Background()
	st := storetest.New()
	chatID, err := st.CreatePersonalChat(ctx, "alice", "bob")
	require.NoError(t, err)

	rh := newRecordingHub()
	c := consumer.New(st, rh)
	binder := &fakeBinder{}
	_, err = c.Start(ctx, binder, "fanout.node-1")
	require.NoError(t, err)

	payload := hub.TypingIndicatorBroadcast{ChatID: chatID, UserID: "alice", IsTyping: true}
	require.NoError(t, binder.handle(ctx, bus.RoutingTypingIndicator, mustEnvelope(t, hub.TypeTypingIndicator, payload)))

	assert.Equal(t, 1, rh.countFor("bob"))
	assert.Equal(t, 0, rh.countFor("alice"))
}

func TestConsumer_UnknownRoutingKeyIsIgnored(t *testing.T) {
	ctx := context.Background()
	st := storetest.New()
	rh := newRecordingHub()
	c := consumer.New(st, rh)
	binder := &fakeBinder{}
	_, err := c.Start(ctx, binder, "fanout.node-1")
	require.NoError(t, err)

	err = binder.handle(ctx, bus.RoutingStoryCreated, mustEnvelope(t, "STORY_CREATED", map[string]string{}))
	assert.NoError(t, err)
}
