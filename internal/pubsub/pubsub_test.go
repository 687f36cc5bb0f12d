package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinode/fanout/internal/pubsub"
	"github.com/tinode/fanout/internal/pubsub/pubsubtest"
)

func TestChannelNaming(t *testing.T) {
	assert.Equal(t, "ws:user:u1", pubsub.UserChannel("u1"))
	assert.Equal(t, "ws:chat:c1", pubsub.ChatChannel("c1"))
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := pubsubtest.NewClient(t, "node-1")

	sub := c.Subscribe(ctx, pubsub.UserChannel("bob"))
	defer sub.Close()

	// Subscription establishment is asynchronous; give the SUBSCRIBE a
	// moment to land before publishing, or the message is lost (ephemeral
	// delivery has no replay).
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, c.Publish(ctx, pubsub.UserChannel("bob"), "MESSAGE_SENT",
		map[string]string{"id": "m1", "content": "hi"}))

	done := make(chan pubsub.Message, 1)
	go func() {
		if msg, ok := sub.Receive(); ok {
			done <- msg
		}
	}()

	select {
	case msg := <-done:
		assert.Equal(t, "node-1", msg.InstanceID, "published messages carry the origin instanceID")
		assert.Equal(t, "MESSAGE_SENT", msg.Type)
		var payload map[string]string
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		assert.Equal(t, "m1", payload["id"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestReceive_ReturnsNotOKAfterClose(t *testing.T) {
	c := pubsubtest.NewClient(t, "node-1")

	sub := c.Subscribe(context.Background(), pubsub.UserChannel("bob"))
	require.NoError(t, sub.Close())

	_, ok := sub.Receive()
	assert.False(t, ok)
}
