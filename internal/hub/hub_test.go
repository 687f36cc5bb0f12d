package hub_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinode/fanout/internal/hub"
	"github.com/tinode/fanout/internal/pubsub"
	"github.com/tinode/fanout/internal/pubsub/pubsubtest"
)

// fakeValidator maps every non-empty token to its own string as the
// user id, so tests can dial with "?token=alice" and land in Hub as
// user "alice" without a real auth.TokenAuth.
type fakeValidator struct{}

func (fakeValidator) Validate(token string) (string, time.Time, error) {
	if token == "" {
		return "", time.Time{}, assert.AnError
	}
	return token, time.Now().Add(time.Hour), nil
}

// recordingEmitter records every EmitConnected/EmitDisconnected/EmitTyping
// call instead of touching a real Bus.
type recordingEmitter struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
	typingChatID string
	typingUserID string
}

func (r *recordingEmitter) EmitTyping(_ context.Context, chatID, userID string, isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typingChatID, r.typingUserID = chatID, userID
}

func (r *recordingEmitter) EmitConnected(_ context.Context, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, userID)
}

func (r *recordingEmitter) EmitDisconnected(_ context.Context, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = append(r.disconnected, userID)
}

func (r *recordingEmitter) connectedCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.connected {
		if u == userID {
			n++
		}
	}
	return n
}

// wsHandlerFor mirrors httpapi.Server.handleWebsocket: validate the
// bearer token before upgrading, so a bad token gets a plain 401
// instead of a websocket that is opened and immediately closed.
func wsHandlerFor(h *hub.Hub) http.HandlerFunc {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := h.Authenticate(r.URL.Query().Get("token"))
		if err != nil {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Accept(ws, userID, r.UserAgent())
	}
}

// newTestNode starts an httptest server fronting a Hub wired to the
// shared miniredis instance under a distinct instanceID, simulating one
// fleet node.
func newTestNode(t *testing.T, instanceID string) (*hub.Hub, *httptest.Server, *recordingEmitter) {
	t.Helper()
	ps := pubsubtest.NewClient(t, instanceID)
	emitter := &recordingEmitter{}
	h := hub.New(fakeValidator{}, ps, emitter)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandlerFor(h))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return h, srv, emitter
}

// newNodeOnServer builds one fleet node's Hub against an already-running
// miniredis server (addr), so multiple nodes can share the same
// cross-node PubSub backend the way independent fanoutd processes would
// share one Redis deployment.
func newNodeOnServer(t *testing.T, addr, instanceID string) (*hub.Hub, *httptest.Server, *recordingEmitter) {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	ps := pubsub.New(rdb, instanceID)
	emitter := &recordingEmitter{}
	h := hub.New(fakeValidator{}, ps, emitter)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandlerFor(h))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return h, srv, emitter
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return ws
}

func TestAccept_RejectsMissingToken(t *testing.T) {
	_, srv, _ := newTestNode(t, "node-1")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if resp != nil {
		assert.NotEqual(t, http.StatusOK, resp.StatusCode)
	}
}

func TestRegister_FirstSessionEmitsConnected(t *testing.T) {
	h, srv, emitter := newTestNode(t, "node-1")

	ws := dialWS(t, srv, "alice")
	defer ws.Close()

	require.Eventually(t, func() bool { return h.LocalSessionCount("alice") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, emitter.connectedCount("alice"))

	ws2 := dialWS(t, srv, "alice")
	defer ws2.Close()
	require.Eventually(t, func() bool { return h.LocalSessionCount("alice") == 2 }, time.Second, 5*time.Millisecond)
	// A second session for the same user on the same node must not
	// re-emit user.connected.
	assert.Equal(t, 1, emitter.connectedCount("alice"))
}

func TestUnregister_LastSessionEmitsDisconnected(t *testing.T) {
	h, srv, emitter := newTestNode(t, "node-1")

	ws := dialWS(t, srv, "alice")
	require.Eventually(t, func() bool { return h.LocalSessionCount("alice") == 1 }, time.Second, 5*time.Millisecond)

	ws.Close()
	require.Eventually(t, func() bool {
		emitter.mu.Lock()
		defer emitter.mu.Unlock()
		return len(emitter.disconnected) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "alice", emitter.disconnected[0])
	assert.Equal(t, 0, h.LocalSessionCount("alice"))
}

func TestDeliverToUser_LocalSessionReceivesFrame(t *testing.T) {
	h, srv, _ := newTestNode(t, "node-1")

	ws := dialWS(t, srv, "bob")
	defer ws.Close()
	require.Eventually(t, func() bool { return h.LocalSessionCount("bob") == 1 }, time.Second, 5*time.Millisecond)

	h.DeliverToUser(context.Background(), "bob", hub.ServerFrame{Type: hub.TypeMessageSent, Payload: map[string]string{"content": "hi"}})

	ws.SetReadDeadline(time.Now().Add(time.Second))
	_, body, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(body), "MESSAGE_SENT")
	assert.Contains(t, string(body), "hi")
}

func TestTypingIndicator_ReadLoopForwardsToEmitter(t *testing.T) {
	h, srv, emitter := newTestNode(t, "node-1")

	ws := dialWS(t, srv, "alice")
	defer ws.Close()
	require.Eventually(t, func() bool { return h.LocalSessionCount("alice") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"TYPING_INDICATOR","payload":{"chatId":"c1","isTyping":true}}`)))

	require.Eventually(t, func() bool {
		emitter.mu.Lock()
		defer emitter.mu.Unlock()
		return emitter.typingChatID == "c1" && emitter.typingUserID == "alice"
	}, time.Second, 5*time.Millisecond)
}

// TestCrossNodeDeliver covers a sender on node A delivering to a
// recipient whose only live session is on node B, via the shared PubSub
// backend, and checks that the sender's own socket on node A receives
// nothing from that delivery.
func TestCrossNodeDeliver(t *testing.T) {
	srv := miniredis.RunT(t)

	hubA, srvA, _ := newNodeOnServer(t, srv.Addr(), "node-A")
	hubB, srvB, _ := newNodeOnServer(t, srv.Addr(), "node-B")

	wsSenderOnA := dialWS(t, srvA, "alice")
	defer wsSenderOnA.Close()
	wsRecipientOnB := dialWS(t, srvB, "bob")
	defer wsRecipientOnB.Close()

	require.Eventually(t, func() bool { return hubA.LocalSessionCount("alice") == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return hubB.LocalSessionCount("bob") == 1 }, time.Second, 5*time.Millisecond)

	hubA.DeliverToUser(context.Background(), "bob", hub.ServerFrame{
		Type:    hub.TypeMessageSent,
		Payload: map[string]string{"id": "m1", "content": "hi bob"},
	})

	wsRecipientOnB.SetReadDeadline(time.Now().Add(time.Second))
	_, body, err := wsRecipientOnB.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(body), "hi bob")

	// Node A never had a local session for bob, so nothing should ever
	// arrive on alice's own socket from this delivery.
	wsSenderOnA.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = wsSenderOnA.ReadMessage()
	assert.Error(t, err, "sender's own socket must not receive the delivery meant for bob")
}
