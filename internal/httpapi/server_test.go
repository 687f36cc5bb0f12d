package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinode/fanout/internal/auth"
	"github.com/tinode/fanout/internal/bus"
	"github.com/tinode/fanout/internal/dispatcher"
	"github.com/tinode/fanout/internal/hub"
	"github.com/tinode/fanout/internal/httpapi"
	"github.com/tinode/fanout/internal/store/storetest"
	"github.com/tinode/fanout/internal/types"
)

type noopPublisher struct{}

func (noopPublisher) Publish(string, bus.Envelope) error { return nil }

type noopHub struct{}

func (noopHub) DeliverToUser(context.Context, string, hub.ServerFrame) {}

func newTestServer(t *testing.T) (http.Handler, *storetest.Fake, *auth.TokenAuth) {
	t.Helper()
	st := storetest.New()
	tokens, err := auth.New(auth.Config{Secret: bytes.Repeat([]byte("k"), 32)})
	require.NoError(t, err)
	d := dispatcher.New(st, noopPublisher{}, noopHub{})
	srv := httpapi.New(st, d, nil, tokens, nil)
	return srv.Handler(), st, tokens
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h, _, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fanout_")
}

func TestSignupThenLogin(t *testing.T) {
	h, _, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": "Alice", "phone": "+15550001", "password": "hunter22",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var signup map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &signup))
	require.NotEmpty(t, signup["token"])

	rec = doJSON(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{
		"phone": "+15550001", "password": "hunter22",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{
		"phone": "+15550001", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetMeRequiresAuth(t *testing.T) {
	h, _, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/api/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSendToUserCreatesChatAndMessage(t *testing.T) {
	h, st, tokens := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, st.CreateUser(ctx, &types.User{ID: "alice", Name: "Alice", Phone: "+15550001"}, "hash"))
	require.NoError(t, st.CreateUser(ctx, &types.User{ID: "bob", Name: "Bob", Phone: "+15550002"}, "hash"))
	aliceToken, _, err := tokens.Mint("alice")
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodPost, "/api/users/bob/messages", aliceToken, map[string]string{
		"type": "text", "content": "hi bob",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "alice", msg["senderId"])
	assert.Equal(t, "hi bob", msg["content"])
}

func TestCreateAndListStories(t *testing.T) {
	h, _, tokens := newTestServer(t)

	aliceToken, _, err := tokens.Mint("alice")
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodPost, "/api/stories", aliceToken, map[string]string{
		"mediaUrl": "https://cdn.example.com/pic.jpg",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/stories", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stories []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stories))
	require.Len(t, stories, 1)
	assert.Equal(t, "alice", stories[0]["userId"])

	rec = doJSON(t, h, http.MethodPost, "/api/stories", aliceToken, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlockThenSendIsForbidden(t *testing.T) {
	h, st, tokens := newTestServer(t)
	ctx := context.Background()

	chatID, err := st.CreatePersonalChat(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NoError(t, st.SetBlocked(ctx, chatID, "alice", true))

	aliceToken, _, err := tokens.Mint("alice")
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodPost, "/api/chats/"+chatID+"/messages", aliceToken, map[string]string{
		"type": "text", "content": "hi",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Blocked", body["reason"])
}
