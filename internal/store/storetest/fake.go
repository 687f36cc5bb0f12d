// Package storetest provides an in-memory store.Store fake for unit
// tests of the Dispatcher and HTTP layer, avoiding the need for a live
// PostgreSQL instance to exercise write-path authorization and ordering
// invariants.
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinode/fanout/internal/corerr"
	storepkg "github.com/tinode/fanout/internal/store"
	"github.com/tinode/fanout/internal/types"
)

// Fake is a goroutine-safe, in-memory implementation of store.Store.
type Fake struct {
	mu sync.Mutex

	users      map[string]types.User
	passwords  map[string]string // userID -> hash
	phoneIndex map[string]string // phone -> userID
	chats      map[string]types.Chat
	members    map[string]map[string]types.Membership // chatID -> userID -> membership
	messages   map[string][]types.Message              // chatID -> messages
	stories    map[string]types.Story
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		users:      map[string]types.User{},
		passwords:  map[string]string{},
		phoneIndex: map[string]string{},
		chats:      map[string]types.Chat{},
		members:    map[string]map[string]types.Membership{},
		messages:   map[string][]types.Message{},
		stories:    map[string]types.Story{},
	}
}

func (f *Fake) Open(ctx context.Context, dsn string) error { return nil }

func (f *Fake) Close() error { return nil }

func (f *Fake) Migrate(ctx context.Context) error { return nil }

// CreateUser implements store.Store.
func (f *Fake) CreateUser(ctx context.Context, u *types.User, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.phoneIndex[u.Phone]; ok {
		return corerr.Conflictf("store: phone already registered")
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Status == "" {
		u.Status = types.PresenceOffline
	}
	f.users[u.ID] = *u
	f.passwords[u.ID] = passwordHash
	f.phoneIndex[u.Phone] = u.ID
	return nil
}

// GetUser implements store.Store.
func (f *Fake) GetUser(ctx context.Context, id string) (*types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, corerr.NotFoundf("store: user %q not found", id)
	}
	return &u, nil
}

// GetUserByPhone implements store.Store.
func (f *Fake) GetUserByPhone(ctx context.Context, phone string) (*types.User, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.phoneIndex[phone]
	if !ok {
		return nil, "", corerr.NotFoundf("store: no user with phone %q", phone)
	}
	u := f.users[id]
	return &u, f.passwords[id], nil
}

// SearchUsers implements store.Store with a naive substring match.
func (f *Fake) SearchUsers(ctx context.Context, query string) ([]types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.User
	for _, u := range f.users {
		if strings.Contains(u.Name, query) || strings.Contains(u.Phone, query) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpdateUser implements store.Store.
func (f *Fake) UpdateUser(ctx context.Context, id string, name, email, avatar *string) (*types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, corerr.NotFoundf("store: user %q not found", id)
	}
	if name != nil {
		u.Name = *name
	}
	if email != nil {
		u.Email = *email
	}
	if avatar != nil {
		u.Avatar = *avatar
	}
	f.users[id] = u
	return &u, nil
}

// UpdatePresence implements store.Store.
func (f *Fake) UpdatePresence(ctx context.Context, id string, status types.PresenceStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return corerr.NotFoundf("store: user %q not found", id)
	}
	u.Status = status
	u.LastSeen = time.Now().UTC()
	f.users[id] = u
	return nil
}

// GetChat implements store.Store.
func (f *Fake) GetChat(ctx context.Context, id string) (*types.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[id]
	if !ok {
		return nil, corerr.NotFoundf("store: chat %q not found", id)
	}
	return &c, nil
}

// ListChatsForUser implements store.Store.
func (f *Fake) ListChatsForUser(ctx context.Context, userID string) ([]types.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Chat
	for chatID, mm := range f.members {
		if _, ok := mm[userID]; ok {
			out = append(out, f.chats[chatID])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *Fake) findPersonalChatLocked(userA, userB string) (string, bool) {
	for chatID, mm := range f.members {
		c := f.chats[chatID]
		if c.Kind != types.ChatPersonal {
			continue
		}
		_, hasA := mm[userA]
		_, hasB := mm[userB]
		if hasA && hasB && len(mm) == 2 {
			return chatID, true
		}
	}
	return "", false
}

// FindPersonalChat implements store.Store.
func (f *Fake) FindPersonalChat(ctx context.Context, userA, userB string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.findPersonalChatLocked(userA, userB); ok {
		return id, nil
	}
	return "", corerr.NotFoundf("store: no personal chat between %q and %q", userA, userB)
}

// CreatePersonalChat implements store.Store. Like the postgres
// adapter's pair_key constraint, creation under the fake's lock falls
// back to the existing chat for the pair, so two racing first-contact
// sends converge on one chat.
func (f *Fake) CreatePersonalChat(ctx context.Context, userA, userB string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.findPersonalChatLocked(userA, userB); ok {
		return id, nil
	}
	id := uuid.NewString()
	now := time.Now().UTC()
	f.chats[id] = types.Chat{ID: id, Kind: types.ChatPersonal, CreatedAt: now}
	f.members[id] = map[string]types.Membership{
		userA: {ChatID: id, UserID: userA, Role: types.RoleMember},
		userB: {ChatID: id, UserID: userB, Role: types.RoleMember},
	}
	return id, nil
}

// CreateChannel implements store.Store.
func (f *Fake) CreateChannel(ctx context.Context, creatorID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	now := time.Now().UTC()
	f.chats[id] = types.Chat{ID: id, Kind: types.ChatChannel, Name: name, CreatedAt: now}
	f.members[id] = map[string]types.Membership{
		creatorID: {ChatID: id, UserID: creatorID, Role: types.RoleAdmin},
	}
	return id, nil
}

// GetMembership implements store.Store.
func (f *Fake) GetMembership(ctx context.Context, chatID, userID string) (*types.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mm, ok := f.members[chatID]
	if !ok {
		return nil, corerr.Forbiddenf(corerr.ReasonNotAMember, "store: %q is not a member of %q", userID, chatID)
	}
	m, ok := mm[userID]
	if !ok {
		return nil, corerr.Forbiddenf(corerr.ReasonNotAMember, "store: %q is not a member of %q", userID, chatID)
	}
	return &m, nil
}

// ListMembers implements store.Store.
func (f *Fake) ListMembers(ctx context.Context, chatID string) ([]types.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Membership
	for _, m := range f.members[chatID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// SetBlocked implements store.Store.
func (f *Fake) SetBlocked(ctx context.Context, chatID, userID string, blocked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	mm, ok := f.members[chatID]
	if !ok {
		return corerr.Forbiddenf(corerr.ReasonNotAMember, "store: %q is not a member of %q", userID, chatID)
	}
	m, ok := mm[userID]
	if !ok {
		return corerr.Forbiddenf(corerr.ReasonNotAMember, "store: %q is not a member of %q", userID, chatID)
	}
	m.Blocked = blocked
	mm[userID] = m
	return nil
}

// InsertMessageClearingBlock implements store.Store, re-checking the
// blocked flag under the fake's lock the way the postgres adapter
// re-checks it under SELECT ... FOR UPDATE.
func (f *Fake) InsertMessageClearingBlock(ctx context.Context, msg *types.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	mm, ok := f.members[msg.ChatID]
	if !ok {
		return corerr.Forbiddenf(corerr.ReasonNotAMember, "store: %q is not a member of %q", msg.SenderID, msg.ChatID)
	}
	m, ok := mm[msg.SenderID]
	if !ok {
		return corerr.Forbiddenf(corerr.ReasonNotAMember, "store: %q is not a member of %q", msg.SenderID, msg.ChatID)
	}
	if m.Blocked {
		return corerr.Forbiddenf(corerr.ReasonBlocked, "store: %q has blocked chat %q", msg.SenderID, msg.ChatID)
	}
	m.Blocked = false
	mm[msg.SenderID] = m

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	f.messages[msg.ChatID] = append(f.messages[msg.ChatID], *msg)
	sort.Slice(f.messages[msg.ChatID], func(i, j int) bool {
		return f.messages[msg.ChatID][i].Before(f.messages[msg.ChatID][j])
	})
	return nil
}

// ListMessages implements store.Store.
func (f *Fake) ListMessages(ctx context.Context, chatID string, q storepkg.PageQuery) ([]types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	limit := q.Limit
	if limit <= 0 {
		return nil, nil
	}
	if limit > 100 {
		limit = 100
	}

	var out []types.Message
	for _, m := range f.messages[chatID] {
		if !q.Before.IsZero() && !m.CreatedAt.Before(q.Before) {
			continue
		}
		out = append(out, m)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// CreateStory implements store.Store.
func (f *Fake) CreateStory(ctx context.Context, s *types.Story) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	s.ExpiresAt = s.CreatedAt.Add(24 * time.Hour)
	f.stories[s.ID] = *s
	return nil
}

// ListActiveStories implements store.Store.
func (f *Fake) ListActiveStories(ctx context.Context, now time.Time) ([]types.Story, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Story
	for _, s := range f.stories {
		if s.ExpiresAt.After(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// PurgeExpiredStories implements store.Store.
func (f *Fake) PurgeExpiredStories(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, s := range f.stories {
		if !s.ExpiresAt.After(now) {
			delete(f.stories, id)
			n++
		}
	}
	return n, nil
}

var _ storepkg.Store = (*Fake)(nil)
