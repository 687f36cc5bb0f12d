// Package store defines the durable persistence contract for chats,
// memberships, messages, stories and the users the core reads: one
// method family per entity, implemented by a concrete database adapter
// (see the postgres subpackage).
package store

import (
	"context"
	"time"

	"github.com/tinode/fanout/internal/types"
)

// PageQuery bounds a message-history page.
type PageQuery struct {
	// Limit is clamped to [0, 100] by the caller before reaching the Store.
	Limit int
	// Before restricts results to messages strictly older than this
	// timestamp. Zero value means "no lower bound".
	Before time.Time
}

// Store is the interface every durable adapter must implement.
type Store interface {
	// Lifecycle

	Open(ctx context.Context, dsn string) error
	Close() error
	Migrate(ctx context.Context) error

	// Users (read-only from the core's perspective; creation happens via
	// CreateUser during signup, which is the one write exception — the
	// rest of the user record is owned by the external auth boundary in
	// a fuller deployment.)

	CreateUser(ctx context.Context, u *types.User, passwordHash string) error
	GetUser(ctx context.Context, id string) (*types.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*types.User, string, error)
	SearchUsers(ctx context.Context, query string) ([]types.User, error)
	UpdateUser(ctx context.Context, id string, name, email, avatar *string) (*types.User, error)
	UpdatePresence(ctx context.Context, id string, status types.PresenceStatus) error

	// Chats & memberships

	GetChat(ctx context.Context, id string) (*types.Chat, error)
	ListChatsForUser(ctx context.Context, userID string) ([]types.Chat, error)
	FindPersonalChat(ctx context.Context, userA, userB string) (string, error)
	CreatePersonalChat(ctx context.Context, userA, userB string) (string, error)
	CreateChannel(ctx context.Context, creatorID, name string) (string, error)
	GetMembership(ctx context.Context, chatID, userID string) (*types.Membership, error)
	ListMembers(ctx context.Context, chatID string) ([]types.Membership, error)
	SetBlocked(ctx context.Context, chatID, userID string, blocked bool) error

	// Messages

	// InsertMessageClearingBlock atomically clears the sender's own
	// blocked flag in chatID and inserts msg, enforcing that the sender
	// holds a membership at insert time. It takes a row lock on the
	// sender's membership (SELECT ... FOR UPDATE) to prevent two
	// concurrent sends in the same chat from racing on the clear.
	InsertMessageClearingBlock(ctx context.Context, msg *types.Message) error
	ListMessages(ctx context.Context, chatID string, q PageQuery) ([]types.Message, error)

	// Stories

	CreateStory(ctx context.Context, s *types.Story) error
	ListActiveStories(ctx context.Context, now time.Time) ([]types.Story, error)
	PurgeExpiredStories(ctx context.Context, now time.Time) (int64, error)
}
