// Package types holds the entities shared by every subsystem of the
// fan-out core: users, chats, memberships, messages and stories.
package types

import "time"

// ChatKind distinguishes a two-party chat from a multi-party channel.
type ChatKind string

// Recognized chat kinds.
const (
	ChatPersonal ChatKind = "personal"
	ChatChannel  ChatKind = "channel"
)

// Role is a member's standing within a chat.
type Role string

// Recognized roles.
const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// MessageKind is the payload discriminator of a Message.
type MessageKind string

// Recognized message kinds.
const (
	MsgText     MessageKind = "text"
	MsgImage    MessageKind = "image"
	MsgVideo    MessageKind = "video"
	MsgAudio    MessageKind = "audio"
	MsgDocument MessageKind = "document"
	MsgLocation MessageKind = "location"
)

// PresenceStatus is a user's reported connectivity.
type PresenceStatus string

// Recognized presence values.
const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// User is read-only from the core's perspective; the auth boundary owns
// creation and credential storage.
type User struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Phone     string         `json:"phone"`
	Email     string         `json:"email,omitempty"`
	Status    PresenceStatus `json:"status"`
	LastSeen  time.Time      `json:"lastSeen"`
	Avatar    string         `json:"profilePicture,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Chat is either a two-party personal chat or a multi-member channel.
type Chat struct {
	ID        string    `json:"id"`
	Kind      ChatKind  `json:"type"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Membership relates one User to one Chat.
type Membership struct {
	ChatID  string `json:"chatId"`
	UserID  string `json:"userId"`
	Role    Role   `json:"role"`
	Blocked bool   `json:"blocked"`
}

// Message is an append-only record inserted by the Dispatcher.
type Message struct {
	ID        string      `json:"id"`
	ChatID    string      `json:"chatId"`
	SenderID  string      `json:"senderId"`
	Kind      MessageKind `json:"type"`
	Content   string      `json:"content"`
	MediaURL  string      `json:"mediaUrl,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Story is an ephemeral 24-hour post.
type Story struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	MediaURL  string    `json:"mediaUrl"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Before reports whether m sorts strictly before other within the same
// chat: (created_at, id) lexicographic tiebreak, per the chat ordering
// invariant.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
