package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tinode/fanout/internal/corerr"
	"github.com/tinode/fanout/internal/types"
)

// GetChat loads a chat by id.
func (a *Adapter) GetChat(ctx context.Context, id string) (*types.Chat, error) {
	row := a.pool.QueryRow(ctx, `
		SELECT id, type, COALESCE(name,''), created_at FROM chats WHERE id = $1`, id)

	var c types.Chat
	if err := row.Scan(&c.ID, &c.Kind, &c.Name, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, corerr.NotFoundf("store: chat %q not found", id)
		}
		return nil, wrapStoreErr(err)
	}
	return &c, nil
}

// ListChatsForUser lists every chat the user currently holds a membership in.
func (a *Adapter) ListChatsForUser(ctx context.Context, userID string) ([]types.Chat, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT c.id, c.type, COALESCE(c.name,''), c.created_at
		FROM chats c JOIN chat_members m ON m.chat_id = c.id
		WHERE m.user_id = $1
		ORDER BY c.created_at DESC`, userID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	var out []types.Chat
	for rows.Next() {
		var c types.Chat
		if err := rows.Scan(&c.ID, &c.Kind, &c.Name, &c.CreatedAt); err != nil {
			return nil, wrapStoreErr(err)
		}
		out = append(out, c)
	}
	return out, wrapStoreErr(rows.Err())
}

// pairKey canonicalizes a personal chat's two member ids, so the same
// pair yields the same key regardless of argument order.
func pairKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}

// FindPersonalChat returns the id of the existing personal chat between
// userA and userB, or corerr.NotFound if none exists.
func (a *Adapter) FindPersonalChat(ctx context.Context, userA, userB string) (string, error) {
	row := a.pool.QueryRow(ctx, `
		SELECT id FROM chats WHERE pair_key = $1`, pairKey(userA, userB))

	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", corerr.NotFoundf("store: no personal chat between %q and %q", userA, userB)
		}
		return "", wrapStoreErr(err)
	}
	return id, nil
}

// CreatePersonalChat creates a chat plus two member rows. The pair_key
// unique constraint makes it safe against a concurrent first-contact
// send for the same pair: the loser detects the conflict and reuses the
// winner's chat.
func (a *Adapter) CreatePersonalChat(ctx context.Context, userA, userB string) (string, error) {
	id := newID()
	now := time.Now().UTC()

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return "", wrapStoreErr(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO chats (id, type, pair_key, created_at) VALUES ($1, 'personal', $2, $3)`,
		id, pairKey(userA, userB), now); err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return a.FindPersonalChat(ctx, userA, userB)
		}
		return "", wrapStoreErr(err)
	}

	for _, uid := range []string{userA, userB} {
		if _, err := tx.Exec(ctx, `
			INSERT INTO chat_members (chat_id, user_id, role, blocked) VALUES ($1, $2, 'member', false)`,
			id, uid); err != nil {
			return "", wrapStoreErr(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", wrapStoreErr(err)
	}
	return id, nil
}

// CreateChannel creates a channel chat with creatorID as its sole admin.
func (a *Adapter) CreateChannel(ctx context.Context, creatorID, name string) (string, error) {
	id := newID()
	now := time.Now().UTC()

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return "", wrapStoreErr(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO chats (id, type, name, created_at) VALUES ($1, 'channel', $2, $3)`, id, name, now); err != nil {
		return "", wrapStoreErr(err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO chat_members (chat_id, user_id, role, blocked) VALUES ($1, $2, 'admin', false)`,
		id, creatorID); err != nil {
		return "", wrapStoreErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", wrapStoreErr(err)
	}
	return id, nil
}

// GetMembership loads a single membership row, or a Forbidden error
// with reason NotAMember when the user holds no membership in the chat.
func (a *Adapter) GetMembership(ctx context.Context, chatID, userID string) (*types.Membership, error) {
	row := a.pool.QueryRow(ctx, `
		SELECT chat_id, user_id, role, blocked FROM chat_members
		WHERE chat_id = $1 AND user_id = $2`, chatID, userID)

	var m types.Membership
	if err := row.Scan(&m.ChatID, &m.UserID, &m.Role, &m.Blocked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, corerr.Forbiddenf(corerr.ReasonNotAMember, "store: %q is not a member of %q", userID, chatID)
		}
		return nil, wrapStoreErr(err)
	}
	return &m, nil
}

// ListMembers lists every membership of a chat.
func (a *Adapter) ListMembers(ctx context.Context, chatID string) ([]types.Membership, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT chat_id, user_id, role, blocked FROM chat_members WHERE chat_id = $1`, chatID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	var out []types.Membership
	for rows.Next() {
		var m types.Membership
		if err := rows.Scan(&m.ChatID, &m.UserID, &m.Role, &m.Blocked); err != nil {
			return nil, wrapStoreErr(err)
		}
		out = append(out, m)
	}
	return out, wrapStoreErr(rows.Err())
}

// SetBlocked sets the blocked flag on one membership. Affects only the
// named user's own membership row.
func (a *Adapter) SetBlocked(ctx context.Context, chatID, userID string, blocked bool) error {
	tag, err := a.pool.Exec(ctx, `
		UPDATE chat_members SET blocked = $3 WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID, blocked)
	if err != nil {
		return wrapStoreErr(err)
	}
	if tag.RowsAffected() == 0 {
		return corerr.Forbiddenf(corerr.ReasonNotAMember, "store: %q is not a member of %q", userID, chatID)
	}
	return nil
}
