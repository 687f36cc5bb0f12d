package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tinode/fanout/internal/corerr"
	storepkg "github.com/tinode/fanout/internal/store"
	"github.com/tinode/fanout/internal/types"
)

// InsertMessageClearingBlock atomically locks the sender's membership
// row, re-checks the blocked flag under that lock (the Dispatcher's
// earlier read is advisory only; a Block committing between the two
// must win), clears the sender's own blocked flag, then inserts the
// message with a server-assigned timestamp.
func (a *Adapter) InsertMessageClearingBlock(ctx context.Context, msg *types.Message) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return wrapStoreErr(err)
	}
	defer tx.Rollback(ctx)

	var blocked bool
	row := tx.QueryRow(ctx, `
		SELECT blocked FROM chat_members
		WHERE chat_id = $1 AND user_id = $2
		FOR UPDATE`, msg.ChatID, msg.SenderID)
	if err := row.Scan(&blocked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return corerr.Forbiddenf(corerr.ReasonNotAMember,
				"store: %q is not a member of %q", msg.SenderID, msg.ChatID)
		}
		return wrapStoreErr(err)
	}
	if blocked {
		return corerr.Forbiddenf(corerr.ReasonBlocked,
			"store: %q has blocked chat %q", msg.SenderID, msg.ChatID)
	}

	// Idempotent reply-clears-block write, kept under the same lock.
	if _, err := tx.Exec(ctx, `
		UPDATE chat_members SET blocked = false WHERE chat_id = $1 AND user_id = $2`,
		msg.ChatID, msg.SenderID); err != nil {
		return wrapStoreErr(err)
	}

	if msg.ID == "" {
		msg.ID = newID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, type, content, media_url, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)`,
		msg.ID, msg.ChatID, msg.SenderID, msg.Kind, msg.Content, msg.MediaURL, msg.CreatedAt); err != nil {
		return wrapStoreErr(err)
	}

	return wrapStoreErr(tx.Commit(ctx))
}

// ListMessages returns a chat's messages in ascending chronological
// order, bounded by q.
func (a *Adapter) ListMessages(ctx context.Context, chatID string, q storepkg.PageQuery) ([]types.Message, error) {
	limit := clamp(q.Limit)
	if limit == 0 {
		return nil, nil
	}

	var rows pgx.Rows
	var err error
	if q.Before.IsZero() {
		rows, err = a.pool.Query(ctx, `
			SELECT id, chat_id, sender_id, type, content, COALESCE(media_url,''), created_at
			FROM (
				SELECT * FROM messages WHERE chat_id = $1
				ORDER BY created_at DESC, id DESC LIMIT $2
			) page ORDER BY created_at ASC, id ASC`, chatID, limit)
	} else {
		rows, err = a.pool.Query(ctx, `
			SELECT id, chat_id, sender_id, type, content, COALESCE(media_url,''), created_at
			FROM (
				SELECT * FROM messages WHERE chat_id = $1 AND created_at < $2
				ORDER BY created_at DESC, id DESC LIMIT $3
			) page ORDER BY created_at ASC, id ASC`, chatID, q.Before, limit)
	}
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		var m types.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Kind, &m.Content, &m.MediaURL, &m.CreatedAt); err != nil {
			return nil, wrapStoreErr(err)
		}
		out = append(out, m)
	}
	return out, wrapStoreErr(rows.Err())
}
