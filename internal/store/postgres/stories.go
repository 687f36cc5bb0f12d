package postgres

import (
	"context"
	"time"

	"github.com/tinode/fanout/internal/types"
)

// CreateStory inserts a story expiring 24 hours from creation.
func (a *Adapter) CreateStory(ctx context.Context, s *types.Story) error {
	if s.ID == "" {
		s.ID = newID()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	s.ExpiresAt = s.CreatedAt.Add(24 * time.Hour)

	_, err := a.pool.Exec(ctx, `
		INSERT INTO stories (id, user_id, media_url, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`, s.ID, s.UserID, s.MediaURL, s.ExpiresAt, s.CreatedAt)
	return wrapStoreErr(err)
}

// ListActiveStories returns stories that have not yet expired as of now.
func (a *Adapter) ListActiveStories(ctx context.Context, now time.Time) ([]types.Story, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT id, user_id, media_url, expires_at, created_at
		FROM stories WHERE expires_at > $1
		ORDER BY created_at DESC`, now)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	var out []types.Story
	for rows.Next() {
		var s types.Story
		if err := rows.Scan(&s.ID, &s.UserID, &s.MediaURL, &s.ExpiresAt, &s.CreatedAt); err != nil {
			return nil, wrapStoreErr(err)
		}
		out = append(out, s)
	}
	return out, wrapStoreErr(rows.Err())
}

// PurgeExpiredStories deletes stories that expired at or before now,
// invoked hourly by the cron scheduler in cmd/fanoutd.
func (a *Adapter) PurgeExpiredStories(ctx context.Context, now time.Time) (int64, error) {
	tag, err := a.pool.Exec(ctx, `DELETE FROM stories WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, wrapStoreErr(err)
	}
	return tag.RowsAffected(), nil
}
