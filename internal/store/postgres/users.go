package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/tinode/fanout/internal/corerr"
	"github.com/tinode/fanout/internal/types"
)

// CreateUser inserts a new user and its password hash. Phone and email
// uniqueness is enforced by the schema's UNIQUE constraints.
func (a *Adapter) CreateUser(ctx context.Context, u *types.User, passwordHash string) error {
	if u.ID == "" {
		u.ID = newID()
	}
	_, err := a.pool.Exec(ctx, `
		INSERT INTO users (id, name, phone, email, password, status, last_seen, profile_picture, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''), $9)`,
		u.ID, u.Name, u.Phone, u.Email, passwordHash, types.PresenceOffline, u.CreatedAt, u.Avatar, u.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return corerr.Conflictf("store: phone or email already registered")
		}
		return wrapStoreErr(err)
	}
	return nil
}

// GetUser loads a user by id.
func (a *Adapter) GetUser(ctx context.Context, id string) (*types.User, error) {
	row := a.pool.QueryRow(ctx, `
		SELECT id, name, phone, COALESCE(email,''), status, last_seen, COALESCE(profile_picture,''), created_at
		FROM users WHERE id = $1`, id)

	var u types.User
	if err := row.Scan(&u.ID, &u.Name, &u.Phone, &u.Email, &u.Status, &u.LastSeen, &u.Avatar, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, corerr.NotFoundf("store: user %q not found", id)
		}
		return nil, wrapStoreErr(err)
	}
	return &u, nil
}

// GetUserByPhone loads a user and its password hash by phone, for login.
func (a *Adapter) GetUserByPhone(ctx context.Context, phone string) (*types.User, string, error) {
	row := a.pool.QueryRow(ctx, `
		SELECT id, name, phone, COALESCE(email,''), status, last_seen, COALESCE(profile_picture,''), created_at, password
		FROM users WHERE phone = $1`, phone)

	var u types.User
	var hash string
	if err := row.Scan(&u.ID, &u.Name, &u.Phone, &u.Email, &u.Status, &u.LastSeen, &u.Avatar, &u.CreatedAt, &hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", corerr.NotFoundf("store: no user with phone %q", phone)
		}
		return nil, "", wrapStoreErr(err)
	}
	return &u, hash, nil
}

// SearchUsers finds users whose name or phone matches query.
func (a *Adapter) SearchUsers(ctx context.Context, query string) ([]types.User, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT id, name, phone, COALESCE(email,''), status, last_seen, COALESCE(profile_picture,''), created_at
		FROM users WHERE name ILIKE $1 OR phone ILIKE $1
		ORDER BY name ASC LIMIT 50`, "%"+query+"%")
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	var out []types.User
	for rows.Next() {
		var u types.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Phone, &u.Email, &u.Status, &u.LastSeen, &u.Avatar, &u.CreatedAt); err != nil {
			return nil, wrapStoreErr(err)
		}
		out = append(out, u)
	}
	return out, wrapStoreErr(rows.Err())
}

// UpdateUser patches name/email/avatar, leaving unset fields unchanged.
func (a *Adapter) UpdateUser(ctx context.Context, id string, name, email, avatar *string) (*types.User, error) {
	_, err := a.pool.Exec(ctx, `
		UPDATE users SET
			name = COALESCE($2, name),
			email = COALESCE($3, email),
			profile_picture = COALESCE($4, profile_picture)
		WHERE id = $1`, id, name, email, avatar)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return a.GetUser(ctx, id)
}

// UpdatePresence sets a user's connectivity status and refreshes last_seen.
func (a *Adapter) UpdatePresence(ctx context.Context, id string, status types.PresenceStatus) error {
	_, err := a.pool.Exec(ctx, `
		UPDATE users SET status = $2, last_seen = now() WHERE id = $1`, id, status)
	return wrapStoreErr(err)
}
