package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Nudger/internal/domain/notification"
)

var _ notification.TokenRepo = (*TokenRepo)(nil)

// TokenRepo shares the pool with PreferenceRepo so both read one store.
type TokenRepo struct{ db *DB }

func NewTokenRepo(db *DB) *TokenRepo { return &TokenRepo{db: db} }

const (
	qTokensByUser = `
SELECT user_id, token, platform, updated_at
FROM device_tokens
WHERE user_id = $1
ORDER BY token;
`

	// A known token moves to the registering user instead of being duplicated.
	qTokenRegister = `
INSERT INTO device_tokens (token, user_id, platform)
VALUES ($1, $2, $3)
ON CONFLICT (token) DO UPDATE
SET user_id    = EXCLUDED.user_id,
    platform   = EXCLUDED.platform,
    updated_at = NOW()
RETURNING updated_at;
`

	// A token re-registered after the rejection, or moved to another user,
	// is left alone. A NULL $3 skips the time check.
	qTokenDeleteRejected = `
DELETE FROM device_tokens
WHERE token = $1
  AND user_id = $2
  AND ($3::timestamptz IS NULL OR updated_at <= $3);
`

	qTokenPurge = `DELETE FROM device_tokens WHERE updated_at < $1;`
)

func (r *TokenRepo) ListByUser(ctx context.Context, userID string) ([]notification.DeviceToken, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qTokensByUser, userID)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	var out []notification.DeviceToken
	for rows.Next() {
		var (
			t        notification.DeviceToken
			platform string
		)
		if err := rows.Scan(&t.UserID, &t.Token, &platform, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		t.Platform = notification.Platform(platform)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *TokenRepo) Register(ctx context.Context, t *notification.DeviceToken) error {
	if t.Token == "" || t.UserID == "" {
		return fmt.Errorf("register token: %w", ErrConstraint)
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if err := r.db.Pool.QueryRow(ctx, qTokenRegister, t.Token, t.UserID, string(t.Platform)).
		Scan(&t.UpdatedAt); err != nil {
		return fmt.Errorf("register token: %w", mapPgError(err))
	}
	return nil
}

// DeleteRejected is idempotent: removing an unknown token is not an error.
func (r *TokenRepo) DeleteRejected(ctx context.Context, token, userID string, rejectedAt time.Time) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var at *time.Time
	if !rejectedAt.IsZero() {
		u := rejectedAt.UTC()
		at = &u
	}
	cmd, err := r.db.Pool.Exec(ctx, qTokenDeleteRejected, token, userID, at)
	if err != nil {
		return false, fmt.Errorf("delete token: %w", err)
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *TokenRepo) PurgeStale(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.Pool.Exec(ctx, qTokenPurge, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge tokens: %w", err)
	}
	return cmd.RowsAffected(), nil
}
