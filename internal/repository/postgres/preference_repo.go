package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NordCoder/Nudger/internal/domain/notification"
	"github.com/jackc/pgx/v5"
)

var _ notification.PreferenceRepo = (*PreferenceRepo)(nil)

type PreferenceRepo struct {
	db         *DB
	defaultLoc *time.Location
	locs       sync.Map // string -> *time.Location
}

// NewPreferenceRepo builds the store; rows without a time zone are evaluated in defaultLoc.
func NewPreferenceRepo(db *DB, defaultLoc *time.Location) *PreferenceRepo {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &PreferenceRepo{db: db, defaultLoc: defaultLoc}
}

const (
	prefColumns = `user_id, enabled, frequency, quiet_start_min, quiet_end_min, time_zone, last_notification_sent, updated_at`

	qPrefEnabled = `
SELECT ` + prefColumns + `
FROM notification_preferences
WHERE enabled = TRUE
ORDER BY user_id;
`

	qPrefGet = `
SELECT ` + prefColumns + `
FROM notification_preferences
WHERE user_id = $1;
`

	qPrefUpsert = `
INSERT INTO notification_preferences (user_id, enabled, frequency, quiet_start_min, quiet_end_min, time_zone, last_notification_sent)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id) DO UPDATE
SET enabled         = EXCLUDED.enabled,
    frequency       = EXCLUDED.frequency,
    quiet_start_min = EXCLUDED.quiet_start_min,
    quiet_end_min   = EXCLUDED.quiet_end_min,
    time_zone       = EXCLUDED.time_zone,
    updated_at      = NOW()
RETURNING updated_at;
`

	qPrefTouchSent = `
UPDATE notification_preferences
SET last_notification_sent = $2
WHERE user_id = $1;
`
)

func (r *PreferenceRepo) scan(row pgx.Row, p *notification.Preference) error {
	var (
		freq       string
		quietStart *int16
		quietEnd   *int16
		tz         string
	)
	if err := row.Scan(
		&p.UserID,
		&p.Enabled,
		&freq,
		&quietStart,
		&quietEnd,
		&tz,
		&p.LastNotificationSent,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan preference: %w", err)
	}
	p.Frequency = notification.Frequency(freq)
	if quietStart != nil && quietEnd != nil {
		p.QuietHours = &notification.QuietHours{
			Start: notification.TimeOfDay(*quietStart),
			End:   notification.TimeOfDay(*quietEnd),
		}
	}
	if p.LastNotificationSent != nil {
		t := p.LastNotificationSent.UTC()
		p.LastNotificationSent = &t
	}
	p.Location = r.location(tz)
	return nil
}

// location resolves an IANA zone; unknown names fall back to the default zone.
func (r *PreferenceRepo) location(tz string) *time.Location {
	if tz == "" {
		return r.defaultLoc
	}
	if v, ok := r.locs.Load(tz); ok {
		return v.(*time.Location)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = r.defaultLoc
	}
	r.locs.Store(tz, loc)
	return loc
}

func (r *PreferenceRepo) listEnabled(ctx context.Context) ([]*notification.Preference, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qPrefEnabled)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	var out []*notification.Preference
	for rows.Next() {
		var p notification.Preference
		if err := r.scan(rows, &p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// GetUsersDueForNotification loads enabled preferences and keeps the ones due at now.
func (r *PreferenceRepo) GetUsersDueForNotification(ctx context.Context, now time.Time) ([]*notification.Preference, error) {
	prefs, err := r.listEnabled(ctx)
	if err != nil {
		return nil, err
	}
	return notification.FilterDue(prefs, now), nil
}

// UpdateLastNotificationSent is a no-op when the row no longer exists.
func (r *PreferenceRepo) UpdateLastNotificationSent(ctx context.Context, userID string, at time.Time) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	if _, err := eq.Exec(ctx, qPrefTouchSent, userID, at.UTC()); err != nil {
		return fmt.Errorf("update last_notification_sent: %w", err)
	}
	return nil
}

func (r *PreferenceRepo) Upsert(ctx context.Context, p *notification.Preference) error {
	if err := p.Validate(); err != nil {
		return err
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var quietStart, quietEnd *int16
	if q := p.QuietHours; q != nil {
		s, e := int16(q.Start), int16(q.End)
		quietStart, quietEnd = &s, &e
	}
	tz := ""
	if p.Location != nil && p.Location != r.defaultLoc {
		tz = p.Location.String()
	}
	var last *time.Time
	if p.LastNotificationSent != nil {
		t := p.LastNotificationSent.UTC()
		last = &t
	}

	eq := r.db.execQueryer(ctx)
	if err := eq.QueryRow(ctx, qPrefUpsert,
		p.UserID, p.Enabled, string(p.Frequency), quietStart, quietEnd, tz, last,
	).Scan(&p.UpdatedAt); err != nil {
		return fmt.Errorf("upsert preference: %w", mapPgError(err))
	}
	return nil
}

func (r *PreferenceRepo) Get(ctx context.Context, userID string) (*notification.Preference, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var p notification.Preference
	if err := r.scan(r.db.Pool.QueryRow(ctx, qPrefGet, userID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
