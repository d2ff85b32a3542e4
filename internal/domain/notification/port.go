package notification

import (
	"context"
	"time"
)

type PreferenceRepo interface {
	GetUsersDueForNotification(ctx context.Context, now time.Time) ([]*Preference, error)
	UpdateLastNotificationSent(ctx context.Context, userID string, at time.Time) error
	Upsert(ctx context.Context, p *Preference) error
	Get(ctx context.Context, userID string) (*Preference, error)
}

type TokenRepo interface {
	ListByUser(ctx context.Context, userID string) ([]DeviceToken, error)
	Register(ctx context.Context, t *DeviceToken) error
	// DeleteRejected removes token only while it still belongs to userID and
	// was not registered again after rejectedAt. It reports whether a row went.
	DeleteRejected(ctx context.Context, token, userID string, rejectedAt time.Time) (bool, error)
	PurgeStale(ctx context.Context, olderThan time.Time) (int64, error)
}

type Gateway interface {
	Send(ctx context.Context, token string, p Payload) error
}

type ContentProvider interface {
	GetPayload(ctx context.Context) (Payload, error)
}
