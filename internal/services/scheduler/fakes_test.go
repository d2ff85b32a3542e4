package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/NordCoder/Nudger/internal/domain/notification"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type memPrefs struct {
	mu    sync.Mutex
	prefs map[string]*notification.Preference
	err   error
}

func newMemPrefs(ps ...*notification.Preference) *memPrefs {
	m := &memPrefs{prefs: map[string]*notification.Preference{}}
	for _, p := range ps {
		m.prefs[p.UserID] = p
	}
	return m
}

func (m *memPrefs) GetUsersDueForNotification(_ context.Context, now time.Time) ([]*notification.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	all := make([]*notification.Preference, 0, len(m.prefs))
	for _, p := range m.prefs {
		cp := *p
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UserID < all[j].UserID })
	return notification.FilterDue(all, now), nil
}

func (m *memPrefs) UpdateLastNotificationSent(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.prefs[userID]; ok {
		t := at
		p.LastNotificationSent = &t
	}
	return nil
}

func (m *memPrefs) Upsert(_ context.Context, p *notification.Preference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[p.UserID] = p
	return nil
}

func (m *memPrefs) Get(_ context.Context, userID string) (*notification.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prefs[userID]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *p
	return &cp, nil
}

type memTokens struct {
	byUser map[string][]notification.DeviceToken
	failOn map[string]error
}

func (m *memTokens) ListByUser(_ context.Context, userID string) ([]notification.DeviceToken, error) {
	if err := m.failOn[userID]; err != nil {
		return nil, err
	}
	return m.byUser[userID], nil
}

func (m *memTokens) Register(context.Context, *notification.DeviceToken) error { return nil }

func (m *memTokens) DeleteRejected(context.Context, string, string, time.Time) (bool, error) {
	return false, nil
}

func (m *memTokens) PurgeStale(context.Context, time.Time) (int64, error) { return 0, nil }

type staticContent struct{ err error }

func (s staticContent) GetPayload(context.Context) (notification.Payload, error) {
	if s.err != nil {
		return notification.Payload{}, s.err
	}
	return notification.Payload{Title: "Quote", Body: "Keep going."}, nil
}

// scriptedDispatch fails the listed tokens and serves the rest.
type scriptedDispatch struct {
	mu     sync.Mutex
	fail   map[string]notification.ErrorClass
	calls  map[string][]string
	onSend func()
}

func (d *scriptedDispatch) Send(_ context.Context, userID string, tokens []notification.DeviceToken, _ notification.Payload) notification.SendOutcome {
	if d.onSend != nil {
		d.onSend()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.calls == nil {
		d.calls = map[string][]string{}
	}
	out := notification.SendOutcome{UserID: userID}
	for _, t := range tokens {
		d.calls[userID] = append(d.calls[userID], t.Token)
		if class, ok := d.fail[t.Token]; ok {
			out.FailureCount++
			out.Errors = append(out.Errors, notification.TokenError{Token: t.Token, Class: class, Err: errors.New(string(class))})
			continue
		}
		out.SuccessCount++
	}
	return out
}

func (d *scriptedDispatch) called(userID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[userID]
}

// prefsRecorder mirrors the production recorder without a database.
type prefsRecorder struct {
	prefs *memPrefs

	mu       sync.Mutex
	outcomes []notification.SendOutcome
	ctxErrs  []error
}

func (r *prefsRecorder) Record(ctx context.Context, at time.Time, out notification.SendOutcome) error {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, out)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	r.mu.Unlock()
	if out.Served() {
		return r.prefs.UpdateLastNotificationSent(ctx, out.UserID, at)
	}
	return nil
}

func toks(user string, ids ...string) []notification.DeviceToken {
	out := make([]notification.DeviceToken, 0, len(ids))
	for _, id := range ids {
		out = append(out, notification.DeviceToken{UserID: user, Token: id, Platform: notification.PlatformAndroid})
	}
	return out
}

func ptr[T any](v T) *T { return &v }
