package repo

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/NordCoder/Nudger/internal/domain/notification"
	"github.com/NordCoder/Nudger/internal/domain/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inlineTx runs the function without a real transaction and remembers whether
// it was asked to roll back.
type inlineTx struct{ failed bool }

func (t *inlineTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		t.failed = true
		return err
	}
	return nil
}

type touchRecorder struct {
	touched map[string]time.Time
}

func (p *touchRecorder) GetUsersDueForNotification(context.Context, time.Time) ([]*notification.Preference, error) {
	return nil, nil
}

func (p *touchRecorder) UpdateLastNotificationSent(_ context.Context, userID string, at time.Time) error {
	p.touched[userID] = at
	return nil
}

func (p *touchRecorder) Upsert(context.Context, *notification.Preference) error { return nil }

func (p *touchRecorder) Get(context.Context, string) (*notification.Preference, error) {
	return nil, errors.New("unused")
}

type enqueued struct {
	key  string
	kind outbox.Kind
	data []byte
}

type memOutbox struct {
	items []enqueued
	err   error
}

func (m *memOutbox) Enqueue(_ context.Context, key string, kind outbox.Kind, data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.items = append(m.items, enqueued{key: key, kind: kind, data: data})
	return nil
}

func (m *memOutbox) PickBatch(context.Context, int, time.Duration) ([]outbox.Message, error) {
	return nil, nil
}

func (m *memOutbox) MarkSuccess(context.Context, []string) error { return nil }

var at = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func TestRecorder_ServedUserWithDeadToken(t *testing.T) {
	prefs := &touchRecorder{touched: map[string]time.Time{}}
	ob := &memOutbox{}
	r := Recorder{Tx: &inlineTx{}, Prefs: prefs, Outbox: ob}

	out := notification.SendOutcome{
		UserID:       "u1",
		SuccessCount: 1,
		FailureCount: 2,
		Errors: []notification.TokenError{
			{Token: "dead", Class: notification.Permanent, Err: errors.New("unregistered")},
			{Token: "slow", Class: notification.Transient, Err: errors.New("timeout")},
		},
	}
	require.NoError(t, r.Record(context.Background(), at, out))

	assert.Equal(t, at, prefs.touched["u1"])
	require.Len(t, ob.items, 2)
	assert.Equal(t, outbox.KindDeliveryReport, ob.items[0].kind)
	assert.Equal(t, outbox.KindTokenRejected, ob.items[1].kind)

	var rep outbox.DeliveryReport
	require.NoError(t, json.Unmarshal(ob.items[0].data, &rep))
	assert.True(t, rep.Served)
	assert.Equal(t, 2, rep.FailureCount)

	var rej outbox.TokenRejected
	require.NoError(t, json.Unmarshal(ob.items[1].data, &rej))
	assert.Equal(t, "dead", rej.Token)
	assert.Equal(t, "unregistered", rej.Reason)
}

func TestRecorder_UnservedDoesNotTouch(t *testing.T) {
	prefs := &touchRecorder{touched: map[string]time.Time{}}
	ob := &memOutbox{}
	r := Recorder{Tx: &inlineTx{}, Prefs: prefs, Outbox: ob}

	require.NoError(t, r.Record(context.Background(), at, notification.SendOutcome{UserID: "u1", FailureCount: 1}))

	assert.Empty(t, prefs.touched)
	require.Len(t, ob.items, 1)
}

func TestRecorder_KeysAreStable(t *testing.T) {
	a := outboxKey(outbox.KindTokenRejected, "u1", at, "tok")
	assert.Equal(t, a, outboxKey(outbox.KindTokenRejected, "u1", at, "tok"))
	assert.NotEqual(t, a, outboxKey(outbox.KindTokenRejected, "u1", at.Add(time.Minute), "tok"))
	assert.NotEqual(t, a, outboxKey(outbox.KindDeliveryReport, "u1", at, "tok"))
}

func TestRecorder_OutboxErrorFailsTransaction(t *testing.T) {
	tx := &inlineTx{}
	r := Recorder{
		Tx:     tx,
		Prefs:  &touchRecorder{touched: map[string]time.Time{}},
		Outbox: &memOutbox{err: errors.New("db gone")},
	}

	err := r.Record(context.Background(), at, notification.SendOutcome{UserID: "u1", SuccessCount: 1})
	require.Error(t, err)
	assert.True(t, tx.failed)
}

func TestRecorder_WithoutOutbox(t *testing.T) {
	prefs := &touchRecorder{touched: map[string]time.Time{}}
	r := Recorder{Tx: &inlineTx{}, Prefs: prefs}

	require.NoError(t, r.Record(context.Background(), at, notification.SendOutcome{UserID: "u1", SuccessCount: 1}))
	assert.Equal(t, at, prefs.touched["u1"])
}
