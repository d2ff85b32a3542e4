package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Nudger/internal/domain/outbox"
	"github.com/NordCoder/Nudger/internal/obs/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memRepo struct {
	mu      sync.Mutex
	pending []outbox.Message
	done    []string
}

func (m *memRepo) Enqueue(_ context.Context, key string, kind outbox.Kind, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, outbox.Message{IdempotencyKey: key, Kind: kind, Data: data})
	return nil
}

func (m *memRepo) PickBatch(_ context.Context, batch int, _ time.Duration) ([]outbox.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := min(batch, len(m.pending))
	out := m.pending[:n]
	m.pending = m.pending[n:]
	return out, nil
}

func (m *memRepo) MarkSuccess(_ context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done = append(m.done, keys...)
	return nil
}

type recordingEvents struct {
	reports  []outbox.DeliveryReport
	rejected []outbox.TokenRejected
	failLeft int
}

func (r *recordingEvents) PublishDeliveryReport(_ context.Context, rep outbox.DeliveryReport) error {
	if r.failLeft > 0 {
		r.failLeft--
		return errors.New("broker unavailable")
	}
	r.reports = append(r.reports, rep)
	return nil
}

func (r *recordingEvents) PublishTokenRejected(_ context.Context, tr outbox.TokenRejected) error {
	r.rejected = append(r.rejected, tr)
	return nil
}

type noWait struct{}

func (noWait) Next(int) time.Duration { return 0 }

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestRunner_TickPublishesAndMarks(t *testing.T) {
	ctx := context.Background()
	repo := &memRepo{}
	events := &recordingEvents{failLeft: 1}
	pol := retry.Policy{Attempts: 3, Backoff: noWait{}}
	r := NewOutboxRunner(zap.NewNop(), repo, MakeGlobalOutboxHandler(events, pol),
		Config{Workers: 1, BatchSize: 10, WaitTime: time.Second, InProgressTTL: time.Minute})

	at := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Enqueue(ctx, "r1", outbox.KindDeliveryReport,
		mustJSON(t, outbox.DeliveryReport{UserID: "u1", CycleAt: at, SuccessCount: 1, Served: true})))
	require.NoError(t, repo.Enqueue(ctx, "t1", outbox.KindTokenRejected,
		mustJSON(t, outbox.TokenRejected{UserID: "u1", Token: "dead", Reason: "unregistered", CycleAt: at})))
	require.NoError(t, repo.Enqueue(ctx, "x1", outbox.Kind(99), []byte(`{}`)))

	r.Tick(ctx)

	assert.ElementsMatch(t, []string{"r1", "t1"}, repo.done)
	require.Len(t, events.reports, 1)
	assert.Equal(t, "u1", events.reports[0].UserID)
	assert.True(t, at.Equal(events.reports[0].CycleAt))
	require.Len(t, events.rejected, 1)
	assert.Equal(t, "dead", events.rejected[0].Token)
}

func TestRunner_BadPayloadIsNotMarked(t *testing.T) {
	ctx := context.Background()
	repo := &memRepo{}
	events := &recordingEvents{}
	r := NewOutboxRunner(zap.NewNop(), repo,
		MakeGlobalOutboxHandler(events, retry.Policy{Attempts: 1, Backoff: noWait{}}),
		Config{BatchSize: 5, WaitTime: time.Second, InProgressTTL: time.Minute})

	require.NoError(t, repo.Enqueue(ctx, "bad", outbox.KindDeliveryReport, []byte(`not json`)))
	r.Tick(ctx)

	assert.Empty(t, repo.done)
	assert.Empty(t, events.reports)
}

func TestRunner_StartStopsOnCancel(t *testing.T) {
	repo := &memRepo{}
	r := NewOutboxRunner(zap.NewNop(), repo,
		MakeGlobalOutboxHandler(&recordingEvents{}, retry.Policy{Attempts: 1}),
		Config{Workers: 2, BatchSize: 5, WaitTime: 5 * time.Millisecond, InProgressTTL: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() { r.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}
