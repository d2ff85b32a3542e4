package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingCycler struct {
	calls   atomic.Int32
	panicOn int32
	active  atomic.Int32
	overlap atomic.Bool
	delay   time.Duration
}

func (c *countingCycler) Cycle(context.Context) (Stats, error) {
	if c.active.Add(1) > 1 {
		c.overlap.Store(true)
	}
	defer c.active.Add(-1)

	n := c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if n == c.panicOn {
		panic("boom")
	}
	return Stats{Due: 1, Dispatched: 1, Served: 1}, nil
}

type fakeLeader struct {
	mu       sync.Mutex
	leader   bool
	err      error
	released bool
}

func (l *fakeLeader) Acquire(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.leader, l.err
}

func (l *fakeLeader) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
	return nil
}

func runFor(t *testing.T, r *Runner, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	err := r.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunner_PanicDoesNotStopLoop(t *testing.T) {
	c := &countingCycler{panicOn: 1}
	r := New(zap.NewNop(), c, nil, 5*time.Millisecond)

	runFor(t, r, 100*time.Millisecond)

	assert.GreaterOrEqual(t, c.calls.Load(), int32(3))
}

func TestRunner_CyclesNeverOverlap(t *testing.T) {
	c := &countingCycler{delay: 15 * time.Millisecond}
	r := New(zap.NewNop(), c, nil, time.Millisecond)

	runFor(t, r, 100*time.Millisecond)

	assert.False(t, c.overlap.Load())
	assert.GreaterOrEqual(t, c.calls.Load(), int32(2))
}

func TestRunner_StandbyDoesNoWork(t *testing.T) {
	c := &countingCycler{}
	l := &fakeLeader{leader: false}
	r := New(zap.NewNop(), c, l, 5*time.Millisecond)

	runFor(t, r, 50*time.Millisecond)

	assert.Zero(t, c.calls.Load())
	assert.True(t, l.released)
}

func TestRunner_LeaderErrorSkipsCycle(t *testing.T) {
	c := &countingCycler{}
	l := &fakeLeader{leader: true, err: errors.New("redis down")}
	r := New(zap.NewNop(), c, l, 5*time.Millisecond)

	runFor(t, r, 30*time.Millisecond)

	assert.Zero(t, c.calls.Load())
}

func TestRunner_LeaderRunsCycles(t *testing.T) {
	c := &countingCycler{}
	r := New(zap.NewNop(), c, &fakeLeader{leader: true}, 5*time.Millisecond)

	runFor(t, r, 50*time.Millisecond)

	assert.GreaterOrEqual(t, c.calls.Load(), int32(2))
}

// leaseLeader grants the first grants Acquire calls and refuses the rest.
type leaseLeader struct {
	grants   int32
	acquires atomic.Int32
}

func (l *leaseLeader) Acquire(context.Context) (bool, error) {
	return l.acquires.Add(1) <= l.grants, nil
}

func (l *leaseLeader) Release(context.Context) error { return nil }

// waitCycler blocks for d or until ctx ends and keeps the cancel cause.
type waitCycler struct {
	d     time.Duration
	cause error
}

func (c *waitCycler) Cycle(ctx context.Context) (Stats, error) {
	select {
	case <-time.After(c.d):
	case <-ctx.Done():
		c.cause = context.Cause(ctx)
	}
	return Stats{}, nil
}

func TestRunner_RenewsLeaseDuringSlowCycle(t *testing.T) {
	c := &waitCycler{d: 150 * time.Millisecond}
	l := &leaseLeader{grants: 1000}
	r := New(zap.NewNop(), c, l, time.Minute).WithLeaseRenewal(20 * time.Millisecond)

	r.tick(context.Background())

	assert.NoError(t, c.cause)
	assert.GreaterOrEqual(t, l.acquires.Load(), int32(3))
}

func TestRunner_NoRenewalWithoutInterval(t *testing.T) {
	c := &waitCycler{d: 60 * time.Millisecond}
	l := &leaseLeader{grants: 1000}
	r := New(zap.NewNop(), c, l, time.Minute)

	r.tick(context.Background())

	assert.Equal(t, int32(1), l.acquires.Load())
}

func TestRunner_LostLeaseCancelsCycle(t *testing.T) {
	c := &waitCycler{d: 5 * time.Second}
	l := &leaseLeader{grants: 1}
	r := New(zap.NewNop(), c, l, time.Minute).WithLeaseRenewal(10 * time.Millisecond)

	start := time.Now()
	r.tick(context.Background())

	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, c.cause, errLeaseLost)
}

func TestRunner_LostLeaseStopsRemainingUsers(t *testing.T) {
	old := cycleNow.Add(-48 * time.Hour)
	h := newHarness(daily("a", old), daily("b", old), daily("c", old), daily("d", old))
	for _, u := range []string{"a", "b", "c", "d"} {
		h.tokens.byUser[u] = toks(u, "t-"+u)
	}
	h.uc.Workers = 1
	h.dispatch.onSend = func() { time.Sleep(80 * time.Millisecond) }

	l := &leaseLeader{grants: 1}
	r := New(zap.NewNop(), h.uc, l, time.Minute).WithLeaseRenewal(20 * time.Millisecond)

	r.tick(context.Background())

	assert.GreaterOrEqual(t, l.acquires.Load(), int32(2))
	assert.Equal(t, []string{"t-a"}, h.dispatch.called("a"))
	for _, u := range []string{"b", "c", "d"} {
		assert.Empty(t, h.dispatch.called(u), u)
		assert.True(t, lastSent(t, h, u).Equal(old), u)
	}
	require.Len(t, h.recorder.outcomes, 1)
	assert.True(t, lastSent(t, h, "a").Equal(cycleNow))
}
