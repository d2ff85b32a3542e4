package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	mCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_cycles_total", Help: "Scheduler cycles by result.",
	}, []string{"result"})
	mUsers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_users_total", Help: "Users per cycle stage.",
	}, []string{"stage"})
	mCycleDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "scheduler_cycle_duration_seconds", Help: "Scheduler cycle duration",
		Buckets: prometheus.DefBuckets,
	})
	mLeader = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_is_leader", Help: "1 when this instance holds the scheduling lease.",
	})
)

type Cycler interface {
	Cycle(ctx context.Context) (Stats, error)
}

var errLeaseLost = errors.New("leader lease lost")

type Runner struct {
	log        *zap.Logger
	uc         Cycler
	leader     Leader
	interval   time.Duration
	// renewEvery > 0 keeps the lease alive while a cycle runs.
	renewEvery time.Duration
}

func New(log *zap.Logger, uc Cycler, leader Leader, interval time.Duration) *Runner {
	if leader == nil {
		leader = AlwaysLeader{}
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Runner{
		log:      log.With(zap.String("component", "scheduler.runner")),
		uc:       uc,
		leader:   leader,
		interval: interval,
	}
}

// WithLeaseRenewal renews the leader lease every d during a cycle. A failed or
// lost renewal cancels the cycle so no further users are dispatched.
func (r *Runner) WithLeaseRenewal(d time.Duration) *Runner {
	r.renewEvery = d
	return r
}

// Run starts a cycle right away and then one interval after each cycle ends,
// so cycles never overlap. It returns when ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := r.leader.Release(rctx); err != nil {
			r.log.Warn("leader release", zap.Error(err))
		}
		mLeader.Set(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		r.tick(ctx)
		timer.Reset(r.interval)
	}
}

func (r *Runner) tick(ctx context.Context) {
	ok, err := r.leader.Acquire(ctx)
	if err != nil {
		mCycles.WithLabelValues("leader_error").Inc()
		r.log.Warn("leader check failed; skipping cycle", zap.Error(err))
		mLeader.Set(0)
		return
	}
	if !ok {
		mLeader.Set(0)
		mCycles.WithLabelValues("standby").Inc()
		return
	}
	mLeader.Set(1)

	cctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stopRenew := r.keepLease(cctx, cancel)

	start := time.Now()
	st, err := r.safeCycle(cctx)
	mCycleDur.Observe(time.Since(start).Seconds())
	stopRenew()

	mUsers.WithLabelValues("due").Add(float64(st.Due))
	mUsers.WithLabelValues("dispatched").Add(float64(st.Dispatched))
	mUsers.WithLabelValues("served").Add(float64(st.Served))
	mUsers.WithLabelValues("skipped").Add(float64(st.Skipped))
	mUsers.WithLabelValues("failed").Add(float64(st.Failed))

	if errors.Is(context.Cause(cctx), errLeaseLost) {
		mCycles.WithLabelValues("lease_lost").Inc()
		r.log.Warn("leader lease lost mid-cycle; remaining users left for the next leader",
			zap.Int("due", st.Due), zap.Int("dispatched", st.Dispatched))
		return
	}
	if err != nil {
		mCycles.WithLabelValues("error").Inc()
		r.log.Warn("cycle error", zap.Error(err))
		return
	}
	mCycles.WithLabelValues("ok").Inc()
	if st.Due > 0 {
		r.log.Info("cycle done",
			zap.Int("due", st.Due),
			zap.Int("dispatched", st.Dispatched),
			zap.Int("served", st.Served),
			zap.Int("skipped", st.Skipped),
			zap.Int("failed", st.Failed),
			zap.Duration("took", time.Since(start)),
		)
	}
}

// keepLease renews the lease in the background until the returned stop func
// is called. On failure it cancels the cycle with errLeaseLost.
func (r *Runner) keepLease(ctx context.Context, cancel context.CancelCauseFunc) (stop func()) {
	if r.renewEvery <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		t := time.NewTicker(r.renewEvery)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
			}
			rctx, rcancel := context.WithTimeout(ctx, r.renewEvery)
			ok, err := r.leader.Acquire(rctx)
			rcancel()
			if err != nil || !ok {
				mLeader.Set(0)
				r.log.Warn("lease renewal failed", zap.Bool("held", ok), zap.Error(err))
				cancel(errLeaseLost)
				return
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func (r *Runner) safeCycle(ctx context.Context) (st Stats, err error) {
	defer func() {
		if p := recover(); p != nil {
			mCycles.WithLabelValues("panic").Inc()
			r.log.Error("cycle panic", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("cycle panic: %v", p)
		}
	}()
	return r.uc.Cycle(ctx)
}
