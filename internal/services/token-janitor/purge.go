package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Nudger/internal/domain/notification"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	mPurged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "janitor_purged_rows_total", Help: "Rows removed by the nightly purge.",
	}, []string{"table"})
	mPurgeErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "janitor_purge_errors_total", Help: "Failed purge runs.",
	})
)

type OutboxPurger interface {
	PurgeDelivered(ctx context.Context, olderThan time.Time) (int64, error)
}

// PurgeJob drops tokens that were not refreshed within StaleAfter and
// delivered outbox rows older than OutboxRetention.
type PurgeJob struct {
	Tokens          notification.TokenRepo
	Outbox          OutboxPurger
	StaleAfter      time.Duration
	OutboxRetention time.Duration
	Timeout         time.Duration
	Clock           notification.Clock
	Log             *zap.Logger
}

func (j *PurgeJob) Run(ctx context.Context) error {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	now := j.Clock.Now()
	if j.StaleAfter > 0 {
		n, err := j.Tokens.PurgeStale(ctx, now.Add(-j.StaleAfter))
		if err != nil {
			mPurgeErr.Inc()
			return fmt.Errorf("purge stale tokens: %w", err)
		}
		mPurged.WithLabelValues("device_tokens").Add(float64(n))
		j.Log.Info("stale tokens purged", zap.Int64("rows", n), zap.Duration("stale_after", j.StaleAfter))
	}
	if j.Outbox != nil && j.OutboxRetention > 0 {
		n, err := j.Outbox.PurgeDelivered(ctx, now.Add(-j.OutboxRetention))
		if err != nil {
			mPurgeErr.Inc()
			return fmt.Errorf("purge outbox: %w", err)
		}
		mPurged.WithLabelValues("outbox").Add(float64(n))
		j.Log.Info("delivered outbox rows purged", zap.Int64("rows", n))
	}
	return nil
}

// Schedule registers the job on c under a standard five-field cron spec.
func (j *PurgeJob) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		if err := j.Run(ctx); err != nil {
			j.Log.Error("purge failed", zap.Error(err))
		}
	})
	if err != nil {
		return 0, fmt.Errorf("schedule purge %q: %w", spec, err)
	}
	return id, nil
}
