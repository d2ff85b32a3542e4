package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/NordCoder/Nudger/internal/domain/notification"
	"github.com/NordCoder/Nudger/internal/obs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Dispatcher interface {
	Send(ctx context.Context, userID string, tokens []notification.DeviceToken, p notification.Payload) notification.SendOutcome
}

// Recorder persists what a dispatch achieved for one user.
type Recorder interface {
	Record(ctx context.Context, cycleAt time.Time, out notification.SendOutcome) error
}

type Stats struct {
	Due        int
	Dispatched int
	Served     int
	Skipped    int
	Failed     int
}

type Usecase struct {
	Prefs    notification.PreferenceRepo
	Tokens   notification.TokenRepo
	Content  notification.ContentProvider
	Dispatch Dispatcher
	Recorder Recorder
	Clock    notification.Clock
	Log      *zap.Logger

	Workers       int
	RecordTimeout time.Duration
}

type userResult int

const (
	resSkipped userResult = iota
	resFailed
	resDispatched
	resServed
)

// Cycle runs one select-dispatch-update pass with a single notion of now.
func (u *Usecase) Cycle(ctx context.Context) (Stats, error) {
	var st Stats
	now := u.Clock.Now()

	tr := otel.Tracer("scheduler.uc")
	ctx, span := tr.Start(ctx, "scheduler.cycle",
		trace.WithAttributes(attribute.String("cycle.now", now.Format(time.RFC3339))),
	)
	defer span.End()

	due, err := u.Prefs.GetUsersDueForNotification(ctx, now)
	if err != nil {
		span.RecordError(err)
		return st, fmt.Errorf("select due users: %w", err)
	}
	st.Due = len(due)
	span.SetAttributes(attribute.Int("users.due", st.Due))
	if st.Due == 0 {
		return st, nil
	}

	workers := u.Workers
	if workers <= 0 {
		workers = 1
	}

	var dispatched, served, skipped, failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(workers)
	for i, p := range due {
		if ctx.Err() != nil {
			skipped.Add(int32(len(due) - i))
			break
		}
		g.Go(func() error {
			switch u.safeProcessUser(ctx, p, now) {
			case resServed:
				served.Add(1)
				dispatched.Add(1)
			case resDispatched:
				dispatched.Add(1)
			case resFailed:
				failed.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	st.Dispatched = int(dispatched.Load())
	st.Served = int(served.Load())
	st.Skipped = int(skipped.Load())
	st.Failed = int(failed.Load())
	span.SetAttributes(
		attribute.Int("users.dispatched", st.Dispatched),
		attribute.Int("users.served", st.Served),
		attribute.Int("users.skipped", st.Skipped),
		attribute.Int("users.failed", st.Failed),
	)
	return st, nil
}

// safeProcessUser turns a panic in one user's pipeline into a failure.
func (u *Usecase) safeProcessUser(ctx context.Context, p *notification.Preference, now time.Time) (res userResult) {
	defer func() {
		if r := recover(); r != nil {
			u.Log.Error("user pipeline panic",
				zap.String("user_id", p.UserID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			res = resFailed
		}
	}()
	return u.processUser(ctx, p, now)
}

func (u *Usecase) processUser(ctx context.Context, p *notification.Preference, now time.Time) userResult {
	if ctx.Err() != nil {
		return resSkipped
	}

	ctx, span := otel.Tracer("scheduler.uc").Start(ctx, "scheduler.user",
		trace.WithAttributes(attribute.String("user.id", p.UserID)))
	defer span.End()
	log := obs.WithTrace(ctx, u.Log).With(zap.String("user_id", p.UserID))

	tokens, err := u.Tokens.ListByUser(ctx, p.UserID)
	if err != nil {
		span.RecordError(err)
		log.Warn("token lookup failed", zap.Error(err))
		return resFailed
	}
	if len(tokens) == 0 {
		log.Debug("no device tokens")
		return resSkipped
	}

	payload, err := u.Content.GetPayload(ctx)
	if err != nil {
		span.RecordError(err)
		log.Warn("content unavailable", zap.Error(err))
		return resFailed
	}

	if ctx.Err() != nil {
		return resSkipped
	}
	out := u.Dispatch.Send(ctx, p.UserID, tokens, payload)

	// The notification may already be on the device, so the outcome is
	// recorded even when shutdown started in the meantime.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.recordTimeout())
	defer cancel()
	if err := u.Recorder.Record(rctx, now, out); err != nil {
		span.RecordError(err)
		log.Error("record outcome failed", zap.Bool("served", out.Served()), zap.Error(err))
		return resFailed
	}

	log.Debug("user dispatched",
		zap.Int("success", out.SuccessCount),
		zap.Int("failure", out.FailureCount),
		zap.Int("permanent", len(out.PermanentFailures())),
	)
	if out.Served() {
		return resServed
	}
	return resDispatched
}

func (u *Usecase) recordTimeout() time.Duration {
	if u.RecordTimeout > 0 {
		return u.RecordTimeout
	}
	return 5 * time.Second
}
