package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/NordCoder/Nudger/internal/domain/notification"
	"github.com/NordCoder/Nudger/internal/obs"
	"github.com/NordCoder/Nudger/internal/obs/retry"
	"github.com/NordCoder/Nudger/internal/push"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	sendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_sends_total",
		Help: "Per-token send results after retries.",
	}, []string{"result"})
	sendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatcher_send_duration_seconds",
		Help:    "Time to deliver to one token, retries included.",
		Buckets: prometheus.DefBuckets,
	})
)

type Config struct {
	TokenConcurrency int           `mapstructure:"token_concurrency" validate:"gte=1"`
	SendTimeout      time.Duration `mapstructure:"send_timeout" validate:"gt=0"`
	SendAttempts     int           `mapstructure:"send_attempts" validate:"gte=1"`
	RetryBase        time.Duration `mapstructure:"retry_base"`
	RetryMax         time.Duration `mapstructure:"retry_max"`
}

// Dispatcher fans one payload out to all of a user's tokens.
type Dispatcher struct {
	gw      notification.Gateway
	cfg     Config
	backoff retry.Backoff
	log     *zap.Logger
}

func New(gw notification.Gateway, cfg Config, log *zap.Logger) *Dispatcher {
	if cfg.TokenConcurrency <= 0 {
		cfg.TokenConcurrency = 4
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.SendAttempts <= 0 {
		cfg.SendAttempts = 1
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		gw:      gw,
		cfg:     cfg,
		backoff: retry.ExpoJitter{Base: cfg.RetryBase, Max: cfg.RetryMax, Jitter: 0.2},
		log:     log.With(zap.String("component", "dispatcher")),
	}
}

// Send delivers p to every token and aggregates the results once all sends
// have finished. It never fails as a whole: per-token errors land in the outcome.
func (d *Dispatcher) Send(ctx context.Context, userID string, tokens []notification.DeviceToken, p notification.Payload) notification.SendOutcome {
	out := notification.SendOutcome{UserID: userID}
	if len(tokens) == 0 {
		return out
	}

	ctx, span := otel.Tracer("dispatcher").Start(ctx, "dispatcher.send")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.Int("tokens", len(tokens)))

	results := make([]error, len(tokens))
	var g errgroup.Group
	g.SetLimit(d.cfg.TokenConcurrency)
	for i, t := range tokens {
		g.Go(func() error {
			results[i] = d.sendOne(ctx, t.Token, p)
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range results {
		if err == nil {
			out.SuccessCount++
			sendsTotal.WithLabelValues("ok").Inc()
			continue
		}
		class := notification.Classify(err)
		out.FailureCount++
		out.Errors = append(out.Errors, notification.TokenError{Token: tokens[i].Token, Class: class, Err: err})
		sendsTotal.WithLabelValues(string(class)).Inc()
	}

	span.SetAttributes(attribute.Int("sent.ok", out.SuccessCount), attribute.Int("sent.failed", out.FailureCount))
	if out.SuccessCount == 0 {
		span.SetStatus(codes.Error, "no token served")
	}
	return out
}

func (d *Dispatcher) sendOne(ctx context.Context, token string, p notification.Payload) error {
	start := time.Now()
	defer func() { sendLatency.Observe(time.Since(start).Seconds()) }()

	log := obs.WithTrace(ctx, d.log).With(zap.String("token_fp", push.Fingerprint(token)))
	pol := retry.Policy{
		Name:     "dispatcher_send",
		Attempts: d.cfg.SendAttempts,
		Backoff:  d.backoff,
		Retryable: func(err error) bool {
			return ctx.Err() == nil && notification.Classify(err) == notification.Transient
		},
		OnAttempt: func(i int, err error) {
			log.Debug("send attempt failed", zap.Int("attempt", i+1), zap.Error(err))
		},
	}

	return retry.Do(ctx, func() error {
		sctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()

		err := d.gw.Send(sctx, token, p)
		if err == nil {
			return nil
		}
		var ge *notification.GatewayError
		if !errors.As(err, &ge) {
			// Timeouts and untyped failures are worth another try.
			return notification.NewTransient(err)
		}
		return err
	}, pol)
}
