package push

import (
	"context"
	"errors"
	"time"

	"github.com/NordCoder/Nudger/internal/domain/notification"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "push_breaker_state",
	Help: "Gateway circuit breaker state (0 closed, 1 half-open, 2 open).",
}, []string{"name"})

var _ notification.Gateway = (*Breaker)(nil)

// Breaker stops calling the wrapped gateway after repeated transient failures.
// Permanent token errors say nothing about gateway health and never trip it.
type Breaker struct {
	next notification.Gateway
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(name string, next notification.Gateway, cfg BreakerConfig, log *zap.Logger) *Breaker {
	if log == nil {
		log = zap.NewNop()
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxReq := cfg.MaxRequests
	if maxReq == 0 {
		maxReq = 3
	}

	name = "push_" + name
	breakerState.WithLabelValues(name).Set(0)

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: maxReq,
		Interval:    cfg.Interval,
		Timeout:     timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				notification.Classify(err) == notification.Permanent
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			breakerState.WithLabelValues(name).Set(float64(to))
			log.Warn("push breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func (b *Breaker) Send(ctx context.Context, token string, p notification.Payload) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Send(ctx, token, p)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return notification.NewTransient(err)
	}
	return err
}
