package janitor

import (
	"context"
	"fmt"

	"github.com/NordCoder/Nudger/internal/domain/notification"
	"github.com/NordCoder/Nudger/internal/domain/outbox"
	"github.com/NordCoder/Nudger/internal/obs"
	"github.com/NordCoder/Nudger/internal/push"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	mRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "janitor_tokens_rejected_total", Help: "token_rejected events consumed.",
	})
	mDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "janitor_tokens_deleted_total", Help: "Tokens removed after a permanent rejection.",
	})
	mKept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "janitor_tokens_kept_total", Help: "Rejected tokens kept because they were re-registered or moved.",
	})
)

type Handler struct {
	Tokens     notification.TokenRepo
	Deregister bool
	Log        *zap.Logger
}

// HandleTokenRejected removes a token the push gateway refused for good,
// unless it was registered again after the rejecting cycle. With Deregister
// off the rejection is only counted. Store errors are returned so the event
// is redelivered.
func (h *Handler) HandleTokenRejected(ctx context.Context, ev outbox.TokenRejected) error {
	log := obs.WithTrace(ctx, h.Log).With(
		zap.String("user_id", ev.UserID),
		zap.String("token_fp", push.Fingerprint(ev.Token)),
	)
	if ev.Token == "" || ev.UserID == "" {
		log.Warn("token_rejected without token or user; dropped")
		return nil
	}
	mRejected.Inc()

	if !h.Deregister {
		log.Info("token rejected", zap.String("reason", ev.Reason))
		return nil
	}
	gone, err := h.Tokens.DeleteRejected(ctx, ev.Token, ev.UserID, ev.CycleAt)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	if !gone {
		mKept.Inc()
		log.Info("rejected token re-registered or already gone; kept", zap.Time("cycle_at", ev.CycleAt))
		return nil
	}
	mDeleted.Inc()
	log.Info("token deregistered", zap.String("reason", ev.Reason))
	return nil
}
