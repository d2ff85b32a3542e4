package push

import (
	"context"

	"github.com/NordCoder/Nudger/internal/domain/notification"
	"go.uber.org/zap"
)

var _ notification.Gateway = (*LogGateway)(nil)

// LogGateway delivers nothing and logs each send. Used for local runs.
type LogGateway struct {
	log *zap.Logger
}

func NewLogGateway(log *zap.Logger) *LogGateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogGateway{log: log.With(zap.String("component", "push.log"))}
}

func (g *LogGateway) Send(ctx context.Context, token string, p notification.Payload) error {
	if err := ctx.Err(); err != nil {
		return notification.NewTransient(err)
	}
	g.log.Info("push (dry run)",
		zap.String("token_fp", Fingerprint(token)),
		zap.String("title", p.Title),
		zap.Int("body_len", len(p.Body)),
	)
	return nil
}
