package janitor

import (
	"context"
	"errors"
	"fmt"

	kafkax "github.com/NordCoder/Nudger/internal/repository/kafka"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"
)

type Controller struct {
	Log *zap.Logger
	Sub *kafkax.Consumer
	UC  *Handler
}

func (c *Controller) Run(ctx context.Context) error {
	handler := kafkax.ProtoHandler(
		func() *structpb.Struct { return &structpb.Struct{} },
		c.handle,
	)
	if err := c.Sub.Consume(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (c *Controller) handle(ctx context.Context, _ []byte, ev *structpb.Struct) error {
	if kafkax.EventKind(ev) != kafkax.EventTokenRejected {
		return nil
	}
	rej, err := kafkax.DecodeTokenRejected(ev)
	if err != nil {
		return fmt.Errorf("%w: %w", kafkax.ErrMalformed, err)
	}
	return c.UC.HandleTokenRejected(ctx, rej)
}
