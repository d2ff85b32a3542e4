package kafka

import (
	"context"

	"github.com/NordCoder/Nudger/internal/domain/outbox"
)

type DeliveryEvents interface {
	PublishDeliveryReport(ctx context.Context, r outbox.DeliveryReport) error
	PublishTokenRejected(ctx context.Context, r outbox.TokenRejected) error
}
