package kafka

import (
	"context"

	"go.uber.org/zap"
)

func BootstrapConsumer(ctx context.Context, cfg *ConsumerConfig, spec TopicSpec, logger *zap.Logger) *Consumer {
	spec.Name = cfg.Topic
	_ = EnsureTopic(ctx, cfg.Brokers, spec, logger)

	cfg.Logger = logger
	return NewConsumer(cfg)
}

func BootstrapProducer(ctx context.Context, brokers []string, spec TopicSpec, logger *zap.Logger) *Producer {
	_ = EnsureTopic(ctx, brokers, spec, logger)

	return NewProducer(brokers, spec.Name).WithLogger(logger)
}
