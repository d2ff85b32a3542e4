package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/NordCoder/Nudger/internal/obs/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Handler func(ctx context.Context, key, value []byte) error

var consumerHandled = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kafka_consumer_messages_total",
	Help: "Messages handled by kafka consumers, by topic and result.",
}, []string{"topic", "result"})

type Consumer struct {
	reader  *kafka.Reader
	log     *zap.Logger
	cfg     *ConsumerConfig
	backoff retry.Backoff
}

var handlerBackoff = retry.ExpoJitter{Base: 200 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2}

type ConsumerConfig struct {
	Brokers       []string    `mapstructure:"brokers" validate:"required,min=1"`
	GroupID       string      `mapstructure:"group_id" validate:"required"`
	Topic         string      `mapstructure:"topic" validate:"required"`
	FromBeginning bool        `mapstructure:"from_beginning"`
	Logger        *zap.Logger `mapstructure:"-"`
}

func NewConsumer(cfg *ConsumerConfig) *Consumer {
	if cfg.Logger == nil {
		cfg.Logger = zap.L()
	}

	start := kafka.LastOffset
	if cfg.FromBeginning {
		start = kafka.FirstOffset
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:               cfg.Brokers,
		GroupID:               cfg.GroupID,
		Topic:                 cfg.Topic,
		StartOffset:           start,
		WatchPartitionChanges: true,

		MinBytes:          1e3,
		MaxBytes:          10e6,
		SessionTimeout:    10 * time.Second,
		RebalanceTimeout:  15 * time.Second,
		HeartbeatInterval: 3 * time.Second,
	})

	return &Consumer{reader: r, log: consumerLogger(cfg.Logger, cfg), cfg: cfg, backoff: handlerBackoff}
}

func consumerLogger(l *zap.Logger, cfg *ConsumerConfig) *zap.Logger {
	return l.With(
		zap.String("component", "kafka.consumer"),
		zap.String("topic", cfg.Topic),
		zap.String("group", cfg.GroupID),
	)
}

func (c *Consumer) WithLogger(l *zap.Logger) *Consumer {
	if l == nil {
		return c
	}
	cp := *c
	cp.log = consumerLogger(l, c.cfg)
	return &cp
}

// Consume runs h for each fetched message until ctx is done. A message is
// committed only after h succeeds or reports ErrMalformed. Other handler
// errors are retried on the same message, so the committed offset never
// moves past a message that was not handled.
func (c *Consumer) Consume(ctx context.Context, h Handler) error {
	log := c.log
	log.Info("consumer started")

	tr := otel.Tracer("kafka.consumer")
	prop := otel.GetTextMapPropagator()

	backoff := 200 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			log.Info("consumer stopped (ctx canceled)")
			return ctx.Err()
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("consumer stopped (ctx canceled)")
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				log.Debug("fetch EOF; retry", zap.Duration("backoff", backoff))
			} else {
				log.Warn("fetch failed; retry", zap.Error(err), zap.Duration("backoff", backoff))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		backoff = 200 * time.Millisecond

		msgCtx := prop.Extract(ctx, headerCarrier{&msg.Headers})
		msgCtx, span := tr.Start(msgCtx, "kafka.consume "+msg.Topic,
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				semconv.MessagingSystemKafka,
				semconv.MessagingDestinationName(msg.Topic),
				semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			),
		)
		done := handle(msgCtx, h, msg, c.backoff, log)
		span.End()
		if !done {
			log.Info("consumer stopped with message uncommitted",
				zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset))
			return ctx.Err()
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				log.Info("commit interrupted by context cancel")
				return ctx.Err()
			}
			log.Warn("commit failed; will retry later", zap.Error(err))
		}
	}
}

// handle runs h on msg until it succeeds or reports ErrMalformed, waiting
// between attempts. It returns false when ctx ends first.
func handle(ctx context.Context, h Handler, msg kafka.Message, backoff retry.Backoff, log *zap.Logger) bool {
	span := trace.SpanFromContext(ctx)
	for attempt := 0; ; attempt++ {
		err := h(ctx, msg.Key, msg.Value)
		switch {
		case err == nil:
			consumerHandled.WithLabelValues(msg.Topic, "ok").Inc()
			return true
		case errors.Is(err, ErrMalformed):
			span.RecordError(err)
			consumerHandled.WithLabelValues(msg.Topic, "malformed").Inc()
			log.Warn("malformed message skipped", zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
			return true
		}

		span.RecordError(err)
		consumerHandled.WithLabelValues(msg.Topic, "error").Inc()
		wait := backoff.Next(attempt)
		log.Error("handler error; retrying message",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
}

func (c *Consumer) Close() error { return c.reader.Close() }
