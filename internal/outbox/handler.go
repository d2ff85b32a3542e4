package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/NordCoder/Nudger/internal/domain/kafka"
	"github.com/NordCoder/Nudger/internal/domain/outbox"
	"github.com/NordCoder/Nudger/internal/obs/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	outboxHandlerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbox_handler_latency_seconds",
		Help:    "Latency of outbox handlers including retries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	outboxHandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_handler_errors_total",
		Help: "Errors in outbox handlers (after retries).",
	}, []string{"kind"})
)

func instrument(kind outbox.Kind, h outbox.KindHandler, pol retry.Policy) outbox.KindHandler {
	tr := otel.Tracer("outbox.handler")
	if pol.Name == "" {
		pol.Name = "outbox_" + kind.String()
	}
	return func(ctx context.Context, data []byte) error {
		ctx, span := tr.Start(ctx, "outbox.handle "+kind.String(),
			trace.WithAttributes(attribute.Int("outbox.payload_len", len(data))))
		defer span.End()

		start := time.Now()
		err := retry.Do(ctx, func() error { return h(ctx, data) }, pol)
		outboxHandlerLatency.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			outboxHandlerErrors.WithLabelValues(kind.String()).Inc()
		}
		return err
	}
}

func decode[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, retry.NotRetryable(fmt.Errorf("unmarshal %T payload: %w", v, err))
	}
	return v, nil
}

// MakeGlobalOutboxHandler routes each outbox kind to its Kafka publication.
func MakeGlobalOutboxHandler(pub kafka.DeliveryEvents, pol retry.Policy) outbox.GlobalHandler {
	handlers := map[outbox.Kind]outbox.KindHandler{
		outbox.KindDeliveryReport: instrument(outbox.KindDeliveryReport, func(ctx context.Context, data []byte) error {
			r, err := decode[outbox.DeliveryReport](data)
			if err != nil {
				return err
			}
			return pub.PublishDeliveryReport(ctx, r)
		}, pol),
		outbox.KindTokenRejected: instrument(outbox.KindTokenRejected, func(ctx context.Context, data []byte) error {
			r, err := decode[outbox.TokenRejected](data)
			if err != nil {
				return err
			}
			return pub.PublishTokenRejected(ctx, r)
		}, pol),
	}

	return func(kind outbox.Kind) (outbox.KindHandler, error) {
		h, ok := handlers[kind]
		if !ok {
			return nil, fmt.Errorf("unsupported outbox kind: %d", kind)
		}
		return h, nil
	}
}
