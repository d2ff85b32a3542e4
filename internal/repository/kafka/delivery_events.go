package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Nudger/internal/domain/kafka"
	"github.com/NordCoder/Nudger/internal/domain/outbox"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	EventDeliveryReport = "delivery_report"
	EventTokenRejected  = "token_rejected"
)

var ErrUnexpectedEvent = errors.New("unexpected event kind")

type DeliveryEventsKafka struct {
	p *Producer
}

func NewDeliveryEventsKafka(p *Producer) *DeliveryEventsKafka { return &DeliveryEventsKafka{p: p} }

var _ kafka.DeliveryEvents = (*DeliveryEventsKafka)(nil)

func (e *DeliveryEventsKafka) PublishDeliveryReport(ctx context.Context, r outbox.DeliveryReport) error {
	msg, err := EncodeDeliveryReport(r)
	if err != nil {
		return err
	}
	return e.p.PublishProto(ctx, KeyFromString(r.UserID), msg)
}

func (e *DeliveryEventsKafka) PublishTokenRejected(ctx context.Context, r outbox.TokenRejected) error {
	msg, err := EncodeTokenRejected(r)
	if err != nil {
		return err
	}
	return e.p.PublishProto(ctx, KeyFromString(r.UserID), msg)
}

func EncodeDeliveryReport(r outbox.DeliveryReport) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(map[string]any{
		"kind":          EventDeliveryReport,
		"user_id":       r.UserID,
		"cycle_at":      r.CycleAt.UTC().Format(time.RFC3339Nano),
		"success_count": r.SuccessCount,
		"failure_count": r.FailureCount,
		"served":        r.Served,
	})
	if err != nil {
		return nil, fmt.Errorf("encode delivery report: %w", err)
	}
	return s, nil
}

func EncodeTokenRejected(r outbox.TokenRejected) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(map[string]any{
		"kind":     EventTokenRejected,
		"user_id":  r.UserID,
		"token":    r.Token,
		"reason":   r.Reason,
		"cycle_at": r.CycleAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("encode token rejected: %w", err)
	}
	return s, nil
}

// EventKind returns the kind field of a delivery event.
func EventKind(s *structpb.Struct) string {
	return s.GetFields()["kind"].GetStringValue()
}

func DecodeTokenRejected(s *structpb.Struct) (outbox.TokenRejected, error) {
	if k := EventKind(s); k != EventTokenRejected {
		return outbox.TokenRejected{}, fmt.Errorf("%w: %q", ErrUnexpectedEvent, k)
	}
	f := s.GetFields()
	out := outbox.TokenRejected{
		UserID: f["user_id"].GetStringValue(),
		Token:  f["token"].GetStringValue(),
		Reason: f["reason"].GetStringValue(),
	}
	if raw := f["cycle_at"].GetStringValue(); raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return outbox.TokenRejected{}, fmt.Errorf("decode cycle_at: %w", err)
		}
		out.CycleAt = at
	}
	return out, nil
}

func DecodeDeliveryReport(s *structpb.Struct) (outbox.DeliveryReport, error) {
	if k := EventKind(s); k != EventDeliveryReport {
		return outbox.DeliveryReport{}, fmt.Errorf("%w: %q", ErrUnexpectedEvent, k)
	}
	f := s.GetFields()
	out := outbox.DeliveryReport{
		UserID:       f["user_id"].GetStringValue(),
		SuccessCount: int(f["success_count"].GetNumberValue()),
		FailureCount: int(f["failure_count"].GetNumberValue()),
		Served:       f["served"].GetBoolValue(),
	}
	if raw := f["cycle_at"].GetStringValue(); raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return outbox.DeliveryReport{}, fmt.Errorf("decode cycle_at: %w", err)
		}
		out.CycleAt = at
	}
	return out, nil
}
