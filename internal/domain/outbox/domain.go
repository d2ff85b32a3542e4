package outbox

import (
	"context"
	"time"
)

type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
)

type Kind int

const (
	KindDeliveryReport Kind = 1
	KindTokenRejected  Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindDeliveryReport:
		return "delivery_report"
	case KindTokenRejected:
		return "token_rejected"
	default:
		return "unknown"
	}
}

type Message struct {
	IdempotencyKey string
	Kind           Kind
	Data           []byte
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Tracestate     string
	Traceparent    string
	Baggage        string
}

type Repository interface {
	Enqueue(ctx context.Context, key string, kind Kind, data []byte) error

	PickBatch(ctx context.Context, batch int, inProgressTTL time.Duration) ([]Message, error)

	MarkSuccess(ctx context.Context, keys []string) error
}

type KindHandler func(ctx context.Context, data []byte) error

type GlobalHandler func(kind Kind) (KindHandler, error)

// DeliveryReport is the per-user summary of one scheduler cycle.
type DeliveryReport struct {
	UserID       string    `json:"user_id"`
	CycleAt      time.Time `json:"cycle_at"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	Served       bool      `json:"served"`
}

// TokenRejected reports a token the push gateway refused permanently.
type TokenRejected struct {
	UserID  string    `json:"user_id"`
	Token   string    `json:"token"`
	Reason  string    `json:"reason"`
	CycleAt time.Time `json:"cycle_at"`
}
