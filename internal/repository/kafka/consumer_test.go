package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/NordCoder/Nudger/internal/obs/retry"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var fastBackoff = retry.ExpoJitter{Base: time.Millisecond, Max: 5 * time.Millisecond}

func testMessage() kafka.Message {
	return kafka.Message{Topic: "nudger.delivery.events", Partition: 0, Offset: 7, Key: []byte("k"), Value: []byte("v")}
}

func TestHandle_RetriesFailedMessageUntilHandled(t *testing.T) {
	var seen [][]byte
	h := func(_ context.Context, _, value []byte) error {
		seen = append(seen, value)
		if len(seen) < 3 {
			return errors.New("db unavailable")
		}
		return nil
	}

	ok := handle(context.Background(), h, testMessage(), fastBackoff, zap.NewNop())

	assert.True(t, ok)
	assert.Len(t, seen, 3)
	for _, v := range seen {
		assert.Equal(t, []byte("v"), v)
	}
}

func TestHandle_MalformedIsCommittedWithoutRetry(t *testing.T) {
	calls := 0
	h := func(context.Context, []byte, []byte) error {
		calls++
		return fmt.Errorf("decode: %w", ErrMalformed)
	}

	assert.True(t, handle(context.Background(), h, testMessage(), fastBackoff, zap.NewNop()))
	assert.Equal(t, 1, calls)
}

func TestHandle_StopsOnCancelWithoutCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	h := func(context.Context, []byte, []byte) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errors.New("still failing")
	}

	ok := handle(ctx, h, testMessage(), retry.ExpoJitter{Base: time.Millisecond, Max: time.Millisecond}, zap.NewNop())

	assert.False(t, ok)
	assert.Equal(t, 2, calls)
}
