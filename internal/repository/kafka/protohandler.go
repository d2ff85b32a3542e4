package kafka

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// ErrMalformed marks a message that can never be decoded. The consumer
// commits such messages instead of handing them out again.
var ErrMalformed = errors.New("malformed message")

// ProtoHandler decodes the message value into a fresh M before calling handle.
func ProtoHandler[M proto.Message](ctor func() M, handle func(context.Context, []byte, M) error) Handler {
	return func(ctx context.Context, key, value []byte) error {
		msg := ctor()
		if err := proto.Unmarshal(value, msg); err != nil {
			return fmt.Errorf("%w: %T: %w", ErrMalformed, msg, err)
		}
		return handle(ctx, key, msg)
	}
}
