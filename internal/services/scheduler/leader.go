package scheduler

import "context"

// Leader gates cycles so that only one instance schedules at a time.
type Leader interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// AlwaysLeader is used when the lock is disabled.
type AlwaysLeader struct{}

func (AlwaysLeader) Acquire(context.Context) (bool, error) { return true, nil }
func (AlwaysLeader) Release(context.Context) error         { return nil }
