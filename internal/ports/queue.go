package ports

import (
	"context"
	"errors"

	"counseling/internal/domain"
)

// ErrAlreadyScheduled is returned by Spawn when the key is already queued or running.
var ErrAlreadyScheduled = errors.New("already scheduled")

// Spawner runs pipeline attempts outside the request that scheduled them.
type Spawner interface {
	// Spawn schedules fn under key. It fails when key is already queued or
	// running, or when no capacity is left.
	Spawn(key string, fn func(ctx context.Context)) error
	// Active reports whether key is queued or running in this process.
	Active(key string) bool
}

type Publisher interface {
	Publish(ctx context.Context, e domain.Event) error
}

// Subscriber streams events for one task until ctx ends or cancel is called.
type Subscriber interface {
	Subscribe(ctx context.Context, taskID string) (events <-chan domain.Event, cancel func(), err error)
}

type Events interface {
	Publisher
	Subscriber
}
