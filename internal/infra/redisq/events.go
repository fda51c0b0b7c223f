package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"counseling/internal/domain"
	"counseling/internal/ports"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var _ ports.Events = (*Client)(nil)

// Publish sends e on the task's progress channel and keeps the latest
// non-final event so late subscribers can catch up.
func (c *Client) Publish(ctx context.Context, e domain.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	pipe := c.Rdb.Pipeline()
	if e.Final() {
		pipe.Del(ctx, c.lastKey(e.TaskID))
	} else {
		pipe.Set(ctx, c.lastKey(e.TaskID), b, c.Cfg.LastEventTTL)
	}
	pipe.Publish(ctx, c.channel(e.TaskID), b)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish progress for %s: %w", e.TaskID, err)
	}
	return nil
}

// Subscribe listens on the task's progress channel. The subscription is
// confirmed before the stored latest event is read so nothing falls in between.
func (c *Client) Subscribe(ctx context.Context, taskID string) (<-chan domain.Event, func(), error) {
	ctx, stop := context.WithCancel(ctx)
	pubsub := c.Rdb.Subscribe(ctx, c.channel(taskID))
	if _, err := pubsub.Receive(ctx); err != nil {
		stop()
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", c.channel(taskID), err)
	}

	out := make(chan domain.Event, 16)
	if b, err := c.Rdb.Get(ctx, c.lastKey(taskID)).Bytes(); err == nil {
		var e domain.Event
		if json.Unmarshal(b, &e) == nil {
			out <- e
		}
	} else if !errors.Is(err, redis.Nil) {
		log.Ctx(ctx).Warn().Err(err).Str("task_id", taskID).Msg("read last progress event")
	}

	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var e domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					log.Ctx(ctx).Warn().Err(err).Str("channel", msg.Channel).Msg("decode progress event")
					continue
				}
				select {
				case out <- e:
				default:
				}
			}
		}
	}()

	var once sync.Once
	return out, func() { once.Do(stop) }, nil
}
