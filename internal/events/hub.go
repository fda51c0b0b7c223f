// Package events fans progress events out to in-process listeners.
package events

import (
	"context"
	"sync"

	"counseling/internal/domain"
	"counseling/internal/ports"
)

const listenerBuffer = 16

var _ ports.Events = (*Hub)(nil)

// Hub delivers events for a task to every listener subscribed to it.
// A listener whose buffer is full misses the event rather than blocking the publisher.
type Hub struct {
	mu        sync.RWMutex
	listeners map[string]map[chan domain.Event]struct{}
	last      map[string]domain.Event
}

func NewHub() *Hub {
	return &Hub{
		listeners: make(map[string]map[chan domain.Event]struct{}),
		last:      make(map[string]domain.Event),
	}
}

func (h *Hub) Publish(ctx context.Context, e domain.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if e.Final() {
		delete(h.last, e.TaskID)
	} else {
		h.last[e.TaskID] = e
	}
	for ch := range h.listeners[e.TaskID] {
		select {
		case ch <- e:
		default:
		}
	}
	return nil
}

// Subscribe registers a listener. The latest non-final event, if any, is delivered first.
func (h *Hub) Subscribe(ctx context.Context, taskID string) (<-chan domain.Event, func(), error) {
	ch := make(chan domain.Event, listenerBuffer)

	h.mu.Lock()
	if h.listeners[taskID] == nil {
		h.listeners[taskID] = make(map[chan domain.Event]struct{})
	}
	h.listeners[taskID][ch] = struct{}{}
	if e, ok := h.last[taskID]; ok {
		ch <- e
	}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if ls, ok := h.listeners[taskID]; ok {
				delete(ls, ch)
				if len(ls) == 0 {
					delete(h.listeners, taskID)
				}
			}
			close(ch)
		})
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, nil
}
