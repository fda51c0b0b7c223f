package domain

import "time"

// Event is a progress notification emitted after a persisted task transition.
type Event struct {
	TaskID    string     `json:"task_id"`
	Kind      Kind       `json:"kind"`
	Status    TaskStatus `json:"status"`
	Progress  int        `json:"progress"`
	Stage     string     `json:"stage,omitempty"`
	Message   string     `json:"message,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// EventFor snapshots t as an event.
func EventFor(t *Task) Event {
	e := Event{
		TaskID:    t.TaskID,
		Kind:      t.Kind,
		Status:    t.Status,
		Progress:  t.Progress,
		Stage:     t.Stage,
		Timestamp: t.UpdatedAt,
	}
	if t.Error != nil {
		e.Message = t.Error.Message
	}
	return e
}

// Final reports whether no more events follow for this attempt.
func (e Event) Final() bool {
	return e.Status.Terminal()
}
