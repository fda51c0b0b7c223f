// Package memstore keeps tasks and their subjects in process memory.
// Every read and write goes through a deep copy so callers never share state with the store.
package memstore

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"counseling/internal/domain"
	"counseling/internal/ports"

	"github.com/google/uuid"
)

var _ ports.Store = (*Store)(nil)

type Store struct {
	mu         sync.RWMutex
	tasks      map[string]*domain.Task // by internal id
	byTaskID   map[string]string
	recordings map[string]*domain.Recording
	sessions   map[string]*domain.Session
}

func New() *Store {
	return &Store{
		tasks:      make(map[string]*domain.Task),
		byTaskID:   make(map[string]string),
		recordings: make(map[string]*domain.Recording),
		sessions:   make(map[string]*domain.Session),
	}
}

func (s *Store) Close() error { return nil }

func clone[T any](v *T) (*T, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

// inFlightLocked returns the non-terminal task for (kind, subject) other than exceptID.
func (s *Store) inFlightLocked(kind domain.Kind, subjectID, exceptID string) *domain.Task {
	for _, t := range s.tasks {
		if t.Kind == kind && t.SubjectID == subjectID && t.ID != exceptID && !t.Deleted && t.InFlight() {
			return t
		}
	}
	return nil
}

func (s *Store) CreateTask(ctx context.Context, t *domain.Task) error {
	c, err := clone(t)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("%w: task id %s exists", domain.ErrConflict, t.ID)
	}
	if _, ok := s.byTaskID[t.TaskID]; ok {
		return fmt.Errorf("%w: task_id %s exists", domain.ErrConflict, t.TaskID)
	}
	if t.InFlight() {
		if other := s.inFlightLocked(t.Kind, t.SubjectID, t.ID); other != nil {
			return fmt.Errorf("%w: %s task %s is in flight for %s", domain.ErrConflict, t.Kind, other.TaskID, t.SubjectID)
		}
	}

	s.tasks[c.ID] = c
	s.byTaskID[c.TaskID] = c.ID
	return nil
}

func (s *Store) UpdateTask(ctx context.Context, t *domain.Task) error {
	c, err := clone(t)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tasks[t.ID]
	if !ok || cur.Kind != t.Kind {
		return fmt.Errorf("%s task %s: %w", t.Kind, t.TaskID, domain.ErrNotFound)
	}
	if cur.Version != t.Version {
		return fmt.Errorf("%w: %s task %s changed since version %d", domain.ErrConflict, t.Kind, t.TaskID, t.Version)
	}
	if t.InFlight() && !t.Deleted {
		if other := s.inFlightLocked(t.Kind, t.SubjectID, t.ID); other != nil {
			return fmt.Errorf("%w: %s task %s is in flight for %s", domain.ErrConflict, t.Kind, other.TaskID, t.SubjectID)
		}
	}

	// identity is immutable
	c.TaskID, c.SubjectID, c.CreatedAt, c.Params = cur.TaskID, cur.SubjectID, cur.CreatedAt, cur.Params
	c.Version = cur.Version + 1
	s.tasks[c.ID] = c
	t.Version = c.Version
	return nil
}

func (s *Store) get(kind domain.Kind, id string) (*domain.Task, error) {
	s.mu.RLock()
	t, ok := s.tasks[id]
	if ok && (t.Kind != kind || t.Deleted) {
		ok = false
	}
	var (
		c   *domain.Task
		err error
	)
	if ok {
		c, err = clone(t)
	}
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%s task %s: %w", kind, id, domain.ErrNotFound)
	}
	return c, err
}

func (s *Store) TaskByID(ctx context.Context, kind domain.Kind, id string) (*domain.Task, error) {
	return s.get(kind, id)
}

func (s *Store) TaskByTaskID(ctx context.Context, kind domain.Kind, taskID string) (*domain.Task, error) {
	s.mu.RLock()
	id, ok := s.byTaskID[taskID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s task %s: %w", kind, taskID, domain.ErrNotFound)
	}
	return s.get(kind, id)
}

func (s *Store) InFlightTask(ctx context.Context, kind domain.Kind, subjectID string) (*domain.Task, error) {
	s.mu.RLock()
	t := s.inFlightLocked(kind, subjectID, "")
	s.mu.RUnlock()
	if t == nil {
		return nil, fmt.Errorf("in-flight %s task for %s: %w", kind, subjectID, domain.ErrNotFound)
	}
	return s.get(kind, t.ID)
}

func (s *Store) ListTasks(ctx context.Context, q domain.TaskQuery) ([]domain.Task, int, error) {
	s.mu.RLock()
	matched := make([]*domain.Task, 0)
	for _, t := range s.tasks {
		if t.Deleted || (q.Kind != "" && t.Kind != q.Kind) {
			continue
		}
		if q.SubjectID != "" && t.SubjectID != q.SubjectID {
			continue
		}
		if q.Status != "" && t.Status != q.Status {
			continue
		}
		matched = append(matched, t)
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *domain.Task) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	total := len(matched)
	if q.PerPage > 0 {
		start := min(max(q.Page-1, 0)*q.PerPage, total)
		end := min(start+q.PerPage, total)
		matched = matched[start:end]
	}

	out := make([]domain.Task, 0, len(matched))
	for _, t := range matched {
		s.mu.RLock()
		c, err := clone(t)
		s.mu.RUnlock()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *c)
	}
	return out, total, nil
}

func (s *Store) StaleTasks(ctx context.Context, before time.Time, limit int) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Task
	for _, t := range s.tasks {
		if t.Deleted || !t.InFlight() || !t.UpdatedAt.Before(before) {
			continue
		}
		c, err := clone(t)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateRecording(ctx context.Context, r *domain.Recording) error {
	c, err := clone(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recordings[r.ID]; ok {
		return fmt.Errorf("%w: recording %s exists", domain.ErrConflict, r.ID)
	}
	s.recordings[c.ID] = c
	return nil
}

func (s *Store) Recording(ctx context.Context, id string) (*domain.Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recordings[id]
	if !ok || r.Deleted {
		return nil, fmt.Errorf("recording %s: %w", id, domain.ErrNotFound)
	}
	return clone(r)
}

func (s *Store) SaveRecording(ctx context.Context, r *domain.Recording) error {
	c, err := clone(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recordings[r.ID]; !ok {
		return fmt.Errorf("recording %s: %w", r.ID, domain.ErrNotFound)
	}
	s.recordings[c.ID] = c
	return nil
}

func (s *Store) EnsureSession(ctx context.Context, r *domain.Recording) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recordings[r.ID]
	if !ok || rec.Deleted {
		return nil, fmt.Errorf("recording %s: %w", r.ID, domain.ErrNotFound)
	}
	if sess, ok := s.sessions[rec.SessionID]; ok {
		return clone(sess)
	}

	now := time.Now().UTC()
	sess := &domain.Session{
		ID:            uuid.NewString(),
		CustomerID:    rec.CustomerID,
		Status:        domain.SessionRecorded,
		AudioFilePath: rec.FilePath,
		SessionDate:   now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.sessions[sess.ID] = sess
	rec.SessionID = sess.ID
	rec.UpdatedAt = now
	return clone(sess)
}

func (s *Store) Session(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return clone(sess)
}

func (s *Store) SaveSession(ctx context.Context, sess *domain.Session) error {
	c, err := clone(sess)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return fmt.Errorf("session %s: %w", sess.ID, domain.ErrNotFound)
	}
	s.sessions[c.ID] = c
	return nil
}
