package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"counseling/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func task(id, subject string, created time.Time) *domain.Task {
	return domain.NewTask(id, "t-"+id, domain.KindTranscription, subject,
		domain.Params{Transcription: &domain.TranscriptionParams{Language: "ja"}}, 30*time.Second, created)
}

func TestCreateAndReadReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()

	in := task("1", "rec-1", t0)
	if err := s.CreateTask(ctx, in); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	in.Status = domain.StatusFailed

	got, err := s.TaskByTaskID(ctx, domain.KindTranscription, "t-1")
	if err != nil {
		t.Fatalf("TaskByTaskID() error = %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Fatalf("status = %s, caller mutation leaked into store", got.Status)
	}
	got.Progress = 99
	again, _ := s.TaskByID(ctx, domain.KindTranscription, "1")
	if again.Progress != 0 {
		t.Fatal("returned task shares memory with the store")
	}

	if _, err := s.TaskByTaskID(ctx, domain.KindAnalysis, "t-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("kind mismatch error = %v, want ErrNotFound", err)
	}
}

// TestCreateTaskInFlightIsAtomic races creations for one subject; exactly one wins.
func TestCreateTaskInFlightIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := New()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, conf int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.CreateTask(ctx, task(fmt.Sprint(i), "rec-1", t0))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrConflict):
				conf++
			default:
				t.Errorf("CreateTask() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if ok != 1 || conf != 19 {
		t.Fatalf("created=%d conflicts=%d, want 1/19", ok, conf)
	}
}

func TestUpdateTaskRejectsSecondInFlight(t *testing.T) {
	ctx := context.Background()
	s := New()

	first := task("1", "rec-1", t0)
	_ = s.CreateTask(ctx, first)
	_ = first.Fail("boom", domain.CodeTranscriptionError, t0)
	if err := s.UpdateTask(ctx, first); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}

	second := task("2", "rec-1", t0)
	if err := s.CreateTask(ctx, second); err != nil {
		t.Fatalf("CreateTask() after failure error = %v", err)
	}

	if err := first.Retry(domain.DefaultMaxRetries, time.Minute, t0); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if err := s.UpdateTask(ctx, first); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("UpdateTask() error = %v, want ErrConflict", err)
	}
}

func TestUpdateTaskRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := New()

	tk := task("1", "rec-1", t0)
	_ = s.CreateTask(ctx, tk)
	stale, err := s.TaskByTaskID(ctx, domain.KindTranscription, tk.TaskID)
	if err != nil {
		t.Fatalf("TaskByTaskID() error = %v", err)
	}

	_ = tk.Fail("no progress", domain.CodeTimeout, t0)
	if err := s.UpdateTask(ctx, tk); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	if tk.Version != 1 {
		t.Fatalf("version = %d, want 1", tk.Version)
	}

	_ = stale.Start("", t0)
	if err := s.UpdateTask(ctx, stale); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("stale UpdateTask() error = %v, want ErrConflict", err)
	}
	got, _ := s.TaskByTaskID(ctx, domain.KindTranscription, tk.TaskID)
	if got.Status != domain.StatusFailed || got.Version != 1 {
		t.Fatalf("stored = %s v%d, want failed v1", got.Status, got.Version)
	}
}

func TestListTasksFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < 5; i++ {
		tk := task(fmt.Sprint(i), fmt.Sprintf("rec-%d", i), t0.Add(time.Duration(i)*time.Minute))
		_ = s.CreateTask(ctx, tk)
		if i%2 == 0 {
			_ = tk.Fail("x", domain.CodeTimeout, t0)
			_ = s.UpdateTask(ctx, tk)
		}
	}

	tests := []struct {
		name      string
		q         domain.TaskQuery
		wantIDs   []string
		wantTotal int
	}{
		{"newest first page 1", domain.TaskQuery{Kind: domain.KindTranscription, Page: 1, PerPage: 2}, []string{"4", "3"}, 5},
		{"page 3", domain.TaskQuery{Kind: domain.KindTranscription, Page: 3, PerPage: 2}, []string{"0"}, 5},
		{"past end", domain.TaskQuery{Kind: domain.KindTranscription, Page: 9, PerPage: 2}, nil, 5},
		{"status", domain.TaskQuery{Kind: domain.KindTranscription, Status: domain.StatusFailed}, []string{"4", "2", "0"}, 3},
		{"subject", domain.TaskQuery{Kind: domain.KindTranscription, SubjectID: "rec-1"}, []string{"1"}, 1},
		{"other kind", domain.TaskQuery{Kind: domain.KindAnalysis}, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := s.ListTasks(ctx, tt.q)
			if err != nil {
				t.Fatalf("ListTasks() error = %v", err)
			}
			if total != tt.wantTotal || len(got) != len(tt.wantIDs) {
				t.Fatalf("ListTasks() = %d items / total %d, want %d / %d", len(got), total, len(tt.wantIDs), tt.wantTotal)
			}
			for i, id := range tt.wantIDs {
				if got[i].ID != id {
					t.Fatalf("item %d id = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestStaleTasks(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.CreateTask(ctx, task("old", "rec-1", t0))
	_ = s.CreateTask(ctx, task("new", "rec-2", t0.Add(time.Hour)))
	done := task("done", "rec-3", t0)
	_ = s.CreateTask(ctx, done)
	_ = done.Fail("x", domain.CodeTimeout, t0)
	_ = s.UpdateTask(ctx, done)

	got, err := s.StaleTasks(ctx, t0.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("StaleTasks() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "old" {
		t.Fatalf("StaleTasks() = %+v, want only old", got)
	}
}

func TestEnsureSessionLinksRecording(t *testing.T) {
	ctx := context.Background()
	s := New()
	rec := &domain.Recording{ID: "rec-1", CustomerID: "c1", FilePath: "a.wav", UploadStatus: domain.UploadCompleted}
	_ = s.CreateRecording(ctx, rec)

	first, err := s.EnsureSession(ctx, rec)
	if err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}
	second, _ := s.EnsureSession(ctx, rec)
	if first.ID != second.ID {
		t.Fatalf("EnsureSession() created two sessions: %s, %s", first.ID, second.ID)
	}
	stored, _ := s.Recording(ctx, "rec-1")
	if stored.SessionID != first.ID {
		t.Fatalf("recording session = %q, want %q", stored.SessionID, first.ID)
	}
}

// TestSoftDeletedTaskIsHidden verifies that deleted records disappear from reads.
func TestSoftDeletedTaskIsHidden(t *testing.T) {
	ctx := context.Background()
	s := New()
	in := task("1", "rec-1", t0)
	if err := s.CreateTask(ctx, in); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	in.SoftDelete(t0.Add(time.Minute))
	if err := s.UpdateTask(ctx, in); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}

	if _, err := s.TaskByTaskID(ctx, domain.KindTranscription, "t-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("TaskByTaskID() error = %v, want ErrNotFound", err)
	}
	if _, total, _ := s.ListTasks(ctx, domain.TaskQuery{Kind: domain.KindTranscription}); total != 0 {
		t.Fatalf("ListTasks() total = %d, want 0", total)
	}
}
