package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"counseling/internal/ports"
)

func TestNewPool(t *testing.T) {
	tests := []struct {
		name          string
		workers, size int
		wantWorkers   int
		wantCap       int
	}{
		{"explicit", 4, 10, 4, 10},
		{"defaults", 0, 0, 1, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPool(tt.workers, tt.size)
			if p.workers != tt.wantWorkers || cap(p.jobs) != tt.wantCap {
				t.Fatalf("pool = %d workers / %d queue, want %d / %d", p.workers, cap(p.jobs), tt.wantWorkers, tt.wantCap)
			}
		})
	}
}

func TestSpawnRunsJobAndClearsKey(t *testing.T) {
	p := NewPool(2, 4)
	p.Start(context.Background())

	done := make(chan struct{})
	if err := p.Spawn("a", func(ctx context.Context) { close(done) }); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if p.Active("a") {
		t.Fatal("key still active after job finished")
	}
}

// TestSpawnRejectsDuplicateKey checks that one key never has two jobs in the pool.
func TestSpawnRejectsDuplicateKey(t *testing.T) {
	p := NewPool(1, 4)
	p.Start(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	if err := p.Spawn("a", func(ctx context.Context) { close(started); <-release }); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	<-started

	if !p.Active("a") {
		t.Fatal("Active(a) = false while running")
	}
	err := p.Spawn("a", func(ctx context.Context) {})
	if !errors.Is(err, ErrAlreadyRunning) || !errors.Is(err, ports.ErrAlreadyScheduled) {
		t.Fatalf("Spawn() duplicate error = %v, want ErrAlreadyRunning", err)
	}

	close(release)
	_ = p.Shutdown(context.Background())
}

func TestSpawnQueueFullAndClosed(t *testing.T) {
	p := NewPool(1, 1)
	p.Start(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	_ = p.Spawn("running", func(ctx context.Context) { close(started); <-release })
	<-started
	if err := p.Spawn("queued", func(ctx context.Context) {}); err != nil {
		t.Fatalf("Spawn(queued) error = %v", err)
	}
	if err := p.Spawn("overflow", func(ctx context.Context) {}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Spawn(overflow) error = %v, want ErrQueueFull", err)
	}
	if p.Active("overflow") {
		t.Fatal("rejected key marked active")
	}

	close(release)
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := p.Spawn("late", func(ctx context.Context) {}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Spawn() after shutdown error = %v, want ErrPoolClosed", err)
	}
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	p := NewPool(1, 4)
	p.Start(context.Background())

	var ran atomic.Bool
	_ = p.Spawn("boom", func(ctx context.Context) { panic("boom") })
	_ = p.Spawn("next", func(ctx context.Context) { ran.Store(true) })

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !ran.Load() {
		t.Fatal("job after panic did not run")
	}
}

func TestShutdownTimeoutCancelsJobs(t *testing.T) {
	p := NewPool(1, 1)
	p.Start(context.Background())

	cancelled := make(chan struct{})
	started := make(chan struct{})
	_ = p.Spawn("slow", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown() error = %v, want deadline exceeded", err)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("running job was not cancelled")
	}
}

func TestTickerRunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var n atomic.Int32
	tk := NewTicker("test", 5*time.Millisecond, func(ctx context.Context) error {
		if n.Add(1) == 3 {
			cancel()
		}
		return errors.New("ignored")
	})

	if err := tk.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if n.Load() < 3 {
		t.Fatalf("ticks = %d, want >= 3", n.Load())
	}
}
