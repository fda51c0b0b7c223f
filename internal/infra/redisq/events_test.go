package redisq

import (
	"context"
	"testing"
	"time"

	"counseling/internal/config"
	"counseling/internal/domain"

	"github.com/alicebob/miniredis/v2"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := New(config.Redis{Addr: mr.Addr(), ChannelPrefix: "progress:", LastEventTTL: time.Minute})
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return c, mr
}

func next(t *testing.T, ch <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	return domain.Event{}
}

func TestPublishSubscribe(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	ch, cancel, err := c.Subscribe(ctx, "task-1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()

	want := domain.Event{TaskID: "task-1", Kind: domain.KindAnalysis, Status: domain.StatusAnalyzing, Progress: 30, Stage: "analyzing"}
	if err := c.Publish(ctx, want); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got := next(t, ch)
	if got.TaskID != want.TaskID || got.Progress != 30 || got.Status != domain.StatusAnalyzing {
		t.Fatalf("event = %+v, want %+v", got, want)
	}
}

func TestLatestEventKeptUntilFinal(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	_ = c.Publish(ctx, domain.Event{TaskID: "task-1", Status: domain.StatusProcessing, Progress: 10})
	if !mr.Exists("progress:task-1:last") {
		t.Fatal("latest event not stored")
	}
	if ttl := mr.TTL("progress:task-1:last"); ttl != time.Minute {
		t.Fatalf("ttl = %v, want 1m", ttl)
	}

	ch, cancel, err := c.Subscribe(ctx, "task-1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()
	if e := next(t, ch); e.Progress != 10 {
		t.Fatalf("replayed event = %+v", e)
	}

	_ = c.Publish(ctx, domain.Event{TaskID: "task-1", Status: domain.StatusCompleted, Progress: 100})
	if mr.Exists("progress:task-1:last") {
		t.Fatal("latest event kept after final event")
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	c, _ := newTestClient(t)
	ch, cancel, err := c.Subscribe(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	cancel()
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("unexpected event after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
