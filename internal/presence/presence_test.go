package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"qrattendance/internal/queue"
)

type brokenCounter struct{ MemoryCounter }

func (*brokenCounter) Count(context.Context, string) (int64, error) {
	return 0, errors.New("redis down")
}

func mustMessage(t *testing.T, typ string, v any) queue.Message {
	t.Helper()
	msg, err := queue.NewMessage(typ, v)
	if err != nil {
		t.Fatalf("NewMessage returned error: %v", err)
	}
	return msg
}

func TestApplyCountsDistinctStudents(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCounter()
	for _, st := range []string{"a", "b", "a"} {
		Apply(ctx, c, mustMessage(t, queue.TypeMarked, queue.MarkEvent{SessionID: "s1", StudentID: st}))
	}
	Apply(ctx, c, queue.Message{Type: queue.TypeMarked, Body: []byte("{")})

	if n, _ := c.Count(ctx, "s1"); n != 2 {
		t.Fatalf("expected 2 distinct students, got %d", n)
	}

	Apply(ctx, c, mustMessage(t, queue.TypeStopped, queue.StopEvent{SessionID: "s1"}))
	if n, _ := c.Count(ctx, "s1"); n != 0 {
		t.Fatalf("expected retired session to be dropped, got %d", n)
	}
}

func TestTrackerFallback(t *testing.T) {
	ctx := context.Background()
	fallbackCalls := 0
	fallback := func(context.Context, string) (int64, error) {
		fallbackCalls++
		return 7, nil
	}

	tr := NewTracker(NewMemoryCounter(), fallback)
	if n, _ := tr.Count(ctx, "s2"); n != 7 || fallbackCalls != 1 {
		t.Fatalf("expected fallback on empty cache, got %d (%d calls)", n, fallbackCalls)
	}

	broken := NewTracker(&brokenCounter{}, fallback)
	if n, err := broken.Count(ctx, "s1"); err != nil || n != 7 {
		t.Fatalf("expected fallback on cache error, got %d %v", n, err)
	}
}

func TestTrackerReconcilesShortCache(t *testing.T) {
	ctx := context.Background()
	registry := int64(2)
	calls := 0
	fallback := func(context.Context, string) (int64, error) {
		calls++
		return registry, nil
	}
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	// One mark event was lost: the cache knows a, the registry holds a and b.
	cache := NewMemoryCounter()
	_ = cache.Add(ctx, "s1", "a")
	tr := NewTracker(cache, fallback)
	tr.now = func() time.Time { return now }

	if n, _ := tr.Count(ctx, "s1"); n != 2 {
		t.Fatalf("expected the registry count 2 to win over a short cache, got %d", n)
	}

	// Within the interval the cache answers alone.
	_ = cache.Add(ctx, "s1", "b")
	_ = cache.Add(ctx, "s1", "c")
	now = now.Add(5 * time.Second)
	if n, _ := tr.Count(ctx, "s1"); n != 3 || calls != 1 {
		t.Fatalf("expected cached count 3 without a registry call, got %d (%d calls)", n, calls)
	}

	// After the interval the registry is consulted again and the larger count wins.
	registry = 4
	now = now.Add(15 * time.Second)
	if n, _ := tr.Count(ctx, "s1"); n != 4 || calls != 2 {
		t.Fatalf("expected reconciled count 4, got %d (%d calls)", n, calls)
	}
}

func TestTrackerKeepsCacheWhenRegistryFails(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCounter()
	_ = cache.Add(ctx, "s1", "a")
	tr := NewTracker(cache, func(context.Context, string) (int64, error) {
		return 0, errors.New("db down")
	})
	if n, err := tr.Count(ctx, "s1"); err != nil || n != 1 {
		t.Fatalf("expected cached count on reconcile failure, got %d %v", n, err)
	}
}

func TestConsumeFromQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := queue.NewInMemory(4)
	c := NewMemoryCounter()

	_ = q.Publish(ctx, mustMessage(t, queue.TypeMarked, queue.MarkEvent{SessionID: "s1", StudentID: "a"}))

	done := make(chan error, 1)
	go func() { done <- Consume(ctx, q, c) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if n, _ := c.Count(ctx, "s1"); n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("consumer never applied the event")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Consume did not return after cancel")
	}
}
