package attendance

import (
	"context"
	"testing"
	"time"
)

func TestService_SweepClosesExpiredSessions(t *testing.T) {
	svc, _, clock := newTestService(t)
	sess := classroomSession(t, svc, time.Minute)
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	swept := make(chan int64, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Sweep(ctx, 5*time.Millisecond, func(n int64) {
			select {
			case swept <- n:
			default:
			}
		})
	}()

	select {
	case n := <-swept:
		if n != 1 {
			t.Fatalf("expected one session swept, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("sweeper did not run")
	}
	cancel()
	<-done

	got, err := svc.GetSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("GetSession returned error: %v", err)
	}
	if got.IsActive {
		t.Fatalf("expected swept session to be inactive")
	}
}
