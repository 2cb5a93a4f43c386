package store

import (
	"context"
	"testing"

	"qrattendance/internal/queue"
)

func TestNewRedisOutlastsQueuePop(t *testing.T) {
	r := NewRedis("127.0.0.1:0")
	defer r.Close()
	if got := r.Client.Options().ReadTimeout; got <= queue.PopTimeout {
		t.Fatalf("read timeout %s must exceed the %s pop block", got, queue.PopTimeout)
	}
}

func TestNilBackends(t *testing.T) {
	var db *DB
	var rd *Redis
	if db.Healthy(context.Background()) || rd.Healthy(context.Background()) {
		t.Fatalf("nil backends must report unhealthy")
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close on nil DB returned %v", err)
	}
	if err := rd.Close(); err != nil {
		t.Fatalf("Close on nil Redis returned %v", err)
	}
}
