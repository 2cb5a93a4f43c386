// Package presence keeps a cheap live head-count per session for the issuer's
// present counter. The registry's record count stays authoritative; this is a
// read-side cache fed by mark events.
package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"qrattendance/internal/queue"
)

// Counter stores which students have been seen per session.
type Counter interface {
	Add(ctx context.Context, sessionID, studentID string) error
	Count(ctx context.Context, sessionID string) (int64, error)
	Retire(ctx context.Context, sessionID string) error
}

// RedisCounter keeps one set per session.
type RedisCounter struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCounter builds a counter whose sets expire ttl after the last write.
func NewRedisCounter(client *redis.Client, ttl time.Duration) *RedisCounter {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisCounter{client: client, prefix: "attendance:present:", ttl: ttl}
}

func (r *RedisCounter) key(sessionID string) string { return r.prefix + sessionID }

// Add records studentID as present.
func (r *RedisCounter) Add(ctx context.Context, sessionID, studentID string) error {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.key(sessionID), studentID)
	pipe.Expire(ctx, r.key(sessionID), r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Count returns the set size.
func (r *RedisCounter) Count(ctx context.Context, sessionID string) (int64, error) {
	return r.client.SCard(ctx, r.key(sessionID)).Result()
}

// Retire shortens the set's lifetime once no more marks can arrive.
func (r *RedisCounter) Retire(ctx context.Context, sessionID string) error {
	return r.client.Expire(ctx, r.key(sessionID), 10*time.Minute).Err()
}

// MemoryCounter is the single-process Counter used with the in-memory queue.
type MemoryCounter struct {
	mu   sync.Mutex
	sets map[string]map[string]struct{}
}

// NewMemoryCounter creates an empty counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{sets: map[string]map[string]struct{}{}}
}

func (m *MemoryCounter) Add(_ context.Context, sessionID, studentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[sessionID]
	if !ok {
		set = map[string]struct{}{}
		m.sets[sessionID] = set
	}
	set[studentID] = struct{}{}
	return nil
}

func (m *MemoryCounter) Count(_ context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.sets[sessionID])), nil
}

func (m *MemoryCounter) Retire(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets, sessionID)
	return nil
}

// CountFunc is the authoritative count, normally the registry's.
type CountFunc func(ctx context.Context, sessionID string) (int64, error)

// Tracker answers present-count queries from the cache and falls back to the
// authoritative count when the cache is empty or unavailable. A cached count
// is checked against the authoritative one at most once per reconcile interval
// per session, so a lost mark event cannot keep the counter low for long.
type Tracker struct {
	counter   Counter
	fallback  CountFunc
	reconcile time.Duration
	now       func() time.Time

	mu      sync.Mutex
	checked map[string]time.Time
}

// NewTracker wires a cache to its fallback.
func NewTracker(counter Counter, fallback CountFunc) *Tracker {
	return &Tracker{
		counter:   counter,
		fallback:  fallback,
		reconcile: 15 * time.Second,
		now:       time.Now,
		checked:   map[string]time.Time{},
	}
}

// Count returns the number of students present in a session.
func (t *Tracker) Count(ctx context.Context, sessionID string) (int64, error) {
	if t.counter == nil {
		return t.fallback(ctx, sessionID)
	}
	n, err := t.counter.Count(ctx, sessionID)
	if err != nil {
		log.Printf("presence cache read failed for %s: %v", sessionID, err)
		return t.fallback(ctx, sessionID)
	}
	if n == 0 {
		return t.fallback(ctx, sessionID)
	}
	if !t.due(sessionID) {
		return n, nil
	}
	truth, err := t.fallback(ctx, sessionID)
	if err != nil {
		log.Printf("presence reconcile failed for %s: %v", sessionID, err)
		return n, nil
	}
	if truth > n {
		log.Printf("presence cache for %s behind registry: %d < %d", sessionID, n, truth)
		return truth, nil
	}
	return n, nil
}

// due reports whether sessionID should be reconciled now and records the check.
func (t *Tracker) due(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if last, ok := t.checked[sessionID]; ok && now.Sub(last) < t.reconcile {
		return false
	}
	t.checked[sessionID] = now
	if len(t.checked) > 1024 {
		for id, last := range t.checked {
			if now.Sub(last) >= t.reconcile {
				delete(t.checked, id)
			}
		}
	}
	return true
}

// Consume applies queue events to counter until ctx is done or the queue
// closes. Undecodable events are logged and skipped.
func Consume(ctx context.Context, q queue.Queue, counter Counter) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		Apply(ctx, counter, msg)
	}
	return ctx.Err()
}

// Apply handles a single queue message.
func Apply(ctx context.Context, counter Counter, msg queue.Message) {
	switch msg.Type {
	case queue.TypeMarked:
		var evt queue.MarkEvent
		if err := msg.Decode(&evt); err != nil {
			log.Printf("presence: bad mark event: %v", err)
			return
		}
		if err := counter.Add(ctx, evt.SessionID, evt.StudentID); err != nil {
			log.Printf("presence: add %s/%s failed: %v", evt.SessionID, evt.StudentID, err)
		}
	case queue.TypeStopped:
		var evt queue.StopEvent
		if err := msg.Decode(&evt); err != nil {
			log.Printf("presence: bad stop event: %v", err)
			return
		}
		if err := counter.Retire(ctx, evt.SessionID); err != nil {
			log.Printf("presence: retire %s failed: %v", evt.SessionID, err)
		}
	}
}
