package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"qrattendance/internal/queue"
)

// Redis holds the client shared by the mark-event queue and the presence
// counter sets.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects with short dial and write timeouts. The read timeout sits
// one second above the queue's BRPOP block so an idle pop is not cut off.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  queue.PopTimeout + time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy reports whether the event and presence backend answers a ping.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
