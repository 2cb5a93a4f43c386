// Package store opens the two backing services of the registry: Postgres for
// sessions, records and accounts, and Redis for mark events and live counts.
package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB is the Postgres pool behind the attendance repository and the login
// account lookups.
type DB struct {
	Client *sql.DB
}

// NewDB opens a pgx-backed pool and pings it once. The returned DB is usable
// even when the ping fails, so the api can start degraded and report it on
// /healthz.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return &DB{Client: db}, db.PingContext(pingCtx)
}

// Healthy reports whether the registry database answers a ping.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close releases the pool. It is a no-op on a nil DB, which is what the api
// holds when it runs on the in-memory registry.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
