// Package lock provides named, non-blocking mutual exclusion.
//
// A retraining cycle holds the lock named after its model, so that
// at most one cycle per model runs at a time, across processes.
package lock

import (
	"context"
	"log"
	"sync"

	kpool "github.com/opst/mlserve/pkg/conn/db/postgres/pool"
	xe "github.com/opst/mlserve/pkg/errors"
)

type Locker interface {
	// TryLock takes the lock `key` without waiting.
	//
	// Return
	//
	// - func(): releases the lock. nil when the lock is not taken.
	//
	// - bool: true if the lock is taken.
	//
	// - error
	TryLock(ctx context.Context, key string) (func(), bool, error)
}

type local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// Local returns a Locker effective in this process.
func Local() Locker {
	return &local{held: map[string]struct{}{}}
}

func (l *local) TryLock(_ context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, false, nil
	}
	l.held[key] = struct{}{}

	once := sync.Once{}
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.held, key)
		})
	}, true, nil
}

type pgLock struct {
	pool   kpool.Pool
	logger *log.Logger
}

type Option func(*pgLock)

// WithLogger sets a logger reporting failures on unlock.
func WithLogger(logger *log.Logger) Option {
	return func(p *pgLock) {
		p.logger = logger
	}
}

// Postgres returns a Locker with session-level advisory locks.
//
// While the lock is held, a connection of the pool is occupied.
// If unlocking fails, the connection is closed so that the session ends with its locks.
func Postgres(pool kpool.Pool, options ...Option) Locker {
	p := &pgLock{pool: pool, logger: log.Default()}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *pgLock) TryLock(ctx context.Context, key string) (func(), bool, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, false, xe.Wrap(err)
	}

	var ok bool
	if err := conn.QueryRow(
		ctx, `select pg_try_advisory_lock(hashtext($1))`, key,
	).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, xe.Wrap(err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}

	once := sync.Once{}
	return func() {
		once.Do(func() {
			// unlock even when the caller's context is done.
			ctx := context.Background()
			if _, err := conn.Exec(ctx, `select pg_advisory_unlock(hashtext($1))`, key); err != nil {
				p.logger.Printf("failed to unlock %s. closing the connection: %v", key, err)
				if err := conn.Close(ctx); err != nil {
					p.logger.Printf("failed to close connection holding %s: %v", key, err)
				}
				return
			}
			conn.Release()
		})
	}, true, nil
}
