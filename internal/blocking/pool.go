// Package blocking runs calls that block an OS thread (SSH handshakes, Kafka
// client bootstrap) on a bounded number of goroutines, separate from the
// goroutines that move data.
package blocking

import (
	"context"

	"golang.org/x/sync/semaphore"
)

const DefaultSize = 4

type Pool struct {
	sem  *semaphore.Weighted
	size int64
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

func (p *Pool) Size() int { return int(p.size) }

type result[T any] struct {
	v   T
	err error
}

// Acquire runs open on the pool and returns its value. If ctx is done before
// open returns, Acquire returns ctx.Err() right away and release is called on
// the value open eventually produces, so nothing acquired is leaked.
func Acquire[T any](ctx context.Context, p *Pool, open func() (T, error), release func(T)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	done := make(chan result[T], 1)
	go func() {
		defer p.sem.Release(1)
		v, err := open()
		done <- result[T]{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil && release != nil {
				release(r.v)
			}
		}()
		return zero, ctx.Err()
	}
}

// Do runs fn on the pool and waits for it unless ctx is done first.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	_, err := Acquire(ctx, p, func() (struct{}, error) { return struct{}{}, fn() }, nil)
	return err
}

// Wait runs fn on the pool and always waits for it; used for teardown that
// must finish regardless of cancellation.
func (p *Pool) Wait(fn func()) {
	_ = p.Do(context.Background(), func() error {
		fn()
		return nil
	})
}
