package anticheat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// AsyncTx is a reusable single-goroutine fan-in transmitter, generic over
// any payload type. It keeps producers (the world tick loop, issuing
// anti-cheat queries) from blocking behind a slow or wedged bridge
// connection.
type AsyncTx[T any] struct {
	mu     sync.Mutex
	ch     chan T
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(T) error
	hooks  Hooks[T]
	closed atomic.Bool
}

// Hooks customize AsyncTx behavior without duplicating the goroutine and
// buffer plumbing per call site.
type Hooks[T any] struct {
	OnError func(error)
	OnAfter func()
	OnDrop  func(T) error
}

// ErrAsyncTxClosed is returned by Send once Close has been called.
var ErrAsyncTxClosed = errors.New("anticheat: async tx closed")

// NewAsyncTx starts the worker goroutine and returns a ready-to-use AsyncTx.
func NewAsyncTx[T any](parent context.Context, buf int, send func(T) error, hooks Hooks[T]) *AsyncTx[T] {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx[T]{
		ch:     make(chan T, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx[T]) loop() {
	defer a.wg.Done()
	for {
		select {
		case v, ok := <-a.ch:
			if !ok {
				return
			}
			if err := a.send(v); err != nil {
				if a.hooks.OnError != nil {
					a.hooks.OnError(err)
				}
				continue
			}
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter()
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// Send enqueues v for asynchronous transmission, or invokes OnDrop if the
// buffer is full.
func (a *AsyncTx[T]) Send(v T) error {
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- v:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop(v)
		}
		return nil
	}
}

// Close stops the worker and waits for it to exit.
func (a *AsyncTx[T]) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
