package luaenv

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// op is one unit of work for the executor goroutine.
type op struct {
	fn     func(L *lua.LState) error
	result chan error
}

// Executor owns all access to an Env's Lua state.
//
// gopher-lua states are not goroutine-safe, so every operation is queued
// to a single worker goroutine. This is also what gives plugin code its
// concurrency model: one logical thread, with facade calls that block the
// thread until the host responds.
type Executor struct {
	env   *Env
	queue chan *op

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewExecutor creates an executor for env with the given queue depth.
func NewExecutor(env *Env, queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Executor{
		env:   env,
		queue: make(chan *op, queueSize),
		done:  make(chan struct{}),
	}
}

// Run processes queued operations until the context is cancelled or the
// executor is closed. It must be the only goroutine touching the state.
func (e *Executor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.drain(ctx.Err())
			return
		case <-e.done:
			e.drain(ErrClosed)
			return
		case next := <-e.queue:
			err := e.runOne(next)
			next.result <- err
			close(next.result)
		}
	}
}

func (e *Executor) runOne(next *op) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				err = v
			case string:
				err = errors.New(v)
			default:
				err = errors.New("lua panic")
			}
		}
	}()
	return next.fn(e.env.L)
}

func (e *Executor) drain(err error) {
	for {
		select {
		case next := <-e.queue:
			next.result <- err
			close(next.result)
		default:
			return
		}
	}
}

// Do queues fn and waits for it to finish. fn runs on the executor
// goroutine and may use the Lua state freely.
func (e *Executor) Do(ctx context.Context, fn func(L *lua.LState) error) error {
	if e.closed.Load() {
		return ErrClosed
	}

	call := &op{fn: fn, result: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	case e.queue <- call:
	}

	select {
	case <-ctx.Done():
		// The operation stays queued and will still run; we just stop
		// waiting for it.
		return ctx.Err()
	case err, ok := <-call.result:
		if !ok {
			return ErrClosed
		}
		return err
	}
}

// Close stops accepting work. Queued operations complete with ErrClosed.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})
}
