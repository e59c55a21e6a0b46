package luaenv

import (
	"context"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Env wraps a sandboxed gopher-lua state.
//
// The zero timeout on bounded calls means no bound. Bounded execution is
// enforced through the state's context, which gopher-lua checks at
// instruction boundaries; it is a blunt safeguard against runaway
// synchronous code, not a hard real-time guarantee.
type Env struct {
	L *lua.LState

	closed bool
}

// NewEnv creates a Lua state with only the safe standard libraries and
// the code-loading primitives removed.
func NewEnv() *Env {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	// io, os, debug and package stay closed. Module access goes through
	// the Loader's require replacement instead.

	// Code-loading primitives would bypass the module loader; the raw
	// table accessors would bypass metatable-based freezing.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "rawset", "rawget", "rawequal"} {
		L.SetGlobal(name, lua.LNil)
	}

	return &Env{L: L}
}

// RunFile compiles and executes a Lua file, returning the chunk's first
// return value (LNil when the chunk returns nothing). Execution is
// bounded by timeout when non-zero.
func (e *Env) RunFile(path string, timeout time.Duration) (lua.LValue, error) {
	if e.closed {
		return lua.LNil, ErrClosed
	}

	fn, err := e.L.LoadFile(path)
	if err != nil {
		return lua.LNil, fmt.Errorf("loading %s: %w", path, err)
	}

	restore := e.applyBound(timeout)
	defer restore()

	top := e.L.GetTop()
	e.L.Push(fn)
	if err := e.pcall(0, lua.MultRet); err != nil {
		return lua.LNil, err
	}

	var export lua.LValue = lua.LNil
	if e.L.GetTop() > top {
		export = e.L.Get(top + 1)
	}
	e.L.SetTop(top)
	return export, nil
}

// CallBounded invokes a Lua function with the given arguments, bounded by
// timeout when non-zero. Return values are discarded.
func (e *Env) CallBounded(fn lua.LValue, timeout time.Duration, args ...lua.LValue) error {
	if e.closed {
		return ErrClosed
	}
	if fn.Type() != lua.LTFunction {
		return fmt.Errorf("not a function: %s", fn.Type())
	}

	restore := e.applyBound(timeout)
	defer restore()

	e.L.Push(fn)
	for _, arg := range args {
		e.L.Push(arg)
	}
	return e.pcall(len(args), 0)
}

// CallResult invokes a Lua function like CallBounded but keeps the
// function's first return value (LNil when it returns nothing).
func (e *Env) CallResult(fn lua.LValue, timeout time.Duration, args ...lua.LValue) (lua.LValue, error) {
	if e.closed {
		return lua.LNil, ErrClosed
	}
	if fn.Type() != lua.LTFunction {
		return lua.LNil, fmt.Errorf("not a function: %s", fn.Type())
	}

	restore := e.applyBound(timeout)
	defer restore()

	top := e.L.GetTop()
	e.L.Push(fn)
	for _, arg := range args {
		e.L.Push(arg)
	}
	if err := e.pcall(len(args), lua.MultRet); err != nil {
		return lua.LNil, err
	}

	var ret lua.LValue = lua.LNil
	if e.L.GetTop() > top {
		ret = e.L.Get(top + 1)
	}
	e.L.SetTop(top)
	return ret, nil
}

// applyBound installs a deadline context on the state and returns a
// function that removes it again.
func (e *Env) applyBound(timeout time.Duration) func() {
	if timeout <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	e.L.SetContext(ctx)
	return func() {
		cancel()
		e.L.RemoveContext()
	}
}

// pcall runs a protected call with panic recovery. gopher-lua raises Go
// panics for some internal failures; none of them may escape the sandbox.
func (e *Env) pcall(nargs, nret int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return e.L.PCall(nargs, nret, nil)
}

// Close releases the Lua state. Further use returns ErrClosed.
func (e *Env) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.L.Close()
}
