package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/command"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/hostlog"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/luaenv"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/protocol"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/rpc"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/transport"
)

// Instance is the aggregate runtime state of one sandboxed plugin: the
// lifecycle state machine, the ordered callback lists and the services
// every facade call flows through. One Instance exists per process.
type Instance struct {
	pluginID string
	manifest *Manifest

	env       *luaenv.Env
	exec      *luaenv.Executor
	transport transport.Transport
	client    *rpc.Client
	commands  *command.Registry
	hostLog   *hostlog.Logger
	diag      *logrus.Entry

	// stopExec cancels the executor goroutine; execDone closes when it
	// has returned and the Lua state is safe to release.
	stopExec context.CancelFunc
	execDone chan struct{}

	mu          sync.Mutex
	state       State
	activate    []*lua.LFunction
	deactivate  []*lua.LFunction
	activated   bool
	deactivated bool
	shutdown    bool
}

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// PluginID returns the id the host assigned this instance.
func (i *Instance) PluginID() string {
	return i.pluginID
}

// Manifest returns the plugin's manifest.
func (i *Instance) Manifest() *Manifest {
	return i.manifest
}

func (i *Instance) setState(s State) {
	i.mu.Lock()
	i.state = s
	i.mu.Unlock()
}

// gate refuses RPC dispatch once teardown begins or after a fatal
// failure. Wired into the RPC client at construction.
func (i *Instance) gate() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == StateFatal {
		return ErrFatal
	}
	if !i.state.CanCall() {
		return ErrShuttingDown
	}
	return nil
}

// OnActivate appends an activation callback. Callable any number of
// times before activation completes.
func (i *Instance) OnActivate(fn *lua.LFunction) {
	i.mu.Lock()
	i.activate = append(i.activate, fn)
	i.mu.Unlock()
}

// OnDeactivate appends a deactivation callback.
func (i *Instance) OnDeactivate(fn *lua.LFunction) {
	i.mu.Lock()
	i.deactivate = append(i.deactivate, fn)
	i.mu.Unlock()
}

// Activate runs the activation callbacks strictly in registration
// order, each awaited before the next. The first failure is fatal:
// remaining callbacks are abandoned and ready is never sent. On full
// success the instance sends ready and becomes Active. A second call
// returns ErrAlreadyActivated.
func (i *Instance) Activate(ctx context.Context) error {
	i.mu.Lock()
	if i.activated || i.state != StateLoaded {
		i.mu.Unlock()
		return ErrAlreadyActivated
	}
	i.activated = true
	i.state = StateActivating
	callbacks := append([]*lua.LFunction(nil), i.activate...)
	i.mu.Unlock()

	// The execution bound covers the entry script only; callbacks run
	// to completion.
	for n, fn := range callbacks {
		err := i.exec.Do(ctx, func(_ *lua.LState) error {
			return i.env.CallBounded(fn, 0)
		})
		if err != nil {
			fatal := fmt.Errorf("activation callback %d: %w", n+1, err)
			i.Fatal(fatal)
			return fatal
		}
	}

	if err := i.transport.Send(protocol.NewReady()); err != nil {
		i.diag.WithError(err).Error("failed to send ready")
	}
	i.setState(StateActive)
	i.diag.WithField("plugin", i.pluginID).Info("plugin active")
	return nil
}

// Deactivate runs the deactivation callbacks in reverse registration
// order. Callback failures are logged and swallowed so every remaining
// callback still executes. Runs at most once, and only after a
// successful activation.
func (i *Instance) Deactivate(ctx context.Context) {
	i.mu.Lock()
	if !i.activated || i.deactivated || i.state == StateFatal {
		i.mu.Unlock()
		return
	}
	i.deactivated = true
	callbacks := append([]*lua.LFunction(nil), i.deactivate...)
	i.mu.Unlock()

	for n := len(callbacks) - 1; n >= 0; n-- {
		fn := callbacks[n]
		err := i.exec.Do(ctx, func(_ *lua.LState) error {
			return i.env.CallBounded(fn, 0)
		})
		if err != nil {
			i.diag.WithError(err).Warn("deactivation callback failed")
			i.hostLog.Warn(fmt.Sprintf("deactivation callback failed: %v", err))
		}
	}
}

// Shutdown performs graceful teardown: it blocks new RPC dispatch,
// runs Deactivate, stops the executor and releases the Lua state and
// transport. Idempotent; a second call does not re-run deactivation.
func (i *Instance) Shutdown(ctx context.Context) {
	i.mu.Lock()
	if i.shutdown {
		i.mu.Unlock()
		return
	}
	i.shutdown = true
	if i.state != StateFatal {
		i.state = StateDeactivating
	}
	i.mu.Unlock()

	i.Deactivate(ctx)

	i.exec.Close()
	i.stopExec()
	<-i.execDone
	i.env.Close()

	if err := i.transport.Close(); err != nil && err != transport.ErrClosed {
		i.diag.WithError(err).Warn("transport close failed")
	}

	i.mu.Lock()
	if i.state != StateFatal {
		i.state = StateShutDown
	}
	i.mu.Unlock()
	i.diag.WithField("plugin", i.pluginID).Info("instance shut down")
}

// Fatal reports an unrecoverable failure to the host and moves the
// instance to the terminal Fatal state.
func (i *Instance) Fatal(cause error) {
	if err := i.transport.Send(protocol.NewFatal(cause.Error())); err != nil {
		i.diag.WithError(err).Error("failed to send fatal")
	}
	i.setState(StateFatal)
	i.diag.WithError(cause).WithField("plugin", i.pluginID).Error("instance failed")
}

// Commands exposes the command registry, used by the router.
func (i *Instance) Commands() *command.Registry {
	return i.commands
}

// RPC exposes the RPC client, used by the router.
func (i *Instance) RPC() *rpc.Client {
	return i.client
}
