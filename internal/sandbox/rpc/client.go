// Package rpc implements the sandbox side of the host bridge: scoped,
// asynchronous request/response calls correlated by request id, with a
// per-call timeout.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/protocol"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/security"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/transport"
)

// DefaultTimeout applies when the construction payload does not specify
// a timeout.
const DefaultTimeout = 15000 * time.Millisecond

// Gate reports whether calls may still be dispatched. It returns a
// non-nil error once the instance has begun tearing down.
type Gate func() error

// pending is one in-flight request. At most one entry exists per request
// id; whichever of response or timeout fires first removes it.
type pending struct {
	done  chan outcome
	timer *time.Timer
}

type outcome struct {
	result any
	err    error
}

// Client issues RPC calls to the host and matches responses to callers.
type Client struct {
	transport transport.Transport
	timeout   time.Duration
	gate      Gate
	perms     *security.PermissionSet
	log       *logrus.Entry

	mu      sync.Mutex
	pending map[string]*pending
	seq     uint64
	epoch   int64
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithGate installs the teardown gate consulted before each call.
func WithGate(g Gate) Option {
	return func(c *Client) {
		c.gate = g
	}
}

// WithPermissions enables the advisory local permission check: calls in
// a scope whose gating permission is absent are rejected without a host
// round-trip. The host stays authoritative for everything dispatched.
func WithPermissions(perms *security.PermissionSet) Option {
	return func(c *Client) {
		c.perms = perms
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a Client sending on t.
func NewClient(t transport.Transport, opts ...Option) *Client {
	c := &Client{
		transport: t,
		timeout:   DefaultTimeout,
		pending:   make(map[string]*pending),
		epoch:     time.Now().Unix(),
		log:       logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call dispatches scope.action with payload and blocks until the host
// responds, the timeout fires, or ctx is done. The result is the
// decoded JSON result value from the response.
func (c *Client) Call(ctx context.Context, scope, action string, payload any) (any, error) {
	if c.gate != nil {
		if err := c.gate(); err != nil {
			return nil, err
		}
	}
	if c.perms != nil && !c.perms.AllowsScope(scope) {
		name, _ := security.ScopePermission(scope)
		return nil, &PermissionError{Scope: scope, Permission: name}
	}

	id, entry := c.register(scope, action)

	if err := c.transport.Send(protocol.NewRPC(id, scope, action, payload)); err != nil {
		c.remove(id)
		return nil, fmt.Errorf("rpc %s.%s: %w", scope, action, err)
	}

	select {
	case <-ctx.Done():
		c.remove(id)
		return nil, ctx.Err()
	case out := <-entry.done:
		return out.result, out.err
	}
}

// register creates the pending entry and arms its timer.
func (c *Client) register(scope, action string) (string, *pending) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	id := fmt.Sprintf("%d-%d", c.epoch, c.seq)

	entry := &pending{done: make(chan outcome, 1)}
	entry.timer = time.AfterFunc(c.timeout, func() {
		c.expire(id, scope, action)
	})
	c.pending[id] = entry
	return id, entry
}

// expire rejects a call whose timer fired before any response arrived.
func (c *Client) expire(id, scope, action string) {
	c.mu.Lock()
	entry, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	entry.done <- outcome{err: &TimeoutError{Scope: scope, Action: action, Timeout: c.timeout}}
}

// remove drops a pending entry without completing it.
func (c *Client) remove(id string) {
	c.mu.Lock()
	entry, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		entry.timer.Stop()
	}
}

// Resolve completes the pending call matching resp. A response with no
// pending entry (already resolved or timed out) is silently ignored.
func (c *Client) Resolve(resp protocol.RPCResponse) {
	c.mu.Lock()
	entry, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		c.log.WithField("requestId", resp.RequestID).Debug("dropping rpc-response with no pending call")
		return
	}
	entry.timer.Stop()

	if !resp.Success {
		entry.done <- outcome{err: &HostError{Message: resp.Error}}
		return
	}

	var result any
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			entry.done <- outcome{err: fmt.Errorf("decoding rpc result: %w", err)}
			return
		}
	}
	entry.done <- outcome{result: result}
}

// PendingCount returns the number of in-flight calls.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
