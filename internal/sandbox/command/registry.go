// Package command implements the sandbox-side command registry: the map
// from command id to handler, registration messages to the host, and
// execution of host-initiated invocations.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/protocol"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/transport"
)

// Validation errors. These are raised synchronously by Register; no
// message reaches the host on invalid input.
var (
	ErrEmptyID    = errors.New("command id must be a non-empty string")
	ErrNilHandler = errors.New("command handler must not be nil")
)

// Handler executes a command invocation. The returned value is sent to
// the host as the invocation result and must be JSON-marshalable.
type Handler func(ctx context.Context, payload map[string]any) (any, error)

// Definition describes a command as plugin code declares it. Surfaces
// may be given either as the singular Surface or the plural Surfaces.
type Definition struct {
	ID          string
	Title       string
	Description string
	Group       string
	Icon        string
	Surface     string
	Surfaces    []string
}

// normalizeSurfaces merges the singular and plural forms, trimming
// whitespace and dropping empty entries.
func (d Definition) normalizeSurfaces() []string {
	raw := d.Surfaces
	if len(raw) == 0 && d.Surface != "" {
		raw = []string{d.Surface}
	}

	var surfaces []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			surfaces = append(surfaces, s)
		}
	}
	return surfaces
}

// Registry maps command ids to handlers and mirrors registrations to the
// host.
type Registry struct {
	transport transport.Transport
	log       *logrus.Entry

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry sending on t.
func NewRegistry(t transport.Transport, log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		transport: t,
		log:       log,
		handlers:  make(map[string]Handler),
	}
}

// Register validates the definition, stores the handler and announces
// the command to the host. Registering an id again replaces the previous
// handler and re-announces the descriptor. The returned function
// unregisters the command.
func (r *Registry) Register(def Definition, handler Handler) (func(), error) {
	if strings.TrimSpace(def.ID) == "" {
		return nil, ErrEmptyID
	}
	if handler == nil {
		return nil, ErrNilHandler
	}

	r.mu.Lock()
	r.handlers[def.ID] = handler
	r.mu.Unlock()

	msg := protocol.NewRegisterCommand(protocol.Command{
		ID:          def.ID,
		Title:       def.Title,
		Description: def.Description,
		Group:       def.Group,
		Icon:        def.Icon,
		Surfaces:    def.normalizeSurfaces(),
	})
	if err := r.transport.Send(msg); err != nil {
		r.mu.Lock()
		delete(r.handlers, def.ID)
		r.mu.Unlock()
		return nil, fmt.Errorf("registering command %q: %w", def.ID, err)
	}

	id := def.ID
	return func() { r.Unregister(id) }, nil
}

// Unregister removes a command. Unregistering an unknown id is a no-op
// and sends nothing.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	_, present := r.handlers[id]
	if present {
		delete(r.handlers, id)
	}
	r.mu.Unlock()

	if !present {
		return
	}
	if err := r.transport.Send(protocol.NewUnregisterCommand(id)); err != nil {
		r.log.WithError(err).WithField("commandId", id).Warn("failed to send unregister-command")
	}
}

// Has reports whether a handler is registered for id.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[id]
	return ok
}

// IDs returns the registered command ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	return ids
}

// Invoke runs a host-initiated invocation and sends the result message.
// An unknown command id answers success=false without executing
// anything; a handler error or panic is caught and converted to a
// failure result, never escaping to the caller.
func (r *Registry) Invoke(ctx context.Context, msg protocol.InvokeCommand) {
	r.mu.RLock()
	handler, ok := r.handlers[msg.CommandID]
	r.mu.RUnlock()

	if !ok {
		r.respond(protocol.NewInvokeCommandFailure(msg.RequestID,
			fmt.Sprintf("no command registered with id %q", msg.CommandID)))
		return
	}

	result, err := r.runHandler(ctx, handler, msg.Payload)
	if err != nil {
		r.respond(protocol.NewInvokeCommandFailure(msg.RequestID, err.Error()))
		return
	}
	r.respond(protocol.NewInvokeCommandSuccess(msg.RequestID, result))
}

func (r *Registry) runHandler(ctx context.Context, handler Handler, payload map[string]any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("command handler panic: %v", rec)
		}
	}()
	return handler(ctx, payload)
}

func (r *Registry) respond(msg protocol.InvokeCommandResult) {
	if err := r.transport.Send(msg); err != nil {
		r.log.WithError(err).WithField("requestId", msg.RequestID).Warn("failed to send invoke-command-result")
	}
}
