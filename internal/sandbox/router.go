package sandbox

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/protocol"
)

// Router is the single dispatch point for inbound host messages.
type Router struct {
	inst *Instance
	diag *logrus.Entry
}

// NewRouter creates a router for the instance's transport.
func NewRouter(inst *Instance) *Router {
	return &Router{inst: inst, diag: inst.diag}
}

// Run consumes inbound frames until the context ends, the transport
// closes, or a shutdown message arrives.
func (r *Router) Run(ctx context.Context) {
	in := r.inst.transport.Inbound()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-in:
			if !ok {
				return
			}
			if r.dispatch(ctx, frame) {
				return
			}
		}
	}
}

// dispatch handles one frame and reports whether the router should
// stop. Unrecognized or malformed input is logged and dropped; nothing
// here may panic outward.
func (r *Router) dispatch(ctx context.Context, frame []byte) (stop bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.diag.WithField("panic", rec).Error("router dispatch panicked")
		}
	}()

	switch msgType := protocol.PeekType(frame); msgType {
	case protocol.TypeRPCResponse:
		var resp protocol.RPCResponse
		if err := json.Unmarshal(frame, &resp); err != nil {
			r.diag.WithError(err).Warn("malformed rpc-response dropped")
			return false
		}
		r.inst.client.Resolve(resp)

	case protocol.TypeInvokeCommand:
		var msg protocol.InvokeCommand
		if err := json.Unmarshal(frame, &msg); err != nil {
			r.diag.WithError(err).Warn("malformed invoke-command dropped")
			return false
		}
		// Handlers are not serialized against each other; each runs on
		// its own goroutine and queues Lua work through the executor.
		go r.inst.commands.Invoke(ctx, msg)

	case protocol.TypeShutdown:
		r.inst.Shutdown(ctx)
		return true

	case "":
		r.diag.Warn("malformed host message dropped")

	default:
		r.diag.WithField("type", msgType).Warn("unknown host message dropped")
	}
	return false
}
