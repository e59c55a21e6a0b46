// Package hostlog forwards plugin log calls to the host as structured
// log messages. It is the backing for both the SDK logger facade and the
// sandboxed print.
package hostlog

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/protocol"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/transport"
)

// Log levels on the wire.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Logger sends leveled log messages to the host.
type Logger struct {
	transport transport.Transport
	diag      *logrus.Entry
}

// NewLogger creates a Logger sending on t. diag receives delivery
// failures; nil uses the standard logger.
func NewLogger(t transport.Transport, diag *logrus.Entry) *Logger {
	if diag == nil {
		diag = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Logger{transport: t, diag: diag}
}

// Debug forwards a debug-level log call.
func (l *Logger) Debug(args ...any) { l.send(LevelDebug, args) }

// Info forwards an info-level log call.
func (l *Logger) Info(args ...any) { l.send(LevelInfo, args) }

// Warn forwards a warn-level log call.
func (l *Logger) Warn(args ...any) { l.send(LevelWarn, args) }

// Error forwards an error-level log call.
func (l *Logger) Error(args ...any) { l.send(LevelError, args) }

// Log forwards a log call at an arbitrary level.
func (l *Logger) Log(level string, args []any) { l.send(level, args) }

func (l *Logger) send(level string, args []any) {
	serialized := make([]any, len(args))
	for i, arg := range args {
		serialized[i] = serialize(arg)
	}
	if err := l.transport.Send(protocol.NewLog(level, serialized)); err != nil {
		l.diag.WithError(err).Warn("failed to forward log message")
	}
}

// serialize keeps strings as-is and passes JSON-marshalable values
// through structurally, falling back to a plain string representation.
func serialize(arg any) any {
	if s, ok := arg.(string); ok {
		return s
	}
	if _, err := json.Marshal(arg); err != nil {
		return fmt.Sprintf("%v", arg)
	}
	return arg
}
