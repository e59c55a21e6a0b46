package protocol

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Message type identifiers, sandbox -> host.
const (
	TypeLog                 = "log"
	TypeRPC                 = "rpc"
	TypeRegisterCommand     = "register-command"
	TypeUnregisterCommand   = "unregister-command"
	TypeReady               = "ready"
	TypeInvokeCommandResult = "invoke-command-result"
	TypeFatal               = "fatal"
)

// Message type identifiers, host -> sandbox.
const (
	TypeRPCResponse   = "rpc-response"
	TypeInvokeCommand = "invoke-command"
	TypeShutdown      = "shutdown"
)

// Log forwards a leveled log call from plugin code to the host.
type Log struct {
	Type  string `json:"type"`
	Level string `json:"level"`
	Args  []any  `json:"args"`
}

// NewLog builds a log message.
func NewLog(level string, args []any) Log {
	return Log{Type: TypeLog, Level: level, Args: args}
}

// RPC asks the host to perform an application operation.
type RPC struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Scope     string `json:"scope"`
	Action    string `json:"action"`
	Payload   any    `json:"payload,omitempty"`
}

// NewRPC builds an rpc message.
func NewRPC(requestID, scope, action string, payload any) RPC {
	return RPC{Type: TypeRPC, RequestID: requestID, Scope: scope, Action: action, Payload: payload}
}

// Command is the UI-visible descriptor for a registered command.
type Command struct {
	ID          string   `json:"id"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Group       string   `json:"group,omitempty"`
	Icon        string   `json:"icon,omitempty"`
	Surfaces    []string `json:"surfaces,omitempty"`
}

// RegisterCommand announces a newly registered command to the host.
type RegisterCommand struct {
	Type    string  `json:"type"`
	Command Command `json:"command"`
}

// NewRegisterCommand builds a register-command message.
func NewRegisterCommand(cmd Command) RegisterCommand {
	return RegisterCommand{Type: TypeRegisterCommand, Command: cmd}
}

// UnregisterCommand removes a previously registered command.
type UnregisterCommand struct {
	Type      string `json:"type"`
	CommandID string `json:"commandId"`
}

// NewUnregisterCommand builds an unregister-command message.
func NewUnregisterCommand(id string) UnregisterCommand {
	return UnregisterCommand{Type: TypeUnregisterCommand, CommandID: id}
}

// Ready signals that activation completed successfully.
type Ready struct {
	Type string `json:"type"`
}

// NewReady builds a ready message.
func NewReady() Ready {
	return Ready{Type: TypeReady}
}

// InvokeCommandResult answers a host-issued invoke-command.
type InvokeCommandResult struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewInvokeCommandSuccess builds a successful invoke-command-result.
func NewInvokeCommandSuccess(requestID string, result any) InvokeCommandResult {
	return InvokeCommandResult{Type: TypeInvokeCommandResult, RequestID: requestID, Success: true, Result: result}
}

// NewInvokeCommandFailure builds a failed invoke-command-result.
func NewInvokeCommandFailure(requestID, errMsg string) InvokeCommandResult {
	return InvokeCommandResult{Type: TypeInvokeCommandResult, RequestID: requestID, Success: false, Error: errMsg}
}

// Fatal reports an unrecoverable bootstrap or activation failure.
type Fatal struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewFatal builds a fatal message.
func NewFatal(errMsg string) Fatal {
	return Fatal{Type: TypeFatal, Error: errMsg}
}

// RPCResponse is the host's reply to a prior rpc message.
type RPCResponse struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// InvokeCommand asks the sandbox to run a registered command.
type InvokeCommand struct {
	Type      string         `json:"type"`
	CommandID string         `json:"commandId"`
	RequestID string         `json:"requestId"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Shutdown requests graceful teardown of the sandbox.
type Shutdown struct {
	Type string `json:"type"`
}

// PeekType returns the type field of a raw inbound message without fully
// unmarshaling it. Returns "" for malformed JSON or a missing type field.
func PeekType(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		return ""
	}
	return gjson.GetBytes(raw, "type").String()
}
