package rpc

import (
	"fmt"
	"time"
)

// TimeoutError is returned when no rpc-response arrives within the
// configured timeout.
type TimeoutError struct {
	Scope   string
	Action  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rpc timeout: no response for %s.%s within %s", e.Scope, e.Action, e.Timeout)
}

// HostError is returned when the host answers a call with success=false.
type HostError struct {
	Message string
}

func (e *HostError) Error() string {
	if e.Message == "" {
		return "host rejected the call"
	}
	return e.Message
}

// PermissionError is returned by the advisory local check when the
// permission gating a scope is not granted.
type PermissionError struct {
	Scope      string
	Permission string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission %q required for scope %q is not granted", e.Permission, e.Scope)
}
