package luaenv

import (
	"errors"
	"fmt"
)

// ErrClosed is returned when using a closed Env or Executor.
var ErrClosed = errors.New("lua environment is closed")

// ViolationError reports an import that the sandbox policy rejected:
// either a host built-in module or a path escaping the plugin directory.
type ViolationError struct {
	Module string
	Reason string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("sandbox violation: module %q %s", e.Module, e.Reason)
}
