package luaenv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// SDKModule is the reserved import name that resolves to the SDK facade.
const SDKModule = "flashnote"

// safeModules are Lua standard libraries the environment already opened;
// requiring them returns the corresponding global table.
var safeModules = map[string]bool{
	"string": true,
	"table":  true,
	"math":   true,
}

// blockedModules are host built-ins a plugin must never load. The list
// covers both Lua standard libraries that stay closed and the runtime
// built-ins plugins written against other hosts commonly reach for.
var blockedModules = map[string]bool{
	"io": true, "os": true, "debug": true, "package": true, "coroutine": true,
	"fs": true, "path": true, "net": true, "http": true, "https": true,
	"child_process": true, "process": true, "crypto": true, "zlib": true,
	"stream": true, "buffer": true, "vm": true, "worker_threads": true,
	"cluster": true, "dgram": true, "dns": true, "tls": true,
	"readline": true, "repl": true, "module": true, "electron": true,
}

// Loader resolves require calls under the sandbox allow-list policy:
// the reserved SDK name returns the frozen facade, host built-ins are
// rejected, and anything else must resolve to a file inside the plugin's
// own directory.
type Loader struct {
	root   string // plugin directory, absolute
	facade lua.LValue

	cache map[string]lua.LValue

	// First policy violation raised by a require call. Bootstrap uses it
	// to classify a failed load as a sandbox violation.
	violation *ViolationError
}

// NewLoader creates a loader confining module resolution to root.
func NewLoader(root string, facade lua.LValue) *Loader {
	return &Loader{
		root:   filepath.Clean(root),
		facade: facade,
		cache:  make(map[string]lua.LValue),
	}
}

// Violation returns the first policy violation seen, or nil.
func (l *Loader) Violation() *ViolationError {
	return l.violation
}

// Install replaces the global require with the sandboxed resolver.
func (l *Loader) Install(L *lua.LState) {
	L.SetGlobal("require", L.NewFunction(l.require))
}

func (l *Loader) require(L *lua.LState) int {
	name := L.CheckString(1)

	if name == SDKModule {
		L.Push(l.facade)
		return 1
	}

	if safeModules[name] {
		L.Push(L.GetGlobal(name))
		return 1
	}

	if blockedModules[name] {
		l.reject(L, name, "is a blocked host built-in")
		return 0
	}

	if cached, ok := l.cache[name]; ok {
		L.Push(cached)
		return 1
	}

	path, err := l.resolve(name)
	if err != nil {
		if v, ok := err.(*ViolationError); ok {
			if l.violation == nil {
				l.violation = v
			}
			L.RaiseError("%s", v.Error())
			return 0
		}
		L.RaiseError("module %q: %v", name, err)
		return 0
	}

	value, err := l.loadFile(L, path)
	if err != nil {
		L.RaiseError("module %q: %v", name, err)
		return 0
	}

	// Lua caches a module that returned nothing as true so a second
	// require does not re-execute it.
	if value == lua.LNil {
		value = lua.LTrue
	}
	l.cache[name] = value
	L.Push(value)
	return 1
}

func (l *Loader) reject(L *lua.LState, name, reason string) {
	v := &ViolationError{Module: name, Reason: reason}
	if l.violation == nil {
		l.violation = v
	}
	L.RaiseError("%s", v.Error())
}

// resolve maps an import name to a file path confined to the plugin
// directory. Slash-style names are used as paths; dotted names follow
// the Lua convention of dots as directory separators.
func (l *Loader) resolve(name string) (string, error) {
	rel := name
	if !strings.Contains(rel, "/") {
		rel = strings.ReplaceAll(rel, ".", "/")
	}
	if !strings.HasSuffix(rel, ".lua") {
		rel += ".lua"
	}

	abs := filepath.Clean(filepath.Join(l.root, filepath.FromSlash(rel)))

	within, err := filepath.Rel(l.root, abs)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", &ViolationError{Module: name, Reason: "resolves outside the plugin directory"}
	}

	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("not found in plugin directory")
	}
	return abs, nil
}

// loadFile compiles and runs a module file, returning its first return
// value.
func (l *Loader) loadFile(L *lua.LState, path string) (lua.LValue, error) {
	fn, err := L.LoadFile(path)
	if err != nil {
		return lua.LNil, err
	}

	top := L.GetTop()
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return lua.LNil, err
	}

	var value lua.LValue = lua.LNil
	if L.GetTop() > top {
		value = L.Get(top + 1)
	}
	L.SetTop(top)
	return value, nil
}
