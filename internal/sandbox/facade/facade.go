package facade

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/command"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/hostlog"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/luaenv"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/rpc"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/security"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/storage"
)

// Lifecycle receives the activation callbacks plugin code registers
// through onActivate and onDeactivate.
type Lifecycle interface {
	OnActivate(fn *lua.LFunction)
	OnDeactivate(fn *lua.LFunction)
}

// Deps are the sandbox services the facade methods close over.
type Deps struct {
	Env         *luaenv.Env
	Exec        *luaenv.Executor
	RPC         *rpc.Client
	Commands    *command.Registry
	Storage     *storage.Store
	Log         *hostlog.Logger
	Permissions *security.PermissionSet
	Lifecycle   Lifecycle
}

// Facade assembles the frozen SDK table.
type Facade struct {
	env         *luaenv.Env
	exec        *luaenv.Executor
	rpc         *rpc.Client
	commands    *command.Registry
	store     *storage.Store
	log       *hostlog.Logger
	perms     *security.PermissionSet
	lifecycle Lifecycle
}

// New creates a Facade from its dependencies.
func New(deps Deps) *Facade {
	return &Facade{
		env:       deps.Env,
		exec:      deps.Exec,
		rpc:       deps.RPC,
		commands:  deps.Commands,
		store:     deps.Storage,
		log:       deps.Log,
		perms:     deps.Permissions,
		lifecycle: deps.Lifecycle,
	}
}

// Build constructs the SDK table in the environment's state and returns
// the frozen proxy. Must run on the goroutine that owns the state.
func (f *Facade) Build() lua.LValue {
	L := f.env.L

	sdk := L.NewTable()
	L.SetField(sdk, "onActivate", L.NewFunction(f.onActivate))
	L.SetField(sdk, "onDeactivate", L.NewFunction(f.onDeactivate))
	L.SetField(sdk, "registerCommand", L.NewFunction(f.registerCommand))
	L.SetField(sdk, "unregisterCommand", L.NewFunction(f.unregisterCommand))

	notes := L.NewTable()
	L.SetField(notes, "getRandom", L.NewFunction(f.notesGetRandom))
	L.SetField(notes, "list", L.NewFunction(f.notesList))
	L.SetField(sdk, "notes", freeze(L, notes))

	ui := L.NewTable()
	L.SetField(ui, "openNote", L.NewFunction(f.uiOpenNote))
	L.SetField(sdk, "ui", freeze(L, ui))

	store := L.NewTable()
	L.SetField(store, "getItem", L.NewFunction(f.storageGetItem))
	L.SetField(store, "setItem", L.NewFunction(f.storageSetItem))
	L.SetField(store, "removeItem", L.NewFunction(f.storageRemoveItem))
	L.SetField(store, "clear", L.NewFunction(f.storageClear))
	L.SetField(sdk, "storage", freeze(L, store))

	notif := L.NewTable()
	L.SetField(notif, "show", L.NewFunction(f.notificationsShow))
	L.SetField(sdk, "notifications", freeze(L, notif))

	logger := L.NewTable()
	L.SetField(logger, "debug", L.NewFunction(f.logAt(hostlog.LevelDebug)))
	L.SetField(logger, "info", L.NewFunction(f.logAt(hostlog.LevelInfo)))
	L.SetField(logger, "warn", L.NewFunction(f.logAt(hostlog.LevelWarn)))
	L.SetField(logger, "error", L.NewFunction(f.logAt(hostlog.LevelError)))
	L.SetField(sdk, "logger", freeze(L, logger))

	perms := L.NewTable()
	L.SetField(perms, "has", L.NewFunction(f.permissionsHas))
	L.SetField(perms, "list", L.NewFunction(f.permissionsList))
	L.SetField(sdk, "permissions", freeze(L, perms))

	return freeze(L, sdk)
}

// InstallPrint redirects the global print to the host log at info level.
func (f *Facade) InstallPrint() {
	L := f.env.L
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		args := make([]any, L.GetTop())
		for i := range args {
			args[i] = luaenv.ToGo(L.Get(i + 1))
		}
		f.log.Log(hostlog.LevelInfo, args)
		return 0
	}))
}

// freeze wraps tbl in a read-only proxy. Writes are silently dropped
// and the metatable is locked against inspection. Because all reads go
// through __index into a hidden table, the proxy itself is empty: pairs
// and the length operator see no entries. Plugin code addresses the SDK
// by key, never by enumeration.
func freeze(L *lua.LState, tbl *lua.LTable) lua.LValue {
	proxy := L.NewTable()
	mt := L.NewTable()
	L.SetField(mt, "__index", tbl)
	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int { return 0 }))
	L.SetField(mt, "__metatable", lua.LString("locked"))
	L.SetMetatable(proxy, mt)
	return proxy
}

func (f *Facade) onActivate(L *lua.LState) int {
	f.lifecycle.OnActivate(L.CheckFunction(1))
	return 0
}

func (f *Facade) onDeactivate(L *lua.LState) int {
	f.lifecycle.OnDeactivate(L.CheckFunction(1))
	return 0
}

// registerCommand(def, handler) -> unregister function
func (f *Facade) registerCommand(L *lua.LState) int {
	def := definitionFromTable(L, L.CheckTable(1))
	handler := L.CheckFunction(2)

	unregister, err := f.commands.Register(def, f.wrapHandler(handler))
	if err != nil {
		L.RaiseError("registerCommand: %v", err)
		return 0
	}

	L.Push(L.NewFunction(func(L *lua.LState) int {
		unregister()
		return 0
	}))
	return 1
}

func (f *Facade) unregisterCommand(L *lua.LState) int {
	f.commands.Unregister(L.CheckString(1))
	return 0
}

// wrapHandler adapts a Lua handler function to the registry's Handler.
// Invocation arrives on a host-driven goroutine, so the Lua call is
// queued through the executor. Only the entry script is time-bounded;
// handlers run to completion.
func (f *Facade) wrapHandler(fn *lua.LFunction) command.Handler {
	return func(ctx context.Context, payload map[string]any) (any, error) {
		var result any
		err := f.exec.Do(ctx, func(L *lua.LState) error {
			ret, err := f.env.CallResult(fn, 0, luaenv.ToLua(L, payload))
			if err != nil {
				return err
			}
			result = luaenv.ToGo(ret)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

func (f *Facade) notesGetRandom(L *lua.LState) int {
	return f.callHost(L, "notes", "getRandom", nil)
}

func (f *Facade) notesList(L *lua.LState) int {
	var payload any
	if opts := L.OptTable(1, nil); opts != nil {
		payload = luaenv.ToGo(opts)
	}
	return f.callHost(L, "notes", "list", payload)
}

func (f *Facade) uiOpenNote(L *lua.LState) int {
	noteID := L.CheckString(1)
	return f.callHost(L, "ui", "openNote", map[string]any{"noteId": noteID})
}

func (f *Facade) notificationsShow(L *lua.LState) int {
	payload := luaenv.ToGo(L.CheckTable(1))
	return f.callHost(L, "notifications", "show", payload)
}

// callHost dispatches an RPC and blocks the calling Lua code until the
// host answers or the call times out. Resolution happens on the router
// goroutine, never through the executor, so blocking here is safe.
func (f *Facade) callHost(L *lua.LState, scope, action string, payload any) int {
	result, err := f.rpc.Call(context.Background(), scope, action, payload)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	L.Push(luaenv.ToLua(L, result))
	return 1
}

func (f *Facade) storageGetItem(L *lua.LState) int {
	value, ok, err := f.store.GetItem(L.CheckString(1))
	if err != nil {
		L.RaiseError("storage.getItem: %v", err)
		return 0
	}
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(value))
	return 1
}

func (f *Facade) storageSetItem(L *lua.LState) int {
	key := L.CheckString(1)
	value := L.CheckString(2)
	if err := f.store.SetItem(key, value); err != nil {
		L.RaiseError("storage.setItem: %v", err)
	}
	return 0
}

func (f *Facade) storageRemoveItem(L *lua.LState) int {
	if err := f.store.RemoveItem(L.CheckString(1)); err != nil {
		L.RaiseError("storage.removeItem: %v", err)
	}
	return 0
}

func (f *Facade) storageClear(L *lua.LState) int {
	if err := f.store.Clear(); err != nil {
		L.RaiseError("storage.clear: %v", err)
	}
	return 0
}

func (f *Facade) logAt(level string) lua.LGFunction {
	return func(L *lua.LState) int {
		args := make([]any, L.GetTop())
		for i := range args {
			args[i] = luaenv.ToGo(L.Get(i + 1))
		}
		f.log.Log(level, args)
		return 0
	}
}

func (f *Facade) permissionsHas(L *lua.LState) int {
	L.Push(lua.LBool(f.perms.Has(L.CheckString(1))))
	return 1
}

func (f *Facade) permissionsList(L *lua.LState) int {
	tbl := L.NewTable()
	for i, name := range f.perms.List() {
		tbl.RawSetInt(i+1, lua.LString(name))
	}
	L.Push(tbl)
	return 1
}

// definitionFromTable reads a command definition out of a Lua table.
// Both the singular surface field and the plural surfaces array are
// accepted; normalization happens in the registry.
func definitionFromTable(L *lua.LState, tbl *lua.LTable) command.Definition {
	def := command.Definition{
		ID:          tableString(L, tbl, "id"),
		Title:       tableString(L, tbl, "title"),
		Description: tableString(L, tbl, "description"),
		Group:       tableString(L, tbl, "group"),
		Icon:        tableString(L, tbl, "icon"),
		Surface:     tableString(L, tbl, "surface"),
	}
	if surfaces, ok := L.GetField(tbl, "surfaces").(*lua.LTable); ok {
		surfaces.ForEach(func(_, v lua.LValue) {
			if s, ok := v.(lua.LString); ok {
				def.Surfaces = append(def.Surfaces, string(s))
			}
		})
	}
	return def
}

func tableString(L *lua.LState, tbl *lua.LTable, key string) string {
	if s, ok := L.GetField(tbl, key).(lua.LString); ok {
		return string(s)
	}
	return ""
}
