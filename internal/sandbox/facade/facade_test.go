package facade

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/command"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/hostlog"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/luaenv"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/protocol"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/rpc"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/security"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/storage"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/transport"
)

type recordingLifecycle struct {
	activate   []*lua.LFunction
	deactivate []*lua.LFunction
}

func (r *recordingLifecycle) OnActivate(fn *lua.LFunction) {
	r.activate = append(r.activate, fn)
}

func (r *recordingLifecycle) OnDeactivate(fn *lua.LFunction) {
	r.deactivate = append(r.deactivate, fn)
}

type fixture struct {
	env      *luaenv.Env
	exec     *luaenv.Executor
	client   *rpc.Client
	registry *command.Registry
	life     *recordingLifecycle
	facade   *Facade
	hostEnd  *transport.Pipe
}

func newFixture(t *testing.T, grants map[string]bool) *fixture {
	t.Helper()

	sandboxEnd, hostEnd := transport.NewPipe()
	env := luaenv.NewEnv()
	exec := luaenv.NewExecutor(env, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		exec.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		exec.Close()
		cancel()
		<-done
		env.Close()
		sandboxEnd.Close()
		hostEnd.Close()
	})

	perms := security.NewPermissionSet(grants)
	client := rpc.NewClient(sandboxEnd,
		rpc.WithTimeout(2*time.Second),
		rpc.WithPermissions(perms),
	)
	registry := command.NewRegistry(sandboxEnd, nil)
	life := &recordingLifecycle{}

	f := New(Deps{
		Env:         env,
		Exec:        exec,
		RPC:         client,
		Commands:    registry,
		Storage:     storage.NewStore(filepath.Join(t.TempDir(), "storage.json"), "test-plugin"),
		Log:         hostlog.NewLogger(sandboxEnd, nil),
		Permissions: perms,
		Lifecycle:   life,
	})
	env.L.SetGlobal("sdk", f.Build())

	return &fixture{
		env:      env,
		exec:     exec,
		client:   client,
		registry: registry,
		life:     life,
		facade:   f,
		hostEnd:  hostEnd,
	}
}

func (fx *fixture) run(t *testing.T, code string) {
	t.Helper()
	if err := fx.env.L.DoString(code); err != nil {
		t.Fatalf("lua: %v", err)
	}
}

func (fx *fixture) receive(t *testing.T) []byte {
	t.Helper()
	select {
	case frame := <-fx.hostEnd.Inbound():
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("no outbound message")
		return nil
	}
}

func TestFacadeIsImmutable(t *testing.T) {
	fx := newFixture(t, nil)

	fx.run(t, `
		sdk.extra = "added"
		sdk.logger = nil
		sdk.notes.getRandom = "clobbered"
	`)

	fx.run(t, `
		assert(sdk.extra == nil, "added field should not stick")
		assert(sdk.logger ~= nil, "logger should survive overwrite")
		assert(type(sdk.notes.getRandom) == "function", "nested field should survive overwrite")
	`)
}

func TestFacadeResistsRawWrites(t *testing.T) {
	fx := newFixture(t, nil)

	// rawset would write past __newindex straight into the proxy table;
	// the environment removes it along with the other raw accessors.
	if err := fx.env.L.DoString(`rawset(sdk, "onActivate", "clobbered")`); err == nil {
		t.Error("rawset should not be available to plugin code")
	}
	fx.run(t, `assert(type(sdk.onActivate) == "function", "onActivate should survive")`)
}

func TestFacadeMetatableLocked(t *testing.T) {
	fx := newFixture(t, nil)

	fx.run(t, `assert(getmetatable(sdk) == "locked")`)
	if err := fx.env.L.DoString(`setmetatable(sdk, {})`); err == nil {
		t.Error("replacing the metatable should fail")
	}
}

func TestLifecycleCallbacksRecorded(t *testing.T) {
	fx := newFixture(t, nil)

	fx.run(t, `
		sdk.onActivate(function() end)
		sdk.onActivate(function() end)
		sdk.onDeactivate(function() end)
	`)

	if len(fx.life.activate) != 2 {
		t.Errorf("activate callbacks = %d, want 2", len(fx.life.activate))
	}
	if len(fx.life.deactivate) != 1 {
		t.Errorf("deactivate callbacks = %d, want 1", len(fx.life.deactivate))
	}
}

func TestRegisterCommandAnnouncesAndUnregisters(t *testing.T) {
	fx := newFixture(t, nil)

	fx.run(t, `
		unregister = sdk.registerCommand(
			{id = "foo.bar", title = "Foo", surface = "toolbar"},
			function() end
		)
	`)

	var reg protocol.RegisterCommand
	if err := json.Unmarshal(fx.receive(t), &reg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reg.Type != protocol.TypeRegisterCommand || reg.Command.ID != "foo.bar" {
		t.Errorf("announcement = %+v", reg)
	}
	if len(reg.Command.Surfaces) != 1 || reg.Command.Surfaces[0] != "toolbar" {
		t.Errorf("surfaces = %v, want [toolbar]", reg.Command.Surfaces)
	}
	if !fx.registry.Has("foo.bar") {
		t.Fatal("command should be registered")
	}

	fx.run(t, `unregister()`)

	var unreg protocol.UnregisterCommand
	if err := json.Unmarshal(fx.receive(t), &unreg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if unreg.CommandID != "foo.bar" {
		t.Errorf("unregistered id = %q", unreg.CommandID)
	}
	if fx.registry.Has("foo.bar") {
		t.Error("command should be gone")
	}
}

func TestRegisterCommandEmptyIDRaises(t *testing.T) {
	fx := newFixture(t, nil)

	err := fx.env.L.DoString(`sdk.registerCommand({title = "no id"}, function() end)`)
	if err == nil {
		t.Fatal("empty id should raise")
	}
	if fx.registry.Has("") {
		t.Error("nothing should be registered")
	}
}

func TestCommandHandlerRunsThroughExecutor(t *testing.T) {
	fx := newFixture(t, nil)

	fx.run(t, `
		sdk.registerCommand({id = "echo"}, function(payload)
			return {got = payload.word, fixed = 1}
		end)
	`)
	fx.receive(t) // register-command announcement

	fx.registry.Invoke(context.Background(), protocol.InvokeCommand{
		Type:      protocol.TypeInvokeCommand,
		CommandID: "echo",
		RequestID: "42",
		Payload:   map[string]any{"word": "hi"},
	})

	var res protocol.InvokeCommandResult
	if err := json.Unmarshal(fx.receive(t), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Success || res.RequestID != "42" {
		t.Fatalf("result = %+v", res)
	}
	obj, ok := res.Result.(map[string]any)
	if !ok || obj["got"] != "hi" || obj["fixed"] != float64(1) {
		t.Errorf("result payload = %#v", res.Result)
	}
}

func TestCommandHandlerErrorBecomesFailure(t *testing.T) {
	fx := newFixture(t, nil)

	fx.run(t, `
		sdk.registerCommand({id = "boom"}, function()
			error("handler exploded")
		end)
	`)
	fx.receive(t)

	fx.registry.Invoke(context.Background(), protocol.InvokeCommand{
		Type:      protocol.TypeInvokeCommand,
		CommandID: "boom",
		RequestID: "7",
	})

	var res protocol.InvokeCommandResult
	if err := json.Unmarshal(fx.receive(t), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Success {
		t.Fatal("handler error should produce a failure result")
	}
	if res.Error == "" {
		t.Error("failure should carry an error message")
	}
}

// respondRPC answers the next outbound rpc message on the host end. It
// runs on its own goroutine while the Lua call blocks, so failures are
// reported with Error, never Fatal.
func respondRPC(t *testing.T, fx *fixture, check func(msg protocol.RPC), result any) {
	var frame []byte
	select {
	case frame = <-fx.hostEnd.Inbound():
	case <-time.After(2 * time.Second):
		t.Error("no rpc message reached the host")
		return
	}

	var msg protocol.RPC
	if err := json.Unmarshal(frame, &msg); err != nil {
		t.Errorf("decode rpc: %v", err)
		return
	}
	if check != nil {
		check(msg)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		t.Errorf("marshal result: %v", err)
		return
	}
	fx.client.Resolve(protocol.RPCResponse{
		Type:      protocol.TypeRPCResponse,
		RequestID: msg.RequestID,
		Success:   true,
		Result:    raw,
	})
}

func TestNotesListGoesThroughRPC(t *testing.T) {
	fx := newFixture(t, map[string]bool{security.PermissionNotesRead: true})

	go respondRPC(t, fx, func(msg protocol.RPC) {
		if msg.Scope != "notes" || msg.Action != "list" {
			t.Errorf("call = %s.%s, want notes.list", msg.Scope, msg.Action)
		}
		payload, _ := msg.Payload.(map[string]any)
		if payload["limit"] != float64(5) {
			t.Errorf("payload = %#v", msg.Payload)
		}
	}, []any{map[string]any{"id": "n1"}, map[string]any{"id": "n2"}})

	fx.run(t, `
		local notes = sdk.notes.list({limit = 5})
		assert(#notes == 2, "two notes expected")
		assert(notes[1].id == "n1")
	`)
}

func TestUIOpenNoteCarriesNoteID(t *testing.T) {
	fx := newFixture(t, map[string]bool{security.PermissionUI: true})

	go respondRPC(t, fx, func(msg protocol.RPC) {
		if msg.Scope != "ui" || msg.Action != "openNote" {
			t.Errorf("call = %s.%s, want ui.openNote", msg.Scope, msg.Action)
		}
		payload, _ := msg.Payload.(map[string]any)
		if payload["noteId"] != "note-9" {
			t.Errorf("payload = %#v", msg.Payload)
		}
	}, true)

	fx.run(t, `sdk.ui.openNote("note-9")`)
}

func TestRPCWithoutGrantRaisesWithoutRoundTrip(t *testing.T) {
	fx := newFixture(t, nil) // no grants

	err := fx.env.L.DoString(`sdk.notes.getRandom()`)
	if err == nil {
		t.Fatal("missing grant should raise")
	}

	select {
	case frame := <-fx.hostEnd.Inbound():
		t.Errorf("no message should reach the host, got %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStorageFacadeRoundTrip(t *testing.T) {
	fx := newFixture(t, nil)

	fx.run(t, `
		assert(sdk.storage.getItem("color") == nil)
		sdk.storage.setItem("color", "blue")
		assert(sdk.storage.getItem("color") == "blue")
		sdk.storage.removeItem("color")
		assert(sdk.storage.getItem("color") == nil)
		sdk.storage.setItem("a", "1")
		sdk.storage.setItem("b", "2")
		sdk.storage.clear()
		assert(sdk.storage.getItem("a") == nil)
		assert(sdk.storage.getItem("b") == nil)
	`)
}

func TestLoggerFacadeForwardsLevels(t *testing.T) {
	fx := newFixture(t, nil)

	fx.run(t, `sdk.logger.warn("watch out", {code = 3})`)

	var msg protocol.Log
	if err := json.Unmarshal(fx.receive(t), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Level != hostlog.LevelWarn {
		t.Errorf("level = %q, want warn", msg.Level)
	}
	if len(msg.Args) != 2 || msg.Args[0] != "watch out" {
		t.Errorf("args = %#v", msg.Args)
	}
}

func TestPrintRedirectsToHostLog(t *testing.T) {
	fx := newFixture(t, nil)
	fx.facade.InstallPrint()

	fx.run(t, `print("hello", 42)`)

	var msg protocol.Log
	if err := json.Unmarshal(fx.receive(t), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Level != hostlog.LevelInfo {
		t.Errorf("level = %q, want info", msg.Level)
	}
	if len(msg.Args) != 2 || msg.Args[0] != "hello" || msg.Args[1] != float64(42) {
		t.Errorf("args = %#v", msg.Args)
	}
}

func TestPermissionsFacade(t *testing.T) {
	fx := newFixture(t, map[string]bool{
		security.PermissionNotesRead: true,
		security.PermissionStorage:   true,
	})

	fx.run(t, `
		assert(sdk.permissions.has("notes.read") == true)
		assert(sdk.permissions.has("clipboard") == false)
		local granted = sdk.permissions.list()
		assert(#granted == 2)
	`)
}
