package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/luaenv"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/protocol"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/transport"
)

func TestBootstrapRegistersCommandsFromEntry(t *testing.T) {
	h := boot(t, `
		local app = require("flashnote")
		app.registerCommand({id = "quote.show", title = "Show Quote"}, function() end)
	`)
	if h.bootErr != nil {
		t.Fatalf("bootstrap: %v", h.bootErr)
	}

	frame := awaitType(t, h.hostEnd, protocol.TypeRegisterCommand)
	var reg protocol.RegisterCommand
	if err := json.Unmarshal(frame, &reg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reg.Command.ID != "quote.show" {
		t.Errorf("command id = %q", reg.Command.ID)
	}
	if !h.inst.Commands().Has("quote.show") {
		t.Error("command should be registered locally")
	}
}

func TestBootstrapFactoryExport(t *testing.T) {
	h := boot(t, `
		return function(app)
			app.onActivate(function() end)
			factoryRan = true
		end
	`)
	if h.bootErr != nil {
		t.Fatalf("bootstrap: %v", h.bootErr)
	}

	if ran, _ := luaGlobal(h, "factoryRan").(bool); !ran {
		t.Error("factory export should be invoked with the facade")
	}
	if len(h.inst.activate) != 1 {
		t.Errorf("activate callbacks = %d, want 1", len(h.inst.activate))
	}
}

func TestBootstrapBlockedRequireIsViolation(t *testing.T) {
	h := boot(t, `local fs = require("fs")`)
	if h.bootErr == nil {
		t.Fatal("requiring a blocked built-in must fail bootstrap")
	}

	var violation *luaenv.ViolationError
	if !errors.As(h.bootErr, &violation) {
		t.Errorf("err = %v, want a sandbox violation", h.bootErr)
	} else if violation.Module != "fs" {
		t.Errorf("violating module = %q, want fs", violation.Module)
	}

	// fatal must be reported, and ready must never be sent
	frame := awaitType(t, h.hostEnd, protocol.TypeFatal)
	if protocol.PeekType(frame) != protocol.TypeFatal {
		t.Fatalf("expected fatal, got %s", frame)
	}
	if got := h.inst.State(); got != StateFatal {
		t.Errorf("state = %s, want fatal", got)
	}
	if err := h.inst.Activate(context.Background()); err == nil {
		t.Error("activation after fatal bootstrap should fail")
	}
}

func TestBootstrapEscapingRequireIsViolation(t *testing.T) {
	h := boot(t, `require("../secrets")`)
	if h.bootErr == nil {
		t.Fatal("out-of-tree require must fail bootstrap")
	}
	var violation *luaenv.ViolationError
	if !errors.As(h.bootErr, &violation) {
		t.Errorf("err = %v, want a sandbox violation", h.bootErr)
	}
}

func TestBootstrapCompileErrorIsFatal(t *testing.T) {
	h := boot(t, `this is not lua (`)
	if h.bootErr == nil {
		t.Fatal("compile error must fail bootstrap")
	}
	awaitType(t, h.hostEnd, protocol.TypeFatal)
	if got := h.inst.State(); got != StateFatal {
		t.Errorf("state = %s, want fatal", got)
	}
}

func TestBootstrapMissingEntryIsFatal(t *testing.T) {
	dir := writePlugin(t, map[string]string{"other.lua": `return 1`})
	sandboxEnd, hostEnd := transport.NewPipe()
	defer hostEnd.Close()

	payload := &Payload{
		PluginID:   "test-plugin",
		PluginPath: dir,
		Manifest:   &Manifest{ID: "test-plugin", Version: "1.0.0", Entry: "init.lua"},
	}
	inst, err := Bootstrap(context.Background(), payload, sandboxEnd, nil)
	if err == nil {
		t.Fatal("missing entry must fail bootstrap")
	}
	defer inst.Shutdown(context.Background())

	awaitType(t, hostEnd, protocol.TypeFatal)
}

func TestBootstrapLoadsManifestFromDirectory(t *testing.T) {
	dir := writePlugin(t, map[string]string{
		"plugin.json": `{"id": "from-disk", "version": "2.0.0", "entry": "main.lua"}`,
		"main.lua":    `require("flashnote")`,
	})
	sandboxEnd, hostEnd := transport.NewPipe()
	defer hostEnd.Close()

	payload := &Payload{PluginID: "from-disk", PluginPath: dir}
	inst, err := Bootstrap(context.Background(), payload, sandboxEnd, nil)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	defer inst.Shutdown(context.Background())

	if inst.Manifest().ID != "from-disk" || inst.Manifest().Version != "2.0.0" {
		t.Errorf("manifest = %+v", inst.Manifest())
	}
}

func TestBootstrapInvalidManifestIsFatal(t *testing.T) {
	dir := writePlugin(t, map[string]string{"init.lua": `return 1`})
	sandboxEnd, hostEnd := transport.NewPipe()
	defer hostEnd.Close()

	payload := &Payload{
		PluginID:   "x",
		PluginPath: dir,
		Manifest:   &Manifest{ID: "x", Version: "not-semver", Entry: "init.lua"},
	}
	if _, err := Bootstrap(context.Background(), payload, sandboxEnd, nil); !errors.Is(err, ErrInvalidVersion) {
		t.Errorf("err = %v, want ErrInvalidVersion", err)
	}
	awaitType(t, hostEnd, protocol.TypeFatal)
}

func TestBootstrapRelativeRequireWithinPlugin(t *testing.T) {
	dir := writePlugin(t, map[string]string{
		"init.lua": `
			local helpers = require("lib.helpers")
			greeting = helpers.greet("flashnote")
		`,
		filepath.Join("lib", "helpers.lua"): `
			return { greet = function(name) return "hello " .. name end }
		`,
	})
	sandboxEnd, hostEnd := transport.NewPipe()
	defer hostEnd.Close()

	payload := &Payload{
		PluginID:   "test-plugin",
		PluginPath: dir,
		Manifest:   &Manifest{ID: "test-plugin", Version: "1.0.0", Entry: "init.lua"},
	}
	inst, err := Bootstrap(context.Background(), payload, sandboxEnd, nil)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	defer inst.Shutdown(context.Background())

	if got := luaenv.ToGo(inst.env.L.GetGlobal("greeting")); got != "hello flashnote" {
		t.Errorf("greeting = %v", got)
	}
}
