package sandbox

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/command"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/facade"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/hostlog"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/luaenv"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/protocol"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/rpc"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/security"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/storage"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/transport"
)

// Bootstrap builds the restricted execution environment and runs the
// plugin's entry script inside it, bounded by the configured timeout.
// The returned instance is in StateLoaded, ready for Activate; the
// caller must start a Router before activating so host responses can
// be delivered.
//
// If the export of the entry script is callable it is invoked with the
// facade as its argument, supporting factory-style plugins. Any
// compile, run or factory error is reported to the host as fatal and
// the instance lands in StateFatal.
func Bootstrap(ctx context.Context, payload *Payload, t transport.Transport, diag *logrus.Entry) (*Instance, error) {
	if diag == nil {
		diag = logrus.NewEntry(logrus.StandardLogger())
	}

	manifest := payload.Manifest
	if manifest == nil {
		m, err := LoadManifest(payload.PluginPath)
		if err != nil {
			sendFatal(t, diag, err)
			return nil, err
		}
		manifest = m
	} else {
		manifest.applyDefaults()
		if err := manifest.Validate(); err != nil {
			sendFatal(t, diag, err)
			return nil, err
		}
	}

	timeout := payload.Timeout()
	perms := security.NewPermissionSet(payload.Permissions)

	env := luaenv.NewEnv()
	exec := luaenv.NewExecutor(env, 0)
	execCtx, stopExec := context.WithCancel(context.Background())
	execDone := make(chan struct{})
	go func() {
		exec.Run(execCtx)
		close(execDone)
	}()

	inst := &Instance{
		pluginID:  payload.PluginID,
		manifest:  manifest,
		env:       env,
		exec:      exec,
		transport: t,
		diag:      diag,
		stopExec:  stopExec,
		execDone:  execDone,
		state:     StateLoaded,
	}
	inst.client = rpc.NewClient(t,
		rpc.WithTimeout(timeout),
		rpc.WithGate(inst.gate),
		rpc.WithPermissions(perms),
		rpc.WithLogger(diag),
	)
	inst.commands = command.NewRegistry(t, diag)
	inst.hostLog = hostlog.NewLogger(t, diag)

	storagePath := payload.StoragePath
	if storagePath == "" {
		storagePath = filepath.Join(payload.PluginPath, "storage.json")
	}
	store := storage.NewStore(storagePath, payload.PluginID)

	var loader *luaenv.Loader
	err := exec.Do(ctx, func(L *lua.LState) error {
		fac := facade.New(facade.Deps{
			Env:         env,
			Exec:        exec,
			RPC:         inst.client,
			Commands:    inst.commands,
			Storage:     store,
			Log:         inst.hostLog,
			Permissions: perms,
			Lifecycle:   inst,
		})
		sdk := fac.Build()
		fac.InstallPrint()

		loader = luaenv.NewLoader(payload.PluginPath, sdk)
		loader.Install(L)

		export, err := env.RunFile(manifest.EntryPath(payload.PluginPath), timeout)
		if err != nil {
			return err
		}
		if export.Type() == lua.LTFunction {
			return env.CallBounded(export, timeout, sdk)
		}
		return nil
	})
	if err != nil {
		// Module policy rejections surface as Lua errors; prefer the
		// typed violation the loader recorded.
		if loader != nil {
			if violation := loader.Violation(); violation != nil {
				err = violation
			}
		}
		err = fmt.Errorf("bootstrap %s: %w", payload.PluginID, err)
		inst.Fatal(err)
		return inst, err
	}

	return inst, nil
}

func sendFatal(t transport.Transport, diag *logrus.Entry, cause error) {
	if err := t.Send(protocol.NewFatal(cause.Error())); err != nil {
		diag.WithError(err).Error("failed to send fatal")
	}
}
