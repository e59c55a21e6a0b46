// Package main is the entry point for the FlashNote plugin sandbox
// worker. The host spawns one process per plugin, writes the
// construction payload as the first line on stdin, and exchanges
// newline-delimited JSON messages from then on. Stderr carries only
// diagnostics; stdout belongs to the protocol.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/config"
	"github.com/Xperiamol/flashnote-sandbox/internal/sandbox/transport"
)

// Version information (set via ldflags during build).
var version = "dev"

// payloadWait bounds how long the worker waits for the host to deliver
// the construction payload before giving up.
const payloadWait = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath, logLevel := parseFlags()

	diag := newDiagLogger(logLevel)

	cfg, err := config.Load(configPath)
	if err != nil {
		diag.WithError(err).Error("failed to load config")
		return 1
	}
	if cfg.LogLevel != "" {
		applyLevel(diag, cfg.LogLevel)
	}

	t := transport.NewStdio(os.Stdin, os.Stdout)
	defer t.Close()

	payload, err := readPayload(t)
	if err != nil {
		diag.WithError(err).Error("no construction payload")
		return 1
	}
	if payload.TimeoutMS <= 0 && cfg.TimeoutMS > 0 {
		payload.TimeoutMS = cfg.TimeoutMS
	}
	diag = diag.WithField("plugin", payload.PluginID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inst, err := sandbox.Bootstrap(ctx, payload, t, diag)
	if err != nil {
		diag.WithError(err).Error("bootstrap failed")
		return 1
	}

	// Graceful teardown on host death or operator signal.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		inst.Shutdown(ctx)
		cancel()
	}()

	// The router must be consuming before activation so callbacks that
	// call the host can see their responses.
	router := sandbox.NewRouter(inst)
	routerDone := make(chan struct{})
	go func() {
		router.Run(ctx)
		close(routerDone)
	}()

	if err := inst.Activate(ctx); err != nil {
		diag.WithError(err).Error("activation failed")
		inst.Shutdown(ctx)
		return 1
	}

	<-routerDone
	inst.Shutdown(ctx)
	return 0
}

// readPayload waits for the first inbound frame and decodes it as the
// construction payload.
func readPayload(t *transport.Stdio) (*sandbox.Payload, error) {
	select {
	case frame, ok := <-t.Inbound():
		if !ok {
			return nil, fmt.Errorf("stdin closed before payload arrived")
		}
		return sandbox.DecodePayload(frame)
	case <-time.After(payloadWait):
		return nil, fmt.Errorf("no payload within %s", payloadWait)
	}
}

func newDiagLogger(level string) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	entry := logrus.NewEntry(logger).WithField("session", uuid.NewString())
	applyLevel(entry, level)
	return entry
}

func applyLevel(entry *logrus.Entry, level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	entry.Logger.SetLevel(parsed)
}

func parseFlags() (configPath, logLevel string) {
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "Path to TOML runtime configuration file")
	flag.StringVar(&configPath, "c", "", "Path to TOML runtime configuration file (shorthand)")
	flag.StringVar(&logLevel, "log-level", "info", "Stderr diagnostic level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "flashnote-sandbox - isolated plugin worker for FlashNote\n\n")
		fmt.Fprintf(os.Stderr, "Usage: flashnote-sandbox [options]\n\n")
		fmt.Fprintf(os.Stderr, "The host writes the construction payload as the first line on\n")
		fmt.Fprintf(os.Stderr, "stdin; all further communication is newline-delimited JSON.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("flashnote-sandbox %s\n", version)
		os.Exit(0)
	}

	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", logLevel)
		os.Exit(1)
	}

	return configPath, logLevel
}
