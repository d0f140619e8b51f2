// File: cmd/ipcd/main.go
// Author: momentics <momentics@gmail.com>
//
// ipcd is the hioload-ipc broker daemon. It creates the shared segment
// and its memory pools, serves the control socket and reclaims the
// resources of crashed processes.

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/momentics/hioload-ipc/affinity"
	"github.com/momentics/hioload-ipc/control"
	"github.com/momentics/hioload-ipc/daemon"
)

func main() {
	configPath := flag.String("config", "", "JSON configuration file (defaults apply when empty)")
	runtimeName := flag.String("runtime", "", "runtime name override")
	socketPath := flag.String("socket", "", "control socket path override")
	pinCPU := flag.Int("cpu", -1, "pin the broker thread to this CPU (-1 disables)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := control.DefaultConfig()
	if *configPath != "" {
		loaded, err := control.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ipcd: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *runtimeName != "" {
		cfg.RuntimeName = *runtimeName
	}
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}

	if *pinCPU >= 0 {
		if err := affinity.Pin(*pinCPU); err != nil {
			fmt.Fprintf(os.Stderr, "ipcd: %v\n", err)
			os.Exit(1)
		}
		defer affinity.Unpin()
	}

	d, err := daemon.New(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ipcd: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		d.Shutdown()
	}()

	if err := d.Serve(); err != nil {
		fmt.Fprintf(os.Stderr, "ipcd: %v\n", err)
		d.Close()
		os.Exit(1)
	}
	if err := d.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "ipcd: %v\n", err)
		os.Exit(1)
	}
}
