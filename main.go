// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"lfpscope/cmd"
	"lfpscope/internal/config"
	applog "lfpscope/internal/log"
	"lfpscope/pkg/build"
)

// main runs in three phases.
//
// Startup (cold path): build info, .env, command line and configuration.
//
// Acquisition (hot path): the input callback feeds the session's ingester,
// the analysis worker absorbs completed windows, and the poller forwards
// results to the display transports.
//
// Shutdown (cold path): on SIGINT/SIGTERM or when the monitor is closed the
// stream stops first, then the transports, then the analysis worker.
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	if err := build.Initialize(); err != nil {
		applog.Debugf("development build: %v", err)
	}

	if err := config.LoadEnvFile(); err != nil {
		applog.Fatalf("%v", err)
	}

	inv, err := cmd.ParseArgs(os.Args[1:])
	if err != nil {
		applog.Fatalf("%v", err)
	}
	if inv.Command == cmd.CommandNone {
		return
	}
	configureLogging(inv.Config)

	// One thread for the analysis worker, one for the poller, transports
	// and terminal. PortAudio runs its callback on its own thread.
	runtime.GOMAXPROCS(max(2, min(runtime.NumCPU(), 4)))

	// ==================== ACQUISITION PHASE (Hot Path) ====================

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch inv.Command {
	case cmd.CommandList:
		err = cmd.List(os.Stdout)
	case cmd.CommandInit:
		err = cmd.Init(inv)
	case cmd.CommandAnalyze:
		err = cmd.Analyze(ctx, inv.Config, inv.Path)
	default:
		err = cmd.RunLive(ctx, inv)
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	if err != nil {
		stop()
		applog.Fatalf("%v", err)
	}
}

func configureLogging(cfg *config.Config) {
	if cfg.Debug {
		applog.SetLevel(applog.LevelDebug)
		return
	}
	if level, ok := applog.ParseLevel(cfg.LogLevel); ok {
		applog.SetLevel(level)
	}
}
