// Package main implements cspctl, the command-line entry point for the CSP
// engine: it loads a declarative graph document, builds the topology, and
// runs the discrete-event scheduler against either real time or a simulation
// clock.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/csp/engine"
	"github.com/c360/csp/graphspec"
	"github.com/c360/csp/metric"
	"github.com/c360/csp/node"
	"github.com/c360/csp/topology"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "cspctl"
)

// Exit codes per the engine's CLI contract.
const (
	exitOK          = 0
	exitBuildError  = 64
	exitRuntimeErr  = 65
	exitInterrupted = 130
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(exitRuntimeErr)
		}
	}()

	os.Exit(run())
}

func run() int {
	cliCfg, shouldExit, code := initializeCLI()
	if shouldExit {
		return code
	}

	graph, err := graphspec.Load(cliCfg.GraphPath)
	if err != nil {
		slog.Error("failed to load graph document", "error", err, "path", cliCfg.GraphPath)
		return exitBuildError
	}

	registry := node.DefaultRegistry()

	if cliCfg.Validate {
		if _, err := topology.Build(graph, registry); err != nil {
			slog.Error("failed to build graph topology", "error", err)
			return exitBuildError
		}
		slog.Info("graph document is valid", "nodes", len(graph.Nodes), "edges", len(graph.Edges))
		return exitOK
	}

	metricsRegistry := metric.NewMetricsRegistry()
	if cliCfg.MetricsPort > 0 {
		server := metric.NewServer(cliCfg.MetricsPort, "/metrics", metricsRegistry)
		go func() {
			if err := server.Start(); err != nil {
				slog.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	built, err := topology.BuildWithMetrics(graph, registry, metricsRegistry.CoreMetrics())
	if err != nil {
		slog.Error("failed to build graph topology", "error", err)
		return exitBuildError
	}

	mode := engine.ModeRealtime
	if cliCfg.Mode == "simulation" {
		mode = engine.ModeSimulation
	}

	eng := engine.New(engine.Config{
		Graph:   built,
		Mode:    mode,
		Metrics: metricsRegistry,
		Logger:  slog.Default(),
	})

	return runEngine(eng, cliCfg.ShutdownTimeout)
}

func runEngine(eng *engine.Engine, shutdownTimeout time.Duration) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		slog.Error("engine failed to start", "error", err)
		return exitRuntimeErr
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- eng.Run(ctx)
	}()

	select {
	case err := <-runErr:
		if err != nil {
			slog.Error("engine run failed", "error", err)
			return exitRuntimeErr
		}
		slog.Info("engine run completed")
		return exitOK

	case <-ctx.Done():
		slog.Info("received shutdown signal")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		if err := eng.Stop(stopCtx); err != nil {
			slog.Error("graceful shutdown failed", "error", err)
			return exitRuntimeErr
		}
		<-runErr
		return exitInterrupted
	}
}

// initializeCLI parses flags, sets up logging, and reports whether the
// process should exit immediately (e.g. --version, --help, or a flag error).
func initializeCLI() (*CLIConfig, bool, int) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		return nil, true, exitBuildError
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, exitOK
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, true, exitOK
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("starting cspctl",
		"version", Version,
		"build_time", BuildTime,
		"graph", cliCfg.GraphPath,
		"mode", cliCfg.Mode)

	return cliCfg, false, exitOK
}
