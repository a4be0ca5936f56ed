// Package daemon implements the isupd process lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"firestige.xyz/isup/internal/config"
	"firestige.xyz/isup/internal/core"
	"firestige.xyz/isup/internal/engine"
	"firestige.xyz/isup/internal/linkset"
	logpkg "firestige.xyz/isup/internal/log"
	"firestige.xyz/isup/internal/metrics"
	"firestige.xyz/isup/internal/reporter"
	"firestige.xyz/isup/internal/reporter/console"
	"firestige.xyz/isup/internal/reporter/kafka"
)

// Version is reported at startup and by the CLI.
const Version = "0.1.0"

const shutdownTimeout = 5 * time.Second

// Daemon owns the engine, its linksets, reporters and the metrics endpoint.
type Daemon struct {
	config     *config.GlobalConfig
	configPath string
	pidFile    string

	engine        *engine.Engine
	reporters     []reporter.Reporter
	metricsServer *metrics.Server // nil if metrics disabled

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	stopped      bool
}

// New loads the configuration. pidFile overrides control.pid_file when set.
func New(configPath, pidFile string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewWithConfig(cfg, configPath, pidFile), nil
}

// NewWithConfig builds a daemon around an already validated configuration.
func NewWithConfig(cfg *config.GlobalConfig, configPath, pidFile string) *Daemon {
	if pidFile == "" {
		pidFile = cfg.Control.PIDFile
	}
	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		pidFile:      pidFile,
		engine:       engine.New(),
		shutdownChan: make(chan struct{}, 1),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Engine exposes the running engine, mainly for embedding and tests.
func (d *Daemon) Engine() *engine.Engine { return d.engine }

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	// 1. Logging first so everything below is captured.
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting isupd",
		"version", Version,
		"opc", d.config.Node.OPC,
		"dpc", d.config.Node.DPC,
		"config", d.configPath,
	)

	// 2. PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Metrics
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Engine
	if err := d.engine.Configure(d.config.EngineOptions()); err != nil {
		return fmt.Errorf("failed to configure engine: %w", err)
	}
	if err := d.buildLinksets(); err != nil {
		return err
	}

	// 5. Reporters are registered before the engine reads its first frame.
	if err := d.startReporters(); err != nil {
		return err
	}

	if err := d.engine.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	slog.Info("daemon started successfully", "linksets", len(d.config.Linksets), "reporters", len(d.reporters))
	return nil
}

func (d *Daemon) buildLinksets() error {
	for _, lc := range d.config.Linksets {
		cfg := d.config.LinksetConfig(lc)

		var (
			ls  linkset.Linkset
			err error
		)
		switch lc.Type {
		case "memory":
			ls, err = linkset.NewMemory(cfg, d.engine.Codec(), nil)
		default:
			ls, err = linkset.NewM2PA(cfg)
		}
		if err != nil {
			return fmt.Errorf("failed to create linkset %s: %w", lc.Name, err)
		}
		if err := d.engine.AddLinkset(ls); err != nil {
			return fmt.Errorf("failed to add linkset %s: %w", lc.Name, err)
		}
		slog.Info("linkset configured", "linkset", lc.Name, "type", lc.Type, "apc", cfg.APC, "links", len(cfg.Links))
	}
	return nil
}

func (d *Daemon) startReporters() error {
	rc := d.config.Reporters
	if rc.Console.Enabled {
		r, err := console.New(rc.Console)
		if err != nil {
			return fmt.Errorf("failed to create console reporter: %w", err)
		}
		d.reporters = append(d.reporters, r)
	}
	if rc.Kafka.Enabled {
		r, err := kafka.New(rc.Kafka)
		if err != nil {
			return fmt.Errorf("failed to create kafka reporter: %w", err)
		}
		d.reporters = append(d.reporters, r)
	}

	for _, r := range d.reporters {
		if err := r.Start(d.ctx); err != nil {
			return fmt.Errorf("failed to start %s reporter: %w", r.Name(), err)
		}
		if err := d.engine.AddListener(r); err != nil {
			return fmt.Errorf("failed to register %s reporter: %w", r.Name(), err)
		}
	}
	return nil
}

// Stop performs graceful shutdown of all daemon components. It is safe to
// call more than once.
func (d *Daemon) Stop() {
	if d.stopped {
		return
	}
	d.stopped = true
	slog.Info("initiating graceful shutdown")

	// 1. Engine: stops I/O loops, cancels timers, drains listeners.
	if err := d.engine.Stop(); err != nil && !errors.Is(err, core.ErrNotStarted) {
		slog.Error("error stopping engine", "error", err)
	}

	// 2. Reporters flush after the last event has been delivered.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, r := range d.reporters {
		if err := r.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping reporter", "reporter", r.Name(), "error", err)
		}
	}

	// 3. Metrics
	if d.metricsServer != nil {
		slog.Info("stopping metrics server")
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	d.cancel()

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")
	logpkg.Flush()
}

// Run blocks until SIGTERM/SIGINT, TriggerShutdown or context cancellation.
// SIGHUP reloads the log settings.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil
			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads the configuration file. Only the log settings are applied
// in place; changes elsewhere are reported as requiring a restart.
func (d *Daemon) Reload() error {
	if d.configPath == "" {
		return fmt.Errorf("no config file to reload")
	}
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	var requiresRestart []string
	if newConfig.Node != d.config.Node {
		requiresRestart = append(requiresRestart, "node")
	}
	if len(newConfig.Linksets) != len(d.config.Linksets) {
		requiresRestart = append(requiresRestart, "linksets")
	}
	if newConfig.Metrics != d.config.Metrics {
		requiresRestart = append(requiresRestart, "metrics")
	}

	d.config.Log = newConfig.Log
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to reinitialize logging: %w", err)
	}

	slog.Info("configuration reloaded",
		"hot_reloaded", []string{"log"},
		"requires_restart", requiresRestart,
	)
	return nil
}

// TriggerShutdown asks Run to stop the daemon.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		return err
	}
	slog.Info("metrics server started",
		"addr", d.metricsServer.Addr(),
		"path", d.config.Metrics.Path,
	)
	return nil
}

func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}
	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}
	slog.Debug("PID file removed", "path", d.pidFile)
	return nil
}
