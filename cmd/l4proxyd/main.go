// Command l4proxyd runs the multi-instance Layer-4 proxy supervisor: it
// loads persisted instance definitions, auto-starts the ones flagged for
// it, and serves the REST control plane until asked to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rkvashchuk/l4proxyd/internal/api"
	"github.com/rkvashchuk/l4proxyd/internal/config"
	"github.com/rkvashchuk/l4proxyd/internal/helpers"
	"github.com/rkvashchuk/l4proxyd/internal/logging"
	"github.com/rkvashchuk/l4proxyd/internal/metrics"
	"github.com/rkvashchuk/l4proxyd/internal/persistence"
	"github.com/rkvashchuk/l4proxyd/internal/pool"
	"github.com/rkvashchuk/l4proxyd/internal/registry"
	"github.com/rkvashchuk/l4proxyd/internal/supervisor"
)

// Process-wide buffer pool sizing. Spec §4.1 leaves max_pool_size and
// max_concurrent as deployment knobs rather than fixed constants; these
// are sane defaults for a single-process supervisor, not a spec-mandated
// value.
const (
	bufferPoolMaxPerTier  = 256
	bufferPoolMaxInFlight = 4096

	systemSampleInterval = 10 * time.Second
	shutdownTimeout      = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds parsed command-line flag values, applied over the
// viper-loaded config per spec.md §6.
type cliFlags struct {
	webListenIP   string
	webListenPort int
	verbose       bool
	configPath    string
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.webListenIP, "web-listen-ip", "", "Web control-plane bind address")
	flag.IntVar(&f.webListenPort, "web-listen-port", 0, "Web control-plane bind port")
	flag.BoolVar(&f.verbose, "verbose", false, "Enable debug logging")
	flag.StringVar(&f.configPath, "config-path", "", "Path to the instance persistence file")
	flag.Parse()
	return f
}

func applyCLIOverrides(cfg *config.Config, f cliFlags) {
	if f.webListenIP != "" {
		cfg.WebListenIP = f.webListenIP
	}
	if f.webListenPort != 0 {
		cfg.WebListenPort = int(helpers.ClampIntToUint16(f.webListenPort))
	}
	if f.verbose {
		cfg.Verbose = true
	}
	if f.configPath != "" {
		cfg.ConfigPath = f.configPath
	}
}

func run() error {
	flags := parseFlags()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg, flags)

	level := "info"
	if cfg.Verbose {
		level = "debug"
	}
	logger := logging.Configure(logging.Config{Level: level})
	logger.Info("l4proxyd starting",
		"web_listen_ip", cfg.WebListenIP,
		"web_listen_port", cfg.WebListenPort,
		"config_path", cfg.ConfigPath,
	)

	store := persistence.New(cfg.ConfigPath)
	metricsManager := metrics.NewManager()
	bufferPool := pool.New(bufferPoolMaxPerTier, bufferPoolMaxInFlight)
	sup := supervisor.New(bufferPool, metricsManager, logger)
	reg := registry.New(store, sup, metricsManager, logger)

	if err := reg.Load(); err != nil {
		return fmt.Errorf("load instance registry: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg.StartAuto(ctx)

	go metricsManager.RunSampler(ctx, systemSampleInterval)

	apiSrv := api.New(cfg.WebListenIP, cfg.WebListenPort, cfg.APIKey, reg, metricsManager, logger)
	logger.Info("control plane listening", "addr", apiSrv.Addr())

	serveErr := make(chan error, 1)
	go func() {
		if err := apiSrv.ListenAndServe(); err != nil {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			cancel()
			stopAllInstances(reg)
			return fmt.Errorf("control plane server failed: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("control plane shutdown error", "error", err)
	}

	stopAllInstances(reg)
	logger.Info("l4proxyd stopped")
	return nil
}

// stopAllInstances stops every running instance so listeners are released
// before the process exits; each instance's own Stop is idempotent and
// already bounded by the supervisor's 200ms grace period.
func stopAllInstances(reg *registry.Registry) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, d := range reg.List(nil) {
		_, _ = reg.Stop(ctx, d.ID)
	}
}
