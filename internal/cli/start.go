package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emberhq/kilnd/internal/blob"
	"github.com/emberhq/kilnd/internal/daemon"
	"github.com/emberhq/kilnd/internal/orchestrator"
	"github.com/emberhq/kilnd/internal/paths"
	"github.com/emberhq/kilnd/internal/runtime"
	"github.com/emberhq/kilnd/internal/server"
)

// Bound on graceful shutdown after SIGINT or SIGTERM. In-flight requests
// past this point are dropped.
const stopTimeout = 10 * time.Second

// Represents the 'kilnd start' command.
//
// Flags override their config file counterparts; unset flags leave the
// file (or built-in default) in effect.
type StartCmd struct {
	Listen        string        `short:"l" help:"Unix socket path or TCP host:port to listen on." placeholder:"ADDR"`
	MaxBuilds     int           `help:"Ceiling on concurrently active builds." placeholder:"N"`
	BuildTimeout  time.Duration `help:"Per-build timeout." placeholder:"DURATION"`
	WorkRoot      string        `help:"Root directory for per-build workspaces." placeholder:"PATH"`
	Retention     time.Duration `help:"Age after which finished builds are evicted." placeholder:"DURATION"`
	SweepInterval time.Duration `help:"Interval between retention sweeps." placeholder:"DURATION"`
	Tool          string        `help:"Container tool binary used for builds." placeholder:"BIN"`
	Namespace     string        `help:"Default registry namespace for pushes." placeholder:"NAME"`
}

// Executes the start command.
//
// Wires the bundle store, container runtime, orchestrator, and HTTP server
// together, then blocks until the context is cancelled (e.g. via SIGINT or
// SIGTERM).
func (c *StartCmd) Run(ctx context.Context) error {
	cfg, err := daemon.Load(RootCmd.Config)
	if err != nil {
		return err
	}
	c.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := newBundleStore(cfg)
	if err != nil {
		return err
	}

	rt := runtime.New(cfg.Tool, paths.DockerConfig())
	if version, err := rt.Ping(ctx); err != nil {
		slog.Warn("build tool not reachable, builds will fail until it is", "tool", cfg.Tool, "error", err)
	} else {
		slog.Info("build tool ready", "tool", cfg.Tool, "version", version)
	}

	orch := orchestrator.New(orchestrator.Options{
		Engine:        rt,
		Store:         store,
		WorkRoot:      cfg.WorkRoot,
		MaxBuilds:     cfg.MaxBuilds,
		BuildTimeout:  time.Duration(cfg.BuildTimeout),
		Retention:     time.Duration(cfg.Retention),
		SweepInterval: time.Duration(cfg.SweepInterval),
		Namespace:     cfg.Registry.Namespace,
	})
	go orch.RunSweeper(ctx)

	srv, err := server.New(server.Config{
		Listen:  cfg.Listen,
		Builds:  orch,
		Runtime: rt,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	slog.Info("kilnd is running", "address", cfg.Listen, "maxBuilds", cfg.MaxBuilds)

	<-ctx.Done()

	slog.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := srv.Stop(stopCtx); err != nil {
		slog.Warn("server shutdown incomplete", "error", err)
	}
	srv.Wait()

	// Cancels in-flight builds and waits for their goroutines to drain.
	orch.Close()

	return nil
}

// Applies flag overrides onto the loaded configuration.
func (c *StartCmd) apply(cfg *daemon.Config) {
	if c.Listen != "" {
		cfg.Listen = c.Listen
	}
	if c.MaxBuilds > 0 {
		cfg.MaxBuilds = c.MaxBuilds
	}
	if c.BuildTimeout > 0 {
		cfg.BuildTimeout = daemon.Duration(c.BuildTimeout)
	}
	if c.WorkRoot != "" {
		cfg.WorkRoot = c.WorkRoot
	}
	if c.Retention > 0 {
		cfg.Retention = daemon.Duration(c.Retention)
	}
	if c.SweepInterval > 0 {
		cfg.SweepInterval = daemon.Duration(c.SweepInterval)
	}
	if c.Tool != "" {
		cfg.Tool = c.Tool
	}
	if c.Namespace != "" {
		cfg.Registry.Namespace = c.Namespace
	}
}

// Builds the bundle store selected by the configuration. Every backend is
// wrapped with digest verification so corrupt bundles fail the download.
func newBundleStore(cfg *daemon.Config) (blob.Store, error) {
	switch cfg.Bundles.Backend {
	case daemon.BackendS3:
		secure := cfg.Bundles.Secure == nil || *cfg.Bundles.Secure
		store, err := blob.NewObjectStore(blob.ObjectConfig{
			Endpoint:  cfg.Bundles.Endpoint,
			Bucket:    cfg.Bundles.Bucket,
			AccessKey: cfg.Bundles.AccessKey,
			SecretKey: cfg.Bundles.SecretKey,
			Region:    cfg.Bundles.Region,
			Secure:    secure,
		})
		if err != nil {
			return nil, err
		}
		return blob.Verified(store), nil
	default:
		store, err := blob.NewDirStore(cfg.Bundles.Dir)
		if err != nil {
			return nil, err
		}
		return blob.Verified(store), nil
	}
}
