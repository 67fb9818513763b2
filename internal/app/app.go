// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires the daemon's components together and owns their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/wingedpig/burrow/internal/api"
	"github.com/wingedpig/burrow/internal/config"
	"github.com/wingedpig/burrow/internal/container"
	"github.com/wingedpig/burrow/internal/env"
	"github.com/wingedpig/burrow/internal/events"
	"github.com/wingedpig/burrow/internal/ports"
	"github.com/wingedpig/burrow/internal/store"
	"github.com/wingedpig/burrow/internal/supervisor"
	"github.com/wingedpig/burrow/internal/terminal"
	"github.com/wingedpig/burrow/internal/worktree"
)

// reconcileInterval is how often persisted environment status is checked
// against backend truth.
const reconcileInterval = 30 * time.Second

// App is the main application container.
type App struct {
	mu sync.RWMutex

	configPath string
	version    string
	config     *config.Config

	eventBus     events.EventBus
	store        *store.Dir
	allocator    *ports.Allocator
	supervisor   *supervisor.Supervisor
	provisioner  *worktree.Provisioner
	containers   *container.Backend // nil when no container runtime is reachable
	environments *env.Manager
	terminals    *terminal.Manager
	router       *api.Router
	httpServer   *http.Server
	watcher      *config.Watcher

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	StateDir   string
	Version    string
}

// New creates a new App instance.
func New(opts Options) (*App, error) {
	app := &App{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		done:       make(chan struct{}),
	}

	loader := config.NewLoader()
	if app.configPath == "" {
		app.configPath = loader.FindConfig()
	}

	var cfg *config.Config
	if app.configPath != "" {
		loaded, err := loader.LoadWithDefaults(context.Background(), app.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.StateDir != "" {
		cfg.State.Dir = opts.StateDir
	}
	app.config = cfg

	app.eventBus = events.NewMemoryEventBus(events.MemoryBusConfig{
		HistoryMaxEvents: cfg.Events.History.MaxEvents,
		HistoryMaxAge:    config.ParseDuration(cfg.Events.History.MaxAge, time.Hour),
	})

	return app, nil
}

// Initialize builds every component. Called once before Start.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.config

	if err := os.MkdirAll(cfg.State.Dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	app.store = store.NewDir(cfg.State.Dir)

	app.allocator = ports.NewAllocator(cfg.Supervisor.PortRangeStart, cfg.Supervisor.PortRangeEnd)
	app.supervisor = supervisor.New(app.eventBus, cfg.Supervisor.HealthIntervalDuration(), cfg.Supervisor.HealthMaxAttempts)
	app.provisioner = worktree.NewProvisioner(worktree.NewRealGitExecutor(), cfg.Worktree.BaseDir)
	app.terminals = terminal.NewManager()

	// The daemon stays useful without a container runtime; Containerized
	// operations just fail with a clear error.
	if cli, err := container.NewClient(); err != nil {
		log.Printf("container runtime unavailable: %v", err)
	} else {
		app.containers = container.NewBackend(cli, cfg.Container.CPUs, cfg.Container.MemoryMB,
			time.Duration(cfg.Container.StopGraceSeconds)*time.Second)
	}

	// An interface holding a nil *Backend is not a nil interface; pass nil
	// explicitly when the runtime is missing.
	var containerBackend env.ContainerBackend
	var execer terminal.ContainerExecer
	if app.containers != nil {
		containerBackend = app.containers
		execer = app.containers
	}

	app.environments = env.NewManager(app.store, app.eventBus, app.allocator, app.supervisor,
		app.provisioner, containerBackend, cfg)

	app.router = api.NewRouter(api.Dependencies{
		Store:           app.store,
		Environments:    app.environments,
		Terminals:       app.terminals,
		EventBus:        app.eventBus,
		ContainerExecer: execer,
		Version:         app.version,
	})

	if app.configPath != "" {
		w, err := config.NewWatcher(app.configPath, app.eventBus, app.applyReloadedConfig)
		if err != nil {
			log.Printf("config watcher disabled: %v", err)
		} else {
			app.watcher = w
		}
	}

	return nil
}

// applyReloadedConfig swaps in a freshly loaded config and pushes the
// per-operation settings into the live components: orchestrator (server
// commands, credential mounts, image), container backend (resource limits),
// supervisor (health polling). The listen address and state dir require a
// restart.
func (app *App) applyReloadedConfig(cfg *config.Config) {
	app.mu.Lock()
	cfg.Server = app.config.Server
	cfg.State = app.config.State
	app.config = cfg
	app.mu.Unlock()

	app.environments.SetConfig(cfg)
	app.supervisor.SetHealthPolicy(cfg.Supervisor.HealthIntervalDuration(), cfg.Supervisor.HealthMaxAttempts)
	if app.containers != nil {
		app.containers.SetLimits(cfg.Container.CPUs, cfg.Container.MemoryMB,
			time.Duration(cfg.Container.StopGraceSeconds)*time.Second)
	}

	log.Printf("config reloaded from %s", app.configPath)
}

// Start recovers persisted state and brings the HTTP server up.
func (app *App) Start(ctx context.Context) error {
	if err := app.environments.Recover(ctx); err != nil {
		log.Printf("startup recovery: %v", err)
	}

	go app.reconcileLoop(ctx)

	addr := app.config.Server.Host + ":" + strconv.Itoa(app.config.Server.Port)
	app.httpServer = &http.Server{
		Addr:    addr,
		Handler: app.router,
	}

	go func() {
		log.Printf("API server listening on http://%s", addr)
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("API server error: %v", err)
		}
	}()

	return nil
}

func (app *App) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := app.environments.Reconcile(ctx); err != nil {
				log.Printf("reconcile: %v", err)
			}
		case <-app.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Run starts the app and blocks until a shutdown signal arrives.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
	case <-ctx.Done():
	}

	return app.Stop()
}

// Stop shuts everything down in reverse dependency order.
func (app *App) Stop() error {
	var err error
	app.stopOnce.Do(func() {
		close(app.done)

		if app.router != nil && app.router.Terminal != nil {
			app.router.Terminal.Shutdown()
		}

		if app.httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if serr := app.httpServer.Shutdown(shutdownCtx); serr != nil {
				err = serr
			}
		}

		if app.terminals != nil {
			app.terminals.CloseAll()
		}
		if app.watcher != nil {
			app.watcher.Close()
		}
		if app.eventBus != nil {
			app.eventBus.Close()
		}

		log.Println("shutdown complete")
	})
	return err
}
