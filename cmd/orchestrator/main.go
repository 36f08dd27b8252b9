/*
Runs the model-runner fleet orchestrator: connects to the control channel,
applies cluster membership events as workers come and go, and keeps the
fan-out executor ready for callers embedding this process as a library.

For usage details, run orchestrator with the command line flag -h or --help.
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/fx"

	"github.com/crunchdao/model-runner-orchestrator/internal/auth"
	"github.com/crunchdao/model-runner-orchestrator/internal/clog"
	"github.com/crunchdao/model-runner-orchestrator/internal/cluster"
	"github.com/crunchdao/model-runner-orchestrator/internal/config"
	"github.com/crunchdao/model-runner-orchestrator/internal/control"
	"github.com/crunchdao/model-runner-orchestrator/internal/fanout"
	"github.com/crunchdao/model-runner-orchestrator/internal/worker"
)

func main() {
	app := &cli.App{
		Name:  "orchestrator",
		Usage: "runs the model-runner fleet orchestrator",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a YAML config file"},
			&cli.BoolFlag{Name: "log", Usage: "show logging output (for debugging)"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.Bool("log") {
		clog.Enable()
	}

	cfg, err := config.Load(c.String("config"), nil)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fxApp := fx.New(
		fx.Supply(cfg),
		fx.Provide(
			newEventRouter,
			newSecureCredentials,
			newClusterState,
			newControlClient,
			newWorkerConfig,
			newManager,
			newExecutor,
		),
		fx.Invoke(registerLifecycle),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		return fmt.Errorf("starting orchestrator: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Printf("terminating orchestrator on signal %v...\n", sig)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	return fxApp.Stop(stopCtx)
}

// eventRouter breaks the construction cycle between *control.Client (which
// needs a handler function up front) and *cluster.Manager (which needs the
// client as its report sender): the router is built first, handed to the
// client as its handler, and pointed at the manager once it exists.
type eventRouter struct {
	manager atomic.Pointer[cluster.Manager]
}

func newEventRouter() *eventRouter { return &eventRouter{} }

func (r *eventRouter) route(event string, records []control.Record) {
	if m := r.manager.Load(); m != nil {
		m.HandleEvent(event, records)
	}
}

func newSecureCredentials(cfg *config.Config) (*auth.SecureCredentials, error) {
	if cfg.SecureCredentialsDir == "" {
		return nil, nil
	}
	creds, err := auth.LoadSecureCredentials(cfg.SecureCredentialsDir)
	if err != nil {
		return nil, fmt.Errorf("loading secure credentials: %w", err)
	}
	if err := creds.WatchForRotation(); err != nil {
		return nil, fmt.Errorf("watching credentials for rotation: %w", err)
	}
	return creds, nil
}

func newClusterState() *cluster.State { return cluster.NewState() }

func newControlClient(cfg *config.Config, router *eventRouter) *control.Client {
	return control.NewClient(cfg.Host, cfg.Port, cfg.CrunchID, router.route)
}

func newWorkerConfig(cfg *config.Config, creds *auth.SecureCredentials) worker.Config {
	wc := worker.Config{
		RetryAttempts:    cfg.RetryAttempts,
		RetryBackoffBase: cfg.RetryBackoffBase,
		MinRetryInterval: cfg.MinRetryInterval,
		SkipThreshold:    cfg.MaxConsecutiveTimeoutsForSkip,
	}
	if creds != nil {
		wc.TransportCredentials = creds.Transport()
	}
	return wc
}

func newManager(state *cluster.State, ctrl *control.Client, wc worker.Config, cfg *config.Config, router *eventRouter) *cluster.Manager {
	m := cluster.NewManager(state, ctrl, wc, cfg.ReportFailure, nil)
	router.manager.Store(m)
	return m
}

func newExecutor(state *cluster.State, manager *cluster.Manager, cfg *config.Config) *fanout.Executor {
	return fanout.NewExecutor(state, manager, fanout.Thresholds{
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		MaxConsecutiveTimeouts: cfg.MaxConsecutiveTimeouts,
	})
}

// registerLifecycle wires the control channel's connect/listen loop and the
// fan-out executor into fx's start/stop hooks. executor itself has no
// inbound RPC surface in this thin driver and nothing here calls it — it
// is here so embedding callers resolve one fully wired graph.
func registerLifecycle(lc fx.Lifecycle, state *cluster.State, ctrl *control.Client, creds *auth.SecureCredentials, executor *fanout.Executor) {
	listenCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if err := ctrl.Connect(startCtx); err != nil {
				return fmt.Errorf("connecting control channel: %w", err)
			}
			go func() {
				if err := ctrl.Listen(listenCtx); err != nil && listenCtx.Err() == nil {
					fmt.Fprintf(os.Stderr, "control channel listen error: %v\n", err)
				}
			}()
			return ctrl.Init(startCtx)
		},
		OnStop: func(context.Context) error {
			cancel()
			if creds != nil {
				creds.Close()
			}
			state.Shutdown()
			_ = executor
			return ctrl.Close()
		},
	})
}
