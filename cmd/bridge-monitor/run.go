package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/devblac/bridge-monitor/internal/api"
	"github.com/devblac/bridge-monitor/internal/bridge"
	"github.com/devblac/bridge-monitor/internal/config"
	"github.com/devblac/bridge-monitor/internal/engine"
	"github.com/devblac/bridge-monitor/internal/health"
	"github.com/devblac/bridge-monitor/internal/metrics"
	"github.com/spf13/cobra"
)

var (
	flagOnce    bool
	flagDryRun  bool
	flagHealth  string
	flagMetrics string
	flagAPI     string
)

func init() {
	runCmd.Flags().BoolVar(&flagOnce, "once", false, "Run one reconcile cycle and exit")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Do not send to sinks")
	runCmd.Flags().StringVar(&flagHealth, "health", "", "Health check HTTP address (e.g., :8080)")
	runCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics HTTP address (e.g., :9090)")
	runCmd.Flags().StringVar(&flagAPI, "api", "", "Report API HTTP address (overrides api.addr)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reconcile loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		clients, err := dialBridge(cfg)
		if err != nil {
			return err
		}
		defer clients.Close()
		events, balances := clients.reconcilers(cfg, log)

		sinks, err := buildSinks(cfg)
		if err != nil {
			return err
		}

		var mtr *metrics.Metrics
		if flagMetrics != "" {
			mtr = metrics.Init()
			log.Info("metrics enabled", "addr", flagMetrics)
		}

		runner, err := engine.NewRunner(cfg, engine.Options{
			Store:    store,
			Events:   events,
			Balances: balances,
			Sinks:    sinks,
			Metrics:  mtr,
			Logger:   log,
			DryRun:   flagDryRun,
		})
		if err != nil {
			return err
		}
		defer runner.Close()

		var (
			healthSrv *http.Server
			servers   []*http.Server
		)
		defer func() { shutdownServers(log, healthSrv, servers) }()

		rpcChecker := health.NewRPCChecker(map[string]health.HeaderClient{
			bridge.Home:    clients.homeRPC,
			bridge.Foreign: clients.foreignRPC,
		})
		preflight(ctx, rpcChecker, log)

		if flagHealth != "" {
			healthSrv = health.Serve(flagHealth, health.Checker{
				DBPing:    store.Ping,
				RPCPing:   rpcChecker.Check,
				LastCycle: runner.LastCycle,
				MaxAge:    3 * cfg.PollInterval(),
			})
			log.Info("health check enabled", "addr", flagHealth)
		}

		if flagMetrics != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			srv := &http.Server{Addr: flagMetrics, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("metrics server error", "error", err)
				}
			}()
			servers = append(servers, srv)
		}

		apiAddr := cfg.API.Addr
		if flagAPI != "" {
			apiAddr = flagAPI
		}
		if apiAddr != "" {
			servers = append(servers, api.Serve(apiAddr, api.Handler(store, cfg.API.AllowedOrigins)))
			log.Info("report api enabled", "addr", apiAddr)
		}

		interval := cfg.PollInterval()
		for {
			cycle, err := runner.RunOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Error("cycle error", "error", err)
				if flagOnce {
					return err
				}
			} else {
				log.Info("cycle complete",
					"mode", cycle.Events.Mode,
					"alerts", cycle.Alerts,
					"dry_run", flagDryRun,
				)
			}
			if flagOnce {
				return nil
			}

			select {
			case <-ctx.Done():
				log.Info("shutting down")
				return nil
			case <-time.After(interval):
			}
		}
	},
}

type pinger interface {
	Ping(ctx context.Context) error
}

// preflight checks both chain endpoints once before the first cycle. Failures are logged,
// not fatal: the loop retries every interval.
func preflight(ctx context.Context, p pinger, log *slog.Logger) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		log.Warn("rpc endpoints unreachable at startup", "error", err)
		return false
	}
	return true
}

func shutdownServers(log *slog.Logger, healthSrv *http.Server, servers []*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("server shutdown", "addr", srv.Addr, "error", err)
		}
	}
	if healthSrv != nil {
		if err := health.Shutdown(ctx, healthSrv); err != nil {
			log.Warn("health server shutdown", "error", err)
		}
	}
}
