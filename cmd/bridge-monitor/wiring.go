package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/devblac/bridge-monitor/internal/bridge"
	"github.com/devblac/bridge-monitor/internal/config"
	"github.com/devblac/bridge-monitor/internal/logging"
	"github.com/devblac/bridge-monitor/internal/reconcile"
	"github.com/devblac/bridge-monitor/internal/sink"
	"github.com/devblac/bridge-monitor/internal/source/evm"
	"github.com/devblac/bridge-monitor/internal/storage"
)

func newLogger() *slog.Logger {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	return logging.NewWithLevel(logLevel)
}

// bridgeClients holds the dialed RPC clients and providers for both sides.
type bridgeClients struct {
	homeRPC    *evm.RPCClient
	foreignRPC *evm.RPCClient
	home       bridge.Provider
	foreign    bridge.Provider
}

func (b *bridgeClients) Close() {
	if b.homeRPC != nil {
		b.homeRPC.Close()
	}
	if b.foreignRPC != nil {
		b.foreignRPC.Close()
	}
}

func dialBridge(cfg *config.Config) (*bridgeClients, error) {
	b := &bridgeClients{}
	var err error

	b.homeRPC, err = evm.NewRPCClient(cfg.Home.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("home rpc: %w", err)
	}
	homeABIs, err := evm.LoadABIs(cfg.Home.ABIDirs)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("home abis: %w", err)
	}
	b.home = evm.NewProvider(b.homeRPC, homeABIs)

	b.foreignRPC, err = evm.NewRPCClient(cfg.Foreign.RPCURL)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("foreign rpc: %w", err)
	}
	foreignABIs, err := evm.LoadABIs(cfg.Foreign.ABIDirs)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("foreign abis: %w", err)
	}
	b.foreign = evm.NewProvider(b.foreignRPC, foreignABIs)
	return b, nil
}

func (b *bridgeClients) reconcilers(cfg *config.Config, log *slog.Logger) (*reconcile.EventReconciler, *reconcile.BalanceReconciler) {
	dep := cfg.Deployment()
	return reconcile.NewEventReconciler(b.home, b.foreign, dep, log),
		reconcile.NewBalanceReconciler(b.home, b.foreign, dep, cfg.Global.TokenDecimals(), log)
}

func openStore(cfg *config.Config) (*storage.Store, error) {
	store, err := storage.Open(cfg.Global.DBDriver, cfg.Global.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return store, nil
}

func buildSinks(cfg *config.Config) (map[string]sink.Sender, error) {
	sinks := map[string]sink.Sender{}
	for _, s := range cfg.Sinks {
		var (
			sender sink.Sender
			err    error
		)
		switch strings.ToLower(s.Type) {
		case "slack":
			sender, err = sink.NewSlackSender(s.WebhookURL, s.Template)
		case "teams":
			sender, err = sink.NewTeamsSender(s.WebhookURL, s.Template)
		case "webhook":
			sender, err = sink.NewWebhookSender(s.URL, s.Method, s.Template, nil)
		case "kafka":
			sender, err = sink.NewKafkaSender(s.Brokers, s.Topic, nil)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("sink %s: %w", s.ID, err)
		}
		sinks[s.ID] = sender
	}
	return sinks, nil
}
