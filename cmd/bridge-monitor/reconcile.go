package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/devblac/bridge-monitor/internal/bridge"
	"github.com/devblac/bridge-monitor/internal/config"
	"github.com/devblac/bridge-monitor/internal/reconcile"
	"github.com/spf13/cobra"
)

var flagMode string

func init() {
	balancesCmd.Flags().StringVar(&flagMode, "mode", "", "Bridge mode override (native-to-erc, erc-to-erc, erc-to-native)")
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Reconcile bridge events once and print the result as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		clients, err := dialBridge(cfg)
		if err != nil {
			return err
		}
		defer clients.Close()

		events, _ := clients.reconcilers(cfg, log)
		res, err := events.Reconcile(cmd.Context())
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

var balancesCmd = &cobra.Command{
	Use:   "balances",
	Short: "Compare locked and issued balances once and print the result as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		clients, err := dialBridge(cfg)
		if err != nil {
			return err
		}
		defer clients.Close()

		var mode bridge.Mode
		if flagMode != "" {
			mode, err = bridge.ParseMode(flagMode)
		} else {
			mode, err = reconcile.DetectMode(cmd.Context(), clients.home, cfg.Home.BridgeAddress)
		}
		if err != nil {
			return err
		}

		_, balances := clients.reconcilers(cfg, log)
		res, err := balances.Reconcile(cmd.Context(), mode)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
