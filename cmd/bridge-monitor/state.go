package main

import (
	"fmt"
	"time"

	"github.com/devblac/bridge-monitor/internal/config"
	"github.com/devblac/bridge-monitor/internal/storage"
	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the latest stored reconciliation reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		for _, kind := range []string{storage.ReportEvents, storage.ReportBalances} {
			rep, ok, err := store.LatestReport(cmd.Context(), kind)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(out, "%-9s no report yet\n", kind)
				continue
			}
			age := time.Since(time.Unix(rep.CheckedAt, 0)).Truncate(time.Second)
			fmt.Fprintf(out, "%-9s mode=%s discrepancies=%d checked=%s (%s ago)\n",
				kind, rep.Mode, rep.Discrepancies, time.Unix(rep.CheckedAt, 0).UTC().Format(time.RFC3339), age)
		}
		return nil
	},
}
