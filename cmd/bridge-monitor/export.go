package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/devblac/bridge-monitor/internal/api"
	"github.com/devblac/bridge-monitor/internal/config"
	"github.com/devblac/bridge-monitor/internal/storage"
	"github.com/spf13/cobra"
)

var (
	flagExportFormat string
	flagExportKind   string
	flagExportLimit  int
)

func init() {
	exportCmd.Flags().StringVar(&flagExportFormat, "format", "json", "Output format: json|csv")
	exportCmd.Flags().StringVar(&flagExportKind, "kind", "", "Report kind: events|balances|all")
	exportCmd.Flags().IntVar(&flagExportLimit, "limit", 100, "Maximum number of reports")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored reports as json or csv",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := exportKind(flagExportKind)
		if err != nil {
			return err
		}
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		reports, err := store.ListReports(cmd.Context(), kind, flagExportLimit)
		if err != nil {
			return err
		}
		return exportReports(cmd.OutOrStdout(), flagExportFormat, reports)
	},
}

// exportKind accepts the same kinds as the HTTP API, with an empty flag meaning all.
func exportKind(kind string) (string, error) {
	if kind == "" {
		return "", nil
	}
	return api.ParseKind(kind)
}

func exportReports(w io.Writer, format string, reports []storage.Report) error {
	switch format {
	case "json":
		rows := make([]api.ReportView, 0, len(reports))
		for _, r := range reports {
			rows = append(rows, api.NewReportView(r))
		}
		return writeJSON(w, rows)
	case "csv":
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"id", "kind", "mode", "checked_at", "discrepancies", "report"}); err != nil {
			return err
		}
		for _, r := range reports {
			rec := []string{r.ID, r.Kind, r.Mode, strconv.FormatInt(r.CheckedAt, 10), strconv.Itoa(r.Discrepancies), r.PayloadJSON}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	default:
		return fmt.Errorf("unsupported format %q (want json or csv)", format)
	}
}
