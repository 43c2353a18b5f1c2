package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	flagInitDir   string
	flagInitForce bool
)

func init() {
	initCmd.Flags().StringVar(&flagInitDir, "dir", ".", "Directory to write files into")
	initCmd.Flags().BoolVar(&flagInitForce, "force", false, "Overwrite existing files")
}

const sampleConfig = `version: 1
global:
  db_driver: sqlite          # sqlite | postgres
  db_path: bridge-monitor.db # file path, or a postgres connection string
  interval: 5m
  decimals: 18
home:
  rpc_url: ${HOME_RPC_URL}
  bridge_address: "0x0000000000000000000000000000000000000001"
  deployment_block: 0
foreign:
  rpc_url: ${FOREIGN_RPC_URL}
  bridge_address: "0x0000000000000000000000000000000000000002"
  token_address: "0x0000000000000000000000000000000000000003"
  deployment_block: 0
alerts:
  - id: unmatched-events
    kind: unmatched_event
    where: []
    sinks: [slack]
    dedupe:
      key: "rule:category:side:txhash:logIndex"
      ttl: 24h
  - id: balance-drift
    kind: balance_diff
    where: ["abs_diff > 0"]
    sinks: [slack]
    rate_limit:
      capacity: 1
      per_second: 0.001
sinks:
  - id: slack
    type: slack
    webhook_url: ${SLACK_WEBHOOK_URL}
    template: "{{.Kind}} {{.Mode}} {{side .Side}} {{short_addr .TxHash}}"
api:
  addr: ":3000"
  allowed_origins: []
`

const sampleEnv = `HOME_RPC_URL=http://localhost:8545
FOREIGN_RPC_URL=http://localhost:8546
SLACK_WEBHOOK_URL=https://hooks.slack.com/services/XXX
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a sample config and .env.example",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		files := []struct {
			name string
			body string
		}{
			{"config.yaml", sampleConfig},
			{".env.example", sampleEnv},
		}
		if err := os.MkdirAll(flagInitDir, 0o755); err != nil {
			return fmt.Errorf("create dir: %w", err)
		}
		for _, f := range files {
			path := filepath.Join(flagInitDir, f.name)
			if _, err := os.Stat(path); err == nil && !flagInitForce {
				fmt.Fprintf(out, "skip %s (exists, use --force)\n", path)
				continue
			}
			if err := os.WriteFile(path, []byte(f.body), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Fprintf(out, "wrote %s\n", path)
		}
		return nil
	},
}
