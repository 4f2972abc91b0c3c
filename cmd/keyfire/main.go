package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/RezaEskandarii/keyfire/app"
	"github.com/RezaEskandarii/keyfire/types/config"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "keyfire",
	Short: "Keycloak secured API and cron job runner",
	Long: `keyfire serves a Keycloak secured HTTP API and runs cron jobs through a queue.

Available commands:
  serve     - HTTP API, scheduler and worker in one process
  scheduler - Poll due jobs and publish them to the queue
  worker    - Consume the queue and execute jobs
  migrate   - Apply database migrations
  jobs      - Create and inspect jobs

Examples:
  keyfire serve --config keyfire.yaml
  keyfire jobs create --type report --cron "*/5 * * * *" --data '{"to":"ops"}'
  keyfire jobs due`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (yaml, toml or json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(schedulerCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(jobsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newContainer loads configuration and wires the application.
func newContainer(ctx context.Context) (*app.Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return app.NewContainer(ctx, cfg)
}
