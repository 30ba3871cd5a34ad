package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/deusflow/newsdesk/internal/app"
	"github.com/deusflow/newsdesk/internal/config"
	"github.com/deusflow/newsdesk/internal/logger"
)

var (
	cfgFile string
	log     *slog.Logger
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "newsdesk",
	Short: "News ingestion and place photo curation",
	Long: `newsdesk fetches coverage from news sources, filters, deduplicates and
tags it, and curates hero photos for catalog places.

Examples:
  newsdesk serve                              # HTTP triggers on HTTP_ADDR
  newsdesk ingest --query "UAE Korea" --limit 20
  newsdesk curate burj-khalifa louvre-abu-dhabi --top 3`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return err
		}
		log = logger.Init()
		if cfgFile != "" {
			_ = os.Setenv("NEWSDESK_CONFIG", cfgFile)
		}
		var err error
		cfg, err = config.Load()
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "catalog YAML (default configs/newsdesk.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}

// withApp builds the application, runs fn and closes the store.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			log.Warn("closing store", "error", cerr)
		}
	}()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
