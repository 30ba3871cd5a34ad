package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/deusflow/newsdesk/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP trigger endpoints",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Info("starting newsdesk", "addr", cfg.HTTPAddr, "postgres", cfg.UsePostgres(), "meili", cfg.MeiliHost != "")
		return withApp(func(ctx context.Context, a *app.App) error {
			return a.Serve(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
