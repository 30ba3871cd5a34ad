package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/deusflow/newsdesk/internal/app"
	"github.com/deusflow/newsdesk/internal/pipeline"
)

var curateCmd = &cobra.Command{
	Use:   "curate [slug...]",
	Short: "Curate hero photos for places",
	Long: `Curate hero photos for the given places, or for the whole catalog when no
slug is given. At most CURATE_BATCH_LIMIT places are processed; the rest are
listed as remaining in the report.`,
	RunE: runCurate,
}

func init() {
	rootCmd.AddCommand(curateCmd)

	curateCmd.Flags().Int("top", 0, "photos to keep per place (default CURATE_TOP)")
}

func runCurate(cmd *cobra.Command, args []string) error {
	top, _ := cmd.Flags().GetInt("top")
	req := pipeline.CurationRequest{Slugs: args, Top: top}

	return withApp(func(ctx context.Context, a *app.App) error {
		rep, err := a.CuratePhotos(ctx, req)
		if rep.RunID != "" {
			if perr := printJSON(rep); perr != nil {
				return perr
			}
		}
		return err
	})
}
