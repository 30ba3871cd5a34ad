package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/deusflow/newsdesk/internal/app"
	"github.com/deusflow/newsdesk/internal/pipeline"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one news ingestion and print the report",
	Long: `Run one news ingestion. Without --query the configured lane queries are
used; --query replaces them and runs under --lane.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringArrayP("query", "q", nil, "query override (repeatable)")
	ingestCmd.Flags().StringArrayP("source", "s", nil, "restrict to source: google_news, newsapi (repeatable)")
	ingestCmd.Flags().String("lane", "", "lane for query overrides or lane filter")
	ingestCmd.Flags().IntP("limit", "n", 0, "results per query (default RESULTS_PER_QUERY)")
	ingestCmd.Flags().Int("enrich", -1, "max items to enrich with preview images (default ENRICH_LIMIT)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	queries, _ := cmd.Flags().GetStringArray("query")
	sources, _ := cmd.Flags().GetStringArray("source")
	lane, _ := cmd.Flags().GetString("lane")
	limit, _ := cmd.Flags().GetInt("limit")
	enrich, _ := cmd.Flags().GetInt("enrich")

	req := pipeline.NewsRequest{Queries: queries, Sources: sources, Lane: lane, Limit: limit}
	if cmd.Flags().Changed("enrich") {
		req.Enrich = &enrich
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		rep, err := a.IngestNews(ctx, req)
		if rep.RunID != "" {
			if perr := printJSON(rep); perr != nil {
				return perr
			}
		}
		return err
	})
}
