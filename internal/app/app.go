// Package app wires configuration into stores, adapters, pipelines and
// the HTTP trigger surface.
package app

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/deusflow/newsdesk/internal/cache"
	"github.com/deusflow/newsdesk/internal/config"
	"github.com/deusflow/newsdesk/internal/fetch"
	"github.com/deusflow/newsdesk/internal/metrics"
	"github.com/deusflow/newsdesk/internal/news"
	"github.com/deusflow/newsdesk/internal/newsapi"
	"github.com/deusflow/newsdesk/internal/photo"
	"github.com/deusflow/newsdesk/internal/pipeline"
	"github.com/deusflow/newsdesk/internal/ratelimit"
	"github.com/deusflow/newsdesk/internal/rss"
	"github.com/deusflow/newsdesk/internal/runlog"
	"github.com/deusflow/newsdesk/internal/scraper"
	"github.com/deusflow/newsdesk/internal/search"
	"github.com/deusflow/newsdesk/internal/server"
	"github.com/deusflow/newsdesk/internal/storage"
	"github.com/deusflow/newsdesk/internal/telegram"
)

type App struct {
	cfg      *config.Config
	store    storage.Store
	metrics  *metrics.Metrics
	budget   *ratelimit.Budget
	news     *pipeline.News
	curation *pipeline.Curation
	log      *slog.Logger
}

// New opens the store and builds both pipelines. The caller owns Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	store, err := storage.Open(ctx, storage.Options{
		DatabaseURL:  cfg.DatabaseURL,
		SnapshotPath: cfg.MemorySnapshotPath,
		Logger:       log,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	return Build(cfg, store, log)
}

// Build assembles the application around an already opened store.
func Build(cfg *config.Config, store storage.Store, log *slog.Logger) (*App, error) {
	tagger, err := news.NewTagger(cfg.Taxonomy, cfg.ImpactTerms)
	if err != nil {
		return nil, errors.Wrap(err, "taxonomy")
	}
	catalog, err := photo.NewCatalog(cfg.Places)
	if err != nil {
		return nil, errors.Wrap(err, "place catalog")
	}

	m := metrics.New()
	notifier := telegram.NewNotifier(telegram.DefaultAPIBase, cfg.TelegramToken, cfg.TelegramChatID, log)
	tracker := runlog.NewTracker(store, log,
		runlog.WithAlerter(notifier),
		runlog.WithRecorder(m))

	var sink search.Sink
	if cfg.MeiliHost != "" {
		sink = search.NewMeili(cfg.MeiliHost, cfg.MeiliAPIKey, cfg.MeiliIndex, log)
	}

	images := cache.New[string](cache.DefaultSize, cfg.ImageCacheTTL)

	a := &App{cfg: cfg, store: store, metrics: m, budget: NewBudget(cfg, log), log: log}
	a.news = pipeline.NewNews(pipeline.NewsDeps{
		Adapters: NewsAdapters(cfg, log),
		Filter:   news.NewNoiseFilter(cfg.NoiseTerms, cfg.ExemptLanes),
		Dedup:    news.NewDeduplicator(cfg.DedupThreshold),
		Tagger:   tagger,
		Ranks:    news.NewPublisherRanks(cfg.PublisherRanks),
		Enricher: scraper.NewOGImage(cfg.EnrichTimeout, cfg.FetchConcurrency, images, log),
		Corpus:   store,
		Sink:     sink,
		Tracker:  tracker,
		Metrics:  m,
		Logger:   log,
	}, pipeline.NewsOptions{
		Lanes:           FetchLanes(cfg),
		Concurrency:     cfg.FetchConcurrency,
		ResultsPerQuery: cfg.ResultsPerQuery,
		EnrichLimit:     cfg.EnrichLimit,
		MaxAge:          cfg.MaxAge,
		DefaultLanguage: cfg.DefaultLanguage,
	})

	a.curation = pipeline.NewCuration(pipeline.CurationDeps{
		Providers: PhotoProviders(cfg, a.budget, log),
		Catalog:   catalog,
		Scorer:    photo.NewScorer(cfg.Score),
		Store:     store,
		Pacer:     ratelimit.NewPacer(cfg.CuratePacing),
		Tracker:   tracker,
		Metrics:   m,
		Logger:    log,
	}, pipeline.CurationOptions{
		BatchLimit: cfg.CurateBatchLimit,
		Top:        cfg.CurateTop,
	})
	return a, nil
}

// NewsAdapters returns the RSS adapter and, when a key is configured, the
// keyword-search adapter.
func NewsAdapters(cfg *config.Config, log *slog.Logger) []fetch.Adapter {
	adapters := []fetch.Adapter{
		rss.NewGoogleNews(cfg.GoogleNewsEndpoint, cfg.DefaultLanguage, cfg.DefaultCountry, cfg.FetchTimeout, log),
	}
	if cfg.NewsAPIKey != "" {
		adapters = append(adapters, newsapi.New(cfg.NewsAPIEndpoint, cfg.NewsAPIKey, cfg.DefaultLanguage, cfg.FetchTimeout, log))
	} else {
		log.Info("NEWSAPI_KEY not set, keyword-search adapter disabled")
	}
	return adapters
}

// NewBudget gives every photo provider the same daily call allowance.
func NewBudget(cfg *config.Config, log *slog.Logger) *ratelimit.Budget {
	return ratelimit.NewBudget(map[string]int{
		photo.ProviderPlaces:   cfg.ProviderDailyBudget,
		photo.ProviderUnsplash: cfg.ProviderDailyBudget,
	}, log)
}

// PhotoProviders returns the providers that have credentials.
func PhotoProviders(cfg *config.Config, budget *ratelimit.Budget, log *slog.Logger) []photo.Provider {
	var providers []photo.Provider
	if cfg.GooglePlacesKey != "" {
		providers = append(providers, photo.NewPlaces(cfg.PlacesEndpoint, cfg.GooglePlacesKey, cfg.FetchTimeout, budget, log))
	}
	if cfg.UnsplashKey != "" {
		providers = append(providers, photo.NewUnsplash(cfg.UnsplashEndpoint, cfg.UnsplashKey, cfg.FetchTimeout, budget, log))
	}
	if len(providers) == 0 {
		log.Warn("no photo provider credentials configured, curation will be rejected")
	}
	return providers
}

// FetchLanes converts the configured lane catalog, filling in the default
// language.
func FetchLanes(cfg *config.Config) []fetch.LaneQueries {
	out := make([]fetch.LaneQueries, 0, len(cfg.Lanes))
	for _, l := range cfg.Lanes {
		lang := l.Language
		if lang == "" {
			lang = cfg.DefaultLanguage
		}
		out = append(out, fetch.LaneQueries{
			Lane:     l.Lane,
			Language: lang,
			Queries:  append([]string(nil), l.Queries...),
		})
	}
	return out
}

func (a *App) IngestNews(ctx context.Context, req pipeline.NewsRequest) (pipeline.NewsReport, error) {
	return a.news.Run(ctx, req)
}

func (a *App) CuratePhotos(ctx context.Context, req pipeline.CurationRequest) (pipeline.CurationReport, error) {
	return a.curation.Run(ctx, req)
}

// Server returns the HTTP surface over this app's pipelines and store.
func (a *App) Server() *server.Server {
	return server.New(a.cfg.IngestSecret, server.Deps{
		Budget:   a.budget,
		News:     a.news,
		Curation: a.curation,
		Runs:     a.store,
		Photos:   a.store,
		Metrics:  a.metrics,
		Logger:   a.log,
	})
}

// Serve runs the HTTP server until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	if err := a.cfg.RequireSecret(); err != nil {
		return err
	}
	return a.Server().Start(ctx, a.cfg.HTTPAddr)
}

func (a *App) Close() error {
	return a.store.Close()
}
