// Package pipeline orchestrates news ingestion and photo curation runs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/deusflow/newsdesk/internal/apperr"
	"github.com/deusflow/newsdesk/internal/fetch"
	"github.com/deusflow/newsdesk/internal/logger"
	"github.com/deusflow/newsdesk/internal/metrics"
	"github.com/deusflow/newsdesk/internal/news"
	"github.com/deusflow/newsdesk/internal/runlog"
	"github.com/deusflow/newsdesk/internal/search"
	"github.com/deusflow/newsdesk/internal/storage"
)

const (
	SourceNews = "news"

	MaxQueries     = 20
	MaxQueryLength = 200
	MaxLimit       = 50
)

// Enricher fills preview images for at most limit items and reports how
// many were left without one past the cap.
type Enricher interface {
	Enrich(ctx context.Context, items []news.Item, limit int) int
}

type NewsOptions struct {
	Lanes           []fetch.LaneQueries
	Concurrency     int
	ResultsPerQuery int
	EnrichLimit     int
	MaxAge          time.Duration
	DefaultLanguage string
}

type News struct {
	adapters []fetch.Adapter
	filter   *news.NoiseFilter
	dedup    *news.Deduplicator
	tagger   *news.Tagger
	ranks    news.PublisherRanks
	enricher Enricher
	corpus   storage.Corpus
	sink     search.Sink
	tracker  *runlog.Tracker
	metrics  *metrics.Metrics
	opts     NewsOptions
	now      func() time.Time
	log      *slog.Logger
}

// NewsDeps carries the collaborators of the news pipeline. Enricher,
// Sink and Metrics are optional.
type NewsDeps struct {
	Adapters []fetch.Adapter
	Filter   *news.NoiseFilter
	Dedup    *news.Deduplicator
	Tagger   *news.Tagger
	Ranks    news.PublisherRanks
	Enricher Enricher
	Corpus   storage.Corpus
	Sink     search.Sink
	Tracker  *runlog.Tracker
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

func NewNews(d NewsDeps, opts NewsOptions) *News {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.ResultsPerQuery <= 0 {
		opts.ResultsPerQuery = 10
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "en"
	}
	return &News{
		adapters: d.Adapters,
		filter:   d.Filter,
		dedup:    d.Dedup,
		tagger:   d.Tagger,
		ranks:    d.Ranks,
		enricher: d.Enricher,
		corpus:   d.Corpus,
		sink:     d.Sink,
		tracker:  d.Tracker,
		metrics:  d.Metrics,
		opts:     opts,
		now:      time.Now,
		log:      logger.Component(log, "news_pipeline"),
	}
}

// NewsRequest is one ingestion trigger. Zero values fall back to the
// configured defaults. Queries, when set, replace the lane query sets and
// run under Lane (macro when empty).
type NewsRequest struct {
	Queries []string `json:"queries,omitempty"`
	Lane    string   `json:"lane,omitempty"`
	Sources []string `json:"sources,omitempty"`
	Limit   int      `json:"limit,omitempty"`
	Enrich  *int     `json:"enrich,omitempty"`
}

type NewsReport struct {
	Success       bool               `json:"success"`
	RunID         string             `json:"run_id"`
	Status        storage.RunStatus  `json:"status"`
	Fetched       int                `json:"fetched"`
	Saved         int                `json:"saved"`
	Updated       int                `json:"updated"`
	Skipped       int                `json:"skipped"`
	Errors        int                `json:"errors"`
	QueryErrors   []fetch.QueryError `json:"query_errors,omitempty"`
	ImagesPending int                `json:"images_pending"`
}

type newsPlan struct {
	adapters []fetch.Adapter
	lanes    []fetch.LaneQueries
	limit    int
	enrich   int
}

func (p newsPlan) queries() []string {
	var out []string
	for _, l := range p.lanes {
		out = append(out, l.Queries...)
	}
	return out
}

// plan validates the request without touching the network.
func (n *News) plan(req NewsRequest) (newsPlan, error) {
	var plan newsPlan

	if len(req.Queries) > MaxQueries {
		return plan, apperr.Validation("at most %d queries allowed, got %d", MaxQueries, len(req.Queries))
	}
	var queries []string
	for _, q := range req.Queries {
		q = strings.TrimSpace(q)
		if q == "" {
			return plan, apperr.Validation("empty query")
		}
		if len([]rune(q)) > MaxQueryLength {
			return plan, apperr.Validation("query longer than %d characters", MaxQueryLength)
		}
		queries = append(queries, q)
	}

	plan.limit = n.opts.ResultsPerQuery
	if req.Limit != 0 {
		if req.Limit < 1 || req.Limit > MaxLimit {
			return plan, apperr.Validation("limit must be between 1 and %d", MaxLimit)
		}
		plan.limit = req.Limit
	}

	plan.enrich = n.opts.EnrichLimit
	if req.Enrich != nil {
		if *req.Enrich < 0 || *req.Enrich > n.opts.EnrichLimit {
			return plan, apperr.Validation("enrich must be between 0 and %d", n.opts.EnrichLimit)
		}
		plan.enrich = *req.Enrich
	}

	if len(req.Sources) == 0 {
		plan.adapters = n.adapters
	} else {
		wanted := map[news.Source]bool{}
		for _, s := range req.Sources {
			src, err := news.ParseSource(s)
			if err != nil {
				return plan, apperr.Validation("%s", err.Error())
			}
			wanted[src] = true
		}
		for src := range wanted {
			if !n.hasSource(src) {
				return plan, apperr.Validation("source %q is not configured", src)
			}
		}
		for _, a := range n.adapters {
			if wanted[a.Source()] {
				plan.adapters = append(plan.adapters, a)
			}
		}
	}
	if len(plan.adapters) == 0 {
		return plan, apperr.Validation("no sources configured")
	}

	if len(queries) > 0 {
		lane := news.LaneMacro
		if req.Lane != "" {
			l, err := news.ParseLane(req.Lane)
			if err != nil {
				return plan, apperr.Validation("%s", err.Error())
			}
			lane = l
		}
		plan.lanes = []fetch.LaneQueries{{Lane: lane, Language: n.opts.DefaultLanguage, Queries: queries}}
	} else {
		plan.lanes = n.opts.Lanes
		if req.Lane != "" {
			l, err := news.ParseLane(req.Lane)
			if err != nil {
				return plan, apperr.Validation("%s", err.Error())
			}
			plan.lanes = nil
			for _, lq := range n.opts.Lanes {
				if lq.Lane == l {
					plan.lanes = append(plan.lanes, lq)
				}
			}
		}
	}
	if len(plan.queries()) == 0 {
		return plan, apperr.Validation("no queries to run")
	}
	return plan, nil
}

func (n *News) hasSource(src news.Source) bool {
	for _, a := range n.adapters {
		if a.Source() == src {
			return true
		}
	}
	return false
}

// Run executes one ingestion. Validation errors return before a run is
// recorded. Everything after that settles into the run record: per-query
// and persistence failures are counted, never returned. A panic is
// recovered, recorded as the pipeline error and returned.
func (n *News) Run(ctx context.Context, req NewsRequest) (rep NewsReport, err error) {
	plan, err := n.plan(req)
	if err != nil {
		return NewsReport{}, err
	}

	run := n.tracker.Start(ctx, SourceNews, plan.queries())
	log := n.log.With("run_id", run.ID())

	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("news pipeline panic: %v", r)
			log.Error("pipeline panicked", "panic", fmt.Sprint(r))
		}
		final := n.tracker.Finish(ctx, run, err)
		rep.RunID = final.ID
		rep.Status = final.Status
		rep.Fetched = final.Fetched
		rep.Saved = final.Saved
		rep.Updated = final.Updated
		rep.Skipped = final.Skipped
		rep.Errors = final.Errors
		rep.QueryErrors = run.QueryErrors()
		rep.Success = err == nil && final.Status == storage.RunSuccess
	}()

	log.Info("ingestion started", "adapters", len(plan.adapters), "lanes", len(plan.lanes), "queries", len(plan.queries()))

	outcomes := fetch.FetchAll(ctx, plan.adapters, plan.lanes, fetch.Options{
		Concurrency: n.opts.Concurrency,
		Limit:       plan.limit,
		Logger:      n.log,
	})
	for _, o := range outcomes {
		if n.metrics != nil {
			n.metrics.ItemsFetched.WithLabelValues(string(o.Source)).Add(float64(len(o.Result.Items)))
			n.metrics.QueryErrors.WithLabelValues(string(o.Source)).Add(float64(len(o.Result.Errors)))
		}
	}

	items, qerrs := fetch.Flatten(outcomes)
	run.AddQueryErrors(qerrs)
	run.AddFetched(len(items))

	var cutoff time.Time
	if n.opts.MaxAge > 0 {
		cutoff = n.now().Add(-n.opts.MaxAge)
	}
	fetched := len(items)
	items = fetch.Normalize(items, cutoff)
	stale := fetched - len(items)
	n.ranks.Apply(items)

	items, noisy := n.filter.Apply(items)
	before := len(items)
	items = n.dedup.Dedup(items)
	dupes := before - len(items)
	run.AddSkipped(stale + noisy + dupes)
	if n.metrics != nil {
		n.metrics.ItemsSkipped.WithLabelValues("stale").Add(float64(stale))
		n.metrics.ItemsSkipped.WithLabelValues("noise").Add(float64(noisy))
		n.metrics.ItemsSkipped.WithLabelValues("duplicate").Add(float64(dupes))
	}

	n.tagger.Tag(items)

	if n.enricher != nil && plan.enrich > 0 {
		rep.ImagesPending = n.enricher.Enrich(ctx, items, plan.enrich)
	} else {
		for _, it := range items {
			if it.ImageURL == "" {
				rep.ImagesPending++
			}
		}
	}

	saved := n.persist(ctx, run, items)

	if n.sink != nil && len(saved) > 0 {
		if err := n.sink.IndexDocuments(ctx, saved); err != nil {
			log.Warn("search indexing failed", "documents", len(saved), "error", err)
			run.SetMeta("search_error", err.Error())
		}
	}
	run.SetMeta("images_pending", rep.ImagesPending)
	return rep, nil
}

// persist upserts each item independently; one failed write does not
// stop the rest.
func (n *News) persist(ctx context.Context, run *runlog.Run, items []news.Item) []storage.Document {
	now := n.now().UTC()
	saved := make([]storage.Document, 0, len(items))
	for _, it := range items {
		doc := storage.DocumentFromItem(it, now)
		res, err := n.corpus.UpsertDocument(ctx, doc)
		if err != nil {
			n.log.Warn("document upsert failed", "run_id", run.ID(), "hash", doc.Hash, "error", err)
			run.AddErrors(1)
			continue
		}
		run.AddSaved(res.Inserted)
		saved = append(saved, doc)
	}
	if n.metrics != nil {
		n.metrics.ItemsSaved.Add(float64(len(saved)))
	}
	return saved
}
