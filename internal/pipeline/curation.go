package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/deusflow/newsdesk/internal/apperr"
	"github.com/deusflow/newsdesk/internal/logger"
	"github.com/deusflow/newsdesk/internal/metrics"
	"github.com/deusflow/newsdesk/internal/photo"
	"github.com/deusflow/newsdesk/internal/ratelimit"
	"github.com/deusflow/newsdesk/internal/runlog"
	"github.com/deusflow/newsdesk/internal/storage"
)

const (
	SourcePhotos = "photos"

	DefaultTop = 3
	MaxTop     = 10
)

type CurationOptions struct {
	BatchLimit  int
	Top         int
	PerProvider int
}

type Curation struct {
	providers []photo.Provider
	catalog   *photo.Catalog
	scorer    *photo.Scorer
	store     storage.PhotoStore
	pacer     *ratelimit.Pacer
	tracker   *runlog.Tracker
	metrics   *metrics.Metrics
	opts      CurationOptions
	log       *slog.Logger
}

type CurationDeps struct {
	Providers []photo.Provider
	Catalog   *photo.Catalog
	Scorer    *photo.Scorer
	Store     storage.PhotoStore
	Pacer     *ratelimit.Pacer
	Tracker   *runlog.Tracker
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

func NewCuration(d CurationDeps, opts CurationOptions) *Curation {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 5
	}
	if opts.Top <= 0 {
		opts.Top = DefaultTop
	}
	if opts.PerProvider <= 0 {
		opts.PerProvider = 10
	}
	return &Curation{
		providers: d.Providers,
		catalog:   d.Catalog,
		scorer:    d.Scorer,
		store:     d.Store,
		pacer:     d.Pacer,
		tracker:   d.Tracker,
		metrics:   d.Metrics,
		opts:      opts,
		log:       logger.Component(log, "curation_pipeline"),
	}
}

// CurationRequest names the places to curate. An empty Slugs list curates
// the whole catalog, still subject to the batch cap.
type CurationRequest struct {
	Slugs []string `json:"slugs,omitempty"`
	Top   int      `json:"top,omitempty"`
}

type SubjectResult struct {
	Slug       string `json:"slug"`
	Candidates int    `json:"candidates"`
	Gated      int    `json:"gated"`
	Selected   int    `json:"selected"`
	Active     string `json:"active,omitempty"`
	Error      string `json:"error,omitempty"`
}

type CurationReport struct {
	Success   bool              `json:"success"`
	RunID     string            `json:"run_id"`
	Status    storage.RunStatus `json:"status"`
	Processed []SubjectResult   `json:"processed"`
	Remaining []string          `json:"remaining,omitempty"`
	Fetched   int               `json:"fetched"`
	Saved     int               `json:"saved"`
	Skipped   int               `json:"skipped"`
	Errors    int               `json:"errors"`
}

func (c *Curation) validate(req CurationRequest) ([]photo.Place, int, error) {
	top := c.opts.Top
	if req.Top != 0 {
		if req.Top < 1 || req.Top > MaxTop {
			return nil, 0, apperr.Validation("top must be between 1 and %d", MaxTop)
		}
		top = req.Top
	}

	slugs := req.Slugs
	if len(slugs) == 0 {
		slugs = c.catalog.Slugs()
	}
	seen := map[string]bool{}
	places := make([]photo.Place, 0, len(slugs))
	for _, s := range slugs {
		s = strings.TrimSpace(s)
		if !photo.ValidSlug(s) {
			return nil, 0, apperr.Validation("invalid place identifier %q", s)
		}
		p, ok := c.catalog.Get(s)
		if !ok {
			return nil, 0, apperr.Validation("unknown place %q", s)
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		places = append(places, p)
	}
	if len(places) == 0 {
		return nil, 0, apperr.Validation("no places to curate")
	}
	if len(c.providers) == 0 {
		return nil, 0, apperr.Validation("no photo providers configured")
	}
	return places, top, nil
}

// Run curates up to BatchLimit places one after another, pausing between
// them. Places past the cap are reported in Remaining. Provider
// exhaustion stops the batch: the current place and everything after it
// are reported as remaining and the exhaustion error is returned.
func (c *Curation) Run(ctx context.Context, req CurationRequest) (rep CurationReport, err error) {
	places, top, err := c.validate(req)
	if err != nil {
		return CurationReport{}, err
	}

	batch := places
	if len(batch) > c.opts.BatchLimit {
		batch = places[:c.opts.BatchLimit]
		for _, p := range places[c.opts.BatchLimit:] {
			rep.Remaining = append(rep.Remaining, p.Slug)
		}
	}

	slugs := make([]string, len(batch))
	for i, p := range batch {
		slugs[i] = p.Slug
	}
	run := c.tracker.Start(ctx, SourcePhotos, slugs)
	log := c.log.With("run_id", run.ID())

	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("curation pipeline panic: %v", r)
			log.Error("pipeline panicked", "panic", fmt.Sprint(r))
		}
		final := c.tracker.Finish(ctx, run, err)
		rep.RunID = final.ID
		rep.Status = final.Status
		rep.Fetched = final.Fetched
		rep.Saved = final.Saved
		rep.Skipped = final.Skipped
		rep.Errors = final.Errors
		rep.Success = err == nil && final.Status == storage.RunSuccess
	}()

	for i, place := range batch {
		// the first Wait takes the initial token; later ones are spaced
		if werr := c.pacer.Wait(ctx); werr != nil {
			rep.Remaining = prepend(slugs[i:], rep.Remaining)
			return rep, errors.Wrap(werr, "curation interrupted")
		}

		res, exhausted := c.curate(ctx, run, place, top)
		if exhausted != nil {
			log.Warn("provider exhausted, stopping batch", "slug", place.Slug, "error", exhausted)
			rep.Remaining = prepend(slugs[i:], rep.Remaining)
			run.SetMeta("exhausted_at", place.Slug)
			return rep, exhausted
		}
		rep.Processed = append(rep.Processed, res)
	}
	if len(rep.Remaining) > 0 {
		run.SetMeta("remaining", rep.Remaining)
	}
	return rep, nil
}

type providerResult struct {
	cands []photo.Candidate
	err   error
}

// curate queries every provider for one place, all-settled. The stored
// selection is replaced only when at least one candidate survives.
func (c *Curation) curate(ctx context.Context, run *runlog.Run, place photo.Place, top int) (SubjectResult, error) {
	res := SubjectResult{Slug: place.Slug}
	log := c.log.With("run_id", run.ID(), "slug", place.Slug)

	results := make([]providerResult, len(c.providers))
	var g errgroup.Group
	for i, p := range c.providers {
		i, p := i, p
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i].err = errors.Newf("%s panic: %v", p.Name(), r)
				}
			}()
			results[i].cands, results[i].err = p.Search(ctx, place, c.opts.PerProvider)
			return nil
		})
	}
	_ = g.Wait()

	var all []photo.Candidate
	var failures []string
	for i, r := range results {
		name := c.providers[i].Name()
		if r.err != nil {
			if errors.Is(r.err, apperr.ErrProviderExhausted) {
				return res, r.err
			}
			log.Warn("photo provider failed", "provider", name, "error", r.err)
			failures = append(failures, fmt.Sprintf("%s: %v", name, r.err))
			run.AddErrors(1)
			continue
		}
		if c.metrics != nil {
			c.metrics.PhotoCandidates.WithLabelValues(name).Add(float64(len(r.cands)))
		}
		all = append(all, r.cands...)
	}
	res.Candidates = len(all)
	run.AddFetched(len(all))

	kept, gated := c.scorer.Rank(place, all)
	res.Gated = gated
	selected := photo.Select(kept, top)
	run.AddSkipped(len(all) - len(selected))

	if len(failures) > 0 {
		res.Error = strings.Join(failures, "; ")
	}
	if len(selected) == 0 {
		log.Info("no relevant candidates, keeping current selection", "candidates", len(all), "gated", gated)
		return res, nil
	}

	if err := c.store.ReplacePhotos(ctx, place.Slug, selected); err != nil {
		log.Warn("photo replace failed", "error", err)
		run.AddErrors(1)
		if res.Error != "" {
			res.Error += "; "
		}
		res.Error += err.Error()
		return res, nil
	}
	for range selected {
		run.AddSaved(true)
	}
	res.Selected = len(selected)
	res.Active = selected[0].URL
	log.Info("place curated", "candidates", len(all), "gated", gated, "selected", len(selected), "score", selected[0].Score)
	return res, nil
}

func prepend(head, tail []string) []string {
	out := make([]string, 0, len(head)+len(tail))
	out = append(out, head...)
	return append(out, tail...)
}
