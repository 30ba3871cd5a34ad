package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newsdesk/internal/apperr"
	"github.com/deusflow/newsdesk/internal/fetch"
	"github.com/deusflow/newsdesk/internal/news"
	"github.com/deusflow/newsdesk/internal/storage"
)

var published = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func sampleItems() []news.Item {
	return []news.Item{
		{URL: "https://example.com/a", Title: "UAE and Korea sign nuclear energy deal worth billions", Publisher: "Reuters", PublishedAt: published},
		{URL: "https://example.com/b", Title: "UAE, Korea sign nuclear energy deal worth billions", Publisher: "Some Blog", PublishedAt: published.Add(time.Hour)},
		{URL: "https://example.com/c", Title: "Sponsored: best coupon for your Seoul trip", Publisher: "Deals", PublishedAt: published},
		{URL: "https://example.com/d", Title: "Hyundai wins Abu Dhabi metro contract", Publisher: "Gulf News", PublishedAt: published.Add(-time.Hour)},
	}
}

type countingEnricher struct {
	limit int
	panic bool
}

func (e *countingEnricher) Enrich(_ context.Context, items []news.Item, limit int) int {
	if e.panic {
		panic("enricher exploded")
	}
	e.limit = limit
	pending := 0
	for i := range items {
		if i < limit {
			items[i].ImageURL = "https://img.example.com/" + items[i].Hash()[:8] + ".jpg"
		} else {
			pending++
		}
	}
	return pending
}

type failingCorpus struct{}

func (failingCorpus) UpsertDocument(context.Context, storage.Document) (storage.UpsertResult, error) {
	return storage.UpsertResult{}, apperr.Persistence(errors.New("disk full"), "upsert document")
}

func (failingCorpus) GetDocument(context.Context, string) (storage.Document, error) {
	return storage.Document{}, apperr.NotFound("missing")
}

type stubSink struct {
	docs []storage.Document
	err  error
}

func (s *stubSink) IndexDocuments(_ context.Context, docs []storage.Document) error {
	s.docs = append(s.docs, docs...)
	return s.err
}

type newsFixture struct {
	google   *fakeAdapter
	newsapi  *fakeAdapter
	mem      *storage.Memory
	enricher *countingEnricher
	sink     *stubSink
}

func newNewsPipeline(t *testing.T, f *newsFixture, corpus storage.Corpus) *News {
	t.Helper()
	tagger, err := news.NewTagger(news.DefaultTaxonomy, news.DefaultImpactTerms)
	require.NoError(t, err)
	if corpus == nil {
		corpus = f.mem
	}
	return NewNews(NewsDeps{
		Adapters: []fetch.Adapter{f.google, f.newsapi},
		Filter:   news.NewNoiseFilter(news.DefaultNoiseTerms, news.DefaultExemptLanes),
		Dedup:    news.NewDeduplicator(news.DefaultSimilarityThreshold),
		Tagger:   tagger,
		Ranks:    news.NewPublisherRanks([]string{"Reuters", "Gulf News"}),
		Enricher: f.enricher,
		Corpus:   corpus,
		Sink:     f.sink,
		Tracker:  newTracker(f.mem),
		Logger:   quietLogger(),
	}, NewsOptions{
		Lanes: []fetch.LaneQueries{
			{Lane: news.LaneBilateral, Language: "en", Queries: []string{"uae korea"}},
			{Lane: news.LaneMacro, Language: "en", Queries: []string{"uae economy"}},
		},
		Concurrency:     4,
		ResultsPerQuery: 10,
		EnrichLimit:     20,
	})
}

func defaultFixture() *newsFixture {
	return &newsFixture{
		google:   &fakeAdapter{name: "google_news_rss", src: news.SourceGoogleNews, items: sampleItems()},
		newsapi:  &fakeAdapter{name: "newsapi", src: news.SourceNewsAPI, fail: true},
		mem:      storage.NewMemory("", quietLogger()),
		enricher: &countingEnricher{},
		sink:     &stubSink{},
	}
}

func TestNewsRunPartialWhenOneSourceFails(t *testing.T) {
	f := defaultFixture()
	p := newNewsPipeline(t, f, nil)

	rep, err := p.Run(context.Background(), NewsRequest{Queries: []string{"uae korea", "korea exports"}})
	require.NoError(t, err)

	assert.False(t, rep.Success)
	assert.Equal(t, storage.RunPartial, rep.Status)
	assert.Equal(t, 4, rep.Fetched)
	assert.Equal(t, 2, rep.Skipped, "one noise item and one duplicate")
	assert.Equal(t, 2, rep.Saved)
	assert.Equal(t, 2, rep.Errors)
	assert.Len(t, rep.QueryErrors, 2)
	assert.Equal(t, 0, rep.ImagesPending)

	_, err = f.mem.GetDocument(context.Background(), news.ContentHash("https://example.com/a"))
	assert.NoError(t, err, "higher ranked publisher represents the cluster")
	_, err = f.mem.GetDocument(context.Background(), news.ContentHash("https://example.com/b"))
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	stored, err := f.mem.GetRun(context.Background(), rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunPartial, stored.Status)
	assert.NotNil(t, stored.FinishedAt)

	assert.Len(t, f.sink.docs, 2)
}

func TestNewsRunCountsDroppedByNormalizeAsSkipped(t *testing.T) {
	f := defaultFixture()
	f.google.items = append(sampleItems(),
		news.Item{URL: "https://example.com/old", Title: "Korea UAE trade talks resume", PublishedAt: published.Add(-72 * time.Hour)},
		news.Item{URL: "https://example.com/untitled", Title: "   ", PublishedAt: published},
	)
	p := newNewsPipeline(t, f, nil)
	p.opts.MaxAge = 24 * time.Hour
	p.now = func() time.Time { return published.Add(2 * time.Hour) }

	rep, err := p.Run(context.Background(), NewsRequest{Queries: []string{"uae korea"}})
	require.NoError(t, err)

	assert.Equal(t, 6, rep.Fetched)
	assert.Equal(t, 4, rep.Skipped, "stale, untitled, noise and duplicate")
	assert.Equal(t, 2, rep.Saved)
	assert.Equal(t, rep.Fetched, rep.Saved+rep.Skipped)

	_, err = f.mem.GetDocument(context.Background(), news.ContentHash("https://example.com/old"))
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestNewsRunIsIdempotentAcrossRuns(t *testing.T) {
	f := defaultFixture()
	f.newsapi.fail = false
	p := newNewsPipeline(t, f, nil)
	req := NewsRequest{Sources: []string{"google_news"}, Queries: []string{"uae korea"}}

	first, err := p.Run(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Equal(t, 2, first.Saved)
	assert.Equal(t, 0, first.Updated)

	second, err := p.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, storage.RunSuccess, second.Status)
	assert.Equal(t, 2, second.Saved)
	assert.Equal(t, 2, second.Updated)
	assert.Equal(t, 2, f.mem.Len())
	assert.Equal(t, int32(0), f.newsapi.calls.Load(), "unselected source is not called")
}

func TestNewsRunTagsAndEnriches(t *testing.T) {
	f := defaultFixture()
	f.newsapi.fail = false
	p := newNewsPipeline(t, f, nil)

	one := 1
	rep, err := p.Run(context.Background(), NewsRequest{Sources: []string{"google_news"}, Enrich: &one})
	require.NoError(t, err)
	assert.Equal(t, 1, f.enricher.limit)
	// bilateral lane is exempt, so the coupon item survives alongside the two clusters
	assert.Equal(t, 2, rep.ImagesPending)

	doc, err := f.mem.GetDocument(context.Background(), news.ContentHash("https://example.com/a"))
	require.NoError(t, err)
	assert.Equal(t, "investment", doc.Category)
	assert.Contains(t, doc.Tags, "energy")
	assert.Equal(t, "high", doc.Impact)
}

func TestNewsRunUsesConfiguredLanesWithoutOverride(t *testing.T) {
	f := defaultFixture()
	p := newNewsPipeline(t, f, nil)

	rep, err := p.Run(context.Background(), NewsRequest{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.google.calls.Load(), "one call per lane")
	assert.Equal(t, 2, rep.Errors, "failing adapter errs once per lane query")
}

func TestNewsRunRejectsBadInputBeforeFetching(t *testing.T) {
	tooMany := make([]string, MaxQueries+1)
	for i := range tooMany {
		tooMany[i] = "q"
	}
	negative := -1
	over := 21

	cases := map[string]NewsRequest{
		"too many queries": {Queries: tooMany},
		"long query":       {Queries: []string{strings.Repeat("x", MaxQueryLength+1)}},
		"blank query":      {Queries: []string{"  "}},
		"limit too high":   {Limit: MaxLimit + 1},
		"limit negative":   {Limit: -3},
		"unknown source":   {Sources: []string{"twitter"}},
		"enrich negative":  {Enrich: &negative},
		"enrich over cap":  {Enrich: &over},
		"unknown lane":     {Lane: "gossip"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			f := defaultFixture()
			p := newNewsPipeline(t, f, nil)

			_, err := p.Run(context.Background(), req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrValidation))
			assert.Equal(t, 400, apperr.HTTPStatus(err))
			assert.Equal(t, int32(0), f.google.calls.Load())

			runs, err := f.mem.RecentRuns(context.Background(), 10)
			require.NoError(t, err)
			assert.Empty(t, runs)
		})
	}
}

func TestNewsRunRejectsUnconfiguredSource(t *testing.T) {
	f := defaultFixture()
	tagger, err := news.NewTagger(news.DefaultTaxonomy, news.DefaultImpactTerms)
	require.NoError(t, err)
	p := NewNews(NewsDeps{
		Adapters: []fetch.Adapter{f.google},
		Filter:   news.NewNoiseFilter(nil, nil),
		Dedup:    news.NewDeduplicator(0.45),
		Tagger:   tagger,
		Corpus:   f.mem,
		Tracker:  newTracker(f.mem),
		Logger:   quietLogger(),
	}, NewsOptions{EnrichLimit: 20})

	_, err = p.Run(context.Background(), NewsRequest{Sources: []string{"newsapi"}, Queries: []string{"q"}})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestNewsRunCountsPersistenceFailures(t *testing.T) {
	f := defaultFixture()
	f.newsapi.fail = false
	p := newNewsPipeline(t, f, failingCorpus{})

	rep, err := p.Run(context.Background(), NewsRequest{Sources: []string{"google_news"}, Queries: []string{"q"}})
	require.NoError(t, err)
	assert.Equal(t, storage.RunFailed, rep.Status)
	assert.Equal(t, 0, rep.Saved)
	assert.Equal(t, 2, rep.Errors)
	assert.Empty(t, f.sink.docs)
}

func TestNewsRunRecoversPanicAndFinalizes(t *testing.T) {
	f := defaultFixture()
	f.enricher.panic = true
	p := newNewsPipeline(t, f, nil)

	rep, err := p.Run(context.Background(), NewsRequest{Queries: []string{"q"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enricher exploded")
	assert.Equal(t, storage.RunFailed, rep.Status)

	stored, gerr := f.mem.GetRun(context.Background(), rep.RunID)
	require.NoError(t, gerr)
	assert.Equal(t, storage.RunFailed, stored.Status)
}

func TestNewsRunSurvivesPanickingAdapter(t *testing.T) {
	f := defaultFixture()
	f.newsapi = &fakeAdapter{name: "newsapi", src: news.SourceNewsAPI, panic: true}
	p := newNewsPipeline(t, f, nil)

	rep, err := p.Run(context.Background(), NewsRequest{Queries: []string{"a", "b", "c"}})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Errors)
	assert.Equal(t, 2, rep.Saved)
	assert.Equal(t, storage.RunPartial, rep.Status)
}

func TestNewsRunSearchFailureIsNotAnError(t *testing.T) {
	f := defaultFixture()
	f.newsapi.fail = false
	f.sink.err = errors.New("meili down")
	p := newNewsPipeline(t, f, nil)

	rep, err := p.Run(context.Background(), NewsRequest{Sources: []string{"google_news"}})
	require.NoError(t, err)
	assert.True(t, rep.Success)

	stored, err := f.mem.GetRun(context.Background(), rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, "meili down", stored.Metadata["search_error"])
}
