package fetch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newsdesk/internal/news"
)

type stubAdapter struct {
	name    string
	source  news.Source
	fn      func(ctx context.Context, req Request) Result
	running atomic.Int32
	peak    atomic.Int32
}

func (s *stubAdapter) Name() string        { return s.name }
func (s *stubAdapter) Source() news.Source { return s.source }
func (s *stubAdapter) Fetch(ctx context.Context, req Request) Result {
	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return s.fn(ctx, req)
}

func itemsFor(req Request) Result {
	var r Result
	for _, q := range req.Queries {
		r.Items = append(r.Items, news.Item{Title: q, URL: "https://example.com/" + string(req.Lane)})
	}
	return r
}

func lanes() []LaneQueries {
	return []LaneQueries{
		{Lane: news.LaneDeal, Queries: []string{"uae korea deal"}},
		{Lane: news.LaneMacro, Queries: []string{"uae economy", "korea exports"}},
	}
}

func TestFetchAllSettlesEveryTask(t *testing.T) {
	ok := &stubAdapter{name: "rss", source: news.SourceGoogleNews, fn: func(_ context.Context, req Request) Result {
		return itemsFor(req)
	}}
	broken := &stubAdapter{name: "newsapi", source: news.SourceNewsAPI, fn: func(_ context.Context, req Request) Result {
		return FailAll(news.SourceNewsAPI, req.Lane, req.Queries, "status 500")
	}}
	panicky := &stubAdapter{name: "panicky", source: news.SourceNewsAPI, fn: func(context.Context, Request) Result {
		panic("nil map")
	}}

	out := FetchAll(context.Background(), []Adapter{ok, broken, panicky}, lanes(), Options{Concurrency: 2})
	require.Len(t, out, 6)

	assert.Equal(t, "rss", out[0].Adapter)
	assert.Equal(t, news.LaneDeal, out[0].Lane)
	assert.Len(t, out[0].Result.Items, 1)
	assert.Equal(t, news.LaneDeal, out[0].Result.Items[0].Lane, "lane is stamped on items")
	assert.Len(t, out[1].Result.Items, 2)

	assert.Len(t, out[3].Result.Errors, 2)
	assert.Len(t, out[4].Result.Errors, 1)
	assert.Contains(t, out[4].Result.Errors[0].Err, "panic")
	assert.Len(t, out[5].Result.Errors, 2)

	items, errs := Flatten(out)
	assert.Len(t, items, 3)
	assert.Len(t, errs, 6)
}

func TestFetchAllFailureDoesNotCancelSiblings(t *testing.T) {
	slow := &stubAdapter{name: "slow", source: news.SourceGoogleNews, fn: func(ctx context.Context, req Request) Result {
		select {
		case <-time.After(30 * time.Millisecond):
			return itemsFor(req)
		case <-ctx.Done():
			return FailAll(news.SourceGoogleNews, req.Lane, req.Queries, ctx.Err().Error())
		}
	}}
	fast := &stubAdapter{name: "fast", source: news.SourceNewsAPI, fn: func(_ context.Context, req Request) Result {
		return FailAll(news.SourceNewsAPI, req.Lane, req.Queries, "bad key")
	}}

	out := FetchAll(context.Background(), []Adapter{slow, fast}, lanes(), Options{})
	items, errs := Flatten(out)
	assert.Len(t, items, 3)
	assert.Len(t, errs, 3)
}

func TestFetchAllRespectsConcurrency(t *testing.T) {
	a := &stubAdapter{name: "a", source: news.SourceGoogleNews, fn: func(_ context.Context, req Request) Result {
		time.Sleep(10 * time.Millisecond)
		return itemsFor(req)
	}}
	ls := []LaneQueries{
		{Lane: news.LaneDeal, Queries: []string{"q"}},
		{Lane: news.LaneMacro, Queries: []string{"q"}},
		{Lane: news.LaneBilateral, Queries: []string{"q"}},
		{Lane: news.LaneLocal, Queries: []string{"q"}},
	}
	FetchAll(context.Background(), []Adapter{a}, ls, Options{Concurrency: 1})
	assert.EqualValues(t, 1, a.peak.Load())
}

func TestFetchAllSkipsEmptyLanes(t *testing.T) {
	a := &stubAdapter{name: "a", source: news.SourceGoogleNews, fn: func(context.Context, Request) Result {
		t.Error("adapter must not be called without queries")
		return Result{}
	}}
	out := FetchAll(context.Background(), []Adapter{a}, []LaneQueries{{Lane: news.LaneDeal}}, Options{})
	require.Len(t, out, 1)
	assert.Empty(t, out[0].Result.Items)
}

func TestNormalize(t *testing.T) {
	now := time.Now()
	items := []news.Item{
		{Title: "  UAE   signs deal ", URL: "https://www.example.com/a/?utm_source=x", PublishedAt: now},
		{Title: "", URL: "https://example.com/b"},
		{Title: "No link"},
		{Title: "Stale", URL: "https://example.com/c", PublishedAt: now.Add(-30 * 24 * time.Hour)},
		{Title: "Undated", URL: "https://example.com/d"},
	}
	got := Normalize(items, now.Add(-7*24*time.Hour))
	require.Len(t, got, 2)
	assert.Equal(t, "UAE signs deal", got[0].Title)
	assert.Equal(t, "https://example.com/a", got[0].URL)
	assert.Equal(t, "Undated", got[1].Title)
}

func TestQueryErrorMessage(t *testing.T) {
	e := QueryError{Source: news.SourceNewsAPI, Query: "uae", Err: "timeout"}
	assert.Equal(t, `newsapi "uae": timeout`, e.Error())
}
