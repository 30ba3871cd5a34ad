package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/deusflow/newsdesk/internal/fetch"
	"github.com/deusflow/newsdesk/internal/news"
	"github.com/deusflow/newsdesk/internal/photo"
	"github.com/deusflow/newsdesk/internal/ratelimit"
	"github.com/deusflow/newsdesk/internal/runlog"
	"github.com/deusflow/newsdesk/internal/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAdapter struct {
	name  string
	src   news.Source
	items []news.Item
	fail  bool
	panic bool
	calls atomic.Int32
}

func (f *fakeAdapter) Name() string        { return f.name }
func (f *fakeAdapter) Source() news.Source { return f.src }

func (f *fakeAdapter) Fetch(_ context.Context, req fetch.Request) fetch.Result {
	f.calls.Add(1)
	if f.panic {
		panic("adapter blew up")
	}
	if f.fail {
		return fetch.FailAll(f.src, req.Lane, req.Queries, "timeout")
	}
	out := make([]news.Item, len(f.items))
	copy(out, f.items)
	for i := range out {
		out[i].Source = f.src
	}
	return fetch.Result{Items: out}
}

type fakeProvider struct {
	name  string
	cands map[string][]photo.Candidate
	errs  map[string]error
	calls atomic.Int32
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Search(_ context.Context, place photo.Place, _ int) ([]photo.Candidate, error) {
	p.calls.Add(1)
	if err := p.errs[place.Slug]; err != nil {
		return nil, err
	}
	return p.cands[place.Slug], nil
}

func newTracker(store storage.RunStore) *runlog.Tracker {
	return runlog.NewTracker(store, quietLogger())
}

func noPacing() *ratelimit.Pacer { return ratelimit.NewPacer(0) }
