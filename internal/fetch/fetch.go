// Package fetch defines the source adapter contract and runs adapters
// across lanes as an all-settled fan-out.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deusflow/newsdesk/internal/news"
)

// Request is one adapter call: the queries for a lane.
type Request struct {
	Lane     news.Lane
	Language string
	Queries  []string
	Limit    int
}

// QueryError records a failed query without aborting the batch.
type QueryError struct {
	Source news.Source `json:"source"`
	Lane   news.Lane   `json:"lane,omitempty"`
	Query  string      `json:"query"`
	Err    string      `json:"error"`
}

func (e QueryError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Source, e.Query, e.Err)
}

// Result is what an adapter returns. Failed queries are listed in Errors;
// items from successful queries are returned regardless.
type Result struct {
	Items  []news.Item
	Errors []QueryError
}

// Adapter fetches normalized items from one provider. Implementations
// apply a per-query timeout and keep credentials to themselves.
type Adapter interface {
	Name() string
	Source() news.Source
	Fetch(ctx context.Context, req Request) Result
}

// Outcome is the settled result of one (adapter, lane) task.
type Outcome struct {
	Adapter string
	Source  news.Source
	Lane    news.Lane
	Result  Result
	Elapsed time.Duration
}

type Options struct {
	Concurrency int
	Limit       int
	Logger      *slog.Logger
}

// LaneQueries pairs a lane with the queries to run for it.
type LaneQueries struct {
	Lane     news.Lane
	Language string
	Queries  []string
}

// FetchAll runs every adapter against every lane. Tasks never cancel each
// other; a panicking task settles as a failure of each of its queries.
// Outcomes are returned in adapter-major, lane-minor order.
func FetchAll(ctx context.Context, adapters []Adapter, lanes []LaneQueries, opts Options) []Outcome {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	outcomes := make([]Outcome, 0, len(adapters)*len(lanes))
	for _, a := range adapters {
		for _, l := range lanes {
			outcomes = append(outcomes, Outcome{Adapter: a.Name(), Source: a.Source(), Lane: l.Lane})
		}
	}

	var g errgroup.Group
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}

	i := 0
	for _, a := range adapters {
		for _, l := range lanes {
			slot := &outcomes[i]
			i++
			a, l := a, l
			g.Go(func() error {
				start := time.Now()
				slot.Result = runTask(ctx, a, l, opts.Limit, log)
				slot.Elapsed = time.Since(start)
				return nil
			})
		}
	}
	_ = g.Wait()

	return outcomes
}

func runTask(ctx context.Context, a Adapter, l LaneQueries, limit int, log *slog.Logger) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("adapter panicked", "adapter", a.Name(), "lane", l.Lane, "panic", r)
			res = FailAll(a.Source(), l.Lane, l.Queries, fmt.Sprintf("adapter panic: %v", r))
		}
	}()

	if len(l.Queries) == 0 {
		return Result{}
	}
	res = a.Fetch(ctx, Request{Lane: l.Lane, Language: l.Language, Queries: l.Queries, Limit: limit})
	for i := range res.Items {
		if res.Items[i].Lane == "" {
			res.Items[i].Lane = l.Lane
		}
	}
	return res
}

// FailAll builds a result with one error per query.
func FailAll(src news.Source, lane news.Lane, queries []string, msg string) Result {
	errs := make([]QueryError, 0, len(queries))
	for _, q := range queries {
		errs = append(errs, QueryError{Source: src, Lane: lane, Query: q, Err: msg})
	}
	return Result{Errors: errs}
}

// Flatten concatenates items and errors from all outcomes in order.
func Flatten(outcomes []Outcome) ([]news.Item, []QueryError) {
	var items []news.Item
	var errs []QueryError
	for _, o := range outcomes {
		items = append(items, o.Result.Items...)
		errs = append(errs, o.Result.Errors...)
	}
	return items, errs
}

// Normalize trims fields, canonicalizes the URL and drops items without a
// title or URL or published before cutoff. A zero cutoff keeps everything.
func Normalize(items []news.Item, cutoff time.Time) []news.Item {
	out := items[:0]
	for _, it := range items {
		it.Title = strings.Join(strings.Fields(it.Title), " ")
		it.Summary = strings.TrimSpace(it.Summary)
		it.Publisher = strings.TrimSpace(it.Publisher)
		it.URL = news.CanonicalURL(it.URL)
		if it.Title == "" || it.URL == "" {
			continue
		}
		if !cutoff.IsZero() && !it.PublishedAt.IsZero() && it.PublishedAt.Before(cutoff) {
			continue
		}
		out = append(out, it)
	}
	return out
}
