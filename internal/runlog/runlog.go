// Package runlog tracks ingestion and curation runs from the pending
// record written at start to exactly one terminal status.
package runlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deusflow/newsdesk/internal/fetch"
	"github.com/deusflow/newsdesk/internal/logger"
	"github.com/deusflow/newsdesk/internal/storage"
	"github.com/deusflow/newsdesk/internal/telegram"
)

const finalizeTimeout = 5 * time.Second

// DeriveStatus: success iff no errors, partial when something was saved
// despite errors, failed otherwise.
func DeriveStatus(errors, saved int) storage.RunStatus {
	switch {
	case errors == 0:
		return storage.RunSuccess
	case saved > 0:
		return storage.RunPartial
	default:
		return storage.RunFailed
	}
}

type Alerter interface {
	NotifyRun(ctx context.Context, a telegram.RunAlert) error
}

type Recorder interface {
	RecordRun(source, status string, duration time.Duration, errMsg string)
}

type Tracker struct {
	store   storage.RunStore
	alerter Alerter
	metrics Recorder
	now     func() time.Time
	newID   func() string
	log     *slog.Logger
}

type Option func(*Tracker)

func WithAlerter(a Alerter) Option   { return func(t *Tracker) { t.alerter = a } }
func WithRecorder(r Recorder) Option { return func(t *Tracker) { t.metrics = r } }
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}
func WithIDs(newID func() string) Option {
	return func(t *Tracker) { t.newID = newID }
}

func NewTracker(store storage.RunStore, log *slog.Logger, opts ...Option) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	t := &Tracker{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
		log:   logger.Component(log, "runlog"),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Run accumulates counters for one invocation. Safe for concurrent use.
type Run struct {
	mu          sync.Mutex
	rec         storage.Run
	queryErrors []fetch.QueryError
	persisted   bool
	finished    bool
}

// Start records a pending run before any network call. If the record
// cannot be written the run proceeds with one persistence error counted.
func (t *Tracker) Start(ctx context.Context, source string, queries []string) *Run {
	r := &Run{rec: storage.Run{
		ID:        t.newID(),
		Source:    source,
		Status:    storage.RunPending,
		Queries:   append([]string(nil), queries...),
		StartedAt: t.now().UTC(),
		Metadata:  map[string]any{},
	}}

	if err := t.store.CreateRun(ctx, r.rec); err != nil {
		t.log.Warn("could not record run start", "run_id", r.rec.ID, "error", err)
		r.rec.Errors++
		r.rec.Metadata["start_error"] = err.Error()
		return r
	}
	r.persisted = true
	return r
}

func (r *Run) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec.ID
}

func (r *Run) AddFetched(n int) {
	r.mu.Lock()
	r.rec.Fetched += n
	r.mu.Unlock()
}

func (r *Run) AddSkipped(n int) {
	r.mu.Lock()
	r.rec.Skipped += n
	r.mu.Unlock()
}

// AddSaved counts one persisted document; updates of existing hashes are
// also tallied in Updated.
func (r *Run) AddSaved(inserted bool) {
	r.mu.Lock()
	r.rec.Saved++
	if !inserted {
		r.rec.Updated++
	}
	r.mu.Unlock()
}

func (r *Run) AddErrors(n int) {
	r.mu.Lock()
	r.rec.Errors += n
	r.mu.Unlock()
}

// AddQueryErrors counts each failed query as one error.
func (r *Run) AddQueryErrors(errs []fetch.QueryError) {
	if len(errs) == 0 {
		return
	}
	r.mu.Lock()
	r.queryErrors = append(r.queryErrors, errs...)
	r.rec.Errors += len(errs)
	r.mu.Unlock()
}

func (r *Run) SetMeta(key string, value any) {
	r.mu.Lock()
	r.rec.Metadata[key] = value
	r.mu.Unlock()
}

func (r *Run) QueryErrors() []fetch.QueryError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]fetch.QueryError(nil), r.queryErrors...)
}

// Snapshot copies the current record.
func (r *Run) Snapshot() storage.Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Run) snapshotLocked() storage.Run {
	rec := r.rec
	rec.Queries = append([]string(nil), r.rec.Queries...)
	rec.Metadata = make(map[string]any, len(r.rec.Metadata))
	for k, v := range r.rec.Metadata {
		rec.Metadata[k] = v
	}
	return rec
}

// Finish moves the run to its terminal status and persists it. A non-nil
// pipelineErr counts as one more error. Persistence, alert and metric
// failures are logged and dropped; the returned record is the outcome the
// caller reports regardless. Calling Finish twice returns the first result.
func (t *Tracker) Finish(ctx context.Context, r *Run, pipelineErr error) storage.Run {
	r.mu.Lock()
	if r.finished {
		rec := r.snapshotLocked()
		r.mu.Unlock()
		return rec
	}
	r.finished = true

	if pipelineErr != nil {
		r.rec.Errors++
		r.rec.Metadata["pipeline_error"] = pipelineErr.Error()
	}
	if len(r.queryErrors) > 0 {
		r.rec.Metadata["query_errors"] = append([]fetch.QueryError(nil), r.queryErrors...)
	}
	finished := t.now().UTC()
	r.rec.FinishedAt = &finished
	r.rec.DurationMS = finished.Sub(r.rec.StartedAt).Milliseconds()
	r.rec.Status = DeriveStatus(r.rec.Errors, r.rec.Saved)
	rec := r.snapshotLocked()
	persisted := r.persisted
	r.mu.Unlock()

	// finalize even if the caller's context is already done
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	log := t.log.With("run_id", rec.ID, "source", rec.Source)

	var err error
	if persisted {
		err = t.store.UpdateRun(fctx, rec)
	} else {
		err = t.store.CreateRun(fctx, rec)
	}
	if err != nil {
		log.Warn("could not finalize run record", "status", rec.Status, "error", err)
	}

	errMsg := ""
	if pipelineErr != nil {
		errMsg = pipelineErr.Error()
	}
	if t.metrics != nil {
		t.metrics.RecordRun(rec.Source, string(rec.Status), time.Duration(rec.DurationMS)*time.Millisecond, errMsg)
	}
	if t.alerter != nil {
		alert := telegram.RunAlert{
			RunID: rec.ID, Source: rec.Source, Status: string(rec.Status),
			Fetched: rec.Fetched, Saved: rec.Saved, Errors: rec.Errors,
			Duration: time.Duration(rec.DurationMS) * time.Millisecond, Error: errMsg,
		}
		if err := t.alerter.NotifyRun(fctx, alert); err != nil {
			log.Warn("run alert failed", "error", err)
		}
	}

	log.Info("run finished",
		"status", rec.Status, "fetched", rec.Fetched, "saved", rec.Saved,
		"updated", rec.Updated, "skipped", rec.Skipped, "errors", rec.Errors,
		"duration_ms", rec.DurationMS)
	return rec
}
