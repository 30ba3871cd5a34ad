// Package storage is the persistence gateway: corpus documents, ingestion
// run records and curated place photos, behind one interface with a
// Postgres and an in-process implementation.
package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/deusflow/newsdesk/internal/news"
	"github.com/deusflow/newsdesk/internal/photo"
)

// Document is a stored corpus entry keyed by content hash.
type Document struct {
	Hash        string    `json:"hash"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Publisher   string    `json:"publisher"`
	Source      string    `json:"source"`
	Language    string    `json:"language,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	Category    string    `json:"category,omitempty"`
	Impact      string    `json:"impact,omitempty"`
	Lane        string    `json:"lane,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Rank        int       `json:"rank"`
	PublishedAt time.Time `json:"published_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DocumentFromItem converts a processed item into its stored form.
func DocumentFromItem(it news.Item, now time.Time) Document {
	tags := make([]string, 0, len(it.Tags))
	for _, t := range it.Tags {
		tags = append(tags, string(t))
	}
	return Document{
		Hash:        it.Hash(),
		URL:         news.CanonicalURL(it.URL),
		Title:       it.Title,
		Publisher:   it.Publisher,
		Source:      string(it.Source),
		Language:    it.Language,
		Summary:     it.Summary,
		ImageURL:    it.ImageURL,
		Category:    string(it.Category),
		Impact:      string(it.Impact),
		Lane:        string(it.Lane),
		Tags:        tags,
		Rank:        it.Rank,
		PublishedAt: it.PublishedAt,
		UpdatedAt:   now.UTC(),
	}
}

// UpsertResult tells a fresh insert apart from an update of an existing hash.
type UpsertResult struct {
	Inserted bool
}

type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// Terminal reports whether the status ends the run's state machine.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunPartial || s == RunFailed
}

// Run is one ingestion or curation run record.
type Run struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	Status     RunStatus      `json:"status"`
	Queries    []string       `json:"queries"`
	Fetched    int            `json:"fetched"`
	Saved      int            `json:"saved"`
	Updated    int            `json:"updated"`
	Skipped    int            `json:"skipped"`
	Errors     int            `json:"errors"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type Corpus interface {
	UpsertDocument(ctx context.Context, doc Document) (UpsertResult, error)
	GetDocument(ctx context.Context, hash string) (Document, error)
}

type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	UpdateRun(ctx context.Context, run Run) error
	RecentRuns(ctx context.Context, limit int) ([]Run, error)
}

type PhotoStore interface {
	// ActivePhoto returns the current hero image or an ErrNotFound error.
	ActivePhoto(ctx context.Context, slug string) (photo.Candidate, error)
	// ReplacePhotos swaps the whole selection for slug.
	ReplacePhotos(ctx context.Context, slug string, selected []photo.Candidate) error
	Photos(ctx context.Context, slug string) ([]photo.Candidate, error)
}

// Store is everything the pipelines persist.
type Store interface {
	Corpus
	RunStore
	PhotoStore
	Close() error
}

type Options struct {
	DatabaseURL  string
	SnapshotPath string
	Logger       *slog.Logger
}

// Open picks Postgres when a database URL is configured and the
// in-process store otherwise.
func Open(ctx context.Context, opts Options) (Store, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.DatabaseURL != "" {
		return OpenPostgres(ctx, opts.DatabaseURL, log)
	}

	m := NewMemory(opts.SnapshotPath, log)
	if err := m.Load(); err != nil {
		return nil, err
	}
	log.Info("using in-memory store", "snapshot", opts.SnapshotPath)
	return m, nil
}
