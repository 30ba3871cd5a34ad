// Package search mirrors saved documents into a Meilisearch index so the
// downstream answering service can query the corpus.
package search

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/meilisearch/meilisearch-go"

	"github.com/deusflow/newsdesk/internal/storage"
)

// Sink receives documents after they are persisted.
type Sink interface {
	IndexDocuments(ctx context.Context, docs []storage.Document) error
}

type Meili struct {
	index meilisearch.IndexManager
	log   *slog.Logger
}

func NewMeili(host, apiKey, indexName string, log *slog.Logger) *Meili {
	if log == nil {
		log = slog.Default()
	}
	client := meilisearch.New(host, meilisearch.WithAPIKey(apiKey))
	return &Meili{
		index: client.Index(indexName),
		log:   log.With("component", "meilisearch", "index", indexName),
	}
}

type document struct {
	ID          string   `json:"id"`
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Publisher   string   `json:"publisher"`
	Source      string   `json:"source"`
	Language    string   `json:"language,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	ImageURL    string   `json:"image_url,omitempty"`
	Category    string   `json:"category,omitempty"`
	Impact      string   `json:"impact,omitempty"`
	Lane        string   `json:"lane,omitempty"`
	Tags        []string `json:"tags"`
	PublishedAt int64    `json:"published_at"`
}

func toDocument(d storage.Document) document {
	var published int64
	if !d.PublishedAt.IsZero() {
		published = d.PublishedAt.Unix()
	}
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return document{
		ID:          d.Hash,
		URL:         d.URL,
		Title:       d.Title,
		Publisher:   d.Publisher,
		Source:      d.Source,
		Language:    d.Language,
		Summary:     d.Summary,
		ImageURL:    d.ImageURL,
		Category:    d.Category,
		Impact:      d.Impact,
		Lane:        d.Lane,
		Tags:        tags,
		PublishedAt: published,
	}
}

// IndexDocuments enqueues the documents; indexing completes asynchronously.
func (m *Meili) IndexDocuments(ctx context.Context, docs []storage.Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := make([]document, 0, len(docs))
	for _, d := range docs {
		batch = append(batch, toDocument(d))
	}

	task, err := m.index.AddDocuments(batch)
	if err != nil {
		return errors.Wrap(err, "meilisearch add documents")
	}
	m.log.Info("documents enqueued", "count", len(batch), "task_uid", task.TaskUID)
	return nil
}
