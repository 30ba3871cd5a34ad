package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/deusflow/newsdesk/internal/apperr"
	"github.com/deusflow/newsdesk/internal/photo"
)

// Memory keeps everything in process maps. With a snapshot path it
// restores from and saves to a JSON file.
type Memory struct {
	mu       sync.RWMutex
	filePath string
	docs     map[string]Document
	runs     map[string]Run
	photos   map[string][]photo.Candidate
	log      *slog.Logger
}

type snapshot struct {
	Documents []Document                   `json:"documents"`
	Runs      []Run                        `json:"runs"`
	Photos    map[string][]photo.Candidate `json:"photos"`
}

func NewMemory(filePath string, log *slog.Logger) *Memory {
	if log == nil {
		log = slog.Default()
	}
	return &Memory{
		filePath: filePath,
		docs:     map[string]Document{},
		runs:     map[string]Run{},
		photos:   map[string][]photo.Candidate{},
		log:      log.With("component", "memory_store"),
	}
}

// Load restores the snapshot. A missing or empty file is not an error.
func (m *Memory) Load() error {
	if m.filePath == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "read snapshot")
	}
	if len(data) == 0 {
		return nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return errors.Wrap(err, "unmarshal snapshot")
	}
	for _, d := range snap.Documents {
		m.docs[d.Hash] = d
	}
	for _, r := range snap.Runs {
		m.runs[r.ID] = r
	}
	for slug, ps := range snap.Photos {
		m.photos[slug] = ps
	}
	return nil
}

// Save writes the snapshot when a path is configured.
func (m *Memory) Save() error {
	if m.filePath == "" {
		return nil
	}

	m.mu.RLock()
	snap := snapshot{
		Documents: make([]Document, 0, len(m.docs)),
		Runs:      make([]Run, 0, len(m.runs)),
		Photos:    make(map[string][]photo.Candidate, len(m.photos)),
	}
	for _, d := range m.docs {
		snap.Documents = append(snap.Documents, d)
	}
	for _, r := range m.runs {
		snap.Runs = append(snap.Runs, r)
	}
	for slug, ps := range m.photos {
		snap.Photos[slug] = ps
	}
	m.mu.RUnlock()

	sort.Slice(snap.Documents, func(i, j int) bool { return snap.Documents[i].Hash < snap.Documents[j].Hash })
	sort.Slice(snap.Runs, func(i, j int) bool { return snap.Runs[i].StartedAt.Before(snap.Runs[j].StartedAt) })

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}

	tmp := m.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write snapshot")
	}
	return errors.Wrap(os.Rename(tmp, m.filePath), "replace snapshot")
}

func (m *Memory) Close() error {
	return m.Save()
}

func (m *Memory) UpsertDocument(_ context.Context, doc Document) (UpsertResult, error) {
	if doc.Hash == "" {
		return UpsertResult{}, apperr.Persistence(errors.New("empty content hash"), "upsert document")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, exists := m.docs[doc.Hash]
	if exists {
		// An update never clears a known image or publish time.
		if doc.ImageURL == "" {
			doc.ImageURL = prev.ImageURL
		}
		if doc.PublishedAt.IsZero() {
			doc.PublishedAt = prev.PublishedAt
		}
	}
	doc.Tags = append([]string(nil), doc.Tags...)
	m.docs[doc.Hash] = doc
	return UpsertResult{Inserted: !exists}, nil
}

func (m *Memory) GetDocument(_ context.Context, hash string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.docs[hash]
	if !ok {
		return Document{}, apperr.NotFound("document %s not found", hash)
	}
	return d, nil
}

// Len returns the number of stored documents.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *Memory) CreateRun(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[run.ID]; exists {
		return apperr.Persistence(errors.Newf("run %s already exists", run.ID), "create run")
	}
	m.runs[run.ID] = cloneRun(run)
	return nil
}

func (m *Memory) GetRun(_ context.Context, id string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[id]
	if !ok {
		return Run{}, apperr.NotFound("run %s not found", id)
	}
	return cloneRun(r), nil
}

func (m *Memory) UpdateRun(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[run.ID]; !ok {
		return apperr.NotFound("run %s not found", run.ID)
	}
	m.runs[run.ID] = cloneRun(run)
	return nil
}

// RecentRuns returns runs newest first.
func (m *Memory) RecentRuns(_ context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.RLock()
	out := make([]Run, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, cloneRun(r))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ActivePhoto(_ context.Context, slug string) (photo.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.photos[slug] {
		if c.Active {
			return c, nil
		}
	}
	return photo.Candidate{}, apperr.NotFound("no active photo for %s", slug)
}

func (m *Memory) ReplacePhotos(_ context.Context, slug string, selected []photo.Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(selected) == 0 {
		delete(m.photos, slug)
		return nil
	}
	m.photos[slug] = append([]photo.Candidate(nil), selected...)
	return nil
}

func (m *Memory) Photos(_ context.Context, slug string) ([]photo.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]photo.Candidate(nil), m.photos[slug]...), nil
}

func cloneRun(r Run) Run {
	r.Queries = append([]string(nil), r.Queries...)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		r.FinishedAt = &t
	}
	if r.Metadata != nil {
		md := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			md[k] = v
		}
		r.Metadata = md
	}
	return r
}

var _ Store = (*Memory)(nil)
