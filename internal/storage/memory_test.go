package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newsdesk/internal/apperr"
	"github.com/deusflow/newsdesk/internal/news"
	"github.com/deusflow/newsdesk/internal/photo"
)

func TestMemoryUpsertIsIdempotentByURL(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("", nil)
	now := time.Now()

	a := news.Item{URL: "https://www.example.com/story?utm_source=x", Title: "First", Source: news.SourceGoogleNews}
	b := news.Item{URL: "https://example.com/story/", Title: "Second", Source: news.SourceNewsAPI}
	require.Equal(t, a.Hash(), b.Hash())

	res, err := m.UpsertDocument(ctx, DocumentFromItem(a, now))
	require.NoError(t, err)
	assert.True(t, res.Inserted)

	res, err = m.UpsertDocument(ctx, DocumentFromItem(b, now))
	require.NoError(t, err)
	assert.False(t, res.Inserted)

	assert.Equal(t, 1, m.Len())
	got, err := m.GetDocument(ctx, a.Hash())
	require.NoError(t, err)
	assert.Equal(t, "Second", got.Title, "last write wins")
	assert.Equal(t, "https://example.com/story", got.URL)

	_, err = m.GetDocument(ctx, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestMemoryUpsertKeepsKnownImage(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("", nil)
	published := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	first := news.Item{URL: "https://example.com/story", Title: "First", ImageURL: "https://cdn.example/a.jpg", PublishedAt: published}
	_, err := m.UpsertDocument(ctx, DocumentFromItem(first, time.Now()))
	require.NoError(t, err)

	again := news.Item{URL: "https://example.com/story", Title: "Again"}
	res, err := m.UpsertDocument(ctx, DocumentFromItem(again, time.Now()))
	require.NoError(t, err)
	assert.False(t, res.Inserted)

	got, err := m.GetDocument(ctx, first.Hash())
	require.NoError(t, err)
	assert.Equal(t, "Again", got.Title)
	assert.Equal(t, "https://cdn.example/a.jpg", got.ImageURL)
	assert.True(t, published.Equal(got.PublishedAt))

	replaced := news.Item{URL: "https://example.com/story", Title: "Again", ImageURL: "https://cdn.example/b.jpg"}
	_, err = m.UpsertDocument(ctx, DocumentFromItem(replaced, time.Now()))
	require.NoError(t, err)
	got, err = m.GetDocument(ctx, first.Hash())
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/b.jpg", got.ImageURL)
}

func TestMemoryRuns(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("", nil)
	t0 := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, m.CreateRun(ctx, Run{ID: "r1", Source: "news", Status: RunPending, StartedAt: t0}))
	require.NoError(t, m.CreateRun(ctx, Run{ID: "r2", Source: "photos", Status: RunPending, StartedAt: t0.Add(time.Hour)}))
	assert.Error(t, m.CreateRun(ctx, Run{ID: "r1"}))

	done := t0.Add(2 * time.Minute)
	require.NoError(t, m.UpdateRun(ctx, Run{ID: "r1", Source: "news", Status: RunPartial, Errors: 7, Saved: 3, StartedAt: t0, FinishedAt: &done}))

	r, err := m.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, RunPartial, r.Status)
	assert.Equal(t, 7, r.Errors)
	assert.True(t, r.Status.Terminal())

	recent, err := m.RecentRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "r2", recent[0].ID)

	err = m.UpdateRun(ctx, Run{ID: "nope"})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestMemoryReplacePhotos(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("", nil)

	_, err := m.ActivePhoto(ctx, "burj-khalifa")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	first := photo.Select([]photo.Candidate{{Ref: "a", Score: 90}, {Ref: "b", Score: 80}}, 2)
	require.NoError(t, m.ReplacePhotos(ctx, "burj-khalifa", first))

	second := photo.Select([]photo.Candidate{{Ref: "c", Score: 70}}, 3)
	require.NoError(t, m.ReplacePhotos(ctx, "burj-khalifa", second))

	all, err := m.Photos(ctx, "burj-khalifa")
	require.NoError(t, err)
	require.Len(t, all, 1, "replace, not append")

	active, err := m.ActivePhoto(ctx, "burj-khalifa")
	require.NoError(t, err)
	assert.Equal(t, "c", active.Ref)
}

func TestMemorySnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapshot.json")

	m := NewMemory(path, nil)
	require.NoError(t, m.Load(), "missing file is fine")
	_, err := m.UpsertDocument(ctx, Document{Hash: "h1", URL: "https://example.com/a", Title: "A"})
	require.NoError(t, err)
	require.NoError(t, m.CreateRun(ctx, Run{ID: "r1", Status: RunSuccess, StartedAt: time.Now().UTC()}))
	require.NoError(t, m.ReplacePhotos(ctx, "louvre-abu-dhabi", []photo.Candidate{{Ref: "x", Active: true}}))
	require.NoError(t, m.Close())

	restored := NewMemory(path, nil)
	require.NoError(t, restored.Load())

	d, err := restored.GetDocument(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "A", d.Title)

	r, err := restored.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, RunSuccess, r.Status)

	p, err := restored.ActivePhoto(ctx, "louvre-abu-dhabi")
	require.NoError(t, err)
	assert.Equal(t, "x", p.Ref)
}

func TestOpenFallsBackToMemory(t *testing.T) {
	s, err := Open(context.Background(), Options{})
	require.NoError(t, err)
	_, ok := s.(*Memory)
	assert.True(t, ok)
}
