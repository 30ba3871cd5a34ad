package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	"github.com/lib/pq"

	"github.com/deusflow/newsdesk/internal/apperr"
	"github.com/deusflow/newsdesk/internal/photo"
	"github.com/deusflow/newsdesk/internal/retry"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	content_hash VARCHAR(64) PRIMARY KEY,
	url TEXT NOT NULL,
	title TEXT NOT NULL,
	publisher TEXT NOT NULL DEFAULT '',
	source VARCHAR(32) NOT NULL,
	language VARCHAR(8) NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	category VARCHAR(64) NOT NULL DEFAULT '',
	impact VARCHAR(16) NOT NULL DEFAULT '',
	lane VARCHAR(32) NOT NULL DEFAULT '',
	tags TEXT[] NOT NULL DEFAULT '{}',
	rank INTEGER NOT NULL DEFAULT 0,
	published_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_documents_published_at ON documents(published_at DESC);
CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category);

CREATE TABLE IF NOT EXISTS ingestion_runs (
	id VARCHAR(36) PRIMARY KEY,
	source VARCHAR(32) NOT NULL,
	status VARCHAR(16) NOT NULL,
	queries TEXT[] NOT NULL DEFAULT '{}',
	fetched INTEGER NOT NULL DEFAULT 0,
	saved INTEGER NOT NULL DEFAULT 0,
	updated INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	errors INTEGER NOT NULL DEFAULT 0,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	metadata JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_ingestion_runs_started_at ON ingestion_runs(started_at DESC);

CREATE TABLE IF NOT EXISTS place_photos (
	slug VARCHAR(80) NOT NULL,
	position INTEGER NOT NULL,
	provider VARCHAR(32) NOT NULL,
	ref TEXT NOT NULL,
	url TEXT NOT NULL,
	width INTEGER NOT NULL DEFAULT 0,
	height INTEGER NOT NULL DEFAULT 0,
	likes INTEGER NOT NULL DEFAULT 0,
	verified BOOLEAN NOT NULL DEFAULT FALSE,
	description TEXT NOT NULL DEFAULT '',
	tags TEXT[] NOT NULL DEFAULT '{}',
	score INTEGER NOT NULL DEFAULT 0,
	active BOOLEAN NOT NULL DEFAULT FALSE,
	attribution JSONB NOT NULL DEFAULT '{}',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (slug, position)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_place_photos_active ON place_photos(slug) WHERE active;
`

var (
	documentColumns = []string{
		"content_hash", "url", "title", "publisher", "source", "language", "summary",
		"image_url", "category", "impact", "lane", "tags", "rank", "published_at", "updated_at",
	}
	runColumns = []string{
		"id", "source", "status", "queries", "fetched", "saved", "updated", "skipped",
		"errors", "started_at", "finished_at", "duration_ms", "metadata",
	}
	photoColumns = []string{
		"provider", "ref", "url", "width", "height", "likes", "verified",
		"description", "tags", "score", "active", "attribution",
	}
)

// Postgres stores documents, runs and photos in PostgreSQL.
type Postgres struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenPostgres connects with a bounded start-up retry and ensures the schema.
func OpenPostgres(ctx context.Context, dsn string, log *slog.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	err = retry.WithRetry(ctx, retry.RetryConfig{MaxAttempts: 5, Delay: time.Second, Backoff: true}, func(ctx context.Context) error {
		return db.PingContext(ctx)
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	p := NewPostgres(db, log)
	if err := p.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	p.log.Info("postgres store connected")
	return p, nil
}

// NewPostgres wraps an open handle.
func NewPostgres(db *sql.DB, log *slog.Logger) *Postgres {
	if log == nil {
		log = slog.Default()
	}
	return &Postgres{db: db, log: log.With("component", "postgres_store")}
}

// EnsureSchema creates tables and indexes if they are missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to create schema")
	}
	return nil
}

func (p *Postgres) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// UpsertDocument inserts or refreshes a document; concurrent writers of
// the same hash resolve last-write-wins.
func (p *Postgres) UpsertDocument(ctx context.Context, d Document) (UpsertResult, error) {
	query, args, err := psql.Insert("documents").
		Columns(documentColumns...).
		Values(d.Hash, d.URL, d.Title, d.Publisher, d.Source, d.Language, d.Summary,
			d.ImageURL, d.Category, d.Impact, d.Lane, pq.Array(d.Tags), d.Rank,
			nullTime(d.PublishedAt), d.UpdatedAt).
		Suffix(`ON CONFLICT (content_hash) DO UPDATE SET
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			publisher = EXCLUDED.publisher,
			source = EXCLUDED.source,
			language = EXCLUDED.language,
			summary = EXCLUDED.summary,
			image_url = CASE WHEN EXCLUDED.image_url <> '' THEN EXCLUDED.image_url ELSE documents.image_url END,
			category = EXCLUDED.category,
			impact = EXCLUDED.impact,
			lane = EXCLUDED.lane,
			tags = EXCLUDED.tags,
			rank = EXCLUDED.rank,
			published_at = COALESCE(EXCLUDED.published_at, documents.published_at),
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0) AS inserted`).
		ToSql()
	if err != nil {
		return UpsertResult{}, errors.Wrap(err, "build upsert")
	}

	var inserted bool
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&inserted); err != nil {
		return UpsertResult{}, apperr.Persistence(err, "upsert document")
	}
	return UpsertResult{Inserted: inserted}, nil
}

func (p *Postgres) GetDocument(ctx context.Context, hash string) (Document, error) {
	query, args, err := psql.Select(documentColumns...).From("documents").
		Where(sq.Eq{"content_hash": hash}).ToSql()
	if err != nil {
		return Document{}, errors.Wrap(err, "build select")
	}

	var d Document
	var published sql.NullTime
	err = p.db.QueryRowContext(ctx, query, args...).Scan(
		&d.Hash, &d.URL, &d.Title, &d.Publisher, &d.Source, &d.Language, &d.Summary,
		&d.ImageURL, &d.Category, &d.Impact, &d.Lane, pq.Array(&d.Tags), &d.Rank,
		&published, &d.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, apperr.NotFound("document %s not found", hash)
	}
	if err != nil {
		return Document{}, apperr.Persistence(err, "get document")
	}
	d.PublishedAt = published.Time
	return d, nil
}

func (p *Postgres) CreateRun(ctx context.Context, r Run) error {
	md, err := marshalMetadata(r.Metadata)
	if err != nil {
		return err
	}
	query, args, err := psql.Insert("ingestion_runs").
		Columns(runColumns...).
		Values(r.ID, r.Source, string(r.Status), pq.Array(r.Queries), r.Fetched, r.Saved,
			r.Updated, r.Skipped, r.Errors, r.StartedAt, r.FinishedAt, r.DurationMS, md).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "build insert")
	}
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return apperr.Persistence(err, "create run")
	}
	return nil
}

func (p *Postgres) UpdateRun(ctx context.Context, r Run) error {
	md, err := marshalMetadata(r.Metadata)
	if err != nil {
		return err
	}
	query, args, err := psql.Update("ingestion_runs").
		SetMap(map[string]any{
			"status":      string(r.Status),
			"fetched":     r.Fetched,
			"saved":       r.Saved,
			"updated":     r.Updated,
			"skipped":     r.Skipped,
			"errors":      r.Errors,
			"finished_at": r.FinishedAt,
			"duration_ms": r.DurationMS,
			"metadata":    md,
		}).
		Where(sq.Eq{"id": r.ID}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "build update")
	}

	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return apperr.Persistence(err, "update run")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("run %s not found", r.ID)
	}
	return nil
}

func (p *Postgres) GetRun(ctx context.Context, id string) (Run, error) {
	query, args, err := psql.Select(runColumns...).From("ingestion_runs").
		Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return Run{}, errors.Wrap(err, "build select")
	}
	r, err := scanRun(p.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, apperr.NotFound("run %s not found", id)
	}
	if err != nil {
		return Run{}, apperr.Persistence(err, "get run")
	}
	return r, nil
}

// RecentRuns returns runs newest first.
func (p *Postgres) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	query, args, err := psql.Select(runColumns...).From("ingestion_runs").
		OrderBy("started_at DESC").Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build select")
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Persistence(err, "recent runs")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			p.log.Warn("error scanning run row", "error", err)
			continue
		}
		out = append(out, r)
	}
	return out, apperr.Persistence(rows.Err(), "recent runs")
}

func (p *Postgres) ActivePhoto(ctx context.Context, slug string) (photo.Candidate, error) {
	query, args, err := psql.Select(photoColumns...).From("place_photos").
		Where(sq.Eq{"slug": slug, "active": true}).Limit(1).ToSql()
	if err != nil {
		return photo.Candidate{}, errors.Wrap(err, "build select")
	}
	c, err := scanPhoto(p.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return photo.Candidate{}, apperr.NotFound("no active photo for %s", slug)
	}
	if err != nil {
		return photo.Candidate{}, apperr.Persistence(err, "active photo")
	}
	return c, nil
}

func (p *Postgres) Photos(ctx context.Context, slug string) ([]photo.Candidate, error) {
	query, args, err := psql.Select(photoColumns...).From("place_photos").
		Where(sq.Eq{"slug": slug}).OrderBy("position").ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build select")
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Persistence(err, "photos")
	}
	defer rows.Close()

	var out []photo.Candidate
	for rows.Next() {
		c, err := scanPhoto(rows)
		if err != nil {
			return nil, apperr.Persistence(err, "scan photo")
		}
		out = append(out, c)
	}
	return out, apperr.Persistence(rows.Err(), "photos")
}

// ReplacePhotos deletes the previous selection and inserts the new one in
// a single transaction so readers never see two active photos.
func (p *Postgres) ReplacePhotos(ctx context.Context, slug string, selected []photo.Candidate) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Persistence(err, "begin replace photos")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	del, args, err := psql.Delete("place_photos").Where(sq.Eq{"slug": slug}).ToSql()
	if err != nil {
		return errors.Wrap(err, "build delete")
	}
	if _, err = tx.ExecContext(ctx, del, args...); err != nil {
		return apperr.Persistence(err, "delete photos")
	}

	if len(selected) > 0 {
		ins := psql.Insert("place_photos").Columns(append([]string{"slug", "position"}, photoColumns...)...)
		for i, c := range selected {
			attr, mErr := json.Marshal(c.Attribution)
			if mErr != nil {
				return errors.Wrap(mErr, "marshal attribution")
			}
			ins = ins.Values(slug, i, c.Provider, c.Ref, c.URL, c.Width, c.Height, c.Likes, c.Verified,
				c.Description, pq.Array(c.Tags), c.Score, c.Active, attr)
		}
		query, args, bErr := ins.ToSql()
		if bErr != nil {
			return errors.Wrap(bErr, "build insert")
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return apperr.Persistence(err, "insert photos")
		}
	}

	if err = tx.Commit(); err != nil {
		return apperr.Persistence(err, "commit replace photos")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var r Run
	var status string
	var finished sql.NullTime
	var md []byte
	err := row.Scan(&r.ID, &r.Source, &status, pq.Array(&r.Queries), &r.Fetched, &r.Saved,
		&r.Updated, &r.Skipped, &r.Errors, &r.StartedAt, &finished, &r.DurationMS, &md)
	if err != nil {
		return Run{}, err
	}
	r.Status = RunStatus(status)
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	if len(md) > 0 {
		if err := json.Unmarshal(md, &r.Metadata); err != nil {
			return Run{}, errors.Wrap(err, "decode run metadata")
		}
	}
	return r, nil
}

func scanPhoto(row rowScanner) (photo.Candidate, error) {
	var c photo.Candidate
	var attr []byte
	err := row.Scan(&c.Provider, &c.Ref, &c.URL, &c.Width, &c.Height, &c.Likes, &c.Verified,
		&c.Description, pq.Array(&c.Tags), &c.Score, &c.Active, &attr)
	if err != nil {
		return photo.Candidate{}, err
	}
	if len(attr) > 0 {
		if err := json.Unmarshal(attr, &c.Attribution); err != nil {
			return photo.Candidate{}, errors.Wrap(err, "decode attribution")
		}
	}
	return c, nil
}

func marshalMetadata(md map[string]any) ([]byte, error) {
	if md == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(md)
	return b, errors.Wrap(err, "marshal run metadata")
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

var _ Store = (*Postgres)(nil)
