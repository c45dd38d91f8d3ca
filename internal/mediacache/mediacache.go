// Package mediacache persists resolved media metadata in SQLite so repeated
// queries for the same shortcode skip the network entirely.
package mediacache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/DeadLemon/reelsbot/internal/instagram"
	"github.com/DeadLemon/reelsbot/internal/resolver"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Cache is a TTL-bounded media metadata store keyed by shortcode.
type Cache struct {
	db  *sqlx.DB
	ttl time.Duration

	now func() time.Time
}

var _ resolver.Cache = (*Cache)(nil)

// Open creates (or reuses) the cache database under dataDir and applies
// schema migrations. A zero ttl means entries never expire.
func Open(dataDir string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("mediacache: create data dir: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", filepath.Join(dataDir, "media.db"))
	if err != nil {
		return nil, fmt.Errorf("mediacache: open database: %w", err)
	}
	if err := runMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("mediacache: run migrations: %w", err)
	}

	db := sqlx.NewDb(sqlDB, "sqlite3")
	// SQLite serializes writes; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	return &Cache{db: db, ttl: ttl, now: time.Now}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

type mediaRow struct {
	Code         string  `db:"code"`
	PK           int64   `db:"pk"`
	VideoURL     string  `db:"video_url"`
	ThumbnailURL string  `db:"thumbnail_url"`
	Duration     float64 `db:"duration"`
	ViewCount    int64   `db:"view_count"`
	PlayCount    int64   `db:"play_count"`
	LikeCount    int64   `db:"like_count"`
	CommentCount int64   `db:"comment_count"`
	MimeType     string  `db:"mime_type"`
	FetchedAt    int64   `db:"fetched_at"`
}

// Get looks up a cached entry. Entries older than the TTL are treated as
// misses; the stale row is left for the next Put to overwrite.
func (c *Cache) Get(ctx context.Context, code string) (*instagram.Media, bool, error) {
	var row mediaRow
	err := c.db.GetContext(ctx, &row, `SELECT * FROM media WHERE code = ?`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mediacache: select %s: %w", code, err)
	}
	if c.ttl > 0 && c.now().Unix()-row.FetchedAt > int64(c.ttl.Seconds()) {
		return nil, false, nil
	}
	return &instagram.Media{
		PK:           row.PK,
		Code:         row.Code,
		VideoURL:     row.VideoURL,
		ThumbnailURL: row.ThumbnailURL,
		Duration:     row.Duration,
		ViewCount:    row.ViewCount,
		PlayCount:    row.PlayCount,
		LikeCount:    row.LikeCount,
		CommentCount: row.CommentCount,
		MimeType:     row.MimeType,
	}, true, nil
}

// Put stores or refreshes an entry.
func (c *Cache) Put(ctx context.Context, media *instagram.Media) error {
	query := `
		INSERT INTO media (code, pk, video_url, thumbnail_url, duration,
			view_count, play_count, like_count, comment_count, mime_type, fetched_at)
		VALUES (:code, :pk, :video_url, :thumbnail_url, :duration,
			:view_count, :play_count, :like_count, :comment_count, :mime_type, :fetched_at)
		ON CONFLICT(code) DO UPDATE SET
			pk = excluded.pk,
			video_url = excluded.video_url,
			thumbnail_url = excluded.thumbnail_url,
			duration = excluded.duration,
			view_count = excluded.view_count,
			play_count = excluded.play_count,
			like_count = excluded.like_count,
			comment_count = excluded.comment_count,
			mime_type = excluded.mime_type,
			fetched_at = excluded.fetched_at
	`
	_, err := c.db.NamedExecContext(ctx, query, mediaRow{
		Code:         media.Code,
		PK:           media.PK,
		VideoURL:     media.VideoURL,
		ThumbnailURL: media.ThumbnailURL,
		Duration:     media.Duration,
		ViewCount:    media.ViewCount,
		PlayCount:    media.PlayCount,
		LikeCount:    media.LikeCount,
		CommentCount: media.CommentCount,
		MimeType:     media.MimeType,
		FetchedAt:    c.now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("mediacache: upsert %s: %w", media.Code, err)
	}
	return nil
}
