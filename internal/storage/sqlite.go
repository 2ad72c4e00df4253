package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"loopweb/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS release_snapshots (
	id         TEXT PRIMARY KEY,
	version    TEXT NOT NULL UNIQUE,
	source     TEXT NOT NULL,
	data       TEXT NOT NULL,
	fetched_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_release_snapshots_fetched_at ON release_snapshots (fetched_at);

CREATE TABLE IF NOT EXISTS download_events (
	id         TEXT PRIMARY KEY,
	version    TEXT NOT NULL,
	os         TEXT NOT NULL,
	arch       TEXT NOT NULL,
	asset_name TEXT NOT NULL,
	fallback   INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_download_events_key ON download_events (version, os, arch, asset_name);
`

// sqlitePragmas are applied to every pooled connection through the DSN.
const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// SQLiteStorage stores snapshots and download events in a SQLite file.
// Timestamps are kept as Unix nanoseconds so MAX and ORDER BY work on them
// directly.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens the database and creates the schema if needed.
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", sqliteDSN(config.ConnectionString))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + sqlitePragmas
	}
	return dsn + "?" + sqlitePragmas
}

func (ss *SQLiteStorage) SaveSnapshot(ctx context.Context, snapshot *models.ReleaseSnapshot) error {
	if err := prepareSnapshot(snapshot); err != nil {
		return err
	}

	data, err := marshalRelease(snapshot.Release)
	if err != nil {
		return err
	}

	_, err = ss.db.ExecContext(ctx, `
		INSERT INTO release_snapshots (id, version, source, data, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (version) DO UPDATE SET
			source = excluded.source,
			data = excluded.data,
			fetched_at = excluded.fetched_at`,
		snapshot.ID, snapshot.Release.Version, snapshot.Source, string(data), snapshot.FetchedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (ss *SQLiteStorage) LatestSnapshot(ctx context.Context) (*models.ReleaseSnapshot, error) {
	var (
		snapshot  models.ReleaseSnapshot
		data      string
		fetchedAt int64
	)

	err := ss.db.QueryRowContext(ctx, `
		SELECT id, source, data, fetched_at
		FROM release_snapshots
		ORDER BY fetched_at DESC
		LIMIT 1`).Scan(&snapshot.ID, &snapshot.Source, &data, &fetchedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	snapshot.Release, err = unmarshalRelease([]byte(data))
	if err != nil {
		return nil, err
	}
	snapshot.FetchedAt = time.Unix(0, fetchedAt).UTC()

	return &snapshot, nil
}

func (ss *SQLiteStorage) RecordDownload(ctx context.Context, event *models.DownloadEvent) error {
	if err := prepareEvent(event); err != nil {
		return err
	}

	_, err := ss.db.ExecContext(ctx, `
		INSERT INTO download_events (id, version, os, arch, asset_name, fallback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Version, event.OS, event.Arch, event.AssetName, event.Fallback, event.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record download: %w", err)
	}
	return nil
}

func (ss *SQLiteStorage) DownloadStats(ctx context.Context) ([]models.DownloadStat, error) {
	rows, err := ss.db.QueryContext(ctx, `
		SELECT version, os, arch, asset_name, COUNT(*), MAX(created_at)
		FROM download_events
		GROUP BY version, os, arch, asset_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query download stats: %w", err)
	}
	defer rows.Close()

	stats := []models.DownloadStat{}
	for rows.Next() {
		var (
			stat   models.DownloadStat
			lastAt int64
		)
		if err := rows.Scan(&stat.Version, &stat.OS, &stat.Arch, &stat.AssetName, &stat.Count, &lastAt); err != nil {
			return nil, fmt.Errorf("failed to scan download stat: %w", err)
		}
		stat.LastAt = time.Unix(0, lastAt).UTC()
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read download stats: %w", err)
	}

	sortStats(stats)
	return stats, nil
}

func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}
