package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loopweb/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS release_snapshots (
	id         TEXT PRIMARY KEY,
	version    TEXT NOT NULL UNIQUE,
	source     TEXT NOT NULL,
	data       JSONB NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_release_snapshots_fetched_at ON release_snapshots (fetched_at DESC);

CREATE TABLE IF NOT EXISTS download_events (
	id         TEXT PRIMARY KEY,
	version    TEXT NOT NULL,
	os         TEXT NOT NULL,
	arch       TEXT NOT NULL,
	asset_name TEXT NOT NULL,
	fallback   BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_download_events_key ON download_events (version, os, arch, asset_name);
`

// PostgresStorage implements the Storage interface using PostgreSQL.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a new PostgreSQL storage instance and makes
// sure the schema exists.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(config.MaxIdleConns)
		if poolConfig.MinConns > poolConfig.MaxConns {
			poolConfig.MinConns = poolConfig.MaxConns
		}
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// SaveSnapshot upserts the snapshot keyed by release version.
func (ps *PostgresStorage) SaveSnapshot(ctx context.Context, snapshot *models.ReleaseSnapshot) error {
	if err := prepareSnapshot(snapshot); err != nil {
		return err
	}

	data, err := marshalRelease(snapshot.Release)
	if err != nil {
		return err
	}

	_, err = ps.pool.Exec(ctx, `
		INSERT INTO release_snapshots (id, version, source, data, fetched_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (version) DO UPDATE SET
			source = EXCLUDED.source,
			data = EXCLUDED.data,
			fetched_at = EXCLUDED.fetched_at`,
		snapshot.ID, snapshot.Release.Version, snapshot.Source, string(data), timeToPgTimestamptz(snapshot.FetchedAt))
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recently fetched snapshot.
func (ps *PostgresStorage) LatestSnapshot(ctx context.Context) (*models.ReleaseSnapshot, error) {
	var (
		snapshot  models.ReleaseSnapshot
		data      []byte
		fetchedAt pgtype.Timestamptz
	)

	err := ps.pool.QueryRow(ctx, `
		SELECT id, source, data, fetched_at
		FROM release_snapshots
		ORDER BY fetched_at DESC
		LIMIT 1`).Scan(&snapshot.ID, &snapshot.Source, &data, &fetchedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	snapshot.Release, err = unmarshalRelease(data)
	if err != nil {
		return nil, err
	}
	snapshot.FetchedAt = fetchedAt.Time.UTC()

	return &snapshot, nil
}

// RecordDownload inserts one download event.
func (ps *PostgresStorage) RecordDownload(ctx context.Context, event *models.DownloadEvent) error {
	if err := prepareEvent(event); err != nil {
		return err
	}

	_, err := ps.pool.Exec(ctx, `
		INSERT INTO download_events (id, version, os, arch, asset_name, fallback, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.Version, event.OS, event.Arch, event.AssetName, event.Fallback, timeToPgTimestamptz(event.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to record download: %w", err)
	}
	return nil
}

// DownloadStats aggregates download events per version, platform and asset.
func (ps *PostgresStorage) DownloadStats(ctx context.Context) ([]models.DownloadStat, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT version, os, arch, asset_name, COUNT(*), MAX(created_at)
		FROM download_events
		GROUP BY version, os, arch, asset_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query download stats: %w", err)
	}

	stats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.DownloadStat, error) {
		var (
			stat   models.DownloadStat
			lastAt pgtype.Timestamptz
		)
		err := row.Scan(&stat.Version, &stat.OS, &stat.Arch, &stat.AssetName, &stat.Count, &lastAt)
		stat.LastAt = lastAt.Time.UTC()
		return stat, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read download stats: %w", err)
	}
	if stats == nil {
		stats = []models.DownloadStat{}
	}

	// Collation order differs between databases; sort in Go for a stable result.
	sortStats(stats)
	return stats, nil
}

// Ping verifies the database connection is alive.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}

func timeToPgTimestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{Time: time.Now(), Valid: true}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}
