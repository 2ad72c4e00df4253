package storage

import (
	"context"
	"time"

	"loopweb/internal/models"
)

// Storage persists release snapshots and download statistics. Snapshots let
// the proxy keep answering when GitHub is unreachable and the cache is cold;
// download events feed the admin statistics endpoint.
type Storage interface {
	// SaveSnapshot stores a fetched release. Saving the same version again
	// replaces the earlier snapshot of that version.
	SaveSnapshot(ctx context.Context, snapshot *models.ReleaseSnapshot) error

	// LatestSnapshot returns the most recently fetched snapshot, or
	// ErrNotFound when nothing has been stored yet.
	LatestSnapshot(ctx context.Context) (*models.ReleaseSnapshot, error)

	// RecordDownload stores one resolved download.
	RecordDownload(ctx context.Context, event *models.DownloadEvent) error

	// DownloadStats aggregates recorded downloads per (version, os, arch,
	// asset), highest count first.
	DownloadStats(ctx context.Context) ([]models.DownloadStat, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (json, memory, sqlite, postgres)
	Type string `json:"type" yaml:"type"`

	// Path is used for file-based storage backends
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// Pool settings for database backends; zero values keep driver defaults
	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`
}
