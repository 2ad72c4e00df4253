package storage

import (
	"context"
	"sync"

	"loopweb/internal/models"
)

// MemoryStorage implements the Storage interface using in-memory data structures.
// This provider is ideal for development, testing, and single-instance
// deployments where the snapshot only needs to survive until the next restart.
type MemoryStorage struct {
	mu        sync.RWMutex
	snapshots map[string]*models.ReleaseSnapshot // keyed by version
	stats     map[string]*models.DownloadStat    // keyed by DownloadEvent.StatKey
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		snapshots: make(map[string]*models.ReleaseSnapshot),
		stats:     make(map[string]*models.DownloadStat),
	}, nil
}

func (m *MemoryStorage) SaveSnapshot(ctx context.Context, snapshot *models.ReleaseSnapshot) error {
	if err := prepareSnapshot(snapshot); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots[snapshot.Release.Version] = copySnapshot(snapshot)
	return nil
}

func (m *MemoryStorage) LatestSnapshot(ctx context.Context) (*models.ReleaseSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *models.ReleaseSnapshot
	for _, s := range m.snapshots {
		if latest == nil || s.FetchedAt.After(latest.FetchedAt) {
			latest = s
		}
	}

	if latest == nil {
		return nil, ErrNotFound
	}

	// Return a copy to prevent external modification
	return copySnapshot(latest), nil
}

func (m *MemoryStorage) RecordDownload(ctx context.Context, event *models.DownloadEvent) error {
	if err := prepareEvent(event); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := event.StatKey()
	stat, exists := m.stats[key]
	if !exists {
		stat = &models.DownloadStat{
			Version:   event.Version,
			OS:        event.OS,
			Arch:      event.Arch,
			AssetName: event.AssetName,
		}
		m.stats[key] = stat
	}

	stat.Count++
	if event.CreatedAt.After(stat.LastAt) {
		stat.LastAt = event.CreatedAt
	}

	return nil
}

func (m *MemoryStorage) DownloadStats(ctx context.Context) ([]models.DownloadStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]models.DownloadStat, 0, len(m.stats))
	for _, s := range m.stats {
		stats = append(stats, *s)
	}
	sortStats(stats)

	return stats, nil
}

func (m *MemoryStorage) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op for memory storage
func (m *MemoryStorage) Close() error {
	return nil
}

func copySnapshot(s *models.ReleaseSnapshot) *models.ReleaseSnapshot {
	c := *s
	c.Release = *s.Release.Clone()
	return &c
}
