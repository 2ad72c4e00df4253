package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"loopweb/internal/models"
)

// JSONStorage implements the Storage interface using a single JSON file.
// The file is read once and then re-read only when its modification time
// moves, so several processes can share it read-mostly. Writes go to a
// temporary file that is renamed over the original.
type JSONStorage struct {
	filePath     string
	mu           sync.RWMutex
	data         *JSONData
	lastModified time.Time
}

// JSONData represents the structure of data stored in JSON format
type JSONData struct {
	Snapshots   []*models.ReleaseSnapshot `json:"snapshots"`
	Downloads   []*models.DownloadStat    `json:"downloads"`
	LastUpdated time.Time                 `json:"last_updated"`
}

// NewJSONStorage creates a new JSON-based storage instance
func NewJSONStorage(config Config) (*JSONStorage, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path is required for JSON storage")
	}

	storage := &JSONStorage{
		filePath: config.Path,
	}

	// Initialize with empty data if file doesn't exist
	if err := storage.ensureFileExists(); err != nil {
		return nil, fmt.Errorf("failed to ensure file exists: %w", err)
	}

	// Load initial data
	if err := storage.loadData(); err != nil {
		return nil, fmt.Errorf("failed to load initial data: %w", err)
	}

	return storage, nil
}

// ensureFileExists creates the JSON file with empty data if it doesn't exist
func (j *JSONStorage) ensureFileExists() error {
	if _, err := os.Stat(j.filePath); os.IsNotExist(err) {
		// Create directory if it doesn't exist
		if err := os.MkdirAll(filepath.Dir(j.filePath), 0700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}

		emptyData := &JSONData{
			Snapshots: []*models.ReleaseSnapshot{},
			Downloads: []*models.DownloadStat{},
		}

		return j.saveData(emptyData)
	}
	return nil
}

// loadData reloads the file when it changed on disk.
// It uses double-checked locking: a fast read-lock path when the file is
// unchanged, and a write-lock slow path with re-validation to prevent TOCTOU races.
func (j *JSONStorage) loadData() error {
	info, err := os.Stat(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	// Fast path: file unchanged since the last read.
	j.mu.RLock()
	if j.data != nil && !info.ModTime().After(j.lastModified) {
		j.mu.RUnlock()
		return nil
	}
	j.mu.RUnlock()

	// Slow path: acquire write lock and re-validate before doing any I/O.
	j.mu.Lock()
	defer j.mu.Unlock()

	info, err = os.Stat(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	// Another goroutine may have loaded while we waited for the write lock.
	if j.data != nil && !info.ModTime().After(j.lastModified) {
		return nil
	}

	fileData, err := os.ReadFile(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data JSONData
	if err := json.Unmarshal(fileData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	j.data = &data
	j.lastModified = info.ModTime()
	return nil
}

// clone copies the slices so that a failed save leaves d untouched. The
// elements are shared and must be replaced, not modified.
func (d *JSONData) clone() *JSONData {
	return &JSONData{
		Snapshots:   append([]*models.ReleaseSnapshot(nil), d.Snapshots...),
		Downloads:   append([]*models.DownloadStat(nil), d.Downloads...),
		LastUpdated: d.LastUpdated,
	}
}

// commit saves next and makes it the in-memory state once it is on disk.
// Callers must hold the write lock.
func (j *JSONStorage) commit(next *JSONData) error {
	if err := j.saveData(next); err != nil {
		return err
	}
	j.data = next
	return nil
}

// saveData writes data atomically and records the new modification time.
// Callers must hold the write lock once the storage is constructed.
func (j *JSONStorage) saveData(data *JSONData) error {
	data.LastUpdated = time.Now()

	fileData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(j.filePath), ".releases-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(fileData); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, j.filePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace file: %w", err)
	}

	if info, err := os.Stat(j.filePath); err == nil {
		j.lastModified = info.ModTime()
	}

	return nil
}

func (j *JSONStorage) SaveSnapshot(ctx context.Context, snapshot *models.ReleaseSnapshot) error {
	if err := prepareSnapshot(snapshot); err != nil {
		return err
	}
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	next := j.data.clone()
	stored := copySnapshot(snapshot)
	replaced := false
	for i, existing := range next.Snapshots {
		if existing.Release.Version == snapshot.Release.Version {
			next.Snapshots[i] = stored
			replaced = true
			break
		}
	}
	if !replaced {
		next.Snapshots = append(next.Snapshots, stored)
	}

	return j.commit(next)
}

func (j *JSONStorage) LatestSnapshot(ctx context.Context) (*models.ReleaseSnapshot, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	var latest *models.ReleaseSnapshot
	for _, s := range j.data.Snapshots {
		if latest == nil || s.FetchedAt.After(latest.FetchedAt) {
			latest = s
		}
	}

	if latest == nil {
		return nil, ErrNotFound
	}

	return copySnapshot(latest), nil
}

func (j *JSONStorage) RecordDownload(ctx context.Context, event *models.DownloadEvent) error {
	if err := prepareEvent(event); err != nil {
		return err
	}
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	next := j.data.clone()
	key := event.StatKey()
	for i, stat := range next.Downloads {
		e := models.DownloadEvent{Version: stat.Version, OS: stat.OS, Arch: stat.Arch, AssetName: stat.AssetName}
		if e.StatKey() == key {
			updated := *stat
			updated.Count++
			if event.CreatedAt.After(updated.LastAt) {
				updated.LastAt = event.CreatedAt
			}
			next.Downloads[i] = &updated
			return j.commit(next)
		}
	}

	next.Downloads = append(next.Downloads, &models.DownloadStat{
		Version:   event.Version,
		OS:        event.OS,
		Arch:      event.Arch,
		AssetName: event.AssetName,
		Count:     1,
		LastAt:    event.CreatedAt,
	})
	return j.commit(next)
}

func (j *JSONStorage) DownloadStats(ctx context.Context) ([]models.DownloadStat, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	stats := make([]models.DownloadStat, 0, len(j.data.Downloads))
	for _, s := range j.data.Downloads {
		stats = append(stats, *s)
	}
	sortStats(stats)

	return stats, nil
}

func (j *JSONStorage) Ping(_ context.Context) error {
	_, err := os.Stat(j.filePath)
	return err
}

// Close is a no-op for JSON storage; every write is already on disk.
func (j *JSONStorage) Close() error {
	return nil
}
