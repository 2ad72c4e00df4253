package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"loopweb/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRelease(version string) models.ReleaseData {
	return models.ReleaseData{
		Version:     version,
		Name:        "Loop " + version,
		Notes:       "notes for " + version,
		PublishedAt: "2026-03-01T10:00:00Z",
		Assets: []models.ReleaseAsset{
			{Name: "Loop-1.0.0-arm64.dmg", URL: "https://dl.example.com/Loop-1.0.0-arm64.dmg", Size: 1024},
			{Name: "Loop-Web-Setup-1.0.0.exe", URL: "https://dl.example.com/Loop-Web-Setup-1.0.0.exe"},
		},
	}
}

func testEvent(version, os, arch, asset string, at time.Time) *models.DownloadEvent {
	return &models.DownloadEvent{
		Version:   version,
		OS:        os,
		Arch:      arch,
		AssetName: asset,
		CreatedAt: at,
	}
}

// runStorageSuite checks the behaviour every backend must share.
func runStorageSuite(t *testing.T, newStorage func(t *testing.T) Storage) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("LatestSnapshot empty", func(t *testing.T) {
		s := newStorage(t)
		_, err := s.LatestSnapshot(context.Background())
		assert.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)
	})

	t.Run("SaveSnapshot and LatestSnapshot", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		snap := &models.ReleaseSnapshot{
			Release:   testRelease("v1.0.0"),
			Source:    models.SourceUpstream,
			FetchedAt: base,
		}
		require.NoError(t, s.SaveSnapshot(ctx, snap))
		assert.NotEmpty(t, snap.ID)

		got, err := s.LatestSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, "v1.0.0", got.Release.Version)
		assert.Equal(t, "Loop v1.0.0", got.Release.Name)
		assert.Equal(t, models.SourceUpstream, got.Source)
		assert.True(t, base.Equal(got.FetchedAt), "fetched_at %v != %v", got.FetchedAt, base)
		require.Len(t, got.Release.Assets, 2)
		assert.Equal(t, "Loop-1.0.0-arm64.dmg", got.Release.Assets[0].Name)
		assert.Equal(t, int64(1024), got.Release.Assets[0].Size)
	})

	t.Run("LatestSnapshot picks most recent fetch", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		require.NoError(t, s.SaveSnapshot(ctx, &models.ReleaseSnapshot{Release: testRelease("v1.1.0"), Source: models.SourceUpstream, FetchedAt: base.Add(time.Hour)}))
		require.NoError(t, s.SaveSnapshot(ctx, &models.ReleaseSnapshot{Release: testRelease("v1.0.0"), Source: models.SourceUpstream, FetchedAt: base}))

		got, err := s.LatestSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, "v1.1.0", got.Release.Version)
	})

	t.Run("SaveSnapshot replaces same version", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		require.NoError(t, s.SaveSnapshot(ctx, &models.ReleaseSnapshot{Release: testRelease("v1.0.0"), Source: models.SourceProxy, FetchedAt: base}))

		updated := testRelease("v1.0.0")
		updated.Notes = "hotfixed notes"
		require.NoError(t, s.SaveSnapshot(ctx, &models.ReleaseSnapshot{Release: updated, Source: models.SourceUpstream, FetchedAt: base.Add(time.Minute)}))

		got, err := s.LatestSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, "hotfixed notes", got.Release.Notes)
		assert.Equal(t, models.SourceUpstream, got.Source)
		assert.True(t, base.Add(time.Minute).Equal(got.FetchedAt))
	})

	t.Run("SaveSnapshot validation", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		assert.Error(t, s.SaveSnapshot(ctx, nil))
		assert.Error(t, s.SaveSnapshot(ctx, &models.ReleaseSnapshot{}))
	})

	t.Run("Returned snapshot is a copy", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		require.NoError(t, s.SaveSnapshot(ctx, &models.ReleaseSnapshot{Release: testRelease("v1.0.0"), FetchedAt: base}))

		got, err := s.LatestSnapshot(ctx)
		require.NoError(t, err)
		got.Release.Assets[0].Name = "tampered"

		again, err := s.LatestSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Loop-1.0.0-arm64.dmg", again.Release.Assets[0].Name)
	})

	t.Run("DownloadStats empty", func(t *testing.T) {
		s := newStorage(t)
		stats, err := s.DownloadStats(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, stats)
		assert.Empty(t, stats)
	})

	t.Run("RecordDownload aggregates", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		events := []*models.DownloadEvent{
			testEvent("v1.0.0", "windows", "x64", "Loop-Web-Setup-1.0.0.exe", base),
			testEvent("v1.0.0", "windows", "x64", "Loop-Web-Setup-1.0.0.exe", base.Add(2*time.Minute)),
			testEvent("v1.0.0", "windows", "x64", "Loop-Web-Setup-1.0.0.exe", base.Add(time.Minute)),
			testEvent("v1.0.0", "macos", "arm64", "Loop-1.0.0-arm64.dmg", base),
			testEvent("v1.0.0", "linux", "x64", "Loop-1.0.0.AppImage", base),
		}
		for _, e := range events {
			require.NoError(t, s.RecordDownload(ctx, e))
			assert.NotEmpty(t, e.ID)
		}

		stats, err := s.DownloadStats(ctx)
		require.NoError(t, err)
		require.Len(t, stats, 3)

		assert.Equal(t, "windows", stats[0].OS)
		assert.Equal(t, int64(3), stats[0].Count)
		assert.True(t, base.Add(2*time.Minute).Equal(stats[0].LastAt), "last_at %v", stats[0].LastAt)

		// Ties are ordered by version, os, arch then asset.
		assert.Equal(t, "linux", stats[1].OS)
		assert.Equal(t, "macos", stats[2].OS)
		assert.Equal(t, int64(1), stats[1].Count)
	})

	t.Run("RecordDownload validation", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		assert.Error(t, s.RecordDownload(ctx, nil))
		assert.Error(t, s.RecordDownload(ctx, &models.DownloadEvent{Version: "v1.0.0"}))
		assert.Error(t, s.RecordDownload(ctx, &models.DownloadEvent{AssetName: "a.exe"}))
	})

	t.Run("Concurrent downloads", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.RecordDownload(ctx, testEvent("v1.0.0", "linux", "x64", "Loop.AppImage", time.Time{})))
			}()
		}
		wg.Wait()

		stats, err := s.DownloadStats(ctx)
		require.NoError(t, err)
		require.Len(t, stats, 1)
		assert.Equal(t, int64(20), stats[0].Count)
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStorage(t)
		assert.NoError(t, s.Ping(context.Background()))
	})
}
