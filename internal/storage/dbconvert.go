package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"loopweb/internal/models"

	"github.com/google/uuid"
)

// marshalRelease converts release data to the JSON stored in database columns.
func marshalRelease(release models.ReleaseData) ([]byte, error) {
	if release.Assets == nil {
		release.Assets = []models.ReleaseAsset{}
	}
	data, err := json.Marshal(release)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal release: %w", err)
	}
	return data, nil
}

// unmarshalRelease converts a stored JSON column back to release data.
func unmarshalRelease(data []byte) (models.ReleaseData, error) {
	var release models.ReleaseData
	if len(data) == 0 {
		return release, nil
	}
	if err := json.Unmarshal(data, &release); err != nil {
		return release, fmt.Errorf("failed to unmarshal release: %w", err)
	}
	if release.Assets == nil {
		release.Assets = []models.ReleaseAsset{}
	}
	return release, nil
}

// prepareSnapshot fills in the identifier and timestamp of a snapshot about
// to be stored.
func prepareSnapshot(snapshot *models.ReleaseSnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}
	if snapshot.Release.Version == "" {
		return fmt.Errorf("snapshot version cannot be empty")
	}
	if snapshot.ID == "" {
		snapshot.ID = uuid.NewString()
	}
	if snapshot.FetchedAt.IsZero() {
		snapshot.FetchedAt = time.Now().UTC()
	}
	return nil
}

// prepareEvent fills in the identifier and timestamp of a download event.
func prepareEvent(event *models.DownloadEvent) error {
	if event == nil {
		return fmt.Errorf("download event cannot be nil")
	}
	if event.Version == "" || event.AssetName == "" {
		return fmt.Errorf("download event requires version and asset name")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return nil
}

// sortStats orders statistics the same way the SQL backends do.
func sortStats(stats []models.DownloadStat) {
	sort.Slice(stats, func(i, j int) bool {
		a, b := stats[i], stats[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.Version != b.Version {
			return a.Version < b.Version
		}
		if a.OS != b.OS {
			return a.OS < b.OS
		}
		if a.Arch != b.Arch {
			return a.Arch < b.Arch
		}
		return a.AssetName < b.AssetName
	})
}
