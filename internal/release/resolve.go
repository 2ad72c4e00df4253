package release

import (
	"context"
	"errors"

	"loopweb/internal/models"
	"loopweb/internal/platform"
)

var (
	// ErrUnknownPlatform means the OS could not be detected; the visitor
	// should be offered a manual choice.
	ErrUnknownPlatform = errors.New("platform could not be detected")
	// ErrNoRelease means no release could be fetched from any source.
	ErrNoRelease = errors.New("no release available")
	// ErrNoAsset means the release has no downloadable files.
	ErrNoAsset = errors.New("release has no downloadable assets")
)

// Resolution is a successfully resolved download.
type Resolution struct {
	Release   *models.ReleaseData
	Selection Selection
	Platform  platform.Platform
}

func (r *Resolution) URL() string {
	return r.Selection.Asset.URL
}

// Resolve runs the full pipeline for p: fetch the latest release, then pick
// the asset. The platform is checked first so an undetectable visitor costs
// no network round trip.
func Resolve(ctx context.Context, fetcher LatestFetcher, p platform.Platform) (*Resolution, error) {
	if !p.IsKnown() {
		return nil, ErrUnknownPlatform
	}

	data := fetcher.FetchLatest(ctx)
	if data == nil {
		return nil, ErrNoRelease
	}

	sel, ok := Match(data.Assets, p)
	if !ok {
		return nil, ErrNoAsset
	}

	return &Resolution{Release: data, Selection: sel, Platform: p}, nil
}
