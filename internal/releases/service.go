// Package releases is the server side of the release proxy. It fetches the
// latest release from GitHub through a response cache, keeps a persisted
// snapshot for when GitHub is unreachable, and resolves downloads for a
// visitor's platform.
package releases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"loopweb/internal/cache"
	"loopweb/internal/github"
	"loopweb/internal/models"
	"loopweb/internal/platform"
	"loopweb/internal/release"
	"loopweb/internal/storage"
)

const latestKey = "latest"

// Upstream is the source of truth for the latest release.
type Upstream interface {
	LatestRelease(ctx context.Context) (*github.Release, error)
}

// Recorder receives the service's metric events. A nil Recorder in Options
// disables recording.
type Recorder interface {
	CacheResult(ctx context.Context, status cache.Status)
	UpstreamFetch(ctx context.Context, elapsed time.Duration, err error)
	Selection(ctx context.Context, p platform.Platform, fallback bool)
}

// Options configures a Service.
type Options struct {
	Strategy   string
	TTL        time.Duration
	MaxEntries int
	Recorder   Recorder
	Logger     *slog.Logger
	Now        func() time.Time
}

// Service handles fetching, caching and resolving the latest release
type Service struct {
	upstream Upstream
	storage  storage.Storage
	cache    *cache.Cache[*models.ReleaseSnapshot]
	strategy string
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new releases service.
func NewService(upstream Upstream, store storage.Storage, opts Options) (*Service, error) {
	if opts.Strategy == "" {
		opts.Strategy = models.CacheStrategyStaleWhileRevalidate
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 16
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}

	c, err := cache.New[*models.ReleaseSnapshot](cache.Options{
		Size:   opts.MaxEntries,
		TTL:    opts.TTL,
		Now:    opts.Now,
		Logger: opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create release cache: %w", err)
	}

	return &Service{
		upstream: upstream,
		storage:  store,
		cache:    c,
		strategy: opts.Strategy,
		recorder: opts.Recorder,
		logger:   opts.Logger,
		now:      opts.Now,
	}, nil
}

// NewFromConfig builds a Service from the loaded configuration.
func NewFromConfig(cfg *models.Config, store storage.Storage, recorder Recorder) (*Service, error) {
	client := github.NewClient(cfg.Upstream.Owner, cfg.Upstream.Repo)
	if cfg.Upstream.BaseURL != "" {
		client.BaseURL = cfg.Upstream.BaseURL
	}
	client.Token = cfg.Upstream.Token
	client.UserAgent = cfg.Upstream.UserAgent
	client.HTTPClient.Timeout = cfg.Upstream.Timeout

	// With the cache disabled every lookup goes upstream; cached entries
	// are only used when that fails.
	strategy := cfg.Cache.Strategy
	if !cfg.Cache.Enabled {
		strategy = models.CacheStrategyNetworkFirst
	}

	return NewService(client, store, Options{
		Strategy:   strategy,
		TTL:        cfg.Cache.TTL,
		MaxEntries: cfg.Cache.MaxEntries,
		Recorder:   recorder,
	})
}

// Latest returns the latest release using the configured cache strategy.
// When the upstream fetch fails and the cache has nothing to offer, the last
// persisted snapshot is returned with cache.StatusFallback.
func (s *Service) Latest(ctx context.Context) (*models.LatestReleaseResponse, cache.Status, error) {
	snap, status, err := s.cache.Fetch(ctx, s.strategy, latestKey, s.fetchUpstream)
	if err != nil {
		stored, serr := s.storage.LatestSnapshot(ctx)
		if serr != nil {
			if !errors.Is(serr, storage.ErrNotFound) {
				s.logger.Error("Failed to read persisted snapshot", "error", serr)
			}
			s.logger.Error("No release available", "error", err)
			return nil, status, NewUpstreamUnavailableError(err)
		}

		s.logger.Warn("Upstream unavailable, serving persisted snapshot",
			"version", stored.Release.Version,
			"fetched_at", stored.FetchedAt,
			"error", err)
		snap, status = stored, cache.StatusFallback
	}

	s.recorder.CacheResult(ctx, status)
	return models.NewLatestReleaseResponse(&snap.Release, snap.FetchedAt), status, nil
}

// Refresh fetches the latest release from upstream into the cache regardless
// of the freshness of the cached entry.
func (s *Service) Refresh(ctx context.Context) (*models.RefreshResponse, error) {
	snap, err := s.cache.Load(ctx, latestKey, s.fetchUpstream)
	if err != nil {
		return nil, NewUpstreamUnavailableError(err)
	}

	s.logger.Info("Release cache refreshed", "version", snap.Release.Version, "assets", len(snap.Release.Assets))

	return &models.RefreshResponse{
		Version:   snap.Release.Version,
		Assets:    len(snap.Release.Assets),
		FetchedAt: snap.FetchedAt,
		Message:   "release cache refreshed",
	}, nil
}

// Download picks the installer for p from the latest release and records the
// download unless ctx came from WithoutRecording.
func (s *Service) Download(ctx context.Context, p platform.Platform) (*models.DownloadResponse, error) {
	if !p.IsKnown() {
		return nil, NewUnknownPlatformError(p)
	}

	latest, _, err := s.Latest(ctx)
	if err != nil {
		return nil, err
	}

	sel, ok := release.Match(latest.Assets, p)
	if !ok {
		return nil, NewNoAssetError(latest.Version)
	}

	s.recorder.Selection(ctx, p, sel.Fallback())
	if sel.Fallback() {
		s.logger.Warn("No pattern matched, using first asset",
			"platform", p.String(),
			"version", latest.Version,
			"asset", sel.Asset.Name)
	}

	event := &models.DownloadEvent{
		Version:   latest.Version,
		OS:        string(p.OS),
		Arch:      string(p.Arch),
		AssetName: sel.Asset.Name,
		Fallback:  sel.Fallback(),
		CreatedAt: s.now().UTC(),
	}
	if Recording(ctx) {
		if err := s.storage.RecordDownload(ctx, event); err != nil {
			// Statistics are best effort.
			s.logger.Warn("Failed to record download", "asset", sel.Asset.Name, "error", err)
		}
	}

	return &models.DownloadResponse{
		URL:      sel.Asset.URL,
		Asset:    sel.Asset.Name,
		Version:  latest.Version,
		OS:       string(p.OS),
		Arch:     string(p.Arch),
		Pattern:  []string(sel.Pattern),
		Fallback: sel.Fallback(),
	}, nil
}

type noRecordKey struct{}

// WithoutRecording marks ctx so that Download resolves the asset without
// counting it. HEAD requests use it.
func WithoutRecording(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRecordKey{}, true)
}

// Recording reports whether Download should count a download made with ctx.
func Recording(ctx context.Context) bool {
	skip, _ := ctx.Value(noRecordKey{}).(bool)
	return !skip
}

// Stats returns the aggregated download statistics.
func (s *Service) Stats(ctx context.Context) (*models.DownloadStatsResponse, error) {
	stats, err := s.storage.DownloadStats(ctx)
	if err != nil {
		return nil, NewInternalError("failed to load download statistics", err)
	}
	return models.NewDownloadStatsResponse(stats), nil
}

// Wait blocks until background cache revalidations have finished. It is
// used during shutdown.
func (s *Service) Wait() {
	s.cache.Wait()
}

// fetchUpstream loads the latest release from GitHub and persists it.
func (s *Service) fetchUpstream(ctx context.Context) (*models.ReleaseSnapshot, error) {
	start := time.Now()
	rel, err := s.upstream.LatestRelease(ctx)
	s.recorder.UpstreamFetch(ctx, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest release: %w", err)
	}

	data := rel.ToReleaseData()
	for _, err := range data.DropInvalidAssets() {
		s.logger.Warn("Skipping invalid upstream asset", "version", data.Version, "error", err)
	}
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("invalid release from upstream: %w", err)
	}

	snap := &models.ReleaseSnapshot{
		Release:   *data,
		Source:    models.SourceUpstream,
		FetchedAt: s.now().UTC(),
	}
	s.persist(ctx, snap)

	return snap, nil
}

// persist stores snap unless a newer version is already stored. Storage
// failures are logged; the fetched release is still served.
func (s *Service) persist(ctx context.Context, snap *models.ReleaseSnapshot) {
	stored, err := s.storage.LatestSnapshot(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		s.logger.Warn("Failed to read persisted snapshot", "error", err)
		return
	case !snap.Release.IsNewerOrEqual(&stored.Release):
		s.logger.Warn("Upstream returned an older release than stored, not persisting",
			"fetched", snap.Release.Version,
			"stored", stored.Release.Version)
		return
	}

	toSave := &models.ReleaseSnapshot{
		Release:   *snap.Release.Clone(),
		Source:    snap.Source,
		FetchedAt: snap.FetchedAt,
	}
	if err := s.storage.SaveSnapshot(ctx, toSave); err != nil {
		s.logger.Warn("Failed to persist release snapshot", "version", snap.Release.Version, "error", err)
		return
	}
	snap.ID = toSave.ID
}

type nopRecorder struct{}

func (nopRecorder) CacheResult(context.Context, cache.Status) {}

func (nopRecorder) UpstreamFetch(context.Context, time.Duration, error) {}

func (nopRecorder) Selection(context.Context, platform.Platform, bool) {}
