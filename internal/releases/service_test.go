package releases

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"loopweb/internal/cache"
	"loopweb/internal/github"
	"loopweb/internal/models"
	"loopweb/internal/platform"
	"loopweb/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockUpstream struct {
	mock.Mock
}

func (m *MockUpstream) LatestRelease(ctx context.Context) (*github.Release, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*github.Release), args.Error(1)
}

type recordingRecorder struct {
	mu         sync.Mutex
	statuses   []cache.Status
	fetches    int
	fetchErrs  int
	selections []string
}

func (r *recordingRecorder) CacheResult(_ context.Context, status cache.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *recordingRecorder) UpstreamFetch(_ context.Context, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches++
	if err != nil {
		r.fetchErrs++
	}
}

func (r *recordingRecorder) Selection(_ context.Context, p platform.Platform, fallback bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fallback {
		r.selections = append(r.selections, p.String()+" fallback")
		return
	}
	r.selections = append(r.selections, p.String())
}

// failingStorage wraps a memory backend and fails the selected operations.
type failingStorage struct {
	*storage.MemoryStorage
	failRecord bool
	failStats  bool
}

func (f *failingStorage) RecordDownload(ctx context.Context, event *models.DownloadEvent) error {
	if f.failRecord {
		return errors.New("disk full")
	}
	return f.MemoryStorage.RecordDownload(ctx, event)
}

func (f *failingStorage) DownloadStats(ctx context.Context) ([]models.DownloadStat, error) {
	if f.failStats {
		return nil, errors.New("connection reset")
	}
	return f.MemoryStorage.DownloadStats(ctx)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errUpstream = &github.StatusError{StatusCode: http.StatusServiceUnavailable}

func ghRelease(tag string, names ...string) *github.Release {
	rel := &github.Release{
		TagName:     tag,
		Name:        "Loop " + tag,
		Body:        "What's new",
		PublishedAt: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
	}
	for _, n := range names {
		rel.Assets = append(rel.Assets, github.Asset{
			Name:               n,
			BrowserDownloadURL: "https://github.com/maildan/loop/releases/download/" + tag + "/" + n,
			Size:               100,
		})
	}
	return rel
}

func loopRelease(tag string) *github.Release {
	return ghRelease(tag,
		"latest.yml",
		"Loop-1.4.0-mac-arm64.dmg",
		"Loop-1.4.0-mac-x64.dmg",
		"Loop-Web-Setup-1.4.0.exe",
		"Loop-1.4.0.AppImage",
	)
}

type fixture struct {
	svc      *Service
	upstream *MockUpstream
	store    *storage.MemoryStorage
	clock    *testClock
	recorder *recordingRecorder
}

func newFixture(t *testing.T, strategy string) *fixture {
	t.Helper()
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	return newFixtureWithStorage(t, strategy, store, store)
}

func newFixtureWithStorage(t *testing.T, strategy string, mem *storage.MemoryStorage, store storage.Storage) *fixture {
	t.Helper()
	f := &fixture{
		upstream: new(MockUpstream),
		store:    mem,
		clock:    &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		recorder: &recordingRecorder{},
	}

	svc, err := NewService(f.upstream, store, Options{
		Strategy: strategy,
		TTL:      10 * time.Minute,
		Recorder: f.recorder,
		Now:      f.clock.Now,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func seedSnapshot(t *testing.T, store storage.Storage, version string, at time.Time) {
	t.Helper()
	data := loopRelease(version).ToReleaseData()
	require.NoError(t, store.SaveSnapshot(context.Background(), &models.ReleaseSnapshot{
		Release:   *data,
		Source:    models.SourceUpstream,
		FetchedAt: at,
	}))
}

func requireServiceError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr), "expected *ServiceError, got %T: %v", err, err)
	assert.Equal(t, status, svcErr.StatusCode)
	assert.Equal(t, code, svcErr.Code)
}

func TestLatest_FetchesAndPersists(t *testing.T) {
	f := newFixture(t, models.CacheStrategyCacheFirst)
	ctx := context.Background()
	f.upstream.On("LatestRelease", mock.Anything).Return(loopRelease("v1.4.0"), nil).Once()

	resp, status, err := f.svc.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, cache.StatusMiss, status)
	assert.Equal(t, "v1.4.0", resp.Version)
	assert.Equal(t, "Loop v1.4.0", resp.Name)
	assert.Equal(t, "2026-02-01T09:00:00Z", resp.PublishedAt)
	assert.Len(t, resp.Assets, 5)
	assert.True(t, f.clock.Now().Equal(resp.FetchedAt))

	stored, err := f.store.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1.4.0", stored.Release.Version)
	assert.Equal(t, models.SourceUpstream, stored.Source)

	resp, status, err = f.svc.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, cache.StatusHit, status)
	assert.Equal(t, "v1.4.0", resp.Version)

	f.upstream.AssertNumberOfCalls(t, "LatestRelease", 1)
	assert.Equal(t, []cache.Status{cache.StatusMiss, cache.StatusHit}, f.recorder.statuses)
	assert.Equal(t, 1, f.recorder.fetches)
}

func TestLatest_ResponseIsACopy(t *testing.T) {
	f := newFixture(t, models.CacheStrategyCacheFirst)
	f.upstream.On("LatestRelease", mock.Anything).Return(loopRelease("v1.4.0"), nil).Once()

	resp, _, err := f.svc.Latest(context.Background())
	require.NoError(t, err)
	resp.Assets[0].URL = "https://evil.example.com"

	resp, _, err = f.svc.Latest(context.Background())
	require.NoError(t, err)
	assert.Contains(t, resp.Assets[0].URL, "github.com")
}

func TestLatest_FallsBackToPersistedSnapshot(t *testing.T) {
	f := newFixture(t, models.CacheStrategyStaleWhileRevalidate)
	seedSnapshot(t, f.store, "v1.3.0", f.clock.Now().Add(-24*time.Hour))
	f.upstream.On("LatestRelease", mock.Anything).Return(nil, errUpstream)

	resp, status, err := f.svc.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cache.StatusFallback, status)
	assert.Equal(t, "v1.3.0", resp.Version)
	assert.Equal(t, 1, f.recorder.fetchErrs)
}

func TestLatest_NothingAvailable(t *testing.T) {
	f := newFixture(t, models.CacheStrategyStaleWhileRevalidate)
	f.upstream.On("LatestRelease", mock.Anything).Return(nil, errUpstream)

	_, _, err := f.svc.Latest(context.Background())
	requireServiceError(t, err, http.StatusBadGateway, models.ErrorCodeUpstreamUnavailable)

	var statusErr *github.StatusError
	assert.True(t, errors.As(err, &statusErr))
}

func TestLatest_InvalidUpstreamRelease(t *testing.T) {
	f := newFixture(t, models.CacheStrategyCacheFirst)
	f.upstream.On("LatestRelease", mock.Anything).Return(&github.Release{TagName: ""}, nil)

	_, _, err := f.svc.Latest(context.Background())
	requireServiceError(t, err, http.StatusBadGateway, models.ErrorCodeUpstreamUnavailable)
}

func TestDownload_SkipsInvalidUpstreamAssets(t *testing.T) {
	f := newFixture(t, models.CacheStrategyCacheFirst)
	ctx := context.Background()
	rel := &github.Release{
		TagName: "v1.1.2",
		Assets: []github.Asset{
			{Name: "latest.yml"},
			{Name: "Loop-Setup-1.1.2.exe", BrowserDownloadURL: "https://dl.example.com/Loop-Setup-1.1.2.exe"},
		},
	}
	f.upstream.On("LatestRelease", mock.Anything).Return(rel, nil).Once()

	resp, err := f.svc.Download(ctx, platform.Platform{OS: platform.Windows, Arch: platform.X64})
	require.NoError(t, err)
	assert.Equal(t, "https://dl.example.com/Loop-Setup-1.1.2.exe", resp.URL)
	assert.False(t, resp.Fallback)

	latest, _, err := f.svc.Latest(ctx)
	require.NoError(t, err)
	require.Len(t, latest.Assets, 1)

	stored, err := f.store.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, stored.Release.Assets, 1)
	f.upstream.AssertExpectations(t)
}

func TestLatest_DoesNotPersistOlderRelease(t *testing.T) {
	f := newFixture(t, models.CacheStrategyCacheFirst)
	ctx := context.Background()
	seedSnapshot(t, f.store, "v2.0.0", f.clock.Now().Add(-time.Hour))
	f.upstream.On("LatestRelease", mock.Anything).Return(loopRelease("v1.9.0"), nil)

	resp, _, err := f.svc.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1.9.0", resp.Version, "upstream stays the source of truth for responses")

	stored, err := f.store.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2.0.0", stored.Release.Version)
}

func TestLatest_NonSemverTagReplacesSnapshot(t *testing.T) {
	f := newFixture(t, models.CacheStrategyCacheFirst)
	ctx := context.Background()
	seedSnapshot(t, f.store, "v2.0.0", f.clock.Now().Add(-time.Hour))
	f.upstream.On("LatestRelease", mock.Anything).Return(loopRelease("nightly"), nil)

	_, _, err := f.svc.Latest(ctx)
	require.NoError(t, err)

	stored, err := f.store.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "nightly", stored.Release.Version)
}

func TestLatest_StaleWhileRevalidate(t *testing.T) {
	f := newFixture(t, models.CacheStrategyStaleWhileRevalidate)
	ctx := context.Background()
	f.upstream.On("LatestRelease", mock.Anything).Return(loopRelease("v1.4.0"), nil).Once()
	f.upstream.On("LatestRelease", mock.Anything).Return(loopRelease("v1.5.0"), nil).Once()

	resp, status, err := f.svc.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, cache.StatusMiss, status)
	assert.Equal(t, "v1.4.0", resp.Version)

	f.clock.Advance(11 * time.Minute)

	resp, status, err = f.svc.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, cache.StatusStale, status)
	assert.Equal(t, "v1.4.0", resp.Version)

	f.svc.Wait()

	resp, status, err = f.svc.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, cache.StatusHit, status)
	assert.Equal(t, "v1.5.0", resp.Version)

	stored, err := f.store.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1.5.0", stored.Release.Version)
}

func TestLatest_NetworkFirstServesCacheOnFailure(t *testing.T) {
	f := newFixture(t, models.CacheStrategyNetworkFirst)
	ctx := context.Background()
	f.upstream.On("LatestRelease", mock.Anything).Return(loopRelease("v1.4.0"), nil).Once()
	f.upstream.On("LatestRelease", mock.Anything).Return(nil, errUpstream).Once()

	_, status, err := f.svc.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, cache.StatusMiss, status)

	resp, status, err := f.svc.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, cache.StatusStale, status)
	assert.Equal(t, "v1.4.0", resp.Version)
}

func TestRefresh(t *testing.T) {
	f := newFixture(t, models.CacheStrategyCacheFirst)
	ctx := context.Background()
	f.upstream.On("LatestRelease", mock.Anything).Return(loopRelease("v1.4.0"), nil).Once()
	f.upstream.On("LatestRelease", mock.Anything).Return(loopRelease("v1.4.1"), nil).Once()

	_, _, err := f.svc.Latest(ctx)
	require.NoError(t, err)

	// The cached entry is still fresh; Refresh goes upstream anyway.
	resp, err := f.svc.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1.4.1", resp.Version)
	assert.Equal(t, 5, resp.Assets)
	assert.Equal(t, "release cache refreshed", resp.Message)

	latest, status, err := f.svc.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, cache.StatusHit, status)
	assert.Equal(t, "v1.4.1", latest.Version)
	f.upstream.AssertNumberOfCalls(t, "LatestRelease", 2)
}

func TestRefresh_UpstreamError(t *testing.T) {
	f := newFixture(t, models.CacheStrategyCacheFirst)
	f.upstream.On("LatestRelease", mock.Anything).Return(nil, errUpstream)

	_, err := f.svc.Refresh(context.Background())
	requireServiceError(t, err, http.StatusBadGateway, models.ErrorCodeUpstreamUnavailable)
}

func TestDownload(t *testing.T) {
	tests := []struct {
		name     string
		platform platform.Platform
		asset    string
	}{
		{"windows", platform.Platform{OS: platform.Windows, Arch: platform.X64}, "Loop-Web-Setup-1.4.0.exe"},
		{"mac arm", platform.Platform{OS: platform.MacOS, Arch: platform.ARM64}, "Loop-1.4.0-mac-arm64.dmg"},
		{"mac intel", platform.Platform{OS: platform.MacOS, Arch: platform.X64}, "Loop-1.4.0-mac-x64.dmg"},
		{"linux", platform.Platform{OS: platform.Linux, Arch: platform.X64}, "Loop-1.4.0.AppImage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, models.CacheStrategyCacheFirst)
			f.upstream.On("LatestRelease", mock.Anything).Return(loopRelease("v1.4.0"), nil)

			resp, err := f.svc.Download(context.Background(), tt.platform)
			require.NoError(t, err)
			assert.Equal(t, tt.asset, resp.Asset)
			assert.Equal(t, "https://github.com/maildan/loop/releases/download/v1.4.0/"+tt.asset, resp.URL)
			assert.Equal(t, "v1.4.0", resp.Version)
			assert.Equal(t, string(tt.platform.OS), resp.OS)
			assert.Equal(t, string(tt.platform.Arch), resp.Arch)
			assert.NotEmpty(t, resp.Pattern)
			assert.False(t, resp.Fallback)

			stats, err := f.store.DownloadStats(context.Background())
			require.NoError(t, err)
			require.Len(t, stats, 1)
			assert.Equal(t, tt.asset, stats[0].AssetName)
			assert.Equal(t, int64(1), stats[0].Count)
			assert.Equal(t, []string{tt.platform.String()}, f.recorder.selections)
		})
	}
}

func TestDownload_UnknownPlatform(t *testing.T) {
	f := newFixture(t, models.CacheStrategyCacheFirst)

	_, err := f.svc.Download(context.Background(), platform.Unknown)
	requireServiceError(t, err, http.StatusUnprocessableEntity, models.ErrorCodeUnknownPlatform)
	f.upstream.AssertNotCalled(t, "LatestRelease", mock.Anything)
}

func TestDownload_NoAssets(t *testing.T) {
	f := newFixture(t, models.CacheStrategyCacheFirst)
	f.upstream.On("LatestRelease", mock.Anything).Return(ghRelease("v1.4.0"), nil)

	_, err := f.svc.Download(context.Background(), platform.Platform{OS: platform.Linux, Arch: platform.X64})
	requireServiceError(t, err, http.StatusNotFound, models.ErrorCodeNoAsset)
}

func TestDownload_FirstAssetFallback(t *testing.T) {
	f := newFixture(t, models.CacheStrategyCacheFirst)
	f.upstream.On("LatestRelease", mock.Anything).Return(ghRelease("v1.4.0", "checksums.txt", "Loop-1.4.0-mac-arm64.dmg"), nil)
	p := platform.Platform{OS: platform.Linux, Arch: platform.X64}

	resp, err := f.svc.Download(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "checksums.txt", resp.Asset)
	assert.True(t, resp.Fallback)
	assert.Nil(t, resp.Pattern)
	assert.Equal(t, []string{"linux/x64 fallback"}, f.recorder.selections)
}

func TestDownload_WithoutRecording(t *testing.T) {
	f := newFixture(t, models.CacheStrategyCacheFirst)
	f.upstream.On("LatestRelease", mock.Anything).Return(loopRelease("v1.4.0"), nil)

	ctx := WithoutRecording(context.Background())
	assert.False(t, Recording(ctx))
	assert.True(t, Recording(context.Background()))

	resp, err := f.svc.Download(ctx, platform.Platform{OS: platform.Windows, Arch: platform.X64})
	require.NoError(t, err)
	assert.Equal(t, "Loop-Web-Setup-1.4.0.exe", resp.Asset)

	stats, err := f.store.DownloadStats(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestDownload_RecordFailureIsNotFatal(t *testing.T) {
	mem, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	f := newFixtureWithStorage(t, models.CacheStrategyCacheFirst, mem, &failingStorage{MemoryStorage: mem, failRecord: true})
	f.upstream.On("LatestRelease", mock.Anything).Return(loopRelease("v1.4.0"), nil)

	resp, err := f.svc.Download(context.Background(), platform.Platform{OS: platform.Windows, Arch: platform.X64})
	require.NoError(t, err)
	assert.Equal(t, "Loop-Web-Setup-1.4.0.exe", resp.Asset)
}

func TestStats(t *testing.T) {
	f := newFixture(t, models.CacheStrategyCacheFirst)
	ctx := context.Background()
	f.upstream.On("LatestRelease", mock.Anything).Return(loopRelease("v1.4.0"), nil)

	win := platform.Platform{OS: platform.Windows, Arch: platform.X64}
	mac := platform.Platform{OS: platform.MacOS, Arch: platform.ARM64}
	for _, p := range []platform.Platform{win, mac, win} {
		_, err := f.svc.Download(ctx, p)
		require.NoError(t, err)
	}

	resp, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.Total)
	require.Len(t, resp.Stats, 2)
	assert.Equal(t, "windows", resp.Stats[0].OS)
	assert.Equal(t, int64(2), resp.Stats[0].Count)
}

func TestStats_StorageError(t *testing.T) {
	mem, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	f := newFixtureWithStorage(t, models.CacheStrategyCacheFirst, mem, &failingStorage{MemoryStorage: mem, failStats: true})

	_, err = f.svc.Stats(context.Background())
	requireServiceError(t, err, http.StatusInternalServerError, models.ErrorCodeInternalError)
}

func TestNewFromConfig(t *testing.T) {
	var gotAuth, gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		assert.Equal(t, "/repos/maildan/loop/releases/latest", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tag_name":"v1.4.0","assets":[{"name":"Loop-1.4.0.AppImage","browser_download_url":"https://dl.example.com/Loop-1.4.0.AppImage"}]}`))
	}))
	defer server.Close()

	cfg := models.NewDefaultConfig()
	cfg.Upstream.BaseURL = server.URL
	cfg.Upstream.Token = "ghp_test"

	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)

	svc, err := NewFromConfig(cfg, store, nil)
	require.NoError(t, err)

	resp, err := svc.Download(context.Background(), platform.Platform{OS: platform.Linux, Arch: platform.X64})
	require.NoError(t, err)
	assert.Equal(t, "https://dl.example.com/Loop-1.4.0.AppImage", resp.URL)
	assert.Equal(t, "Bearer ghp_test", gotAuth)
	assert.Equal(t, "loopweb", gotUA)
}

func TestNewService_Defaults(t *testing.T) {
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)

	svc, err := NewService(new(MockUpstream), store, Options{})
	require.NoError(t, err)
	assert.Equal(t, models.CacheStrategyStaleWhileRevalidate, svc.strategy)
	assert.NotNil(t, svc.recorder)
}
