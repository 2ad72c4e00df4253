package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"loopweb/internal/github"
	"loopweb/internal/models"
)

// ProxyPath is the site endpoint serving the cached latest release.
const ProxyPath = "/api/releases/latest"

const maxProxyBodySize = 4 << 20

// LatestFetcher yields the latest release or nil when none could be obtained.
type LatestFetcher interface {
	FetchLatest(ctx context.Context) *models.ReleaseData
}

// Fetcher tries the site proxy first and the public GitHub API second. Each
// source is tried once, in order. No token is ever sent upstream from here.
type Fetcher struct {
	// ProxyURL is the site origin, for example https://loop.example.com.
	// An empty value skips the proxy.
	ProxyURL   string
	Upstream   *github.Client
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewFetcher creates a fetcher for the given site origin and repository.
func NewFetcher(proxyURL, owner, repo string, timeout time.Duration) *Fetcher {
	httpClient := &http.Client{Timeout: timeout}

	upstream := github.NewClient(owner, repo)
	upstream.HTTPClient = httpClient

	return &Fetcher{
		ProxyURL:   proxyURL,
		Upstream:   upstream,
		HTTPClient: httpClient,
		Logger:     slog.Default(),
	}
}

// proxyRelease accepts both the proxy's own asset shape and raw GitHub assets.
type proxyRelease struct {
	Version     string       `json:"version"`
	Name        string       `json:"name"`
	Notes       string       `json:"notes"`
	PublishedAt string       `json:"published_at"`
	Assets      []proxyAsset `json:"assets"`
}

type proxyAsset struct {
	Name               string `json:"name"`
	URL                string `json:"url"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
	ContentType        string `json:"content_type"`
}

// FetchLatest never fails. A proxy failure is logged and followed by one
// upstream attempt; if that fails too the result is nil.
func (f *Fetcher) FetchLatest(ctx context.Context) *models.ReleaseData {
	logger := f.logger()

	if f.ProxyURL != "" {
		data, err := f.fetchProxy(ctx)
		if err == nil {
			logger.Debug("Fetched latest release from proxy", "version", data.Version, "assets", len(data.Assets))
			return data
		}
		logger.Warn("Release proxy failed, falling back to GitHub", "error", err)
	}

	if f.Upstream == nil {
		return nil
	}

	release, err := f.Upstream.LatestRelease(ctx)
	if err != nil {
		logger.Error("GitHub release lookup failed", "error", err)
		return nil
	}

	data := release.ToReleaseData()
	logger.Debug("Fetched latest release from GitHub", "version", data.Version, "assets", len(data.Assets))
	return data
}

func (f *Fetcher) fetchProxy(ctx context.Context) (*models.ReleaseData, error) {
	endpoint := strings.TrimRight(f.ProxyURL, "/") + ProxyPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	httpClient := f.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("proxy request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("proxy returned status %d", resp.StatusCode)
	}

	var payload proxyRelease
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProxyBodySize)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode proxy response: %w", err)
	}
	if payload.Version == "" {
		return nil, errors.New("proxy response has no version")
	}

	return payload.toReleaseData(), nil
}

func (p *proxyRelease) toReleaseData() *models.ReleaseData {
	data := &models.ReleaseData{
		Version:     p.Version,
		Name:        p.Name,
		Notes:       p.Notes,
		PublishedAt: p.PublishedAt,
		Assets:      make([]models.ReleaseAsset, 0, len(p.Assets)),
	}

	for _, a := range p.Assets {
		url := a.URL
		if url == "" {
			url = a.BrowserDownloadURL
		}
		data.Assets = append(data.Assets, models.ReleaseAsset{
			Name:        a.Name,
			URL:         url,
			Size:        a.Size,
			ContentType: a.ContentType,
		})
	}

	return data
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}
