// Package github is a minimal client for the GitHub Releases API.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"loopweb/internal/models"
)

const (
	DefaultBaseURL = "https://api.github.com"
	AcceptHeader   = "application/vnd.github+json"
	APIVersion     = "2022-11-28"

	// maxBodySize bounds the release document read into memory.
	maxBodySize = 4 << 20
)

// Client fetches release metadata for a single repository. Token is optional
// and must only be set where the value cannot reach a browser.
type Client struct {
	BaseURL    string
	Owner      string
	Repo       string
	Token      string
	UserAgent  string
	HTTPClient *http.Client
}

// Release maps the fields of the GitHub release document that loopweb uses.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Body        string    `json:"body"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
	Assets      []Asset   `json:"assets"`
}

type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
	ContentType        string `json:"content_type"`
}

// StatusError is returned for any non-200 answer.
type StatusError struct {
	StatusCode  int
	RateLimited bool
	Message     string
}

func (e *StatusError) Error() string {
	if e.RateLimited {
		return fmt.Sprintf("github: rate limited (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		return fmt.Sprintf("github: unexpected status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("github: unexpected status %d", e.StatusCode)
}

// NewClient creates a client for owner/repo against the public API.
func NewClient(owner, repo string) *Client {
	return &Client{
		BaseURL:    DefaultBaseURL,
		Owner:      owner,
		Repo:       repo,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// LatestReleaseURL is the endpoint of the latest published, non-draft,
// non-prerelease release.
func (c *Client) LatestReleaseURL() string {
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return fmt.Sprintf("%s/repos/%s/%s/releases/latest", strings.TrimRight(base, "/"), c.Owner, c.Repo)
}

// LatestRelease fetches the latest release document.
func (c *Client) LatestRelease(ctx context.Context) (*Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.LatestReleaseURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", AcceptHeader)
	req.Header.Set("X-GitHub-Api-Version", APIVersion)
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError(resp)
	}

	var release Release
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&release); err != nil {
		return nil, fmt.Errorf("failed to decode release: %w", err)
	}

	return &release, nil
}

func newStatusError(resp *http.Response) *StatusError {
	statusErr := &StatusError{StatusCode: resp.StatusCode}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		statusErr.RateLimited = resp.Header.Get("X-RateLimit-Remaining") == "0" ||
			resp.StatusCode == http.StatusTooManyRequests
	}

	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		statusErr.Message = body.Message
	}

	return statusErr
}

// ToReleaseData converts the GitHub document into the shape served by the
// proxy. Asset order is preserved.
func (r *Release) ToReleaseData() *models.ReleaseData {
	data := &models.ReleaseData{
		Version: r.TagName,
		Name:    r.Name,
		Notes:   r.Body,
		Assets:  make([]models.ReleaseAsset, 0, len(r.Assets)),
	}

	if !r.PublishedAt.IsZero() {
		data.PublishedAt = r.PublishedAt.UTC().Format(time.RFC3339)
	}

	for _, a := range r.Assets {
		data.Assets = append(data.Assets, models.ReleaseAsset{
			Name:        a.Name,
			URL:         a.BrowserDownloadURL,
			Size:        a.Size,
			ContentType: a.ContentType,
		})
	}

	return data
}
