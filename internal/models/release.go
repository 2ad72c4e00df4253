// Package models - Release metadata as published by the desktop app's feed.
// This file holds the release value types shared by the proxy, the selector,
// storage and the CLI.
//
// Design Principles:
// - Asset order is the feed order and is never re-sorted
// - Only the asset name takes part in matching; URL, size and content type are carried through
// - Versions are compared with semantic versioning when both sides parse, raw strings otherwise
// - Download URLs are validated before they are handed to a browser as a redirect
package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Snapshot source constants
const (
	SourceUpstream = "upstream"
	SourceProxy    = "proxy"
)

// ReleaseAsset is one downloadable file attached to a release.
type ReleaseAsset struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// ReleaseData is the latest published release of the desktop app.
//
// Version and Assets are all the selector needs. Name, Notes and PublishedAt
// are carried for the site's download page and are optional on the wire.
type ReleaseData struct {
	Version     string         `json:"version"`
	Name        string         `json:"name,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	PublishedAt string         `json:"published_at,omitempty"`
	Assets      []ReleaseAsset `json:"assets"`
}

// ReleaseSnapshot is a persisted copy of a fetched release, served when the
// upstream feed is unavailable.
type ReleaseSnapshot struct {
	ID        string      `json:"id"`
	Release   ReleaseData `json:"release"`
	Source    string      `json:"source"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// DownloadEvent records one resolved download.
type DownloadEvent struct {
	ID        string    `json:"id"`
	Version   string    `json:"version"`
	OS        string    `json:"os"`
	Arch      string    `json:"arch"`
	AssetName string    `json:"asset_name"`
	Fallback  bool      `json:"fallback"`
	CreatedAt time.Time `json:"created_at"`
}

// DownloadStat aggregates download events per (version, os, arch, asset).
type DownloadStat struct {
	Version   string    `json:"version"`
	OS        string    `json:"os"`
	Arch      string    `json:"arch"`
	AssetName string    `json:"asset_name"`
	Count     int64     `json:"count"`
	LastAt    time.Time `json:"last_at"`
}

func (r *ReleaseData) Validate() error {
	if r.Version == "" {
		return errors.New("version cannot be empty")
	}

	for i := range r.Assets {
		if err := r.Assets[i].Validate(); err != nil {
			return fmt.Errorf("asset %d: %w", i, err)
		}
	}

	return nil
}

func (a *ReleaseAsset) Validate() error {
	if a.Name == "" {
		return errors.New("name cannot be empty")
	}
	if err := ValidateDownloadURL(a.URL); err != nil {
		return fmt.Errorf("asset %q: invalid download URL: %w", a.Name, err)
	}
	if a.Size < 0 {
		return fmt.Errorf("asset %q: size cannot be negative", a.Name)
	}
	return nil
}

// DropInvalidAssets removes the assets that fail validation, keeping the
// order of the rest, and returns one error per removed asset.
func (r *ReleaseData) DropInvalidAssets() []error {
	var errs []error
	kept := r.Assets[:0]
	for i := range r.Assets {
		if err := r.Assets[i].Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		kept = append(kept, r.Assets[i])
	}
	r.Assets = kept
	return errs
}

// SemVer parses the release version, tolerating a leading "v" as release tags
// usually carry one.
func (r *ReleaseData) SemVer() (*semver.Version, error) {
	return semver.NewVersion(strings.TrimSpace(r.Version))
}

// IsNewerOrEqual reports whether r should replace other as the stored latest
// release. A nil other or a version that does not parse on either side always
// allows the replacement.
func (r *ReleaseData) IsNewerOrEqual(other *ReleaseData) bool {
	if other == nil {
		return true
	}

	thisVersion, err := r.SemVer()
	if err != nil {
		return true
	}

	otherVersion, err := other.SemVer()
	if err != nil {
		return true
	}

	return !thisVersion.LessThan(otherVersion)
}

// Clone returns a deep copy so cached values are never mutated by callers.
func (r *ReleaseData) Clone() *ReleaseData {
	if r == nil {
		return nil
	}
	c := *r
	if r.Assets != nil {
		c.Assets = make([]ReleaseAsset, len(r.Assets))
		copy(c.Assets, r.Assets)
	}
	return &c
}

func (r *ReleaseData) AssetNames() []string {
	names := make([]string, 0, len(r.Assets))
	for _, a := range r.Assets {
		names = append(names, a.Name)
	}
	return names
}

func ValidateDownloadURL(raw string) error {
	if raw == "" {
		return errors.New("URL cannot be empty")
	}

	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return errors.New("URL must use HTTP or HTTPS scheme")
	}

	if parsedURL.Host == "" {
		return errors.New("URL must have a valid host")
	}

	return nil
}

// StatKey identifies the aggregation bucket of a download event.
func (e *DownloadEvent) StatKey() string {
	return strings.Join([]string{e.Version, e.OS, e.Arch, e.AssetName}, "|")
}
