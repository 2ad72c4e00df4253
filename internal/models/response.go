// Package models - API response types and error handling.
// This file defines all outgoing API response structures with consistent formatting.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Optional fields use omitempty to reduce response size
// - Machine-readable error codes next to human-readable messages
// - RFC3339 timestamps for international compatibility
package models

import (
	"time"
)

// LatestReleaseResponse is the payload of GET /api/releases/latest. Its shape
// is the contract the site's download helper reads, so field names must not
// change.
type LatestReleaseResponse struct {
	ReleaseData
	FetchedAt time.Time `json:"fetched_at"`
}

// DownloadResponse describes the installer chosen for a visitor.
//
// Fallback is true when no pattern matched and the first asset was returned.
type DownloadResponse struct {
	URL      string   `json:"url"`
	Asset    string   `json:"asset"`
	Version  string   `json:"version"`
	OS       string   `json:"os"`
	Arch     string   `json:"arch"`
	Pattern  []string `json:"pattern,omitempty"`
	Fallback bool     `json:"fallback"`
}

// PlatformResponse echoes what the server detected for a request together
// with the patterns that would be tried, most specific first.
type PlatformResponse struct {
	OS        string     `json:"os"`
	Arch      string     `json:"arch"`
	UserAgent string     `json:"user_agent,omitempty"`
	Patterns  [][]string `json:"patterns"`
}

type DownloadStatsResponse struct {
	Stats []DownloadStat `json:"stats"`
	Total int64          `json:"total"`
}

type RefreshResponse struct {
	Version   string    `json:"version"`
	Assets    int       `json:"assets"`
	FetchedAt time.Time `json:"fetched_at"`
	Message   string    `json:"message"`
}

// ErrorResponse provides structured error information with debugging context.
//
// Error Handling Design:
// - Consistent error structure across all endpoints
// - Machine-readable error codes for programmatic handling
// - Request ID ties the response to the access log line
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]interface{}     `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
	StatusUnknown   = "unknown"   // Status indeterminate
)

// Standard HTTP Error Codes
//
// Error Code Strategy:
// - Upper-case with underscores for consistency
// - Maps to standard HTTP status codes
// - Machine-readable for client error handling
const (
	ErrorCodeNotFound            = "NOT_FOUND"            // 404: Resource doesn't exist
	ErrorCodeNoAsset             = "NO_ASSET"             // 404: Release has nothing to download
	ErrorCodeBadRequest          = "BAD_REQUEST"          // 400: Invalid request format
	ErrorCodeUnknownPlatform     = "UNKNOWN_PLATFORM"     // 422: OS could not be determined
	ErrorCodeInternalError       = "INTERNAL_ERROR"       // 500: Server-side error
	ErrorCodeUnauthorized        = "UNAUTHORIZED"         // 401: Authentication required
	ErrorCodeForbidden           = "FORBIDDEN"            // 403: Endpoint disabled
	ErrorCodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"   // 405: Wrong HTTP method
	ErrorCodeRateLimited         = "RATE_LIMITED"         // 429: Too many requests
	ErrorCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE" // 502: Releases feed unreachable
	ErrorCodeServiceUnavailable  = "SERVICE_UNAVAILABLE"  // 503: Service temporarily down
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewLatestReleaseResponse(data *ReleaseData, fetchedAt time.Time) *LatestReleaseResponse {
	resp := &LatestReleaseResponse{FetchedAt: fetchedAt}
	if data != nil {
		resp.ReleaseData = *data.Clone()
	}
	if resp.Assets == nil {
		resp.Assets = []ReleaseAsset{}
	}
	return resp
}

func NewDownloadStatsResponse(stats []DownloadStat) *DownloadStatsResponse {
	resp := &DownloadStatsResponse{Stats: stats}
	if resp.Stats == nil {
		resp.Stats = []DownloadStat{}
	}
	for _, s := range stats {
		resp.Total += s.Count
	}
	return resp
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddMetric(name string, value interface{}) {
	h.Metrics[name] = value
}
