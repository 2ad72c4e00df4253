package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"loopweb/internal/cache"
	"loopweb/internal/models"
	"loopweb/internal/platform"
	"loopweb/internal/release"
	"loopweb/internal/releases"
	"loopweb/internal/storage"
	"loopweb/internal/version"

	"github.com/shirou/gopsutil/v4/process"
)

// ReleaseService is the part of releases.Service the handlers use.
type ReleaseService interface {
	Latest(ctx context.Context) (*models.LatestReleaseResponse, cache.Status, error)
	Refresh(ctx context.Context) (*models.RefreshResponse, error)
	Download(ctx context.Context, p platform.Platform) (*models.DownloadResponse, error)
	Stats(ctx context.Context) (*models.DownloadStatsResponse, error)
}

// Handlers contains HTTP handlers for the loopweb API
type Handlers struct {
	releases  ReleaseService
	storage   storage.Storage
	version   version.Info
	startTime time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handlers)

// WithStorage lets the health check ping the storage backend.
func WithStorage(s storage.Storage) HandlerOption {
	return func(h *Handlers) {
		h.storage = s
	}
}

// WithVersion sets the build information reported by the health check.
func WithVersion(v version.Info) HandlerOption {
	return func(h *Handlers) {
		h.version = v
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(svc ReleaseService, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		releases:  svc,
		version:   version.GetInfo(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// GetLatestRelease returns the latest release in the shape the site reads.
// GET /api/releases/latest
func (h *Handlers) GetLatestRelease(w http.ResponseWriter, r *http.Request) {
	resp, status, err := h.releases.Latest(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("X-Cache", string(status))
	w.Header().Set("Cache-Control", "public, max-age=60")
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// DownloadRelease redirects to the installer for the visitor's platform.
// GET /api/releases/download?os=&arch=
//
// An explicit os parameter comes from the manual picker and wins over
// detection. Clients asking for JSON get the selection instead of a redirect.
// HEAD requests are answered the same way but not counted.
func (h *Handlers) DownloadRelease(w http.ResponseWriter, r *http.Request) {
	p, err := requestPlatform(r)
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if r.Method == http.MethodHead {
		ctx = releases.WithoutRecording(ctx)
	}

	resp, err := h.releases.Download(ctx, p)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Accept-CH", platform.AcceptCH)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Add("Vary", "User-Agent")

	if wantsJSON(r) {
		h.writeJSONResponse(w, http.StatusOK, resp)
		return
	}
	http.Redirect(w, r, resp.URL, http.StatusFound)
}

// GetPlatform reports what the server detected for the request.
// GET /api/platform
func (h *Handlers) GetPlatform(w http.ResponseWriter, r *http.Request) {
	p := platform.FromRequest(r)

	patterns := [][]string{}
	for _, pattern := range release.Patterns(p) {
		patterns = append(patterns, []string(pattern))
	}

	w.Header().Set("Accept-CH", platform.AcceptCH)
	w.Header().Set("Cache-Control", "no-store")
	h.writeJSONResponse(w, http.StatusOK, &models.PlatformResponse{
		OS:        string(p.OS),
		Arch:      string(p.Arch),
		UserAgent: r.UserAgent(),
		Patterns:  patterns,
	})
}

// RefreshReleases forces an upstream fetch.
// POST /api/releases/refresh
// Requires the admin token
func (h *Handlers) RefreshReleases(w http.ResponseWriter, r *http.Request) {
	slog.Info("Release refresh requested",
		"remote_addr", r.RemoteAddr,
		"request_id", RequestIDFromContext(r.Context()))

	resp, err := h.releases.Refresh(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, resp)
}

// GetDownloadStats returns aggregated download counts.
// GET /api/stats/downloads
// Requires the admin token
func (h *Handlers) GetDownloadStats(w http.ResponseWriter, r *http.Request) {
	resp, err := h.releases.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// HealthCheck handles health check requests
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version
	response.Uptime = time.Since(h.startTime).Round(time.Second).String()

	response.AddComponent("api", models.StatusHealthy, "API is operational")

	if h.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.storage.Ping(ctx)
		cancel()
		if err != nil {
			slog.Warn("Storage health check failed", "error", err)
			response.Status = models.StatusDegraded
			response.AddComponent("storage", models.StatusUnhealthy, "Storage is unreachable")
		} else {
			response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
		}
	}

	response.AddMetric("uptime_seconds", int64(time.Since(h.startTime).Seconds()))
	if rss, err := processRSS(r.Context()); err == nil {
		response.AddMetric("memory_rss_bytes", rss)
	} else {
		slog.Debug("Failed to read process memory", "error", err)
	}

	// Degraded storage still serves releases from the cache and upstream.
	h.writeJSONResponse(w, http.StatusOK, response)
}

// processRSS returns the resident set size of this process.
func processRSS(ctx context.Context) (uint64, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return mem.RSS, nil
}

// requestPlatform resolves the platform for a download request.
func requestPlatform(r *http.Request) (platform.Platform, error) {
	q := r.URL.Query()
	if osParam := q.Get("os"); osParam != "" {
		return platform.Parse(osParam, q.Get("arch"))
	}
	return platform.FromRequest(r), nil
}

// wantsJSON reports whether the client prefers JSON over a redirect.
func wantsJSON(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == "application/json" {
			return true
		}
	}
	return false
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSON(w, statusCode, data)
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	writeError(w, r, statusCode, errorCode, message)
}

// writeServiceError maps service errors to HTTP responses. Anything that is
// not a ServiceError is reported as an internal error without details.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var serviceErr *releases.ServiceError
	if errors.As(err, &serviceErr) {
		if serviceErr.StatusCode >= http.StatusInternalServerError {
			slog.Error("Request failed",
				"path", r.URL.Path,
				"code", serviceErr.Code,
				"error", err,
				"request_id", RequestIDFromContext(r.Context()))
		}
		h.writeErrorResponse(w, r, serviceErr.StatusCode, serviceErr.Code, serviceErr.Message)
		return
	}

	slog.Error("Unexpected error", "path", r.URL.Path, "error", err, "request_id", RequestIDFromContext(r.Context()))
	h.writeErrorResponse(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing more can be sent.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	errorResp := models.NewErrorResponse(message, errorCode)
	if r != nil {
		errorResp.RequestID = RequestIDFromContext(r.Context())
	}
	// Outer middleware only sees the id on the response.
	if errorResp.RequestID == "" {
		errorResp.RequestID = w.Header().Get(HeaderRequestID)
	}
	writeJSON(w, statusCode, errorResp)
}
