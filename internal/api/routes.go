package api

import (
	"net/http"
	"strings"

	"loopweb/internal/models"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*routeOptions)

type routeOptions struct {
	otelService string
	rateLimiter func(http.Handler) http.Handler
}

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(o *routeOptions) {
		o.otelService = serviceName
	}
}

// WithRateLimiter rate limits the /api routes. Health checks are exempt.
func WithRateLimiter(middleware func(http.Handler) http.Handler) RouteOption {
	return func(o *routeOptions) {
		o.rateLimiter = middleware
	}
}

// SetupRoutes configures the HTTP routes for the API and the static site.
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	var o routeOptions
	for _, opt := range opts {
		opt(&o)
	}

	router := mux.NewRouter()

	// The first middleware registered is the outermost.
	router.Use(recoveryMiddleware)
	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware(config.Server.TrustProxy))
	if o.otelService != "" {
		router.Use(otelmux.Middleware(o.otelService,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" && r.URL.Path != "/api/health"
			}),
		))
	}
	if config.Security.Headers.Enabled {
		router.Use(securityHeadersMiddleware(config.Security.Headers, config.Server.TLSEnabled))
	}
	if config.Server.Compression {
		router.Use(compressionMiddleware)
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET", "HEAD")
	router.HandleFunc("/api/health", handlers.HealthCheck).Methods("GET", "HEAD")

	// API routes live on the root router so a wrong method stays a 405.
	var apiChain []func(http.Handler) http.Handler
	if config.Server.CORS.Enabled {
		apiChain = append(apiChain, corsMiddleware(config.Server.CORS))
	}
	if o.rateLimiter != nil {
		apiChain = append(apiChain, o.rateLimiter)
	}
	public := func(h http.HandlerFunc) http.Handler {
		return chain(h, apiChain...)
	}
	adminChain := append(append([]func(http.Handler) http.Handler{}, apiChain...),
		adminAuthMiddleware(config.Security.AdminToken))
	admin := func(h http.HandlerFunc) http.Handler {
		return chain(h, adminChain...)
	}

	router.Handle("/api/releases/latest", public(handlers.GetLatestRelease)).Methods("GET", "HEAD")
	router.Handle("/api/releases/download", public(handlers.DownloadRelease)).Methods("GET", "HEAD")
	router.Handle("/api/platform", public(handlers.GetPlatform)).Methods("GET")
	router.Handle("/api/releases/refresh", admin(handlers.RefreshReleases)).Methods("POST")
	router.Handle("/api/stats/downloads", admin(handlers.GetDownloadStats)).Methods("GET")

	// Catch-all routes must reject with their first matcher.
	router.MatcherFunc(func(r *http.Request, _ *mux.RouteMatch) bool {
		return r.Method == http.MethodOptions && isAPIPath(r.URL.Path)
	}).Handler(public(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	// Unknown /api paths must not fall through to the site's index page.
	if config.Static.Enabled {
		router.MatcherFunc(func(r *http.Request, _ *mux.RouteMatch) bool {
			return !isAPIPath(r.URL.Path)
		}).
			Methods("GET", "HEAD").
			Handler(newStaticSite(config.Static))
	}

	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, models.ErrorCodeNotFound, "Not found")
	})

	return router
}

// methodNotAllowedHandler handles requests with invalid HTTP methods
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, models.ErrorCodeMethodNotAllowed, "Method not allowed")
}

func isAPIPath(p string) bool {
	return p == "/api" || strings.HasPrefix(p, "/api/")
}

// chain wraps h so that the first middleware is the outermost.
func chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
