package observability

import (
	"context"
	"errors"
	"strconv"
	"time"

	"loopweb/internal/cache"
	"loopweb/internal/github"
	"loopweb/internal/platform"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ReleaseMetrics records what the release proxy does: where answers came
// from, how the upstream feed behaves and which installers visitors get.
type ReleaseMetrics struct {
	cacheResults     metric.Int64Counter
	upstreamDuration metric.Float64Histogram
	upstreamErrors   metric.Int64Counter
	selections       metric.Int64Counter
}

// NewReleaseMetrics creates the instruments on mp, or on the global meter
// provider when mp is nil.
func NewReleaseMetrics(mp metric.MeterProvider) (*ReleaseMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("loopweb/releases")

	cacheResults, err := meter.Int64Counter(
		"release.cache.results",
		metric.WithDescription("Latest release lookups by cache status"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	upstreamDuration, err := meter.Float64Histogram(
		"release.upstream.duration",
		metric.WithDescription("Duration of GitHub latest release requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	upstreamErrors, err := meter.Int64Counter(
		"release.upstream.errors",
		metric.WithDescription("Failed GitHub latest release requests"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	selections, err := meter.Int64Counter(
		"release.selections",
		metric.WithDescription("Installer selections by platform"),
		metric.WithUnit("{selection}"),
	)
	if err != nil {
		return nil, err
	}

	return &ReleaseMetrics{
		cacheResults:     cacheResults,
		upstreamDuration: upstreamDuration,
		upstreamErrors:   upstreamErrors,
		selections:       selections,
	}, nil
}

func (m *ReleaseMetrics) CacheResult(ctx context.Context, status cache.Status) {
	m.cacheResults.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

func (m *ReleaseMetrics) UpstreamFetch(ctx context.Context, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.upstreamDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))

	if err != nil {
		m.upstreamErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", upstreamErrorReason(err))))
	}
}

func (m *ReleaseMetrics) Selection(ctx context.Context, p platform.Platform, fallback bool) {
	m.selections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("os", string(p.OS)),
		attribute.String("arch", string(p.Arch)),
		attribute.Bool("fallback", fallback),
	))
}

// upstreamErrorReason keeps the reason label to a small fixed set.
func upstreamErrorReason(err error) string {
	var statusErr *github.StatusError
	switch {
	case errors.As(err, &statusErr) && statusErr.RateLimited:
		return "rate_limited"
	case errors.As(err, &statusErr):
		return "status_" + strconv.Itoa(statusErr.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "transport"
	}
}
