package observability

import (
	"context"
	"errors"
	"time"

	"loopweb/internal/models"
	"loopweb/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStorage wraps a storage.Storage implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStorage creates a new storage wrapper that records trace spans,
// operation latency histograms, and error counters for every storage method call.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("loopweb/storage")
	meter := otel.Meter("loopweb/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
	return ctx, span
}

func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	// An empty store is an expected answer, not a failure.
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStorage) SaveSnapshot(ctx context.Context, snapshot *models.ReleaseSnapshot) error {
	var version string
	if snapshot != nil {
		version = snapshot.Release.Version
	}
	ctx, span := s.startSpan(ctx, "SaveSnapshot", attribute.String("version", version))
	start := time.Now()
	err := s.inner.SaveSnapshot(ctx, snapshot)
	s.record(ctx, span, "SaveSnapshot", start, err)
	return err
}

func (s *InstrumentedStorage) LatestSnapshot(ctx context.Context) (*models.ReleaseSnapshot, error) {
	ctx, span := s.startSpan(ctx, "LatestSnapshot")
	start := time.Now()
	result, err := s.inner.LatestSnapshot(ctx)
	s.record(ctx, span, "LatestSnapshot", start, err)
	return result, err
}

func (s *InstrumentedStorage) RecordDownload(ctx context.Context, event *models.DownloadEvent) error {
	var attrs []attribute.KeyValue
	if event != nil {
		attrs = append(attrs,
			attribute.String("version", event.Version),
			attribute.String("os", event.OS),
			attribute.String("arch", event.Arch),
		)
	}
	ctx, span := s.startSpan(ctx, "RecordDownload", attrs...)
	start := time.Now()
	err := s.inner.RecordDownload(ctx, event)
	s.record(ctx, span, "RecordDownload", start, err)
	return err
}

func (s *InstrumentedStorage) DownloadStats(ctx context.Context) ([]models.DownloadStat, error) {
	ctx, span := s.startSpan(ctx, "DownloadStats")
	start := time.Now()
	result, err := s.inner.DownloadStats(ctx)
	s.record(ctx, span, "DownloadStats", start, err)
	return result, err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
