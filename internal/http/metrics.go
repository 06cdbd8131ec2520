package http

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pagesmith/internal/logging"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/pagesmith/internal/http"

// HTTPMetrics holds all HTTP-related metrics.
type HTTPMetrics struct {
	meter          metric.Meter
	logger         *logging.Logger
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	responseSize   metric.Int64Histogram
	activeRequests metric.Int64UpDownCounter
	rejected       metric.Int64Counter
}

// NewHTTPMetrics creates HTTP metrics on meter, or on the global meter
// provider when meter is nil.
func NewHTTPMetrics(meter metric.Meter, logger *logging.Logger) *HTTPMetrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}

	m := &HTTPMetrics{meter: meter, logger: logger}
	m.init()
	return m
}

func (m *HTTPMetrics) init() {
	var err error
	warn := func(what string, err error) {
		m.logger.Warn(context.Background(), "failed to create "+what, zap.Error(err))
	}

	m.requestsTotal, err = m.meter.Int64Counter(
		"pagesmith.http.requests_total",
		metric.WithDescription("Total HTTP requests labeled by method, endpoint and status code"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		warn("requests counter", err)
	}

	// Task requests include generation and a pages poll of up to several
	// minutes, hence the long tail buckets.
	m.requestDur, err = m.meter.Float64Histogram(
		"pagesmith.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds, labeled by method, endpoint and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.05, 0.25, 1, 5, 15, 30, 60, 120, 300, 600),
	)
	if err != nil {
		warn("duration histogram", err)
	}

	m.responseSize, err = m.meter.Int64Histogram(
		"pagesmith.http.response_size_bytes",
		metric.WithDescription("HTTP response body size in bytes"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 5000, 10000, 50000),
	)
	if err != nil {
		warn("response size histogram", err)
	}

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"pagesmith.http.active_requests",
		metric.WithDescription("Number of currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		warn("active requests gauge", err)
	}

	m.rejected, err = m.meter.Int64Counter(
		"pagesmith.http.rejected_total",
		metric.WithDescription("Task requests rejected before processing, by reason"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		warn("rejected counter", err)
	}
}

// Reject counts a request turned away before it reached the workflow.
func (m *HTTPMetrics) Reject(c echo.Context, reason string) {
	if m.rejected == nil {
		return
	}
	m.rejected.Add(c.Request().Context(), 1, metric.WithAttributes(
		attribute.String("endpoint", normalizePath(c.Path())),
		attribute.String("reason", reason),
	))
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx := req.Context()

			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1)
			}

			err := next(c)
			if err != nil {
				// Let echo write the error so the recorded status is final.
				c.Error(err)
				err = nil
			}

			attrs := metric.WithAttributes(
				attribute.String("method", req.Method),
				attribute.String("endpoint", normalizePath(c.Path())),
				attribute.Int("status", c.Response().Status),
			)
			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, attrs)
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.responseSize != nil {
				m.responseSize.Record(ctx, c.Response().Size, attrs)
			}
			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, -1)
			}
			return err
		}
	}
}

// normalizePath keeps the endpoint label bounded. Routes are fixed, so the
// matched route path is used as-is and unmatched requests share one label.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
