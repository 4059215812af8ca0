package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// HTTPInstrumentationName names the tracer and meter of the API middleware
	HTTPInstrumentationName = "github.com/stacklok/toolhive-datasource/api"

	// MaxUserAgentLength bounds the user agent recorded on spans
	MaxUserAgentLength = 256

	// unknownRoute replaces unmatched paths to bound label cardinality
	unknownRoute = "unknown_route"

	// sourceIDParam is the route parameter naming a data source
	sourceIDParam = "id"
)

// untracedPaths are operational endpoints that never get a span
var untracedPaths = map[string]struct{}{
	"/health":  {},
	"/version": {},
	"/metrics": {},
}

type httpInstruments struct {
	duration metric.Float64Histogram
	requests metric.Int64Counter
	inFlight metric.Int64UpDownCounter
}

func newHTTPInstruments(provider metric.MeterProvider) (*httpInstruments, error) {
	meter := provider.Meter(HTTPInstrumentationName)

	duration, err := meter.Float64Histogram(
		"thv_ds_api_request_duration_seconds",
		metric.WithDescription("Duration of API requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	requests, err := meter.Int64Counter(
		"thv_ds_api_requests_total",
		metric.WithDescription("Total number of API requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	inFlight, err := meter.Int64UpDownCounter(
		"thv_ds_api_in_flight_requests",
		metric.WithDescription("Number of API requests being served"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &httpInstruments{duration: duration, requests: requests, inFlight: inFlight}, nil
}

// HTTPMiddleware traces and measures API requests. Either provider may be
// nil, in which case that half is skipped. It must run inside a chi router
// so that the route pattern is known once the request has been served.
//
// Load requests that reach a known source (anything but 404) carry the
// source id as a "source" attribute; the id set is bounded by the
// configuration.
func HTTPMiddleware(tp trace.TracerProvider, mp metric.MeterProvider) (func(http.Handler) http.Handler, error) {
	var tracer trace.Tracer
	if tp != nil {
		tracer = tp.Tracer(HTTPInstrumentationName)
	}

	var instruments *httpInstruments
	if mp != nil {
		var err error
		if instruments, err = newHTTPInstruments(mp); err != nil {
			return nil, err
		}
	}

	if tracer == nil && instruments == nil {
		return func(next http.Handler) http.Handler { return next }, nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Captured up front: the request context may be cancelled once ServeHTTP returns
			ctx := r.Context()
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			var span trace.Span
			if _, skip := untracedPaths[r.URL.Path]; tracer != nil && !skip {
				ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(r.Header))
				ctx, span = tracer.Start(ctx, r.Method+" "+r.URL.Path,
					trace.WithSpanKind(trace.SpanKindServer),
					trace.WithAttributes(
						semconv.HTTPRequestMethodKey.String(r.Method),
						semconv.URLPath(r.URL.Path),
						semconv.UserAgentOriginal(truncateUserAgent(r.UserAgent())),
					),
				)
				defer span.End()
				r = r.WithContext(ctx)
			}

			if instruments != nil {
				instruments.inFlight.Add(ctx, 1)
				defer instruments.inFlight.Add(ctx, -1)
			}

			next.ServeHTTP(ww, r)

			route, sourceID := routeOf(r)
			code := ww.Status()

			if span != nil {
				span.SetName(r.Method + " " + route)
				span.SetAttributes(semconv.HTTPRoute(route), semconv.HTTPResponseStatusCode(code))
				if sourceID != "" && code != http.StatusNotFound {
					span.SetAttributes(attribute.String("datasource.id", sourceID))
				}
				if code >= http.StatusBadRequest {
					span.SetStatus(codes.Error, http.StatusText(code))
				} else {
					span.SetStatus(codes.Ok, "")
				}
			}

			if instruments != nil {
				attrs := []attribute.KeyValue{
					attribute.String("method", r.Method),
					attribute.String("route", route),
					attribute.String("status_code", strconv.Itoa(code)),
				}
				if sourceID != "" && code != http.StatusNotFound {
					attrs = append(attrs, attribute.String("source", sourceID))
				}
				set := metric.WithAttributes(attrs...)
				instruments.duration.Record(ctx, time.Since(start).Seconds(), set)
				instruments.requests.Add(ctx, 1, set)
			}
		})
	}, nil
}

// routeOf returns the chi route pattern of a served request and the source
// id route parameter, if any
func routeOf(r *http.Request) (route, sourceID string) {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || rctx.RoutePattern() == "" {
		return unknownRoute, ""
	}
	return rctx.RoutePattern(), rctx.URLParam(sourceIDParam)
}

func truncateUserAgent(ua string) string {
	if len(ua) <= MaxUserAgentLength {
		return ua
	}
	return ua[:MaxUserAgentLength]
}
