package datasource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/toolhive-datasource/internal/otel"
	"github.com/stacklok/toolhive-datasource/internal/sources"
	"github.com/stacklok/toolhive-datasource/internal/status"
	"github.com/stacklok/toolhive-datasource/internal/telemetry"
	"github.com/stacklok/toolhive-datasource/internal/transport"
)

// ErrInternal is returned when a batch fails outside the per-source error
// containment, for example when a hook panics or a result is recorded for a
// source that was removed by a configuration update.
var ErrInternal = errors.New("data source batch failed")

// executor runs descriptors through the load pipeline
type executor struct {
	host       any
	app        *AppHelper
	dispatcher transport.Dispatcher
	registry   *Registry
	tracer     trace.Tracer
	metrics    *telemetry.SourceMetrics
}

// executeBatch loads all dispatchable descriptors concurrently and returns
// their transformed data keyed by id. It returns once every load has updated
// the registry. The error is non-nil only for ErrInternal.
func (e *executor) executeBatch(ctx context.Context, descs []sources.Descriptor) (map[string]any, error) {
	pending := make([]sources.Descriptor, 0, len(descs))
	for _, d := range descs {
		if d.Dispatchable() {
			pending = append(pending, d)
		}
	}

	results := make(map[string]any, len(pending))
	if len(pending) == 0 {
		return results, nil
	}

	batchID := uuid.NewString()
	ctx, span := otel.StartSpan(ctx, e.tracer, "datasource.batch",
		trace.WithAttributes(
			otel.AttrBatchID.String(batchID),
			otel.AttrBatchSize.Int(len(pending)),
		))
	defer span.End()

	slog.Debug("Starting data source batch", "batch", batchID, "sources", len(pending))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, d := range pending {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Data source load panicked",
						"batch", batchID,
						"source", d.ID,
						"panic", r,
						"stack", string(debug.Stack()))
					err = fmt.Errorf("%w: source %s: %v", ErrInternal, d.ID, r)
					e.registry.markFailed(d.ID, err)
				}
			}()

			data := e.load(ctx, d)

			mu.Lock()
			results[d.ID] = data
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(otel.AttrResultCount.Int(len(results)))
	e.metrics.RecordStatusCounts(ctx, e.registry.statusCounts())
	slog.Debug("Data source batch finished", "batch", batchID, "sources", len(results))

	return results, nil
}

// load runs the pipeline for one descriptor and returns the transformed data
func (e *executor) load(ctx context.Context, d sources.Descriptor) any {
	start := time.Now()
	ctx, span := otel.StartSpan(ctx, e.tracer, "datasource.load",
		trace.WithAttributes(
			otel.AttrSourceID.String(d.ID),
			otel.AttrSourceType.String(string(d.Type)),
			otel.AttrSourceMethod.String(d.Options.Method),
		))
	defer span.End()

	e.registry.setStatus(d.ID, status.StatusLoading)

	opts := d.Options
	if before := e.app.beforeRequest(); before != nil {
		opts = before(ctx, d, d.Options.Clone())
	}

	data, err := e.dispatcher.Dispatch(ctx, d.Type, opts)
	if err != nil {
		data = nil
	}

	if after := e.app.afterRequest(); after != nil {
		data, err = after(ctx, d, data, err)
	}

	transformed := e.applyHandler(ctx, d, data, err)
	e.registry.recordResult(d.ID, transformed, err)

	otel.RecordError(span, err)
	if err != nil {
		span.SetAttributes(otel.AttrSourceStatus.String(string(status.StatusError)))
		slog.Debug("Data source request failed", "source", d.ID, "error", err)
	} else {
		span.SetAttributes(otel.AttrSourceStatus.String(string(status.StatusLoaded)))
	}
	e.metrics.RecordLoad(ctx, d.ID, string(d.Type), time.Since(start), err == nil)

	return transformed
}

// applyHandler runs the per-source handler. A failing handler is logged and
// yields nil; the request error is still recorded by the caller.
func (e *executor) applyHandler(ctx context.Context, d sources.Descriptor, data any, err error) any {
	if d.DataHandler == nil {
		return data
	}

	out, handlerErr := d.DataHandler.Call(e.host, data, err)
	if handlerErr != nil {
		slog.Error("Data handler failed", "source", d.ID, "error", handlerErr)
		e.metrics.RecordHandlerFailure(ctx, d.ID, telemetry.HandlerScopeItem)
		return nil
	}
	return out
}
