package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"runtime/debug"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-datasource/internal/config"
	"github.com/stacklok/toolhive-datasource/internal/handler"
	"github.com/stacklok/toolhive-datasource/internal/httpclient"
	"github.com/stacklok/toolhive-datasource/internal/sources"
	"github.com/stacklok/toolhive-datasource/internal/status"
	"github.com/stacklok/toolhive-datasource/internal/telemetry"
	"github.com/stacklok/toolhive-datasource/internal/transport"
)

// Callback receives the outcome of an on-demand load: (data, nil) on
// success or (nil, err) when the batch failed internally.
type Callback func(data any, err error)

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithDispatcher replaces the default HTTP dispatcher
func WithDispatcher(dispatcher transport.Dispatcher) Option {
	return func(o *Orchestrator) {
		o.exec.dispatcher = dispatcher
	}
}

// WithMetrics records load metrics
func WithMetrics(metrics *telemetry.SourceMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
		o.exec.metrics = metrics
	}
}

// WithTracer traces batches and loads
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.exec.tracer = tracer
	}
}

// Orchestrator loads the data sources of one configuration
type Orchestrator struct {
	host    any
	parser  sources.Parser
	app     *AppHelper
	metrics *telemetry.SourceMetrics

	mu  sync.RWMutex
	cfg *config.DataSource

	registry *Registry
	exec     *executor
	handlers *handler.Cache
}

// New creates an orchestrator. host is passed to every data handler. A nil
// cfg is treated as an empty configuration and a nil parser as the default
// parser.
func New(host any, cfg *config.DataSource, app *AppHelper, parser sources.Parser, opts ...Option) *Orchestrator {
	if cfg == nil {
		cfg = &config.DataSource{}
	}
	if parser == nil {
		parser = sources.NewParser()
	}

	o := &Orchestrator{
		host:     host,
		parser:   parser,
		app:      app,
		cfg:      cfg,
		handlers: handler.NewCache(),
	}
	o.registry = newRegistry(o.loaderFor)
	o.exec = &executor{
		host:     host,
		app:      app,
		registry: o.registry,
	}

	for _, opt := range opts {
		opt(o)
	}
	if o.exec.dispatcher == nil {
		o.exec.dispatcher = transport.NewDispatcher(httpclient.NewDefaultClient(0))
	}

	o.registry.build(cfg.List)
	return o
}

func (o *Orchestrator) loaderFor(id string) LoadFunc {
	return func(ctx context.Context, params any, extra ...any) any {
		return o.GetOneSourceData(ctx, id, params, extra...)
	}
}

// Registry returns the source registry. The same registry is returned for
// the lifetime of the orchestrator.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Config returns the current configuration
func (o *Orchestrator) Config() *config.DataSource {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg
}

// UpdateConfig replaces the configuration and reconciles the registry in
// place: removed sources are dropped, new sources start in init, and
// sources present in both keep their state. Compiled handlers of the
// previous configuration are released.
func (o *Orchestrator) UpdateConfig(cfg *config.DataSource) *Registry {
	if cfg == nil {
		cfg = &config.DataSource{}
	}

	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()

	o.registry.reconcile(cfg.List)

	o.handlers.Retain(cfg.DataHandler)
	if pruner, ok := o.parser.(sources.Pruner); ok {
		pruner.Prune(cfg.List...)
	}
	return o.registry
}

// GetAutoInitDescriptors parses the configuration and returns the sources
// whose isInit is exactly the boolean true. Selected sources are marked
// loading.
func (o *Orchestrator) GetAutoInitDescriptors() []sources.Descriptor {
	cfg := o.Config()

	var selected []sources.Descriptor
	for _, d := range o.parser.Parse(cfg.List...) {
		if !d.IsAutoInit() {
			continue
		}
		o.registry.setStatus(d.ID, status.StatusLoading)
		selected = append(selected, d)
	}
	return selected
}

// GetInitData loads every auto-init source and returns the aggregated data
// keyed by id, or the result of the global handler when one is configured.
// Request and handler failures do not fail the call; they are visible in
// the registry. A failing global handler is logged and yields nil. The
// error is non-nil only for ErrInternal.
func (o *Orchestrator) GetInitData(ctx context.Context) (any, error) {
	results, err := o.exec.executeBatch(ctx, o.GetAutoInitDescriptors())
	if err != nil {
		return nil, err
	}

	global := o.globalHandler()
	if global == nil {
		return results, nil
	}

	out, err := global.Call(o.host, results, nil)
	if err != nil {
		slog.Error("Global data handler failed", "error", err)
		o.metrics.RecordHandlerFailure(ctx, "", telemetry.HandlerScopeGlobal)
		return nil, nil
	}
	return out, nil
}

func (o *Orchestrator) globalHandler() *handler.Handler {
	cfg := o.Config()
	return o.handlers.Resolve(cfg.Handler, cfg.DataHandler)
}

// GetOneSourceData loads the source id on demand, whatever its isInit flag.
//
// extra accepts either (options) or (options, callback) or (callback), where
// options is a map[string]any and callback a Callback. The options "headers"
// entry is merged into the configured headers; every other key overrides the
// corresponding request option. params are merged into the configured params
// key by key, unless either side is a list, in which case non-nil caller
// params replace the configured ones.
//
// The return value is asymmetric: it is the transformed data on success but
// the error itself when the batch fails internally, so callers that need to
// tell the two apart must check for an error value or use the callback. A
// failed request is not a batch failure: its outcome is whatever the data
// handler made of it, and the error is in the registry. An unknown id is
// logged and returns nil without invoking the callback.
func (o *Orchestrator) GetOneSourceData(ctx context.Context, id string, params any, extra ...any) any {
	otherOptions, callback := splitExtra(extra)

	entry, ok := o.Config().Find(id)
	if !ok {
		slog.Warn("Data source does not exist", "source", id)
		return nil
	}

	parsed := o.parser.Parse(entry)
	if len(parsed) == 0 {
		slog.Warn("Data source does not exist", "source", id)
		return nil
	}
	d := parsed[0]
	d.Options = mergeOptions(d.Options, params, otherOptions)

	results, err := o.exec.executeBatch(ctx, []sources.Descriptor{d})
	if err != nil {
		invokeCallback(id, callback, nil, err)
		return err
	}

	data := results[id]
	invokeCallback(id, callback, data, nil)
	return data
}

func splitExtra(extra []any) (map[string]any, Callback) {
	var (
		options  map[string]any
		callback Callback
	)
	if len(extra) > 0 {
		switch v := extra[0].(type) {
		case Callback:
			return nil, v
		case func(any, error):
			return nil, v
		case map[string]any:
			options = v
		}
	}
	if len(extra) > 1 {
		switch v := extra[1].(type) {
		case Callback:
			callback = v
		case func(any, error):
			callback = v
		}
	}
	return options, callback
}

func invokeCallback(id string, callback Callback, data any, err error) {
	if callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Load callback panicked", "source", id, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	callback(data, err)
}

// mergeOptions applies caller params and options to the configured options
func mergeOptions(base sources.Options, params any, otherOptions map[string]any) sources.Options {
	out := sources.Options{
		URI:     base.URI,
		Method:  base.Method,
		Params:  mergeParams(base.Params, params),
		Headers: maps.Clone(base.Headers),
		Extra:   maps.Clone(base.Extra),
	}
	if out.Headers == nil {
		out.Headers = make(map[string]string)
	}
	maps.Copy(out.Headers, toStringMap(otherOptions["headers"]))

	for key, value := range otherOptions {
		switch key {
		case "headers":
		case "uri":
			out.URI, _ = value.(string)
		case "method":
			out.Method, _ = value.(string)
		case "params":
			out.Params = value
		default:
			if out.Extra == nil {
				out.Extra = make(map[string]any)
			}
			out.Extra[key] = value
		}
	}
	return out
}

func mergeParams(configured, caller any) any {
	if isList(configured) || isList(caller) {
		if caller != nil {
			return caller
		}
		return configured
	}

	merged := make(map[string]any)
	maps.Copy(merged, toAnyMap(configured))
	maps.Copy(merged, toAnyMap(caller))
	return merged
}

func isList(v any) bool {
	if v == nil {
		return false
	}
	kind := reflect.TypeOf(v).Kind()
	return kind == reflect.Slice || kind == reflect.Array
}

func toAnyMap(v any) map[string]any {
	switch typed := v.(type) {
	case map[string]any:
		return typed
	case map[string]string:
		out := make(map[string]any, len(typed))
		for key, value := range typed {
			out[key] = value
		}
		return out
	default:
		return nil
	}
}

func toStringMap(v any) map[string]string {
	switch typed := v.(type) {
	case map[string]string:
		return typed
	case map[string]any:
		out := make(map[string]string, len(typed))
		for key, value := range typed {
			out[key] = fmt.Sprint(value)
		}
		return out
	default:
		return nil
	}
}
