// Package transport selects the request primitive for a data source
// descriptor and performs the call.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/stacklok/toolhive-datasource/internal/sources"
)

// ErrUnsupportedType is returned for descriptor types that have no transport
var ErrUnsupportedType = errors.New("unsupported data source type")

//go:generate mockgen -destination=mocks/mock_transport.go -package=mocks -source=transport.go Requester,Dispatcher

// Requester performs the raw requests. httpclient.Client satisfies it.
type Requester interface {
	// Get performs a GET request with params in the query
	Get(ctx context.Context, url string, params any, headers map[string]string, extra map[string]any) (any, error)

	// Post performs a POST request with params in the body
	Post(ctx context.Context, url string, params any, headers map[string]string, extra map[string]any) (any, error)

	// Request performs a request with an arbitrary method
	Request(
		ctx context.Context, url, method string, params any, headers map[string]string, extra map[string]any,
	) (any, error)

	// JSONP performs a JSONP request
	JSONP(ctx context.Context, url string, params any, extra map[string]any) (any, error)
}

// Dispatcher performs the call for one descriptor and yields exactly one
// of a payload or an error.
type Dispatcher interface {
	// Dispatch sends a request of the given kind
	Dispatch(ctx context.Context, kind sources.Type, opts sources.Options) (any, error)
}

// defaultDispatcher is the default implementation of Dispatcher
type defaultDispatcher struct {
	requester Requester
}

var _ Dispatcher = (*defaultDispatcher)(nil)

// NewDispatcher creates a dispatcher on top of a requester
func NewDispatcher(requester Requester) Dispatcher {
	return &defaultDispatcher{requester: requester}
}

// Dispatch implements Dispatcher. For fetch sources the method selects the
// GET path (also used when no method is set), the POST path, or a generic
// request; the comparison ignores case.
func (d *defaultDispatcher) Dispatch(ctx context.Context, kind sources.Type, opts sources.Options) (any, error) {
	switch kind {
	case sources.TypeJSONP:
		return d.requester.JSONP(ctx, opts.URI, opts.Params, opts.Extra)

	case sources.TypeFetch:
		switch strings.ToUpper(opts.Method) {
		case "", http.MethodGet:
			return d.requester.Get(ctx, opts.URI, opts.Params, opts.Headers, opts.Extra)
		case http.MethodPost:
			return d.requester.Post(ctx, opts.URI, opts.Params, opts.Headers, opts.Extra)
		default:
			return d.requester.Request(ctx, opts.URI, opts.Method, opts.Params, opts.Headers, opts.Extra)
		}

	default:
		slog.Warn("Data source type is not supported by the default transport",
			"type", kind,
			"uri", opts.URI,
			"method", opts.Method)
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, kind)
	}
}
