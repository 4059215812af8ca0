package datasource

import (
	"context"

	"github.com/stacklok/toolhive-datasource/internal/sources"
)

// BeforeRequestFunc intercepts a request before it is dispatched. It
// receives a private deep copy of the descriptor options and returns the
// options to dispatch with.
type BeforeRequestFunc func(ctx context.Context, d sources.Descriptor, opts sources.Options) sources.Options

// AfterRequestFunc intercepts the transport outcome. data is nil when err is
// set. The returned pair replaces the outcome, so a hook can turn a failure
// into a success or the other way round.
type AfterRequestFunc func(ctx context.Context, d sources.Descriptor, data any, err error) (any, error)

// Utils holds the optional interception hooks
type Utils struct {
	BeforeRequest BeforeRequestFunc
	AfterRequest  AfterRequestFunc
}

// AppHelper is the hosting environment of an orchestrator
type AppHelper struct {
	Utils *Utils
}

func (a *AppHelper) beforeRequest() BeforeRequestFunc {
	if a == nil || a.Utils == nil {
		return nil
	}
	return a.Utils.BeforeRequest
}

func (a *AppHelper) afterRequest() AfterRequestFunc {
	if a == nil || a.Utils == nil {
		return nil
	}
	return a.Utils.AfterRequest
}
