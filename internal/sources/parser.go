package sources

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/stacklok/toolhive-datasource/internal/config"
	"github.com/stacklok/toolhive-datasource/internal/handler"
)

const (
	optionURI     = "uri"
	optionURL     = "url"
	optionMethod  = "method"
	optionParams  = "params"
	optionHeaders = "headers"
)

// ParserOption configures the default parser
type ParserOption func(*defaultParser)

// WithScope sets the value that expression options are evaluated against.
// The scope is marshalled to JSON on every Parse call.
func WithScope(scope any) ParserOption {
	return func(p *defaultParser) {
		p.scope = scope
	}
}

// WithHandlerCache shares a handler cache between parsers. Prune on any of
// them prunes the shared cache.
func WithHandlerCache(cache *handler.Cache) ParserOption {
	return func(p *defaultParser) {
		p.cache = cache
	}
}

// defaultParser is the default implementation of Parser
type defaultParser struct {
	scope any
	cache *handler.Cache
}

var (
	_ Parser = (*defaultParser)(nil)
	_ Pruner = (*defaultParser)(nil)
)

// NewParser creates a new descriptor parser
func NewParser(opts ...ParserOption) Parser {
	p := &defaultParser{}
	for _, opt := range opts {
		opt(p)
	}
	if p.cache == nil {
		p.cache = handler.NewCache()
	}
	return p
}

// Parse implements Parser
func (p *defaultParser) Parse(entries ...config.SourceEntry) []Descriptor {
	scope := p.scopeJSON()

	descriptors := make([]Descriptor, 0, len(entries))
	for _, entry := range entries {
		descriptors = append(descriptors, p.parseEntry(entry, scope))
	}
	return descriptors
}

// Prune implements Pruner by dropping compiled handlers of removed entries
func (p *defaultParser) Prune(entries ...config.SourceEntry) {
	keep := make([]*handler.Source, 0, len(entries))
	for _, entry := range entries {
		keep = append(keep, entry.DataHandler)
	}
	p.cache.Retain(keep...)
}

func (p *defaultParser) parseEntry(entry config.SourceEntry, scope []byte) Descriptor {
	raw, _ := deepCopy(entry.Options).(map[string]any)
	resolved, _ := resolveExpressions(raw, scope).(map[string]any)

	return Descriptor{
		ID:          entry.ID,
		Type:        Type(entry.Type),
		Options:     buildOptions(resolved),
		DataHandler: p.cache.Resolve(entry.Handler, entry.DataHandler),
		IsInit:      resolveExpressions(deepCopy(entry.IsInit), scope),
	}
}

func (p *defaultParser) scopeJSON() []byte {
	if p.scope == nil {
		return nil
	}
	data, err := json.Marshal(p.scope)
	if err != nil {
		slog.Warn("Failed to marshal parser scope, expressions resolve to nil", "error", err)
		return nil
	}
	return data
}

func buildOptions(raw map[string]any) Options {
	opts := Options{}
	if raw == nil {
		return opts
	}

	extra := make(map[string]any)
	for key, value := range raw {
		switch key {
		case optionURI:
			opts.URI = stringValue(value)
		case optionURL:
			// uri wins when both are set
		case optionMethod:
			opts.Method = stringValue(value)
		case optionParams:
			opts.Params = value
		case optionHeaders:
			opts.Headers = stringMap(value)
		default:
			extra[key] = value
		}
	}
	if opts.URI == "" {
		opts.URI = stringValue(raw[optionURL])
	}
	if len(extra) > 0 {
		opts.Extra = extra
	}
	return opts
}

// resolveExpressions walks v and replaces every serialized expression with
// its value in scope. Serialized functions are left untouched.
func resolveExpressions(v any, scope []byte) any {
	if src, ok := handler.IsSerialized(v); ok {
		if src.Type != handler.SourceTypeExpression {
			return v
		}
		if scope == nil || src.Value == "" {
			return nil
		}
		res := gjson.GetBytes(scope, src.Value)
		if !res.Exists() {
			return nil
		}
		return res.Value()
	}

	switch typed := v.(type) {
	case map[string]any:
		for key, value := range typed {
			typed[key] = resolveExpressions(value, scope)
		}
		return typed
	case []any:
		for i, value := range typed {
			typed[i] = resolveExpressions(value, scope)
		}
		return typed
	default:
		return v
	}
}

func stringValue(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	default:
		return fmt.Sprint(typed)
	}
}

func stringMap(v any) map[string]string {
	switch typed := v.(type) {
	case map[string]string:
		return typed
	case map[string]any:
		out := make(map[string]string, len(typed))
		for key, value := range typed {
			out[key] = stringValue(value)
		}
		return out
	default:
		return nil
	}
}
