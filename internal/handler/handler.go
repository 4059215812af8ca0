// Package handler materialises the data handlers attached to data sources.
//
// A handler is either a Go function supplied programmatically or a serialized
// source read from a configuration document. Serialized sources are gjson
// paths evaluated against the envelope
//
//	{"data": <payload>, "error": <error message or null>}
//
// so configuration can only select and reshape data, never execute code.
// Serialized handlers are compiled once per *Source and reused afterwards.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

const (
	// SourceTypeFunction marks a serialized function body
	SourceTypeFunction = "JSFunction"

	// SourceTypeExpression marks a serialized expression
	SourceTypeExpression = "JSExpression"
)

// ErrEmptySource is returned when a serialized handler has no body
var ErrEmptySource = errors.New("handler source is empty")

// Func is the callable form of a handler. The host is passed explicitly and
// plays the role of the receiver the handler was declared on.
type Func func(host any, data any, err error) (any, error)

// Source is the serialized form of a handler as it appears in configuration
type Source struct {
	Type  string `yaml:"type" json:"type" toml:"type"`
	Value string `yaml:"value" json:"value" toml:"value"`
}

// IsSerialized reports whether v looks like a serialized handler or expression
// value decoded into a generic map.
func IsSerialized(v any) (*Source, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	typ, _ := m["type"].(string)
	if typ != SourceTypeFunction && typ != SourceTypeExpression {
		return nil, false
	}
	value, _ := m["value"].(string)
	return &Source{Type: typ, Value: value}, true
}

// Kind tells which variant a Handler holds
type Kind int

const (
	// KindCallable is a Go function handler
	KindCallable Kind = iota
	// KindSerialized is a handler compiled from a Source
	KindSerialized
)

// Handler is a data handler in either callable or serialized form
type Handler struct {
	kind   Kind
	fn     Func
	source *Source

	once       sync.Once
	compiled   Func
	compileErr error
}

// FromFunc wraps a Go function
func FromFunc(fn Func) *Handler {
	return &Handler{kind: KindCallable, fn: fn}
}

// FromSource wraps a serialized source. Compilation is deferred to the first
// Materialize call.
func FromSource(src *Source) *Handler {
	return &Handler{kind: KindSerialized, source: src}
}

// Kind returns the variant held by h
func (h *Handler) Kind() Kind {
	return h.kind
}

// Materialize returns the callable form of the handler, compiling a serialized
// source on first use.
func (h *Handler) Materialize() (Func, error) {
	if h.kind == KindCallable {
		if h.fn == nil {
			return nil, fmt.Errorf("handler function is nil")
		}
		return h.fn, nil
	}

	h.once.Do(func() {
		h.compiled, h.compileErr = compile(h.source)
	})
	return h.compiled, h.compileErr
}

// Call materialises and invokes the handler. A panic raised by the handler is
// returned as an error.
func (h *Handler) Call(host any, data any, err error) (result any, callErr error) {
	fn, mErr := h.Materialize()
	if mErr != nil {
		return nil, mErr
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			callErr = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	return fn(host, data, err)
}

type envelope struct {
	Data  any     `json:"data"`
	Error *string `json:"error"`
}

func compile(src *Source) (Func, error) {
	if src == nil {
		return nil, ErrEmptySource
	}
	switch src.Type {
	case SourceTypeFunction, SourceTypeExpression:
	default:
		return nil, fmt.Errorf("unsupported handler type: %q", src.Type)
	}

	path := strings.TrimSpace(src.Value)
	if path == "" {
		return nil, ErrEmptySource
	}

	return func(_ any, data any, err error) (any, error) {
		env := envelope{Data: data}
		if err != nil {
			msg := err.Error()
			env.Error = &msg
		}

		raw, mErr := json.Marshal(env)
		if mErr != nil {
			return nil, fmt.Errorf("failed to encode handler input: %w", mErr)
		}

		res := gjson.GetBytes(raw, path)
		if !res.Exists() {
			return nil, nil
		}
		return res.Value(), nil
	}, nil
}

// Cache hands out one Handler per serialized Source so each source is
// compiled at most once.
type Cache struct {
	mu      sync.Mutex
	entries map[*Source]*Handler
}

// NewCache creates an empty cache
func NewCache() *Cache {
	return &Cache{entries: make(map[*Source]*Handler)}
}

// Resolve returns the handler for a declaration. A Go function takes
// precedence over a serialized source. It returns nil when neither is set.
func (c *Cache) Resolve(fn Func, src *Source) *Handler {
	if fn != nil {
		return FromFunc(fn)
	}
	if src == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.entries[src]; ok {
		return h
	}
	h := FromSource(src)
	c.entries[src] = h
	return h
}

// Retain drops the handlers of every source not in keep
func (c *Cache) Retain(keep ...*Source) {
	live := make(map[*Source]struct{}, len(keep))
	for _, src := range keep {
		if src != nil {
			live[src] = struct{}{}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for src := range c.entries {
		if _, ok := live[src]; !ok {
			delete(c.entries, src)
		}
	}
}

// Len returns the number of cached handlers
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
