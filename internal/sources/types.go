package sources

import (
	"fmt"
	"maps"

	"github.com/mitchellh/copystructure"

	"github.com/stacklok/toolhive-datasource/internal/config"
	"github.com/stacklok/toolhive-datasource/internal/handler"
)

// Type is the transport kind of a data source
type Type string

const (
	// TypeFetch is a standard HTTP request
	TypeFetch Type = "fetch"
	// TypeJSONP is a JSONP request
	TypeJSONP Type = "jsonp"
	// TypeLegacy is a legacy marker that is never dispatched
	TypeLegacy Type = "legao"
)

// Options are the request options of a descriptor
type Options struct {
	URI     string            `json:"uri,omitempty"`
	Method  string            `json:"method,omitempty"`
	Params  any               `json:"params,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// Extra holds transport specific options such as timeout
	Extra map[string]any `json:"extra,omitempty"`
}

// Clone returns a deep copy of the options
func (o Options) Clone() Options {
	out := Options{
		URI:     o.URI,
		Method:  o.Method,
		Headers: maps.Clone(o.Headers),
	}
	out.Params = deepCopy(o.Params)
	if o.Extra != nil {
		out.Extra, _ = deepCopy(o.Extra).(map[string]any)
	}
	return out
}

func deepCopy(v any) any {
	if v == nil {
		return nil
	}
	c, err := copystructure.Copy(v)
	if err != nil {
		// values that cannot be copied (funcs, channels) are shared
		return v
	}
	return c
}

// Descriptor is the executable form of one data source
type Descriptor struct {
	ID          string           `json:"id"`
	Type        Type             `json:"type"`
	Options     Options          `json:"options"`
	DataHandler *handler.Handler `json:"-"`

	// IsInit is kept as declared. Only the boolean true enables auto-init
	IsInit any `json:"isInit,omitempty"`
}

// IsAutoInit reports whether IsInit is exactly the boolean true
func (d Descriptor) IsAutoInit() bool {
	b, ok := d.IsInit.(bool)
	return ok && b
}

// Dispatchable reports whether the descriptor can be sent to a transport.
// Descriptors without an id or type, and legacy descriptors, are skipped.
func (d Descriptor) Dispatchable() bool {
	return d.ID != "" && d.Type != "" && d.Type != TypeLegacy
}

// String implements fmt.Stringer
func (d Descriptor) String() string {
	return fmt.Sprintf("%s(%s %s)", d.ID, d.Type, d.Options.URI)
}

// Parser normalises raw entries into descriptors. Implementations must be
// pure: parsing the same entries twice yields equal descriptors.
type Parser interface {
	// Parse returns one descriptor per entry, in order
	Parse(entries ...config.SourceEntry) []Descriptor
}

// Pruner is implemented by parsers that keep per-entry state across calls.
// Prune releases the state of every entry not in entries.
type Pruner interface {
	Prune(entries ...config.SourceEntry)
}
