package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	// ExtraJSONPCallback fixes the callback function name
	ExtraJSONPCallback = "jsonpCallback"

	// ExtraJSONPCallbackParam names the query parameter carrying the callback name
	ExtraJSONPCallbackParam = "jsonpCallbackParam"

	defaultCallbackParam = "callback"
)

// JSONP performs a JSONP request. The callback name is taken from the
// jsonpCallback extra or generated, and sent in the "callback" query
// parameter unless jsonpCallbackParam names another one.
func (c *DefaultClient) JSONP(ctx context.Context, url string, params any, extra map[string]any) (any, error) {
	callback, _ := extra[ExtraJSONPCallback].(string)
	if callback == "" {
		callback = "jsonp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	callbackParam, _ := extra[ExtraJSONPCallbackParam].(string)
	if callbackParam == "" {
		callbackParam = defaultCallbackParam
	}

	query, err := encodeQuery(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}
	query.Set(callbackParam, callback)

	body, err := c.do(ctx, appendQuery(url, query), http.MethodGet, nil, map[string]string{
		"Accept": "application/javascript",
	}, extra)
	if err != nil {
		return nil, err
	}

	inner, err := unwrapJSONP(body, callback)
	if err != nil {
		return nil, fmt.Errorf("%w from %s", err, url)
	}
	return decodeBody(inner)
}

// unwrapJSONP extracts the argument of callback(...) from a JSONP body
func unwrapJSONP(body []byte, callback string) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	trimmed = bytes.TrimSuffix(trimmed, []byte(";"))
	trimmed = bytes.TrimSpace(trimmed)

	// some servers guard the callback with a comment prefix
	trimmed = bytes.TrimPrefix(trimmed, []byte("/**/"))
	trimmed = bytes.TrimSpace(trimmed)

	prefix := []byte(callback + "(")
	if !bytes.HasPrefix(trimmed, prefix) || !bytes.HasSuffix(trimmed, []byte(")")) {
		return nil, ErrInvalidJSONP
	}
	return trimmed[len(prefix) : len(trimmed)-1], nil
}
