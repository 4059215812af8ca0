package httpclient

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// paramsKey carries params that are not a keyed mapping, JSON encoded
const paramsKey = "params"

// encodeQuery turns params into query values. Keyed mappings become one
// value per key; lists repeat the key; nested objects are JSON encoded.
// Any other params value is JSON encoded under the "params" key.
func encodeQuery(params any) (url.Values, error) {
	values := url.Values{}
	switch typed := params.(type) {
	case nil:
		return values, nil
	case map[string]any:
		for key, value := range typed {
			if err := addValue(values, key, value); err != nil {
				return nil, err
			}
		}
	case map[string]string:
		for key, value := range typed {
			values.Add(key, value)
		}
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return nil, err
		}
		values.Set(paramsKey, string(encoded))
	}
	return values, nil
}

func addValue(values url.Values, key string, value any) error {
	switch typed := value.(type) {
	case nil:
		values.Add(key, "")
	case string:
		values.Add(key, typed)
	case []any:
		for _, item := range typed {
			if err := addValue(values, key, item); err != nil {
				return err
			}
		}
	case map[string]any:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return err
		}
		values.Add(key, string(encoded))
	default:
		values.Add(key, fmt.Sprint(typed))
	}
	return nil
}

// appendQuery appends values to rawURL, keeping any query it already has
func appendQuery(rawURL string, values url.Values) string {
	if len(values) == 0 {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + encodeSorted(values)
}

func encodeSorted(values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		for _, value := range values[key] {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(url.QueryEscape(key))
			sb.WriteByte('=')
			sb.WriteString(url.QueryEscape(value))
		}
	}
	return sb.String()
}

// encodeBody encodes params as a form when the caller asked for one, and as
// JSON otherwise. A nil params value produces no body.
func encodeBody(params any, contentType string) ([]byte, string, error) {
	if params == nil {
		return nil, contentType, nil
	}

	if strings.HasPrefix(strings.ToLower(contentType), contentTypeForm) {
		values, err := encodeQuery(params)
		if err != nil {
			return nil, "", err
		}
		return []byte(encodeSorted(values)), contentType, nil
	}

	if s, ok := params.(string); ok {
		if contentType == "" {
			contentType = "text/plain; charset=utf-8"
		}
		return []byte(s), contentType, nil
	}

	data, err := json.Marshal(params)
	if err != nil {
		return nil, "", err
	}
	if contentType == "" {
		contentType = contentTypeJSON
	}
	return data, contentType, nil
}
