// Package usage normalizes token usage reported by heterogeneous backend
// responses. Extraction is tolerant: an unrecognized or missing usage shape is
// reported as not found instead of failing the call.
package usage

import (
	"encoding/json"
	"math"

	"github.com/tidwall/gjson"

	"llmgate/internal/core"
)

// Field names recognized inside a usage object, in order of preference.
var (
	inputFields  = []string{"prompt_tokens", "input_tokens"}
	outputFields = []string{"completion_tokens", "output_tokens"}
)

// rawJSONer is implemented by SDK response types that keep the raw payload.
type rawJSONer interface {
	RawJSON() string
}

// Extract returns the token usage carried by resp. It understands:
//   - core.Usage and *core.Usage
//   - mappings with a "usage" key (decoded JSON)
//   - raw JSON payloads ([]byte, json.RawMessage, string)
//   - SDK objects exposing RawJSON()
//
// ok is false when no usage can be found. The returned total is always
// input + output, whatever total the backend reported.
func Extract(resp any) (core.Usage, bool) {
	switch v := resp.(type) {
	case nil:
		return core.Usage{}, false
	case core.Usage:
		return core.NewUsage(v.InputTokens, v.OutputTokens), true
	case *core.Usage:
		if v == nil {
			return core.Usage{}, false
		}
		return core.NewUsage(v.InputTokens, v.OutputTokens), true
	case map[string]any:
		return FromMap(v)
	case json.RawMessage:
		return FromJSON(v)
	case []byte:
		return FromJSON(v)
	case string:
		return FromJSON([]byte(v))
	case rawJSONer:
		return FromJSON([]byte(v.RawJSON()))
	}
	return core.Usage{}, false
}

// FromMap reads resp["usage"]. Token fields may be any JSON number type.
func FromMap(resp map[string]any) (core.Usage, bool) {
	raw, ok := resp["usage"]
	if !ok || raw == nil {
		return core.Usage{}, false
	}
	u, ok := raw.(map[string]any)
	if !ok {
		return core.Usage{}, false
	}
	in, inOK := firstInt(u, inputFields)
	out, outOK := firstInt(u, outputFields)
	if !inOK && !outOK {
		return core.Usage{}, false
	}
	return core.NewUsage(in, out), true
}

// FromJSON reads the "usage" object of a raw JSON response body.
func FromJSON(body []byte) (core.Usage, bool) {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return core.Usage{}, false
	}
	u := gjson.GetBytes(body, "usage")
	if !u.IsObject() {
		return core.Usage{}, false
	}
	in, inOK := firstJSONInt(u, inputFields)
	out, outOK := firstJSONInt(u, outputFields)
	if !inOK && !outOK {
		return core.Usage{}, false
	}
	return core.NewUsage(in, out), true
}

func firstInt(m map[string]any, keys []string) (int, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if n, ok := toInt(v); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func firstJSONInt(obj gjson.Result, keys []string) (int, bool) {
	for _, k := range keys {
		if v := obj.Get(k); v.Type == gjson.Number {
			return int(v.Int()), true
		}
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		if n > math.MaxInt {
			return math.MaxInt, true
		}
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		if n >= math.MaxInt {
			return math.MaxInt, true
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}
