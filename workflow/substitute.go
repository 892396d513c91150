package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Tokens replaced inside step parameter strings.
const (
	TokenInput          = "{input}"
	TokenPreviousOutput = "{previous_output}"
)

// Stringify renders a value for substitution: strings verbatim, nil as null,
// anything else as JSON with sorted object keys and no HTML escaping.
func Stringify(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case string:
		return val, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("workflow: stringify %T: %w", v, err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Substitute returns a deep copy of params with every {input} and
// {previous_output} token replaced by the string form of previous. Values
// without tokens are copied unchanged.
func Substitute(params map[string]any, previous any) (map[string]any, error) {
	if params == nil {
		return nil, nil
	}
	text, err := Stringify(previous)
	if err != nil {
		return nil, err
	}
	replacer := strings.NewReplacer(TokenInput, text, TokenPreviousOutput, text)
	out, _ := substituteValue(params, replacer).(map[string]any)
	return out, nil
}

func substituteValue(v any, replacer *strings.Replacer) any {
	switch val := v.(type) {
	case string:
		if !strings.Contains(val, TokenInput) && !strings.Contains(val, TokenPreviousOutput) {
			return val
		}
		return replacer.Replace(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for key, item := range val {
			out[key] = substituteValue(item, replacer)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = substituteValue(item, replacer)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i], _ = substituteValue(item, replacer).(string)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for key, item := range val {
			out[key], _ = substituteValue(item, replacer).(string)
		}
		return out
	default:
		return v
	}
}

func deepCopyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out, _ := deepCopyValue(in).(map[string]any)
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for key, item := range val {
			out[key] = deepCopyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
