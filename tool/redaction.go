package tool

import "strings"

// MaskedSecretValue replaces secret values in user-facing output.
const MaskedSecretValue = "**********"

// minRedactLength keeps very short values from masking unrelated text.
const minRedactLength = 4

// RedactParams returns a copy of params with the entry's secret parameters
// masked.
func (e Entry) RedactParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for key, value := range params {
		if _, secret := e.Secrets[key]; secret && value != nil {
			out[key] = MaskedSecretValue
			continue
		}
		out[key] = value
	}
	return out
}

// RedactText masks every occurrence of the given secret values in text.
func RedactText(text string, secrets []string) string {
	for _, secret := range secrets {
		if len(strings.TrimSpace(secret)) < minRedactLength {
			continue
		}
		text = strings.ReplaceAll(text, secret, MaskedSecretValue)
	}
	return text
}

// RedactValue returns a copy of a decoded JSON value with secret values masked
// inside every string it contains.
func RedactValue(value any, secrets []string) any {
	switch v := value.(type) {
	case string:
		return RedactText(v, secrets)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = RedactValue(item, secrets)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = RedactValue(item, secrets)
		}
		return out
	default:
		return v
	}
}
