package memory

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Model responses often wrap the expected JSON in prose or code fences. The
// parse chain tries a strict parse first, then scans for the first
// well-formed object substring, then for a bare array. Nothing here returns
// an error: an unparseable response means "no payload".

var (
	objectPattern = regexp.MustCompile(`(?s)\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\}`)
	arrayPattern  = regexp.MustCompile(`(?s)\[[^\[\]]*(?:\[[^\[\]]*\][^\[\]]*)*\]`)
)

// extractPayload locates a JSON value inside a raw model response. The
// second return is false when no parseable payload exists.
func extractPayload(response string) (any, bool) {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return nil, false
	}

	var value any
	if err := json.Unmarshal([]byte(trimmed), &value); err == nil {
		return value, true
	}

	for _, match := range objectPattern.FindAllString(trimmed, -1) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(match), &obj); err == nil {
			return obj, true
		}
	}

	for _, match := range arrayPattern.FindAllString(trimmed, -1) {
		var arr []any
		if err := json.Unmarshal([]byte(match), &arr); err == nil {
			return arr, true
		}
	}

	return nil, false
}

// factKeys are probed in order; models drift in how they name the list.
var factKeys = []string{"facts", "fact", "items", "results"}

// parseFacts extracts the fact list from a raw model response. Returns nil
// when the response carries no recognizable payload.
func parseFacts(response string) []string {
	payload, ok := extractPayload(response)
	if !ok {
		return nil
	}

	switch v := payload.(type) {
	case map[string]any:
		for _, key := range factKeys {
			value, exists := v[key]
			if !exists {
				continue
			}
			return stringList(value)
		}
		return nil

	case []any:
		return stringList(v)

	default:
		return nil
	}
}

// stringList coerces a payload value into a list of non-empty strings. A
// bare string becomes a one-element list.
func stringList(value any) []string {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}

	case []any:
		var list []string
		for _, item := range v {
			switch s := item.(type) {
			case string:
				if s != "" {
					list = append(list, s)
				}
			case float64:
				list = append(list, strconv.FormatFloat(s, 'g', -1, 64))
			}
		}
		return list

	default:
		return nil
	}
}

// parseVerdict reads the conflict classification response. The second
// return is false when the response carries no usable verdict.
func parseVerdict(response string) (bool, bool) {
	payload, ok := extractPayload(response)
	if !ok {
		return false, false
	}

	obj, ok := payload.(map[string]any)
	if !ok {
		return false, false
	}

	verdict, ok := obj["contradictory"].(bool)
	return verdict, ok
}
