package endpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// PlaceholderID is the template placeholder replaced by the resource id.
const PlaceholderID = "id"

var (
	placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

	// ErrUnresolvedPlaceholder indicates a template referenced a value that was not supplied.
	ErrUnresolvedPlaceholder = errors.New("endpoint: unresolved template placeholder")
)

// ExpandPath substitutes path-escaped values into template.
func ExpandPath(template string, values map[string]string) (string, error) {
	return expand(template, values, url.PathEscape)
}

// ExpandJSON substitutes JSON-string-escaped values into a JSON body template.
// Placeholders are expected inside string literals, e.g. {"postId":"{id}"}.
func ExpandJSON(template string, values map[string]string) (string, error) {
	return expand(template, values, escapeJSONString)
}

func expand(template string, values map[string]string, escape func(string) string) (string, error) {
	var missing []string
	expanded := placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		name := token[1 : len(token)-1]
		value, ok := values[name]
		if !ok {
			missing = append(missing, name)
			return token
		}
		return escape(value)
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrUnresolvedPlaceholder, strings.Join(missing, ", "))
	}
	return expanded, nil
}

func escapeJSONString(value string) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(encoded[1 : len(encoded)-1])
}
