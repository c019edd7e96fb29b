package content

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const maxIdentifierLength = 190

// ResourceID names a content entity across the network, cache and edit layers.
// Numeric and string spellings of the same identifier compare equal.
type ResourceID string

// NewResourceID validates raw input and returns its canonical ResourceID.
func NewResourceID(raw any) (ResourceID, error) {
	normalized, ok := normalizeIdentifier(raw)
	if !ok {
		return "", fmt.Errorf("%w: unsupported type %T", ErrInvalidResourceID, raw)
	}
	if normalized == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidResourceID)
	}
	if len(normalized) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidResourceID, maxIdentifierLength)
	}
	return ResourceID(normalized), nil
}

// String returns the canonical string form.
func (id ResourceID) String() string {
	return string(id)
}

// Matches reports whether raw names the same entity as id.
func (id ResourceID) Matches(raw any) bool {
	normalized, ok := normalizeIdentifier(raw)
	if !ok || normalized == "" {
		return false
	}
	return normalized == string(id)
}

func normalizeIdentifier(raw any) (string, bool) {
	switch value := raw.(type) {
	case nil:
		return "", false
	case ResourceID:
		return strings.TrimSpace(string(value)), true
	case string:
		return strings.TrimSpace(value), true
	case json.Number:
		if integer, err := value.Int64(); err == nil {
			return strconv.FormatInt(integer, 10), true
		}
		if float, err := value.Float64(); err == nil {
			return formatFloat(float), true
		}
		return strings.TrimSpace(value.String()), true
	case int:
		return strconv.FormatInt(int64(value), 10), true
	case int32:
		return strconv.FormatInt(int64(value), 10), true
	case int64:
		return strconv.FormatInt(value, 10), true
	case uint:
		return strconv.FormatUint(uint64(value), 10), true
	case uint32:
		return strconv.FormatUint(uint64(value), 10), true
	case uint64:
		return strconv.FormatUint(value, 10), true
	case float32:
		return formatFloat(float64(value)), true
	case float64:
		return formatFloat(value), true
	default:
		return "", false
	}
}

func formatFloat(value float64) string {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return ""
	}
	if value == math.Trunc(value) && math.Abs(value) < 1<<53 {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// Kind names a logical resource family such as "article" or "video".
type Kind string

// NewKind validates raw input and returns a Kind.
func NewKind(rawInput string) (Kind, error) {
	trimmed := strings.ToLower(strings.TrimSpace(rawInput))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKind)
	}
	return Kind(trimmed), nil
}

// String returns the underlying kind name.
func (k Kind) String() string {
	return string(k)
}
