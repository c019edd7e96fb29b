package content

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	// FieldID is the primary identifier field.
	FieldID = "id"
	// FieldTitle is accepted as a structural marker when no identifier is present.
	FieldTitle = "title"
	// FieldPlaceholder flags records substituted for content that could not be found.
	FieldPlaceholder = "placeholder"

	placeholderTitle = "Content unavailable"
)

// identifierFields lists the keys backends have been seen to use for record identifiers.
var identifierFields = []string{FieldID, "_id"}

// IsIdentifierField reports whether name is one of the identifier keys.
func IsIdentifierField(name string) bool {
	for _, field := range identifierFields {
		if field == name {
			return true
		}
	}
	return false
}

// Record is an open map of named fields. Only an identifier is guaranteed.
type Record map[string]any

// ID returns the record identifier when one of the identifier fields is set.
func (r Record) ID() (ResourceID, bool) {
	for _, field := range identifierFields {
		raw, ok := r[field]
		if !ok || raw == nil {
			continue
		}
		id, err := NewResourceID(raw)
		if err != nil {
			continue
		}
		return id, true
	}
	return "", false
}

// HasIdentity reports whether the record carries an identifier or a title.
func (r Record) HasIdentity() bool {
	if _, ok := r.ID(); ok {
		return true
	}
	return !IsBlank(r[FieldTitle])
}

// MatchesID reports whether any identifier field equals id.
func (r Record) MatchesID(id ResourceID) bool {
	for _, field := range identifierFields {
		if id.Matches(r[field]) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of maps and slices held by the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	copied := make(Record, len(r))
	for key, value := range r {
		copied[key] = cloneValue(value)
	}
	return copied
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return map[string]any(Record(typed).Clone())
	case Record:
		return typed.Clone()
	case []any:
		copied := make([]any, len(typed))
		for i, element := range typed {
			copied[i] = cloneValue(element)
		}
		return copied
	default:
		return value
	}
}

// IsBlank reports whether value carries no information: nil or a whitespace-only string.
func IsBlank(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	default:
		return false
	}
}

// Placeholder builds a clearly labeled stand-in for content that could not be loaded.
func Placeholder(id ResourceID) Record {
	return Record{
		FieldID:          id.String(),
		FieldTitle:       placeholderTitle,
		FieldPlaceholder: true,
	}
}

// FieldSource names the layer a canonical field value was taken from.
type FieldSource string

const (
	SourceLocalEdit FieldSource = "local_edit"
	SourceRemote    FieldSource = "remote"
	SourceCached    FieldSource = "cached"
	SourceDefault   FieldSource = "default"
	SourceRequested FieldSource = "requested"
)

// CanonicalRecord is the reconciled view handed to presentation code.
type CanonicalRecord struct {
	ID          ResourceID
	Kind        Kind
	Fields      Record
	Sources     map[string]FieldSource
	CapturedAt  time.Time
	Stale       bool
	Placeholder bool
}

// Int64Field returns the first of fields holding a numeric value.
func (c CanonicalRecord) Int64Field(fields ...string) (int64, bool) {
	for _, field := range fields {
		switch value := c.Fields[field].(type) {
		case float64:
			return int64(value), true
		case int:
			return int64(value), true
		case int64:
			return value, true
		case json.Number:
			if integer, err := value.Int64(); err == nil {
				return integer, true
			}
		}
	}
	return 0, false
}

// BoolField returns the first of fields holding a boolean value.
func (c CanonicalRecord) BoolField(fields ...string) (bool, bool) {
	for _, field := range fields {
		if value, ok := c.Fields[field].(bool); ok {
			return value, true
		}
	}
	return false, false
}
