// Package reconcile merges remote, cached and locally edited copies of a record
// and persists the result as the new cache entry.
package reconcile

import (
	"time"

	"github.com/MarcoPoloResearchLab/driftwood/internal/content"
)

// Layers are the copies of one record that take part in a merge. Any layer may be nil.
type Layers struct {
	Remote   content.Record
	Cached   content.Record
	Local    content.Record
	Defaults content.Record
}

// Reconcile merges the layers field by field. For every field the local edit wins,
// then a non-blank remote value, then a non-blank cached value, then the default,
// then whatever blank value remote or cache carried. The id field always equals id.
func Reconcile(id content.ResourceID, layers Layers) content.CanonicalRecord {
	fields := make(content.Record)
	sources := make(map[string]content.FieldSource)

	for _, name := range fieldNames(layers) {
		if name == content.FieldID {
			continue
		}
		value, source, ok := resolveField(name, layers)
		if !ok {
			continue
		}
		fields[name] = cloneValue(value)
		sources[name] = source
	}

	fields[content.FieldID], sources[content.FieldID] = canonicalID(id, layers)

	placeholder, _ := fields[content.FieldPlaceholder].(bool)
	return content.CanonicalRecord{
		ID:          id,
		Fields:      fields,
		Sources:     sources,
		Placeholder: placeholder,
	}
}

func resolveField(name string, layers Layers) (any, content.FieldSource, bool) {
	if value, ok := layers.Local[name]; ok && value != nil {
		return value, content.SourceLocalEdit, true
	}
	remote, hasRemote := layers.Remote[name]
	if hasRemote && !content.IsBlank(remote) {
		return remote, content.SourceRemote, true
	}
	cached, hasCached := layers.Cached[name]
	if hasCached && !content.IsBlank(cached) {
		return cached, content.SourceCached, true
	}
	if value, ok := layers.Defaults[name]; ok {
		return value, content.SourceDefault, true
	}
	if hasRemote {
		return remote, content.SourceRemote, true
	}
	if hasCached {
		return cached, content.SourceCached, true
	}
	return nil, "", false
}

// canonicalID keeps the remote or cached representation of the identifier when it
// matches the requested id, so that numeric ids stay numeric.
func canonicalID(id content.ResourceID, layers Layers) (any, content.FieldSource) {
	if raw, ok := layers.Remote[content.FieldID]; ok && id.Matches(raw) {
		return raw, content.SourceRemote
	}
	if raw, ok := layers.Cached[content.FieldID]; ok && id.Matches(raw) {
		return raw, content.SourceCached
	}
	return id.String(), content.SourceRequested
}

func fieldNames(layers Layers) []string {
	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, layer := range []content.Record{layers.Local, layers.Remote, layers.Cached, layers.Defaults} {
		for name := range layer {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

func cloneValue(value any) any {
	return content.Record{"v": value}.Clone()["v"]
}

// StripNulls returns a copy of fields without nil values.
func StripNulls(fields content.Record) content.Record {
	stripped := make(content.Record, len(fields))
	for name, value := range fields {
		if value == nil {
			continue
		}
		stripped[name] = cloneValue(value)
	}
	return stripped
}

// CachedRecord is a canonical record persisted with its capture time.
type CachedRecord struct {
	Fields     content.Record `json:"fields"`
	CapturedAt time.Time      `json:"capturedAt"`
}

// LocalEdit is a partial record holding a user's unsaved change.
type LocalEdit struct {
	Fields   content.Record `json:"fields"`
	EditedAt time.Time      `json:"editedAt"`
}
