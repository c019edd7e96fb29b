// Package payload unwraps the response envelopes produced by inconsistent backend deployments.
package payload

import (
	"encoding/json"
	"fmt"

	"github.com/MarcoPoloResearchLab/driftwood/internal/content"
	"github.com/tidwall/gjson"
)

// Shape identifies which envelope layout matched a response body.
type Shape string

const (
	ShapeArray      Shape = "array"
	ShapeData       Shape = "data"
	ShapePosts      Shape = "posts"
	ShapeBareObject Shape = "object"
)

// envelopeKeys are probed in order after the bare-array shape.
var envelopeKeys = []struct {
	key   string
	shape Shape
}{
	{key: "data", shape: ShapeData},
	{key: "posts", shape: ShapePosts},
}

// Envelope holds the records unwrapped from one response body.
type Envelope struct {
	Shape   Shape
	Records []content.Record
	// List reports whether the envelope carried a collection rather than a single record.
	List bool
}

// Normalize unwraps raw into an Envelope using the fixed shape precedence
// array, data, posts, bare object.
func Normalize(raw []byte) (Envelope, error) {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return Envelope{}, fmt.Errorf("%w: body does not parse", content.ErrMalformedPayload)
	}
	root := gjson.ParseBytes(raw)

	if root.IsArray() {
		return Envelope{Shape: ShapeArray, Records: recordsFrom(root), List: true}, nil
	}
	if !root.IsObject() {
		return Envelope{}, fmt.Errorf("%w: top-level %s", content.ErrMalformedPayload, root.Type)
	}

	for _, candidate := range envelopeKeys {
		nested := root.Get(candidate.key)
		switch {
		case nested.IsArray():
			return Envelope{Shape: candidate.shape, Records: recordsFrom(nested), List: true}, nil
		case nested.IsObject():
			return Envelope{Shape: candidate.shape, Records: []content.Record{recordFrom(nested)}}, nil
		}
	}

	return Envelope{Shape: ShapeBareObject, Records: []content.Record{recordFrom(root)}}, nil
}

// Select returns the first record accepted by match.
func (e Envelope) Select(match func(content.Record) bool) (content.Record, bool) {
	for _, record := range e.Records {
		if match(record) {
			return record, true
		}
	}
	return nil, false
}

// Single returns the lone record of a non-list envelope.
func (e Envelope) Single() (content.Record, bool) {
	if e.List || len(e.Records) != 1 {
		return nil, false
	}
	return e.Records[0], true
}

func recordsFrom(list gjson.Result) []content.Record {
	elements := list.Array()
	records := make([]content.Record, 0, len(elements))
	for _, element := range elements {
		if !element.IsObject() {
			continue
		}
		records = append(records, recordFrom(element))
	}
	return records
}

// recordFrom decodes object. Numeric identifiers keep their literal digits, which
// float64 would round above 2^53.
func recordFrom(object gjson.Result) content.Record {
	value, ok := object.Value().(map[string]interface{})
	if !ok {
		return content.Record{}
	}
	record := content.Record(value)
	object.ForEach(func(key, field gjson.Result) bool {
		if field.Type == gjson.Number && content.IsIdentifierField(key.String()) {
			record[key.String()] = json.Number(field.Raw)
		}
		return true
	})
	return record
}
