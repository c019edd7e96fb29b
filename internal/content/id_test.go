package content

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestResourceIDMatchesAcrossRepresentations(t *testing.T) {
	id := mustResourceID(t, "5")

	tests := []struct {
		name   string
		raw    any
		expect bool
	}{
		{name: "string", raw: "5", expect: true},
		{name: "padded-string", raw: " 5 ", expect: true},
		{name: "int", raw: 5, expect: true},
		{name: "int64", raw: int64(5), expect: true},
		{name: "float", raw: float64(5), expect: true},
		{name: "json-number", raw: json.Number("5"), expect: true},
		{name: "other-number", raw: 6, expect: false},
		{name: "fraction", raw: 5.5, expect: false},
		{name: "nil", raw: nil, expect: false},
		{name: "unsupported", raw: []string{"5"}, expect: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := id.Matches(tt.raw); got != tt.expect {
				t.Fatalf("Matches(%#v) = %v, want %v", tt.raw, got, tt.expect)
			}
		})
	}
}

func TestNewResourceIDRejectsEmpty(t *testing.T) {
	if _, err := NewResourceID("   "); !errors.Is(err, ErrInvalidResourceID) {
		t.Fatalf("expected invalid resource id error, got %v", err)
	}
	if _, err := NewResourceID(struct{}{}); !errors.Is(err, ErrInvalidResourceID) {
		t.Fatalf("expected invalid resource id error for struct, got %v", err)
	}
}

func TestRecordIdentity(t *testing.T) {
	if !(Record{"_id": "abc"}).HasIdentity() {
		t.Fatalf("expected _id to count as identity")
	}
	if !(Record{"title": "Hello"}).HasIdentity() {
		t.Fatalf("expected title to count as identity")
	}
	if (Record{"title": "  ", "body": "x"}).HasIdentity() {
		t.Fatalf("blank title must not count as identity")
	}
	if !(Record{"id": float64(9)}).MatchesID(mustResourceID(t, 9)) {
		t.Fatalf("expected numeric id to match")
	}
}

func TestRecordCloneIsDeep(t *testing.T) {
	original := Record{"tags": []any{"a"}, "author": map[string]any{"name": "x"}}
	copied := original.Clone()
	copied["tags"].([]any)[0] = "b"
	copied["author"].(map[string]any)["name"] = "y"

	if original["tags"].([]any)[0] != "a" {
		t.Fatalf("clone shares slice storage")
	}
	if original["author"].(map[string]any)["name"] != "x" {
		t.Fatalf("clone shares nested map")
	}
}

func TestPlaceholderIsLabeled(t *testing.T) {
	placeholder := Placeholder(mustResourceID(t, "42"))
	if placeholder[FieldPlaceholder] != true {
		t.Fatalf("placeholder flag missing: %#v", placeholder)
	}
	if !placeholder.MatchesID(mustResourceID(t, 42)) {
		t.Fatalf("placeholder must carry the requested id")
	}
}

func mustResourceID(t *testing.T, raw any) ResourceID {
	t.Helper()
	id, err := NewResourceID(raw)
	if err != nil {
		t.Fatalf("unexpected resource id error: %v", err)
	}
	return id
}
