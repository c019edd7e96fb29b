package reconcile

import (
	"testing"

	"github.com/MarcoPoloResearchLab/driftwood/internal/content"
	"github.com/stretchr/testify/require"
)

func mustResourceID(t *testing.T, raw any) content.ResourceID {
	t.Helper()
	id, err := content.NewResourceID(raw)
	if err != nil {
		t.Fatalf("invalid resource id %v: %v", raw, err)
	}
	return id
}

func TestReconcilePrecedence(t *testing.T) {
	testCases := []struct {
		name       string
		layers     Layers
		wantValue  any
		wantSource content.FieldSource
	}{
		{
			name: "local edit beats everything",
			layers: Layers{
				Local:    content.Record{"title": "mine"},
				Remote:   content.Record{"title": "server"},
				Cached:   content.Record{"title": "cached"},
				Defaults: content.Record{"title": "default"},
			},
			wantValue:  "mine",
			wantSource: content.SourceLocalEdit,
		},
		{
			name: "non-blank remote beats cache",
			layers: Layers{
				Remote: content.Record{"title": "server"},
				Cached: content.Record{"title": "cached"},
			},
			wantValue:  "server",
			wantSource: content.SourceRemote,
		},
		{
			name: "cache beats default",
			layers: Layers{
				Cached:   content.Record{"title": "cached"},
				Defaults: content.Record{"title": "default"},
			},
			wantValue:  "cached",
			wantSource: content.SourceCached,
		},
		{
			name: "default beats blank remote",
			layers: Layers{
				Remote:   content.Record{"title": "  "},
				Defaults: content.Record{"title": "default"},
			},
			wantValue:  "default",
			wantSource: content.SourceDefault,
		},
		{
			name: "blank remote is kept when nothing else exists",
			layers: Layers{
				Remote: content.Record{"title": ""},
			},
			wantValue:  "",
			wantSource: content.SourceRemote,
		},
	}

	id := mustResourceID(t, 5)
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			record := Reconcile(id, testCase.layers)
			if record.Fields["title"] != testCase.wantValue {
				t.Fatalf("expected title %v, got %v", testCase.wantValue, record.Fields["title"])
			}
			if record.Sources["title"] != testCase.wantSource {
				t.Fatalf("expected source %s, got %s", testCase.wantSource, record.Sources["title"])
			}
		})
	}
}

func TestReconcileBlankRemoteNeverOverridesKnownValues(t *testing.T) {
	id := mustResourceID(t, "7")
	record := Reconcile(id, Layers{
		Remote: content.Record{"id": 7.0, "image": nil, "summary": "\t", "title": ""},
		Cached: content.Record{"id": "7", "image": "a.png", "summary": "cached summary"},
		Local:  content.Record{"title": "edited"},
	})

	require.Equal(t, "a.png", record.Fields["image"])
	require.Equal(t, content.SourceCached, record.Sources["image"])
	require.Equal(t, "cached summary", record.Fields["summary"])
	require.Equal(t, "edited", record.Fields["title"])
	require.Equal(t, 7.0, record.Fields["id"], "matching remote id representation is kept")
}

func TestReconcileIsIdempotent(t *testing.T) {
	id := mustResourceID(t, 3)
	layers := Layers{
		Remote:   content.Record{"id": 3.0, "title": "", "body": "server", "image": nil, "tags": []any{"a"}},
		Cached:   content.Record{"id": 3.0, "title": "cached", "image": "i.png", "likesCount": 4.0},
		Local:    content.Record{"body": "draft"},
		Defaults: content.Record{"likesCount": 0, "commentCount": 0},
	}

	first := Reconcile(id, layers)
	again := layers
	again.Remote = first.Fields
	second := Reconcile(id, again)

	require.Equal(t, first.Fields, second.Fields)
}

func TestReconcileIdentifierAlwaysMatchesRequest(t *testing.T) {
	id := mustResourceID(t, 9)
	record := Reconcile(id, Layers{Remote: content.Record{"id": "other", "title": "x"}})
	require.Equal(t, "9", record.Fields["id"])
	require.Equal(t, content.SourceRequested, record.Sources["id"])
	require.Equal(t, id, record.ID)

	record = Reconcile(id, Layers{Local: content.Record{"id": "spoof"}})
	require.Equal(t, "9", record.Fields["id"])
}

func TestReconcileDoesNotAliasInputs(t *testing.T) {
	id := mustResourceID(t, 1)
	cached := content.Record{"meta": map[string]any{"views": 1.0}}
	record := Reconcile(id, Layers{Cached: cached})
	record.Fields["meta"].(map[string]any)["views"] = 2.0
	require.Equal(t, 1.0, cached["meta"].(map[string]any)["views"])
}

func TestStripNulls(t *testing.T) {
	stripped := StripNulls(content.Record{"title": "t", "image": nil, "empty": ""})
	require.Equal(t, content.Record{"title": "t", "empty": ""}, stripped)
}
