package main

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/driftwood/internal/content"
	"github.com/MarcoPoloResearchLab/driftwood/internal/devserver"
	"github.com/gin-gonic/gin"
)

func TestParseAssignmentsKeepsJSONTypes(t *testing.T) {
	fields, err := parseAssignments([]string{"title=Draft", "likesCount=3", "featured=true", "image=null", `tags=["a"]`})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fields["title"] != "Draft" || fields["likesCount"] != float64(3) || fields["featured"] != true {
		t.Fatalf("unexpected scalar fields %v", fields)
	}
	if value, present := fields["image"]; !present || value != nil {
		t.Fatalf("expected explicit null, got %v", fields["image"])
	}
	if tags, ok := fields["tags"].([]any); !ok || len(tags) != 1 {
		t.Fatalf("expected array, got %v", fields["tags"])
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseAssignments([]string{bad}); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"locale=en", "page=2"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if params["locale"] != "en" || params["page"] != "2" {
		t.Fatalf("unexpected params %v", params)
	}
	if params, err := parseParams(nil); err != nil || params != nil {
		t.Fatalf("expected nil params, got %v %v", params, err)
	}
}

func TestRecordTitleFlagsPlaceholderAndStale(t *testing.T) {
	title := recordTitle(content.CanonicalRecord{ID: "9", Kind: "article", Placeholder: true, Stale: true})
	if title != "article 9 (placeholder, stale)" {
		t.Fatalf("unexpected title %q", title)
	}
}

func TestGetCommandRendersReconciledRecords(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens, err := devserver.NewTokenIssuer(devserver.TokenIssuerConfig{SigningSecret: []byte("cli-secret")})
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	server, err := devserver.NewServer(devserver.Dependencies{Tokens: tokens, Articles: devserver.NewArticles(devserver.SampleArticles()...)})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	backend := httptest.NewServer(server)
	defer backend.Close()

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{
		"get", "article", "5", "1",
		"--base-url", backend.URL,
		"--store-driver", "memory",
		"--log-level", "error",
	})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	rendered := out.String()
	for _, want := range []string{"article 5", "Night market returns", "article 1", "Harbour reopens after storm", "remote"} {
		if !strings.Contains(rendered, want) {
			t.Fatalf("expected %q in output:\n%s", want, rendered)
		}
	}
}
