package config

import (
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/driftwood/internal/content"
	"github.com/MarcoPoloResearchLab/driftwood/internal/interaction"
	"github.com/spf13/viper"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RequestTimeout != 8*time.Second {
		t.Fatalf("unexpected request timeout %s", cfg.RequestTimeout)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.InitialInterval != time.Second || cfg.Retry.MaxInterval != 4*time.Second {
		t.Fatalf("unexpected retry policy %+v", cfg.Retry)
	}
	if cfg.AllowUnlike {
		t.Fatalf("expected one-shot likes by default")
	}
	if got := cfg.Endpoints[content.Kind("article")]; len(got) != 4 || got[0] != "/news/{id}" {
		t.Fatalf("unexpected article candidates %v", got)
	}
	likes := cfg.Mutations[interaction.ActionLike]
	if len(likes) != 2 || !likes[0].Authenticated || likes[1].Body == "" {
		t.Fatalf("unexpected like variants %+v", likes)
	}
	if _, ok := cfg.RecordDefaults[content.Kind("article")]["likesCount"]; !ok {
		t.Fatalf("expected article defaults, got %v", cfg.RecordDefaults)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	configViper := NewViper()
	configViper.SetConfigType("yaml")
	document := `
backend:
  base_url: https://api.example.test
  request_timeout: 3s
interactions:
  allow_unlike: true
store:
  driver: memory
endpoints:
  article:
    - /v2/articles/{id}
    - /v2/articles
mutations:
  like:
    - method: PUT
      template: /v2/articles/{id}/like
      authenticated: true
`
	if err := configViper.ReadConfig(strings.NewReader(document)); err != nil {
		t.Fatalf("read config: %v", err)
	}
	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BaseURL != "https://api.example.test" || cfg.RequestTimeout != 3*time.Second {
		t.Fatalf("unexpected backend config %+v", cfg)
	}
	if !cfg.AllowUnlike {
		t.Fatalf("expected allow_unlike override")
	}
	if got := cfg.Endpoints[content.Kind("article")]; len(got) != 2 || got[1] != "/v2/articles" {
		t.Fatalf("unexpected candidates %v", got)
	}
	if got := cfg.Mutations[interaction.ActionLike]; len(got) != 1 || got[0].Method != "PUT" {
		t.Fatalf("unexpected like variants %+v", got)
	}
}

func TestLoadRejectsInvalidConfiguration(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value any
		want  string
	}{
		{name: "relative base url", key: "backend.base_url", value: "/api", want: "backend.base_url"},
		{name: "zero attempts", key: "retry.max_attempts", value: 0, want: "retry.max_attempts"},
		{name: "unknown driver", key: "store.driver", value: "redis", want: "store.driver"},
		{name: "missing sqlite path", key: "store.path", value: " ", want: "store.path"},
		{name: "inverted staleness tiers", key: "cache.force_refresh_after", value: time.Second, want: "cache.force_refresh_after"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set(testCase.key, testCase.value)
			_, err := Load(configViper)
			if err == nil || !strings.Contains(err.Error(), testCase.want) {
				t.Fatalf("expected error mentioning %q, got %v", testCase.want, err)
			}
		})
	}
}

func TestApplyDefaultsBindsEnvironment(t *testing.T) {
	t.Setenv("DRIFTWOOD_BACKEND_BASE_URL", "https://env.example.test")
	t.Setenv("DRIFTWOOD_INTERACTIONS_ALLOW_UNLIKE", "true")
	configViper := viper.New()
	ApplyDefaults(configViper)
	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BaseURL != "https://env.example.test" || !cfg.AllowUnlike {
		t.Fatalf("environment overrides not applied: %+v", cfg)
	}
}
