package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/driftwood/internal/content"
	"github.com/MarcoPoloResearchLab/driftwood/internal/endpoint"
	"github.com/MarcoPoloResearchLab/driftwood/internal/interaction"
	"github.com/MarcoPoloResearchLab/driftwood/internal/kvstore"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	envPrefix                = "DRIFTWOOD"
	defaultBaseURL           = "http://127.0.0.1:8090"
	defaultRequestTimeout    = 8 * time.Second
	defaultInitialInterval   = time.Second
	defaultMaxInterval       = 4 * time.Second
	defaultMaxAttempts       = 3
	defaultStoreDriver       = kvstore.DriverSQLite
	defaultStorePath         = "driftwood.db"
	defaultSessionMaxAge     = 24 * time.Hour
	defaultCheckInterval     = 5 * time.Minute
	defaultRefreshAfter      = 2 * time.Minute
	defaultForceRefreshAfter = 5 * time.Minute
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultDevServerAddress  = "127.0.0.1:8090"
	defaultDevSigningSecret  = "driftwood-dev-signing-secret"
)

// AppConfig captures runtime configuration for the client and the dev backend.
type AppConfig struct {
	BaseURL           string
	RequestTimeout    time.Duration
	Retry             endpoint.RetryPolicy
	StoreDriver       string
	StorePath         string
	SessionMaxAge     time.Duration
	CheckInterval     time.Duration
	RefreshAfter      time.Duration
	ForceRefreshAfter time.Duration
	AllowUnlike       bool
	Endpoints         endpoint.Catalog
	Mutations         map[interaction.Action][]endpoint.Variant
	RecordDefaults    map[content.Kind]content.Record
	LogLevel          string
	LogFormat         string
	DevServerAddress  string
	DevSigningSecret  string
}

// DefaultEndpoints lists the candidate read paths known across backend deployments.
func DefaultEndpoints() endpoint.Catalog {
	return endpoint.Catalog{
		"article": {"/news/{id}", "/news/by-id/{id}", "/posts/{id}", "/news"},
		"video":   {"/videos/{id}", "/media/videos/{id}", "/videos"},
	}
}

// DefaultMutations lists the write variants known across backend deployments.
func DefaultMutations() map[interaction.Action][]endpoint.Variant {
	return map[interaction.Action][]endpoint.Variant{
		interaction.ActionLike: {
			{Method: "POST", Template: "/news/{id}/like", Authenticated: true},
			{Method: "POST", Template: "/posts/{id}/likes", Body: `{"postId":"{id}"}`, Authenticated: true},
		},
		interaction.ActionUnlike: {
			{Method: "DELETE", Template: "/news/{id}/like", Authenticated: true},
			{Method: "POST", Template: "/news/{id}/unlike", Authenticated: true},
		},
		interaction.ActionView: {
			{Method: "POST", Template: "/news/{id}/view"},
			{Method: "POST", Template: "/posts/{id}/views"},
		},
		interaction.ActionComment: {
			{Method: "POST", Template: "/news/{id}/comments", Body: `{"text":"{text}"}`, Authenticated: true},
			{Method: "POST", Template: "/comments", Body: `{"postId":"{id}","text":"{text}"}`, Authenticated: true},
		},
	}
}

// DefaultRecordDefaults lists field values used when no layer supplies one.
func DefaultRecordDefaults() map[content.Kind]content.Record {
	return map[content.Kind]content.Record{
		"article": {"likesCount": 0, "commentsCount": 0, "views": 0},
		"video":   {"likesCount": 0, "views": 0},
	}
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("backend.base_url", defaultBaseURL)
	configViper.SetDefault("backend.request_timeout", defaultRequestTimeout)
	configViper.SetDefault("retry.initial_interval", defaultInitialInterval)
	configViper.SetDefault("retry.max_interval", defaultMaxInterval)
	configViper.SetDefault("retry.max_attempts", defaultMaxAttempts)
	configViper.SetDefault("store.driver", defaultStoreDriver)
	configViper.SetDefault("store.path", defaultStorePath)
	configViper.SetDefault("session.max_age", defaultSessionMaxAge)
	configViper.SetDefault("session.check_interval", defaultCheckInterval)
	configViper.SetDefault("cache.refresh_after", defaultRefreshAfter)
	configViper.SetDefault("cache.force_refresh_after", defaultForceRefreshAfter)
	configViper.SetDefault("interactions.allow_unlike", false)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("devserver.address", defaultDevServerAddress)
	configViper.SetDefault("devserver.signing_secret", defaultDevSigningSecret)

	configViper.SetDefault("endpoints", catalogDefaults())
	configViper.SetDefault("mutations", mutationDefaults())
	configViper.SetDefault("record_defaults", recordDefaults())
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		BaseURL:        strings.TrimSpace(configViper.GetString("backend.base_url")),
		RequestTimeout: configViper.GetDuration("backend.request_timeout"),
		Retry: endpoint.RetryPolicy{
			InitialInterval: configViper.GetDuration("retry.initial_interval"),
			MaxInterval:     configViper.GetDuration("retry.max_interval"),
			MaxAttempts:     configViper.GetUint("retry.max_attempts"),
		},
		StoreDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("store.driver"))),
		StorePath:         strings.TrimSpace(configViper.GetString("store.path")),
		SessionMaxAge:     configViper.GetDuration("session.max_age"),
		CheckInterval:     configViper.GetDuration("session.check_interval"),
		RefreshAfter:      configViper.GetDuration("cache.refresh_after"),
		ForceRefreshAfter: configViper.GetDuration("cache.force_refresh_after"),
		AllowUnlike:       configViper.GetBool("interactions.allow_unlike"),
		LogLevel:          configViper.GetString("log.level"),
		LogFormat:         configViper.GetString("log.format"),
		DevServerAddress:  configViper.GetString("devserver.address"),
		DevSigningSecret:  configViper.GetString("devserver.signing_secret"),
	}

	var err error
	if cfg.Endpoints, err = loadCatalog(configViper); err != nil {
		return AppConfig{}, err
	}
	if cfg.Mutations, err = loadMutations(configViper); err != nil {
		return AppConfig{}, err
	}
	if cfg.RecordDefaults, err = loadRecordDefaults(configViper); err != nil {
		return AppConfig{}, err
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func decodeHooks() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

func loadCatalog(configViper *viper.Viper) (endpoint.Catalog, error) {
	raw := make(map[string][]string)
	if err := configViper.UnmarshalKey("endpoints", &raw, decodeHooks()); err != nil {
		return nil, fmt.Errorf("endpoints: %w", err)
	}
	catalog := make(endpoint.Catalog, len(raw))
	for name, templates := range raw {
		kind, err := content.NewKind(name)
		if err != nil {
			return nil, fmt.Errorf("endpoints.%s: %w", name, err)
		}
		cleaned := make([]string, 0, len(templates))
		for _, template := range templates {
			if trimmed := strings.TrimSpace(template); trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		catalog[kind] = cleaned
	}
	return catalog, nil
}

func loadMutations(configViper *viper.Viper) (map[interaction.Action][]endpoint.Variant, error) {
	raw := make(map[string][]endpoint.Variant)
	if err := configViper.UnmarshalKey("mutations", &raw, decodeHooks()); err != nil {
		return nil, fmt.Errorf("mutations: %w", err)
	}
	mutations := make(map[interaction.Action][]endpoint.Variant, len(raw))
	for name, variants := range raw {
		mutations[interaction.Action(strings.ToLower(strings.TrimSpace(name)))] = variants
	}
	return mutations, nil
}

// FieldDefault is one documented field default. Field names are listed as values
// because viper folds map keys to lower case.
type FieldDefault struct {
	Field string `mapstructure:"field"`
	Value any    `mapstructure:"value"`
}

func loadRecordDefaults(configViper *viper.Viper) (map[content.Kind]content.Record, error) {
	raw := make(map[string][]FieldDefault)
	if err := configViper.UnmarshalKey("record_defaults", &raw, decodeHooks()); err != nil {
		return nil, fmt.Errorf("record_defaults: %w", err)
	}
	defaults := make(map[content.Kind]content.Record, len(raw))
	for name, fields := range raw {
		kind, err := content.NewKind(name)
		if err != nil {
			return nil, fmt.Errorf("record_defaults.%s: %w", name, err)
		}
		record := make(content.Record, len(fields))
		for _, field := range fields {
			if trimmed := strings.TrimSpace(field.Field); trimmed != "" {
				record[trimmed] = field.Value
			}
		}
		defaults[kind] = record
	}
	return defaults, nil
}

func (c AppConfig) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	parsed, err := url.Parse(c.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("backend.base_url must be an absolute URL: %q", c.BaseURL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("backend.request_timeout must be positive")
	}
	if c.Retry.MaxAttempts == 0 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.InitialInterval <= 0 || c.Retry.MaxInterval < c.Retry.InitialInterval {
		return fmt.Errorf("retry intervals must be positive with max_interval >= initial_interval")
	}
	switch c.StoreDriver {
	case kvstore.DriverMemory:
	case kvstore.DriverSQLite, kvstore.DriverFile:
		if c.StorePath == "" {
			return fmt.Errorf("store.path is required for the %s driver", c.StoreDriver)
		}
	default:
		return fmt.Errorf("store.driver must be one of memory, sqlite, file: %q", c.StoreDriver)
	}
	if c.SessionMaxAge <= 0 || c.CheckInterval <= 0 {
		return fmt.Errorf("session.max_age and session.check_interval must be positive")
	}
	if c.RefreshAfter <= 0 || c.ForceRefreshAfter < c.RefreshAfter {
		return fmt.Errorf("cache.force_refresh_after must be at least cache.refresh_after")
	}
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("endpoints must list candidates for at least one kind")
	}
	for kind, templates := range c.Endpoints {
		if len(templates) == 0 {
			return fmt.Errorf("endpoints.%s has no candidates", kind)
		}
	}
	for action, variants := range c.Mutations {
		for index, variant := range variants {
			if strings.TrimSpace(variant.Template) == "" {
				return fmt.Errorf("mutations.%s[%d].template is required", action, index)
			}
		}
	}
	return nil
}

func catalogDefaults() map[string]any {
	defaults := make(map[string]any)
	for kind, templates := range DefaultEndpoints() {
		defaults[kind.String()] = templates
	}
	return defaults
}

func mutationDefaults() map[string]any {
	defaults := make(map[string]any)
	for action, variants := range DefaultMutations() {
		encoded := make([]map[string]any, 0, len(variants))
		for _, variant := range variants {
			encoded = append(encoded, map[string]any{
				"method":        variant.Method,
				"template":      variant.Template,
				"body":          variant.Body,
				"authenticated": variant.Authenticated,
			})
		}
		defaults[string(action)] = encoded
	}
	return defaults
}

func recordDefaults() map[string]any {
	defaults := make(map[string]any)
	for kind, fields := range DefaultRecordDefaults() {
		encoded := make([]map[string]any, 0, len(fields))
		for field, value := range fields {
			encoded = append(encoded, map[string]any{"field": field, "value": value})
		}
		defaults[kind.String()] = encoded
	}
	return defaults
}
