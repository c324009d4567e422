package replayflow

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds everything the engine and daemon need at construction time
type Config struct {
	Workers   int             `yaml:"workers" validate:"min=1"`
	Browser   BrowserConfig   `yaml:"browser"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Wait      WaitConfig      `yaml:"wait"`
	Auth      AuthConfig      `yaml:"auth"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Store     StoreConfig     `yaml:"store"`
	Events    EventsConfig    `yaml:"events"`
}

// BrowserConfig controls how browser sessions are launched
type BrowserConfig struct {
	Headless        bool          `yaml:"headless"`
	RemoteURL       string        `yaml:"remote_url"`
	ExecPath        string        `yaml:"exec_path"`
	WindowWidth     int           `yaml:"window_width" validate:"min=320"`
	WindowHeight    int           `yaml:"window_height" validate:"min=240"`
	PageLoadTimeout time.Duration `yaml:"page_load_timeout"`
	ActionTimeout   time.Duration `yaml:"action_timeout" validate:"gt=0"`
}

// ResolverConfig bounds element resolution
type ResolverConfig struct {
	SelectorTimeout  time.Duration `yaml:"selector_timeout"`
	HeuristicTimeout time.Duration `yaml:"heuristic_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval" validate:"gt=0"`
	MaxFrameDepth    int           `yaml:"max_frame_depth" validate:"min=0,max=10"`
	MaxCandidates    int           `yaml:"max_candidates" validate:"min=1"`
}

// WaitConfig controls Wait steps
type WaitConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout" validate:"gt=0"`
	PollInterval   time.Duration `yaml:"poll_interval" validate:"gt=0"`
}

// AuthConfig lists the signatures of authentication pages.
// Matching is case-insensitive substring on the URL and the title.
type AuthConfig struct {
	URLPatterns   []string `yaml:"url_patterns"`
	TitleKeywords []string `yaml:"title_keywords"`
}

// ArtifactsConfig selects where screenshots go
type ArtifactsConfig struct {
	Backend string      `yaml:"backend" validate:"oneof=fs minio"`
	Dir     string      `yaml:"dir"`
	MinIO   MinIOConfig `yaml:"minio"`
}

// MinIOConfig configures the object store backend
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Backend   string        `yaml:"backend" validate:"oneof=memory dynamodb"`
	TableName string        `yaml:"table_name" validate:"required_if=Backend dynamodb"`
	RunTTL    time.Duration `yaml:"run_ttl"`
}

// EventsConfig selects where run events are published
type EventsConfig struct {
	Backend string   `yaml:"backend" validate:"oneof=none gochannel kafka"`
	Topic   string   `yaml:"topic" validate:"required_unless=Backend none"`
	Brokers []string `yaml:"brokers" validate:"required_if=Backend kafka"`
}

// DefaultAuthConfig covers common single sign-on providers
var DefaultAuthConfig = AuthConfig{
	URLPatterns: []string{
		"accounts.google.com",
		"login.microsoftonline.com",
		"duosecurity.com",
		"okta.com/login",
		"/saml2/",
		"/oauth2/authorize",
	},
	TitleKeywords: []string{
		"sign in",
		"single sign-on",
		"two-factor",
		"duo security",
	},
}

// DefaultConfig provides sensible defaults
func DefaultConfig() Config {
	return Config{
		Workers: 4,
		Browser: BrowserConfig{
			Headless:        true,
			WindowWidth:     1366,
			WindowHeight:    900,
			PageLoadTimeout: 15 * time.Second,
			ActionTimeout:   15 * time.Second,
		},
		Resolver: ResolverConfig{
			SelectorTimeout:  5 * time.Second,
			HeuristicTimeout: 3 * time.Second,
			PollInterval:     250 * time.Millisecond,
			MaxFrameDepth:    3,
			MaxCandidates:    5,
		},
		Wait: WaitConfig{
			DefaultTimeout: 30 * time.Second,
			PollInterval:   400 * time.Millisecond,
		},
		Auth: AuthConfig{
			URLPatterns:   append([]string(nil), DefaultAuthConfig.URLPatterns...),
			TitleKeywords: append([]string(nil), DefaultAuthConfig.TitleKeywords...),
		},
		Artifacts: ArtifactsConfig{
			Backend: "fs",
			Dir:     "artifacts",
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Events: EventsConfig{
			Backend: "gochannel",
			Topic:   "replayflow.runs",
		},
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadConfig reads a YAML file over DefaultConfig. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}
