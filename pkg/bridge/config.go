// Copyright 2024-2026 Aiku AI

package bridge

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
	"maunium.net/go/mautrix/id"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config validation errors.
var (
	ErrMissingHomeserver = errors.New("matrix.homeserver is not set")
	ErrMissingUserID     = errors.New("matrix.user_id is not set")
	ErrMissingRoomID     = errors.New("matrix.room_id is not set")
	ErrMissingAuth       = errors.New("either matrix.access_token or matrix.user_password must be set")
	ErrMissingWebhookURL = errors.New("n8n.webhook_url is not set")
)

// MatrixConfig holds homeserver connection and authentication settings.
type MatrixConfig struct {
	Homeserver string    `yaml:"homeserver"`
	UserID     id.UserID `yaml:"user_id"`
	// AccessToken takes precedence over UserPassword when both are set.
	AccessToken  string    `yaml:"access_token"`
	UserPassword string    `yaml:"user_password"`
	RoomID       id.RoomID `yaml:"room_id"`
}

// N8NConfig holds the webhook destination settings.
type N8NConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	// InsecureSkipVerify disables TLS certificate verification of the
	// webhook endpoint. Only enable this for endpoints behind a private CA.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
	// RequestTimeout is the webhook request timeout in seconds.
	RequestTimeout int `yaml:"request_timeout"`
}

// BridgeConfig holds relay pipeline settings.
type BridgeConfig struct {
	// RelayOwnEvents forwards messages sent by the bridge's own user.
	// Off by default as echo prevention.
	RelayOwnEvents bool `yaml:"relay_own_events"`
	// InlineMedia lists the event kinds whose media bytes are downloaded
	// and embedded base64-encoded in the payload. Kinds not listed are
	// forwarded with a download URL and media ID only.
	InlineMedia []EventKind `yaml:"inline_media"`
	// MaxInlineMB caps the size of an inlined media body in megabytes.
	MaxInlineMB int `yaml:"max_inline_mb"`
	// DownloadTimeout is the media download timeout in seconds.
	DownloadTimeout int `yaml:"download_timeout"`
}

// MetricsConfig holds the optional Prometheus listener settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Config is the root configuration document.
type Config struct {
	Matrix  MatrixConfig      `yaml:"matrix"`
	N8N     N8NConfig         `yaml:"n8n"`
	Bridge  BridgeConfig      `yaml:"bridge"`
	Metrics MetricsConfig     `yaml:"metrics"`
	Logging zeroconfig.Config `yaml:"logging"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// InlineKind reports whether media for the given kind should be downloaded
// and embedded in the payload.
func (bc *BridgeConfig) InlineKind(kind EventKind) bool {
	for _, k := range bc.InlineMedia {
		if k == kind {
			return true
		}
	}
	return false
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "matrix", "homeserver")
	helper.Copy(up.Str, "matrix", "user_id")
	helper.Copy(up.Str, "matrix", "access_token")
	helper.Copy(up.Str, "matrix", "user_password")
	helper.Copy(up.Str, "matrix", "room_id")

	helper.Copy(up.Str, "n8n", "webhook_url")
	helper.Copy(up.Bool, "n8n", "insecure_skip_verify")
	helper.Copy(up.Int, "n8n", "request_timeout")

	helper.Copy(up.Bool, "bridge", "relay_own_events")
	helper.Copy(up.List, "bridge", "inline_media")
	helper.Copy(up.Int, "bridge", "max_inline_mb")
	helper.Copy(up.Int, "bridge", "download_timeout")

	helper.Copy(up.Bool, "metrics", "enabled")
	helper.Copy(up.Str, "metrics", "listen")

	helper.Copy(up.Map, "logging")
}

// ParseConfig merges user YAML over the embedded example config, which
// doubles as the defaults document, and decodes the result.
func ParseConfig(data []byte) (*Config, error) {
	var base, cfg yaml.Node
	if err := yaml.Unmarshal([]byte(ExampleConfig), &base); err != nil {
		return nil, fmt.Errorf("failed to parse built-in example config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !cfg.IsZero() {
		upgradeConfig(up.NewHelper(&base, &cfg))
	}
	var parsed Config
	if err := base.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &parsed, nil
}

// LoadConfig reads the config file at path, applies environment overrides
// for secrets, and validates the result. A .env file in the working
// directory is loaded first so containerized deployments can keep secrets
// out of the YAML.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if token := os.Getenv("MATRIX_ACCESS_TOKEN"); token != "" {
		c.Matrix.AccessToken = token
	}
	if password := os.Getenv("MATRIX_USER_PASSWORD"); password != "" {
		c.Matrix.UserPassword = password
	}
	if url := os.Getenv("N8N_WEBHOOK_URL"); url != "" {
		c.N8N.WebhookURL = url
	}
}

// Validate checks that all required settings are present and that the
// inline media kinds are valid.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return ErrMissingHomeserver
	}
	if c.Matrix.UserID == "" {
		return ErrMissingUserID
	}
	if c.Matrix.RoomID == "" {
		return ErrMissingRoomID
	}
	if c.Matrix.AccessToken == "" && c.Matrix.UserPassword == "" {
		return ErrMissingAuth
	}
	if c.N8N.WebhookURL == "" {
		return ErrMissingWebhookURL
	}
	for _, kind := range c.Bridge.InlineMedia {
		switch kind {
		case KindImage, KindAudio, KindFile:
		default:
			return fmt.Errorf("bridge.inline_media: %q is not an inlineable kind", kind)
		}
	}
	return nil
}
