package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultTTLSeconds   = 90
	DefaultLimit        = 50
	DefaultSweepSeconds = 10
	DefaultClearCommand = "!clear"
	DefaultAddr         = ":8080"
)

// Config holds the application configuration
type Config struct {
	Twitch   TwitchConfig   `yaml:"twitch"`
	Overlay  OverlayConfig  `yaml:"overlay"`
	Server   ServerConfig   `yaml:"server"`
	Archive  ArchiveConfig  `yaml:"archive"`
	S3       S3Config       `yaml:"s3"`
	Uploader UploaderConfig `yaml:"uploader"`

	// Warnings lists settings that were invalid and replaced by defaults.
	Warnings []string `yaml:"-"`
}

// TwitchConfig holds Twitch-specific configuration
type TwitchConfig struct {
	Username string `yaml:"username"`
	OAuth    string `yaml:"oauth"`     // chat and Helix token, without the "oauth:" prefix
	ClientID string `yaml:"client_id"` // Helix client id, needed for badges
	Channel  string `yaml:"channel"`
	HelixURL string `yaml:"helix_url"`
}

// OverlayConfig is the per-session option set of the chat overlay.
type OverlayConfig struct {
	Scroll           bool   `yaml:"scroll"`
	HideCommands     bool   `yaml:"hide_commands"`
	TTLSeconds       Number `yaml:"ttl_seconds"`
	ExcludeUsernames string `yaml:"exclude_usernames"`
	Limit            Number `yaml:"limit"`
	SweepSeconds     Number `yaml:"sweep_seconds"`
	ClearCommand     string `yaml:"clear_command"`
}

// ServerConfig holds the overlay HTTP server configuration
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ArchiveConfig holds transcript recorder configuration
type ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	OutputDir       string `yaml:"output_dir"`
	RotateMinutes   int    `yaml:"rotate_minutes"`
	RotateMegabytes int    `yaml:"rotate_megabytes"`
	BufferSize      int    `yaml:"buffer_size"`
}

// S3Config holds S3 upload configuration
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	RoleARN         string `yaml:"role_arn"`          // IAM role assumed through STS
	AccessKeyID     string `yaml:"access_key_id"`     // static credentials
	SecretAccessKey string `yaml:"secret_access_key"` // static credentials
	Endpoint        string `yaml:"endpoint"`          // For S3-compatible services
}

// UploaderConfig holds uploader configuration
type UploaderConfig struct {
	DeleteAfterUpload bool `yaml:"delete_after_upload"`
	MaxRetries        int  `yaml:"max_retries"`
}

// Number is an integer setting that tolerates garbage. A value that does not
// parse is kept as invalid and replaced by its default in Load.
type Number struct {
	Value int
	Set   bool
	Raw   string
}

// UnmarshalYAML accepts ints and numeric strings.
func (n *Number) UnmarshalYAML(node *yaml.Node) error {
	n.Raw = node.Value
	v, err := strconv.Atoi(strings.TrimSpace(node.Value))
	if err != nil {
		n.Set = false
		return nil
	}
	n.Value, n.Set = v, true
	return nil
}

// Valid reports whether the setting was given and parsed.
func (n Number) Valid() bool { return n.Set }

// TTL is the message lifetime.
func (o OverlayConfig) TTL() time.Duration {
	return time.Duration(o.TTLSeconds.Value) * time.Second
}

// SweepInterval is the cadence of dead-record sweeps.
func (o OverlayConfig) SweepInterval() time.Duration {
	return time.Duration(o.SweepSeconds.Value) * time.Second
}

// ExclusionSet returns the lowercase usernames whose messages are hidden.
// Names may be separated by spaces, '+' or "%20".
func (o OverlayConfig) ExclusionSet() map[string]struct{} {
	return ParseExclusions(o.ExcludeUsernames)
}

// ParseExclusions splits an exclusion list into a set of lowercase names.
func ParseExclusions(s string) map[string]struct{} {
	s = strings.ReplaceAll(s, "%20", " ")
	s = strings.ReplaceAll(s, "+", " ")
	set := make(map[string]struct{})
	for _, name := range strings.Fields(s) {
		set[strings.ToLower(name)] = struct{}{}
	}
	return set
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	// Read YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration, applies environment overrides and defaults
// and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// Apply environment variable overrides
	if oauth := os.Getenv("TWITCH_OAUTH"); oauth != "" {
		cfg.Twitch.OAuth = oauth
	}
	if clientID := os.Getenv("TWITCH_CLIENT_ID"); clientID != "" {
		cfg.Twitch.ClientID = clientID
	}
	if channel := os.Getenv("TWITCH_CHANNEL"); channel != "" {
		cfg.Twitch.Channel = channel
	}
	if ttl := os.Getenv("OVERLAY_TTL_SECONDS"); ttl != "" {
		cfg.Overlay.TTLSeconds = parseNumber(ttl)
	}
	if limit := os.Getenv("OVERLAY_LIMIT"); limit != "" {
		cfg.Overlay.Limit = parseNumber(limit)
	}
	if roleARN := os.Getenv("AWS_ROLE_ARN"); roleARN != "" {
		cfg.S3.RoleARN = roleARN
	}
	if keyID := os.Getenv("S3_ACCESS_KEY_ID"); keyID != "" {
		cfg.S3.AccessKeyID = keyID
	}
	if secretKey := os.Getenv("S3_SECRET_ACCESS_KEY"); secretKey != "" {
		cfg.S3.SecretAccessKey = secretKey
	}

	cfg.Twitch.OAuth = strings.TrimPrefix(cfg.Twitch.OAuth, "oauth:")
	cfg.Twitch.Channel = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cfg.Twitch.Channel), "#"))

	// Set defaults
	cfg.Overlay.TTLSeconds = cfg.positive("overlay.ttl_seconds", cfg.Overlay.TTLSeconds, DefaultTTLSeconds)
	cfg.Overlay.Limit = cfg.positive("overlay.limit", cfg.Overlay.Limit, DefaultLimit)
	cfg.Overlay.SweepSeconds = cfg.positive("overlay.sweep_seconds", cfg.Overlay.SweepSeconds, DefaultSweepSeconds)
	if cfg.Overlay.ClearCommand == "" {
		cfg.Overlay.ClearCommand = DefaultClearCommand
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultAddr
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Archive.BufferSize == 0 {
		cfg.Archive.BufferSize = 100
	}
	if cfg.Archive.RotateMinutes == 0 {
		cfg.Archive.RotateMinutes = 60
	}
	if cfg.Archive.RotateMegabytes == 0 {
		cfg.Archive.RotateMegabytes = 100
	}
	if cfg.Archive.OutputDir == "" {
		cfg.Archive.OutputDir = "./data"
	}
	if cfg.Uploader.MaxRetries == 0 {
		cfg.Uploader.MaxRetries = 3
	}

	// Validate required fields
	if cfg.Twitch.Channel == "" {
		return nil, fmt.Errorf("twitch.channel is required (or set TWITCH_CHANNEL env var)")
	}
	if cfg.Twitch.OAuth != "" && cfg.Twitch.Username == "" {
		cfg.Twitch.Username = cfg.Twitch.Channel
	}
	if cfg.Archive.Enabled && cfg.S3.Bucket != "" {
		if cfg.S3.Region == "" {
			return nil, fmt.Errorf("s3.region is required when s3.bucket is set")
		}
		// If using static credentials, both key and secret are required
		if cfg.S3.AccessKeyID != "" && cfg.S3.SecretAccessKey == "" {
			return nil, fmt.Errorf("s3.secret_access_key is required when using access_key_id")
		}
	}

	return &cfg, nil
}

func (c *Config) positive(name string, n Number, def int) Number {
	if n.Raw == "" && !n.Set {
		return Number{Value: def, Set: true}
	}
	if !n.Set || n.Value <= 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s: invalid value %q, using default %d", name, n.Raw, def))
		return Number{Value: def, Set: true, Raw: n.Raw}
	}
	return n
}

func parseNumber(s string) Number {
	n := Number{Raw: s}
	if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		n.Value, n.Set = v, true
	}
	return n
}
