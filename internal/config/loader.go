// Package config provides configuration loading for mesorad.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/sifralabs/mesora/internal/extraction"
	"github.com/sifralabs/mesora/internal/finding"
	"github.com/sifralabs/mesora/internal/logging"
	"github.com/sifralabs/mesora/internal/prefilter"
	"github.com/sifralabs/mesora/internal/telemetry"
	"github.com/sifralabs/mesora/internal/vectorstore"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the listen address. Default: 127.0.0.1.
	Host string `koanf:"host"`

	// Port is the listen port. Default: 8780.
	Port int `koanf:"port"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "fastembed" or "hash". Default: hash.
	Provider string `koanf:"provider"`

	// Dimension is the embedding dimension. Default: 384.
	Dimension int `koanf:"dimension"`

	// Model is the fastembed model name.
	Model string `koanf:"model"`

	// CacheDir is where fastembed caches downloaded models.
	CacheDir string `koanf:"cache_dir"`
}

// FeedbackConfig holds verdict recording settings.
type FeedbackConfig struct {
	// QueueSize is the async indexing queue capacity. Default: 256.
	QueueSize int `koanf:"queue_size"`
}

// Config is the complete mesorad configuration.
type Config struct {
	Server      ServerConfig        `koanf:"server"`
	Logging     logging.Config      `koanf:"logging"`
	Prefilter   prefilter.Config    `koanf:"prefilter"`
	VectorStore vectorstore.Config  `koanf:"vectorstore"`
	Embeddings  EmbeddingsConfig    `koanf:"embeddings"`
	Extraction  extraction.Config   `koanf:"extraction"`
	Store       finding.StoreConfig `koanf:"store"`
	Feedback    FeedbackConfig      `koanf:"feedback"`
	Telemetry   telemetry.Config    `koanf:"telemetry"`
}

// Load reads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (PREFILTER_APPROVE_THRESHOLD, SERVER_PORT, ...)
//  2. YAML config file (~/.config/mesora/config.yaml by default)
//  3. Defaults
//
// A missing config file is not an error; defaults and environment apply.
// Existing files must be 0600 or 0400 and at most 1MB.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "mesora", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate via the descriptor to avoid a TOCTOU race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Environment variables map SECTION_FIELD_NAME to section.field_name:
	// the first underscore separates the section, the rest stay in the
	// field name (PREFILTER_APPROVE_THRESHOLD -> prefilter.approve_threshold).
	if err := k.Load(env.Provider("", ".", func(s string) string {
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults sets default values for all missing fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8780
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging = logging.NewDefaultConfig()
	}

	c.Prefilter.ApplyDefaults()

	if c.VectorStore.Provider == "" {
		c.VectorStore.Provider = "chromem"
	}
	c.VectorStore.Chromem.ApplyDefaults()
	c.VectorStore.Qdrant.ApplyDefaults()

	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = "hash"
	}
	if c.Embeddings.Dimension == 0 {
		c.Embeddings.Dimension = 384
	}

	c.Extraction.ApplyDefaults()

	if c.Feedback.QueueSize == 0 {
		c.Feedback.QueueSize = 256
	}

	c.Telemetry.ApplyDefaults()
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be in [1,65535], got %d", c.Server.Port)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Prefilter.Validate(); err != nil {
		return fmt.Errorf("prefilter: %w", err)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embeddings dimension must be positive, got %d", c.Embeddings.Dimension)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

// EnsureConfigDir creates the mesora config directory if it doesn't exist.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "mesora")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}
	return nil
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	// Skip the permission check on Windows (different permission model).
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
