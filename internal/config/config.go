// Package config loads the OmniDesk YAML configuration.
//
// Environment variables are expanded with ${VAR} syntax before parsing, so
// secrets like API keys stay out of the file:
//
//	assistant:
//	  provider: google
//	  api_key: ${GEMINI_API_KEY}
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the desk.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Channel   ChannelConfig   `yaml:"channel"`
	Assistant AssistantConfig `yaml:"assistant"`
	Media     MediaConfig     `yaml:"media"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig configures the application database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ChannelConfig configures the WhatsApp session manager.
type ChannelConfig struct {
	// SessionDir holds the whatsmeow credential store. It is deleted as a
	// unit on reset.
	SessionDir string `yaml:"session_dir"`
	// DeviceName is announced to the network during pairing.
	DeviceName string `yaml:"device_name"`
	// SendTimeout bounds a single outbound send.
	SendTimeout time.Duration `yaml:"send_timeout"`
	// ResetGrace is the quiescent delay between tearing down a live client
	// and deleting the session store, letting in-flight handshakes release
	// their file locks.
	ResetGrace time.Duration `yaml:"reset_grace"`
	// ReconnectInitialDelay / ReconnectMaxDelay bound the reconnect backoff.
	ReconnectInitialDelay time.Duration `yaml:"reconnect_initial_delay"`
	ReconnectMaxDelay     time.Duration `yaml:"reconnect_max_delay"`
}

// AssistantConfig configures the triage assistant.
type AssistantConfig struct {
	// Provider selects the LLM backend: "google" or "openai".
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	// SystemPrompt overrides the built-in triage persona when set.
	SystemPrompt string `yaml:"system_prompt"`
	// MemoryLimit caps the per-conversation transcript in characters;
	// MemoryKeep is how much survives a truncation.
	MemoryLimit int `yaml:"memory_limit"`
	MemoryKeep  int `yaml:"memory_keep"`
}

// MediaConfig configures the attachment store.
type MediaConfig struct {
	Dir     string `yaml:"dir"`
	BaseURL string `yaml:"base_url"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when a field is absent.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Addr: ":8080"},
		Database: DatabaseConfig{Path: "omnidesk.db"},
		Channel: ChannelConfig{
			SessionDir:            "session",
			DeviceName:            "OmniDesk Pro",
			SendTimeout:           30 * time.Second,
			ResetGrace:            2 * time.Second,
			ReconnectInitialDelay: 2 * time.Second,
			ReconnectMaxDelay:     30 * time.Second,
		},
		Assistant: AssistantConfig{
			Provider:    "google",
			Model:       "gemini-2.0-flash",
			MemoryLimit: 10000,
			MemoryKeep:  8000,
		},
		Media:   MediaConfig{Dir: "uploads", BaseURL: "/uploads"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads, expands and parses the configuration file, applying defaults
// for absent fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration bytes. Exposed for tests.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	switch c.Assistant.Provider {
	case "google", "openai":
	default:
		return fmt.Errorf("config: unknown assistant provider %q", c.Assistant.Provider)
	}
	if c.Assistant.MemoryKeep >= c.Assistant.MemoryLimit {
		return fmt.Errorf("config: assistant memory_keep (%d) must be below memory_limit (%d)",
			c.Assistant.MemoryKeep, c.Assistant.MemoryLimit)
	}
	if c.Channel.SendTimeout <= 0 {
		return fmt.Errorf("config: channel send_timeout must be positive")
	}
	return nil
}
