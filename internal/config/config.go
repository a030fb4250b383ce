// Package config provides configuration management for Buddy.
// It loads settings from environment variables with the BUDDY_ prefix
// and provides sensible defaults for all configuration options.
//
// Model names can additionally be overridden through an optional YAML
// models file so that backend model rollovers don't require a rebuild.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Buddy application.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Gateway  GatewayConfig
	Voice    VoiceConfig
	Security SecurityConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 8484)
	Host string // Server host (default: 127.0.0.1)
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	StorageEngine string // Storage engine type: sqlite, postgres (default: sqlite)
	DataPath      string // Path to data directory (default: ./data)
	PostgresDSN   string // Postgres connection string, used when StorageEngine is postgres
}

// GatewayConfig contains AI backend configuration.
type GatewayConfig struct {
	APIKey     string        // Generative API key
	BaseURL    string        // Generative API base URL
	FlashModel string        // Lightweight model for skills and fact extraction
	FastModel  string        // Model used in "fast" response mode
	FullModel  string        // Full-capability model for standard/think modes
	MapsModel  string        // Location-aware model for maps queries
	ImageModel string        // Image-capable model
	Cooldown   time.Duration // Minimum interval between prompt submissions (default: 1.5s)
}

// VoiceConfig contains live audio session configuration.
type VoiceConfig struct {
	Model        string // Real-time audio-capable model
	DefaultVoice string // Voice identity used when settings carry none (default: Zephyr)
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	SecurityMode string // Security mode: development, production (default: development)
	APIToken     string // API authentication token
}

// modelsFile is the YAML shape of an optional model override file.
type modelsFile struct {
	Flash string `yaml:"flash"`
	Fast  string `yaml:"fast"`
	Full  string `yaml:"full"`
	Maps  string `yaml:"maps"`
	Image string `yaml:"image"`
	Voice string `yaml:"voice"`
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the BUDDY_ prefix.
func LoadConfig() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("BUDDY_PORT", 8484),
			Host: getEnv("BUDDY_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			StorageEngine: getEnv("BUDDY_STORAGE_ENGINE", "sqlite"),
			DataPath:      getEnv("BUDDY_DATA_PATH", "./data"),
			PostgresDSN:   getEnv("BUDDY_POSTGRES_DSN", ""),
		},
		Gateway: GatewayConfig{
			APIKey:     getEnv("BUDDY_API_KEY", ""),
			BaseURL:    getEnv("BUDDY_API_BASE_URL", "https://generativelanguage.googleapis.com"),
			FlashModel: getEnv("BUDDY_FLASH_MODEL", "gemini-3-flash-preview"),
			FastModel:  getEnv("BUDDY_FAST_MODEL", "gemini-flash-lite-latest"),
			FullModel:  getEnv("BUDDY_FULL_MODEL", "gemini-3-pro-preview"),
			MapsModel:  getEnv("BUDDY_MAPS_MODEL", "gemini-2.5-flash"),
			ImageModel: getEnv("BUDDY_IMAGE_MODEL", "gemini-2.5-flash-image"),
			Cooldown:   getEnvDuration("BUDDY_COOLDOWN", 1500*time.Millisecond),
		},
		Voice: VoiceConfig{
			Model:        getEnv("BUDDY_VOICE_MODEL", "gemini-2.5-flash-native-audio-preview-12-2025"),
			DefaultVoice: getEnv("BUDDY_DEFAULT_VOICE", "Zephyr"),
		},
		Security: SecurityConfig{
			SecurityMode: getEnv("BUDDY_SECURITY_MODE", "development"),
			APIToken:     getEnv("BUDDY_API_TOKEN", ""),
		},
	}, nil
}

// ApplyModelsFile overlays model names from a YAML file onto the config.
// Empty fields in the file leave the existing value untouched.
func (c *Config) ApplyModelsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read models file: %w", err)
	}

	var mf modelsFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return fmt.Errorf("config: failed to parse models file %s: %w", path, err)
	}

	if mf.Flash != "" {
		c.Gateway.FlashModel = mf.Flash
	}
	if mf.Fast != "" {
		c.Gateway.FastModel = mf.Fast
	}
	if mf.Full != "" {
		c.Gateway.FullModel = mf.Full
	}
	if mf.Maps != "" {
		c.Gateway.MapsModel = mf.Maps
	}
	if mf.Image != "" {
		c.Gateway.ImageModel = mf.Image
	}
	if mf.Voice != "" {
		c.Voice.Model = mf.Voice
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go duration
// syntax, e.g. "1.5s") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
