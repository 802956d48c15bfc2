package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// DBConfig holds the database connection parameters.
type DBConfig struct {
	Type     string `json:"type"`
	Host     string `json:"host"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	Port     int    `json:"port"`
	SSLMode  string `json:"sslmode"`
	TimeZone string `json:"timezone"`
}

// LoggerConfig holds the logging configuration.
type LoggerConfig struct {
	Level      string `json:"level"`  // e.g., "debug", "info", "warn", "error"
	Format     string `json:"format"` // "text" or "json"
	Path       string `json:"path"`   // e.g., "logs/tss-coordinator.log"
	MaxSize    int    `json:"max_size"`
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"`
	Compress   bool   `json:"compress"`
}

// KeyShareNode holds the information for a remote key-share node.
type KeyShareNode struct {
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
}

// KeyShareConfig controls the key-share node fan-out.
type KeyShareConfig struct {
	Threshold      int            `json:"sss_threshold"`
	TimeoutSeconds int            `json:"timeout_seconds"`
	Nodes          []KeyShareNode `json:"nodes"`
}

// EngineConfig points at the cryptographic engine sidecar.
type EngineConfig struct {
	URL            string `json:"url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	Secret         string `json:"secret"` // hex, seals key shares sent to the sidecar
}

// JWTConfig controls the session tokens returned by keygen.
type JWTConfig struct {
	Secret     string `json:"secret"`
	Issuer     string `json:"issuer"`
	TTLMinutes int    `json:"ttl_minutes"`
}

// Config holds the application's configuration values.
type Config struct {
	ServerPort       string            `json:"server_port"`
	Database         DBConfig          `json:"database"`
	Logger           LoggerConfig      `json:"logger"`
	EncryptionSecret string            `json:"encryption_secret"`
	JWT              JWTConfig         `json:"jwt"`
	APIKeys          map[string]string `json:"api_keys"` // api key -> customer id
	Engine           EngineConfig      `json:"engine"`
	KeyShare         KeyShareConfig    `json:"keyshare"`
}

// LoadConfig reads the configuration from a file and returns a Config struct.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	config := &Config{}
	err = decoder.Decode(config)
	if err != nil {
		return nil, err
	}

	config.applyEnv()
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Secrets can be supplied through the environment instead of the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("TSS_ENCRYPTION_SECRET"); v != "" {
		c.EncryptionSecret = v
	}
	if v := os.Getenv("TSS_JWT_SECRET"); v != "" {
		c.JWT.Secret = v
	}
	if v := os.Getenv("TSS_ENGINE_SECRET"); v != "" {
		c.Engine.Secret = v
	}
	if v := os.Getenv("TSS_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
}

func (c *Config) applyDefaults() {
	if c.ServerPort == "" {
		c.ServerPort = ":8080"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.JWT.TTLMinutes == 0 {
		c.JWT.TTLMinutes = 60 * 24
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "tss-coordinator"
	}
	if c.KeyShare.TimeoutSeconds == 0 {
		c.KeyShare.TimeoutSeconds = 10
	}
	if c.Engine.TimeoutSeconds == 0 {
		c.Engine.TimeoutSeconds = 30
	}
}

// Validate checks the values the service cannot start without.
func (c *Config) Validate() error {
	if _, err := c.MasterKey(); err != nil {
		return err
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt secret is required")
	}
	if c.KeyShare.Threshold < 2 {
		return fmt.Errorf("sss_threshold must be at least 2, got %d", c.KeyShare.Threshold)
	}
	if n := len(c.KeyShare.Nodes); n > 0 && n < c.KeyShare.Threshold {
		return fmt.Errorf("%d key-share nodes configured, threshold is %d", n, c.KeyShare.Threshold)
	}
	if c.Engine.URL == "" {
		return errors.New("engine url is required")
	}
	if _, err := c.Engine.SealKey(); err != nil {
		return err
	}
	return nil
}

// MasterKey decodes the fragment encryption secret.
func (c *Config) MasterKey() ([]byte, error) {
	return decodeSecret("encryption secret", c.EncryptionSecret)
}

func decodeSecret(name, value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("%s is required", name)
	}
	key, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%s must be hex: %w", name, err)
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("%s must be at least 32 bytes, got %d", name, len(key))
	}
	return key, nil
}

// SealKey decodes the secret shared with the engine sidecar.
func (c EngineConfig) SealKey() ([]byte, error) {
	return decodeSecret("engine secret", c.Secret)
}

func (c KeyShareConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c EngineConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c JWTConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}
