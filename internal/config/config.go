// Package config provides configuration management for the companion host shell.
// It loads YAML or TOML files, applies COMPANION_* environment overrides and
// defaults, and can watch the file for changes.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort            = 3001
	DefaultMaxLogEntries   = 5000
	DefaultHealthTimeoutMS = 2000
	DefaultAPIHost         = "127.0.0.1"
	DefaultAPIPort         = 3002
	DefaultLogMaxSizeMB    = 10

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "COMPANION_"
)

// Config represents the shell's configuration, loaded from a YAML or TOML file.
type Config struct {
	// Port is the companion server port used when a request leaves it unset.
	Port int `yaml:"port" toml:"port" json:"port"`

	// Development locates the server by walking up from the working directory
	// instead of next to the executable.
	Development bool `yaml:"development" toml:"development" json:"development"`

	// ServerDir pins the server directory and skips location entirely.
	ServerDir string `yaml:"server-dir,omitempty" toml:"server-dir,omitempty" json:"server-dir,omitempty"`

	// AuthToken is passed to the server as AUTH_TOKEN. Empty means the
	// per-user token from preferences is used.
	AuthToken string `yaml:"auth-token,omitempty" toml:"auth-token,omitempty" json:"-"`

	// ServerConfigPath is passed to the server as CONFIG_PATH.
	ServerConfigPath string `yaml:"server-config-path,omitempty" toml:"server-config-path,omitempty" json:"server-config-path,omitempty"`

	AutoStart bool `yaml:"auto-start" toml:"auto-start" json:"auto-start"`

	HealthHost      string `yaml:"health-host,omitempty" toml:"health-host,omitempty" json:"health-host,omitempty"`
	HealthTimeoutMS int    `yaml:"health-timeout-ms" toml:"health-timeout-ms" json:"health-timeout-ms"`

	Logging LoggingConfig `yaml:"logging" toml:"logging" json:"logging"`
	API     APIConfig     `yaml:"api" toml:"api" json:"api"`
}

// LoggingConfig controls shell logging and the captured server log sink.
type LoggingConfig struct {
	Level     string `yaml:"level" toml:"level" json:"level"`
	ToFile    bool   `yaml:"to-file" toml:"to-file" json:"to-file"`
	File      string `yaml:"file,omitempty" toml:"file,omitempty" json:"file,omitempty"`
	MaxSizeMB int    `yaml:"max-size-mb" toml:"max-size-mb" json:"max-size-mb"`

	// MaxEntries caps the captured server log.
	MaxEntries int `yaml:"max-entries" toml:"max-entries" json:"max-entries"`

	// MirrorShellLogs copies the shell's own log records into the sink.
	MirrorShellLogs bool `yaml:"mirror-shell-logs" toml:"mirror-shell-logs" json:"mirror-shell-logs"`
}

// APIConfig configures the local control API.
type APIConfig struct {
	Disabled bool   `yaml:"disabled" toml:"disabled" json:"disabled"`
	Host     string `yaml:"host" toml:"host" json:"host"`
	Port     int    `yaml:"port" toml:"port" json:"port"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.HealthTimeoutMS == 0 {
		c.HealthTimeoutMS = DefaultHealthTimeoutMS
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Logging.MaxEntries == 0 {
		c.Logging.MaxEntries = DefaultMaxLogEntries
	}
	if strings.TrimSpace(c.API.Host) == "" {
		c.API.Host = DefaultAPIHost
	}
	if c.API.Port == 0 {
		c.API.Port = DefaultAPIPort
	}
}

// HealthTimeout returns the per-probe timeout.
func (c *Config) HealthTimeout() time.Duration {
	if c == nil || c.HealthTimeoutMS <= 0 {
		return DefaultHealthTimeoutMS * time.Millisecond
	}
	return time.Duration(c.HealthTimeoutMS) * time.Millisecond
}

// APIAddr returns the listen address of the control API.
func (c *Config) APIAddr() string {
	return net.JoinHostPort(c.API.Host, strconv.Itoa(c.API.Port))
}

// LoadConfig reads a configuration file. The file must exist.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads a configuration file. When optional is true a
// missing or unparseable file yields the defaults instead of an error.
// An empty path is treated as optional.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(configFile) == "" {
		optional = true
	} else {
		data, err := os.ReadFile(configFile)
		switch {
		case err != nil && !optional:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		case err != nil:
			if !os.IsNotExist(err) {
				log.WithError(err).Warnf("config: ignoring unreadable %s", configFile)
			}
		default:
			if errParse := unmarshal(configFile, data, cfg); errParse != nil {
				if !optional {
					return nil, fmt.Errorf("failed to parse config file: %w", errParse)
				}
				log.WithError(errParse).Warnf("config: ignoring invalid %s", configFile)
				cfg = &Config{}
			}
		}
	}

	ApplyEnv(cfg, os.LookupEnv)
	cfg.applyDefaults()
	return cfg, nil
}

func unmarshal(path string, data []byte, cfg *Config) error {
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

// ApplyEnv overrides fields from COMPANION_* variables. Blank values and
// unparseable numbers are ignored.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil || lookup == nil {
		return
	}
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	setInt := func(name string, dst *int) {
		if v, ok := get(name); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(name string, dst *bool) {
		if v, ok := get(name); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setString := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}

	setInt("PORT", &cfg.Port)
	setBool("DEVELOPMENT", &cfg.Development)
	setString("SERVER_DIR", &cfg.ServerDir)
	setString("AUTH_TOKEN", &cfg.AuthToken)
	setString("SERVER_CONFIG_PATH", &cfg.ServerConfigPath)
	setBool("AUTO_START", &cfg.AutoStart)
	setString("HEALTH_HOST", &cfg.HealthHost)
	setInt("HEALTH_TIMEOUT_MS", &cfg.HealthTimeoutMS)
	setString("LOG_LEVEL", &cfg.Logging.Level)
	setInt("MAX_LOG_ENTRIES", &cfg.Logging.MaxEntries)
	setBool("API_DISABLED", &cfg.API.Disabled)
	setString("API_HOST", &cfg.API.Host)
	setInt("API_PORT", &cfg.API.Port)
}

// LoadDotEnv loads a .env file from dir when present.
func LoadDotEnv(dir string) error {
	err := godotenv.Load(filepath.Join(dir, ".env"))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// ValidateConfig checks ranges and returns the config for chaining.
func ValidateConfig(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d: must be between 1 and 65535", cfg.Port)
	}
	if cfg.API.Port < 1 || cfg.API.Port > 65535 {
		return nil, fmt.Errorf("invalid api port %d: must be between 1 and 65535", cfg.API.Port)
	}
	if !cfg.API.Disabled && cfg.API.Port == cfg.Port {
		return nil, fmt.Errorf("api port %d collides with the server port", cfg.API.Port)
	}
	if cfg.HealthTimeoutMS < 0 {
		return nil, fmt.Errorf("invalid health-timeout-ms %d", cfg.HealthTimeoutMS)
	}
	if cfg.Logging.MaxEntries < 0 {
		return nil, fmt.Errorf("invalid logging.max-entries %d", cfg.Logging.MaxEntries)
	}
	return cfg, nil
}
