package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/objectfs/gvfs/internal/translate"
	"github.com/objectfs/gvfs/pkg/utils"
)

// Flat property keys, as found in Hadoop-style configuration.
const (
	KeyServerURI        = "fs.gravitino.server.uri"
	KeyMetalake         = "fs.gravitino.client.metalake"
	KeyAuthType         = "fs.gravitino.client.authType"
	KeySimpleAuthUser   = "fs.gravitino.client.simpleAuthUser"
	KeyOAuth2Token      = "fs.gravitino.client.oauth2.token"
	KeyRequestTimeout   = "fs.gravitino.client.request.timeout"
	KeyDisableCache     = "fs.gvfs.impl.disable.cache"
	KeyBlockSize        = "fs.gravitino.block.size"
	KeyLocationCacheTTL = "fs.gravitino.fileset.cache.ttl"
	KeyLocationCacheMax = "fs.gravitino.fileset.cache.max"
	KeyFailureThreshold = "fs.gravitino.client.failure.threshold"
	KeyBackendTimeout   = "fs.gravitino.backend.timeout"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Server     ServerConfig     `yaml:"server"`
	FileSystem FileSystemConfig `yaml:"filesystem"`
	Metrics    MetricsConfig    `yaml:"metrics"`

	// Properties holds flat keys. Those under the bypass prefix are handed
	// to backend drivers with the prefix removed.
	Properties map[string]string `yaml:"properties"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
	// LogMaxSize rolls log_file over at this size, e.g. "100MB". Empty never rotates.
	LogMaxSize string `yaml:"log_max_size"`
	LogBackups int    `yaml:"log_backups"`
}

// ServerConfig locates and authenticates against the metadata service.
type ServerConfig struct {
	URI      string        `yaml:"uri"`
	Metalake string        `yaml:"metalake"`
	AuthType string        `yaml:"auth_type"`
	User     string        `yaml:"user"`
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout"`
}

// FileSystemConfig tunes the dispatcher and its caches.
type FileSystemConfig struct {
	DisableCache         bool          `yaml:"disable_cache"`
	DefaultBlockSize     string        `yaml:"default_block_size"`
	LocationCacheTTL     time.Duration `yaml:"location_cache_ttl"`
	LocationCacheEntries int           `yaml:"location_cache_entries"`
	FailureThreshold     int           `yaml:"failure_threshold"`
	BackendTimeout       time.Duration `yaml:"backend_timeout"`
	BypassPrefix         string        `yaml:"bypass_prefix"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Server: ServerConfig{
			AuthType: "simple",
			Timeout:  30 * time.Second,
		},
		FileSystem: FileSystemConfig{
			DefaultBlockSize:     "32MB",
			LocationCacheEntries: 1024,
			FailureThreshold:     5,
			BypassPrefix:         translate.DefaultBypassPrefix,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Path:    "/metrics",
		},
		Properties: make(map[string]string),
	}
}

// FromProperties builds a configuration from flat keys on top of the
// defaults. Every property is kept so that bypass keys reach the backends.
func FromProperties(props map[string]string) (*Configuration, error) {
	c := NewDefault()
	if err := c.ApplyProperties(props); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyProperties overlays flat keys onto c.
func (c *Configuration) ApplyProperties(props map[string]string) error {
	if c.Properties == nil {
		c.Properties = make(map[string]string, len(props))
	}
	for k, v := range props {
		c.Properties[k] = v
	}

	for key, val := range props {
		val = strings.TrimSpace(val)
		var err error
		switch key {
		case KeyServerURI:
			c.Server.URI = val
		case KeyMetalake:
			c.Server.Metalake = val
		case KeyAuthType:
			c.Server.AuthType = strings.ToLower(val)
		case KeySimpleAuthUser:
			c.Server.User = val
		case KeyOAuth2Token:
			c.Server.Token = val
		case KeyRequestTimeout:
			c.Server.Timeout, err = parseDuration(val)
		case KeyDisableCache:
			c.FileSystem.DisableCache, err = strconv.ParseBool(val)
		case KeyBlockSize:
			c.FileSystem.DefaultBlockSize = val
		case KeyLocationCacheTTL:
			c.FileSystem.LocationCacheTTL, err = parseDuration(val)
		case KeyLocationCacheMax:
			c.FileSystem.LocationCacheEntries, err = strconv.Atoi(val)
		case KeyFailureThreshold:
			c.FileSystem.FailureThreshold, err = strconv.Atoi(val)
		case KeyBackendTimeout:
			c.FileSystem.BackendTimeout, err = parseDuration(val)
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("invalid value %q for %s: %w", val, key, err)
		}
	}
	return nil
}

// BypassProperties returns a copy of the flat properties for the config
// translator.
func (c *Configuration) BypassProperties() map[string]string {
	out := make(map[string]string, len(c.Properties))
	for k, v := range c.Properties {
		out[k] = v
	}
	return out
}

// BlockSize returns the parsed default block size.
func (c *Configuration) BlockSize() (int64, error) {
	n, err := utils.ParseBytes(c.FileSystem.DefaultBlockSize)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("default_block_size must be positive, got %s", c.FileSystem.DefaultBlockSize)
	}
	return n, nil
}

// LogRotation returns the rotation settings for the log file.
func (c *Configuration) LogRotation() (utils.LogRotation, error) {
	r := utils.LogRotation{Backups: c.Global.LogBackups}
	if c.Global.LogMaxSize == "" {
		return r, nil
	}
	n, err := utils.ParseBytes(c.Global.LogMaxSize)
	if err != nil {
		return r, err
	}
	r.MaxSize = n
	return r, nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if c.Properties == nil {
		c.Properties = make(map[string]string)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("GVFS_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("GVFS_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := os.Getenv("GVFS_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}

	// Metadata server
	if val := os.Getenv("GVFS_SERVER_URI"); val != "" {
		c.Server.URI = val
	}
	if val := os.Getenv("GVFS_METALAKE"); val != "" {
		c.Server.Metalake = val
	}
	if val := os.Getenv("GVFS_AUTH_TYPE"); val != "" {
		c.Server.AuthType = strings.ToLower(val)
	}
	if val := os.Getenv("GVFS_USER"); val != "" {
		c.Server.User = val
	}
	if val := os.Getenv("GVFS_TOKEN"); val != "" {
		c.Server.Token = val
	}
	if val := os.Getenv("GVFS_SERVER_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Server.Timeout = d
		}
	}

	// Filesystem settings
	if val := os.Getenv("GVFS_DISABLE_CACHE"); val != "" {
		c.FileSystem.DisableCache = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("GVFS_BLOCK_SIZE"); val != "" {
		c.FileSystem.DefaultBlockSize = val
	}
	if val := os.Getenv("GVFS_LOCATION_CACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.FileSystem.LocationCacheTTL = d
		}
	}
	if val := os.Getenv("GVFS_BACKEND_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.FileSystem.BackendTimeout = d
		}
	}

	// Metrics
	if val := os.Getenv("GVFS_METRICS_ADDR"); val != "" {
		c.Metrics.Enabled = true
		c.Metrics.Address = val
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %s", c.Global.LogLevel)
	}
	if _, err := c.LogRotation(); err != nil {
		return fmt.Errorf("invalid log_max_size: %w", err)
	}
	if c.Global.LogBackups < 0 {
		return fmt.Errorf("log_backups cannot be negative")
	}
	switch strings.ToLower(c.Global.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log_format: %s (must be one of: text, json)", c.Global.LogFormat)
	}

	switch c.Server.AuthType {
	case "", "none", "simple":
	case "oauth2":
		if c.Server.Token == "" {
			return fmt.Errorf("auth_type oauth2 requires a token")
		}
	default:
		return fmt.Errorf("invalid auth_type: %s (must be one of: none, simple, oauth2)", c.Server.AuthType)
	}
	if c.Server.Timeout < 0 {
		return fmt.Errorf("server timeout cannot be negative")
	}

	if _, err := c.BlockSize(); err != nil {
		return fmt.Errorf("invalid default_block_size: %w", err)
	}
	if c.FileSystem.LocationCacheTTL < 0 {
		return fmt.Errorf("location_cache_ttl cannot be negative")
	}
	if c.FileSystem.LocationCacheTTL > 0 && c.FileSystem.LocationCacheEntries <= 0 {
		return fmt.Errorf("location_cache_entries must be greater than 0 when the location cache is enabled")
	}
	if c.FileSystem.FailureThreshold < 0 {
		return fmt.Errorf("failure_threshold cannot be negative")
	}
	if c.FileSystem.BackendTimeout < 0 {
		return fmt.Errorf("backend_timeout cannot be negative")
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics address is required when metrics are enabled")
	}

	return nil
}

// parseDuration accepts Go durations and bare integers as milliseconds, the
// unit Hadoop-style timeout keys use.
func parseDuration(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}
