package s3

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/objectfs/gvfs/pkg/types"
	"github.com/objectfs/gvfs/pkg/utils"
)

// Keys names the backend config keys one object store family reads.
type Keys struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	PathStyle    string
	MaxRetries   string
	BlockSize    string
	PartSize     string
	StorageClass string
	CargoShip    string
}

// Config represents the settings of one object store client
type Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	MaxRetries int   `yaml:"max_retries"`
	BlockSize  int64 `yaml:"block_size"`
	PartSize   int64 `yaml:"part_size"`

	StorageClass string `yaml:"storage_class"`

	// CargoShip uploads are buffered in memory and sent through the
	// CargoShip transporter, falling back to a plain upload on failure.
	EnableCargoShipOptimization bool `yaml:"enable_cargoship_optimization"`
}

// NewDefaultConfig returns the defaults shared by all object store families.
func NewDefaultConfig() *Config {
	return &Config{
		Region:     "us-east-1",
		MaxRetries: 3,
		BlockSize:  DefaultBlockSize,
		PartSize:   16 << 20,
	}
}

// ParseConfig reads cfg using the key names in keys on top of base.
func ParseConfig(cfg types.BackendConfig, keys Keys, base Config) (*Config, error) {
	c := base
	c.Endpoint = cfg.Get(keys.Endpoint, c.Endpoint)
	c.Region = cfg.Get(keys.Region, c.Region)
	c.AccessKeyID = cfg.Get(keys.AccessKey, c.AccessKeyID)
	c.SecretAccessKey = cfg.Get(keys.SecretKey, c.SecretAccessKey)
	c.SessionToken = cfg.Get(keys.SessionToken, c.SessionToken)
	c.StorageClass = strings.ToUpper(cfg.Get(keys.StorageClass, c.StorageClass))

	var err error
	if v := cfg.Get(keys.PathStyle, ""); v != "" {
		if c.ForcePathStyle, err = strconv.ParseBool(v); err != nil {
			return nil, invalidKey(keys.PathStyle, v, err)
		}
	}
	if v := cfg.Get(keys.CargoShip, ""); v != "" {
		if c.EnableCargoShipOptimization, err = strconv.ParseBool(v); err != nil {
			return nil, invalidKey(keys.CargoShip, v, err)
		}
	}
	if v := cfg.Get(keys.MaxRetries, ""); v != "" {
		if c.MaxRetries, err = strconv.Atoi(v); err != nil {
			return nil, invalidKey(keys.MaxRetries, v, err)
		}
	}
	if v := cfg.Get(keys.BlockSize, ""); v != "" {
		if c.BlockSize, err = utils.ParseBytes(v); err != nil {
			return nil, invalidKey(keys.BlockSize, v, err)
		}
	}
	if v := cfg.Get(keys.PartSize, ""); v != "" {
		if c.PartSize, err = utils.ParseBytes(v); err != nil {
			return nil, invalidKey(keys.PartSize, v, err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the configuration for values no client can use.
func (c *Config) Validate() error {
	if c.Region == "" {
		return fmt.Errorf("region is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("block size must be positive")
	}
	if c.PartSize < minPartSize {
		return fmt.Errorf("part size must be at least %s", utils.FormatBytes(minPartSize))
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return fmt.Errorf("access key and secret key must be set together")
	}
	if c.StorageClass != "" {
		if _, ok := storageClasses[c.StorageClass]; !ok {
			return fmt.Errorf("unknown storage class %q", c.StorageClass)
		}
	}
	return nil
}

func invalidKey(key, val string, err error) error {
	return fmt.Errorf("invalid value %q for %s: %w", val, key, err)
}
