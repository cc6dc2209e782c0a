package core

import (
	"strings"
)

// SupportedBackends lists the document stores the compiler can target
var SupportedBackends = []string{"mongodb"}

const defaultCacheSize = 5000

// Config controls the AggJin engine. It is usually loaded from a config file
// by the CLI but can be built directly.
type Config struct {
	// Backend is the document store the pipelines are rendered for.
	// Defaults to mongodb.
	Backend string `mapstructure:"backend" json:"backend" yaml:"backend"`

	// CacheSize is the number of compiled pipelines kept in memory.
	CacheSize int `mapstructure:"cache_size" json:"cache_size" yaml:"cache_size" validate:"gte=0"`

	// DisableCache turns off the compiled pipeline cache
	DisableCache bool `mapstructure:"disable_cache" json:"disable_cache" yaml:"disable_cache"`

	// MaxParallel bounds the number of pipelines executed at the same time
	// by a single Aggregate call. Zero means no limit.
	MaxParallel int `mapstructure:"max_parallel" json:"max_parallel" yaml:"max_parallel" validate:"gte=0"`

	// LogPipelines logs every compiled pipeline at debug level
	LogPipelines bool `mapstructure:"log_pipelines" json:"log_pipelines" yaml:"log_pipelines"`
}

// ValidateBackend checks if the given backend is supported
func ValidateBackend(backend string) error {
	if backend == "" {
		return nil // Empty defaults to mongodb
	}
	for _, b := range SupportedBackends {
		if strings.EqualFold(backend, b) {
			return nil
		}
	}
	return newConfigurationError("", "", "unsupported aggregation backend %q: supported backends are %s",
		backend, strings.Join(SupportedBackends, ", "))
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if err := ValidateBackend(c.Backend); err != nil {
		return err
	}
	return validateStruct("", "", c)
}

func (c *Config) cacheSize() int {
	if c.CacheSize == 0 {
		return defaultCacheSize
	}
	return c.CacheSize
}
