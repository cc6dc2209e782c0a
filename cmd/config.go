package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dosco/aggjin/core"
	"github.com/dosco/aggjin/mongodriver"
	"github.com/dosco/aggjin/serv"
	"github.com/spf13/viper"
)

// Config is the configuration of the CLI. The engine settings sit at the
// top level of the config file.
type Config struct {
	core.Config `mapstructure:",squash"`

	Mongo      mongodriver.ConnConfig        `mapstructure:"mongo"`
	Introspect mongodriver.IntrospectOptions `mapstructure:"introspect"`
	Serv       serv.Config                   `mapstructure:"serv"`

	// AllowDiskUse lets large pipelines spill to disk
	AllowDiskUse bool `mapstructure:"allow_disk_use"`

	// Env is the name of the environment the config was loaded for
	Env string `mapstructure:"env"`
}

// ReadInConfig reads the config file, without extension, and applies
// AJ_ prefixed environment overrides, eg. AJ_MONGO_URI.
func ReadInConfig(configFile string) (*Config, error) {
	vi := newViper(filepath.Dir(configFile), filepath.Base(configFile))

	if err := vi.ReadInConfig(); err != nil {
		return nil, err
	}
	return decodeConfig(vi)
}

// NewConfig returns the default config with environment overrides
func NewConfig() (*Config, error) {
	return decodeConfig(newViperWithDefaults())
}

func decodeConfig(vi *viper.Viper) (*Config, error) {
	c := &Config{}
	if err := vi.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to decode config, %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := c.Serv.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// newViperWithDefaults returns a new viper instance with the default settings
func newViperWithDefaults() *viper.Viper {
	vi := viper.New()

	vi.SetDefault("backend", "mongodb")
	vi.SetDefault("cache_size", 0)
	vi.SetDefault("disable_cache", false)
	vi.SetDefault("max_parallel", 4)
	vi.SetDefault("log_pipelines", false)
	vi.SetDefault("allow_disk_use", false)

	vi.SetDefault("mongo.uri", "mongodb://localhost:27017")
	vi.SetDefault("mongo.database", "fiftyone")
	vi.SetDefault("mongo.connect_timeout", "10s")

	vi.SetDefault("introspect.sample_size", 100)
	vi.SetDefault("introspect.include_validators", false)
	vi.SetDefault("introspect.media_type", "")
	vi.SetDefault("introspect.frames_collection", "")
	vi.SetDefault("introspect.default_slice", "")

	vi.SetDefault("serv.host_port", "0.0.0.0:8080")
	vi.SetDefault("serv.production", false)
	vi.SetDefault("serv.cors_allowed_origins", []string{})
	vi.SetDefault("serv.cors_allowed_headers", []string{})
	vi.SetDefault("serv.cors_debug", false)
	vi.SetDefault("serv.req_body_limit", 1<<20)

	vi.SetDefault("env", "development")
	vi.BindEnv("env", "GO_ENV") //nolint:errcheck

	vi.SetEnvPrefix("AJ")
	vi.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vi.AutomaticEnv()

	return vi
}

func newViper(configPath, configFile string) *viper.Viper {
	vi := newViperWithDefaults()
	vi.SetConfigName(strings.TrimSuffix(configFile, filepath.Ext(configFile)))

	if configPath == "" {
		vi.AddConfigPath("./config")
	} else {
		vi.AddConfigPath(configPath)
	}

	return vi
}

// GetConfigName returns the name of the config file for the environment
// set in GO_ENV
func GetConfigName() string {
	goEnv := strings.TrimSpace(strings.ToLower(os.Getenv("GO_ENV")))

	switch goEnv {
	case "production", "prod":
		return "prod"

	case "staging", "stage":
		return "stage"

	case "testing", "test":
		return "test"

	case "development", "dev", "":
		return "dev"

	default:
		return goEnv
	}
}
