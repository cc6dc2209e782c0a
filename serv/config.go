package serv

import (
	"fmt"
	"net"
)

const (
	defaultHP        = "0.0.0.0:8080"
	defaultBodyLimit = 1 << 20
)

// Config configures the HTTP service
type Config struct {
	// HostPort to listen on
	HostPort string `mapstructure:"host_port" json:"host_port" yaml:"host_port"`

	// Production disables the compile endpoint
	Production bool `mapstructure:"production" json:"production" yaml:"production"`

	// AllowedOrigins lists the origins allowed by CORS, empty allows all
	AllowedOrigins []string `mapstructure:"cors_allowed_origins" json:"cors_allowed_origins" yaml:"cors_allowed_origins"`

	AllowedHeaders []string `mapstructure:"cors_allowed_headers" json:"cors_allowed_headers" yaml:"cors_allowed_headers"`

	// DebugCORS logs CORS decisions
	DebugCORS bool `mapstructure:"cors_debug" json:"cors_debug" yaml:"cors_debug"`

	// ReqBodyLimit caps the size of request bodies in bytes
	ReqBodyLimit int64 `mapstructure:"req_body_limit" json:"req_body_limit" yaml:"req_body_limit"`
}

func (c *Config) hostPort() string {
	if c.HostPort == "" {
		return defaultHP
	}
	return c.HostPort
}

func (c *Config) bodyLimit() int64 {
	if c.ReqBodyLimit <= 0 {
		return defaultBodyLimit
	}
	return c.ReqBodyLimit
}

// Validate checks the host and port parse
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.hostPort()); err != nil {
		return fmt.Errorf("serv: invalid host_port %q: %w", c.HostPort, err)
	}
	return nil
}
