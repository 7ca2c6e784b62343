// Package api provides the HTTP and WebSocket surface of the monitor:
// health and version endpoints, Prometheus metrics, recent-activity queries
// and a live transaction stream.
package api

import (
	"fmt"
	"time"
)

// Config holds API server configuration
type Config struct {
	// Host is the address to bind to
	Host string `yaml:"host"`

	// Port is the TCP port to listen on
	Port int `yaml:"port"`

	// EnableCORS toggles cross-origin headers on API responses
	EnableCORS bool `yaml:"enableCors"`

	// AllowedOrigins lists origins allowed when CORS is enabled,
	// "*" allows any origin
	AllowedOrigins []string `yaml:"allowedOrigins"`

	// ReadTimeout is the maximum duration for reading a request
	ReadTimeout time.Duration `yaml:"readTimeout"`

	// WriteTimeout is the maximum duration before timing out response writes
	WriteTimeout time.Duration `yaml:"writeTimeout"`

	// IdleTimeout is the maximum time to wait for the next request on a
	// keep-alive connection
	IdleTimeout time.Duration `yaml:"idleTimeout"`

	// ShutdownTimeout bounds graceful shutdown on Stop
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:            "0.0.0.0",
		Port:            8080,
		EnableCORS:      true,
		AllowedOrigins:  []string{"*"},
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Address returns the host:port string to listen on
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the configuration for correctness
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("readTimeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("writeTimeout must be positive")
	}
	return nil
}
