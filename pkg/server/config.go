package server

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/luxfi/auction/pkg/price"
)

const (
	DefaultPort     = 8080
	DefaultHTTPPort = 8081
)

// ErrServerClosed is returned by Run after Shutdown
var ErrServerClosed = errors.New("server closed")

// Config holds server settings
type Config struct {
	Host     string
	Port     int
	HTTPPort int

	// EnableHTTP serves /ws, /health and /metrics on HTTPPort
	EnableHTTP bool

	Price price.Config

	// WriteTimeout bounds each send to a client. Zero means no deadline.
	WriteTimeout time.Duration
}

// DefaultConfig returns the standard ports and price settings
func DefaultConfig() Config {
	return Config{
		Port:       DefaultPort,
		HTTPPort:   DefaultHTTPPort,
		EnableHTTP: true,
		Price:      price.DefaultConfig(),
	}
}

// Validate checks ports and the price range
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.EnableHTTP && (c.HTTPPort < 0 || c.HTTPPort > 65535) {
		return fmt.Errorf("invalid http port %d", c.HTTPPort)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("invalid write timeout %v", c.WriteTimeout)
	}
	return c.Price.Validate()
}

// Addr returns the TCP listen address
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// HTTPAddr returns the HTTP listen address
func (c Config) HTTPAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.HTTPPort))
}
