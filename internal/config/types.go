package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds every option for the reference service, the CRUD client, and fixture setup.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Store   StoreConfig   `koanf:"store"`
	Client  ClientConfig  `koanf:"client"`
	Fixture FixtureConfig `koanf:"fixture"`
}

// ServerConfig collects the bootstrap knobs for the reference Foo service.
type ServerConfig struct {
	Listen   ListenConfig      `koanf:"listen"`
	Logging  LoggingConfig     `koanf:"logging"`
	BasePath string            `koanf:"basePath"`
	Users    map[string]string `koanf:"users"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// StoreConfig selects the persistence backend behind the service and the fixture.
type StoreConfig struct {
	Backend string           `koanf:"backend"`
	Redis   StoreRedisConfig `koanf:"redis"`
}

type StoreRedisConfig struct {
	Address  string              `koanf:"address"`
	Username string              `koanf:"username"`
	Password string              `koanf:"password"`
	DB       int                 `koanf:"db"`
	TLS      StoreRedisTLSConfig `koanf:"tls"`
}

type StoreRedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// ClientConfig describes how the CRUD client reaches the Foo collection.
type ClientConfig struct {
	BaseURL  string               `koanf:"baseURL"`
	Username string               `koanf:"username"`
	Password string               `koanf:"password"`
	Timeouts ClientTimeoutsConfig `koanf:"timeouts"`
}

type ClientTimeoutsConfig struct {
	ConnectSeconds           int `koanf:"connectSeconds"`
	ReadSeconds              int `koanf:"readSeconds"`
	ConnectionRequestSeconds int `koanf:"connectionRequestSeconds"`
}

// Connect returns the dial timeout as a duration.
func (t ClientTimeoutsConfig) Connect() time.Duration {
	return time.Duration(t.ConnectSeconds) * time.Second
}

// Read returns the response read timeout as a duration.
func (t ClientTimeoutsConfig) Read() time.Duration {
	return time.Duration(t.ReadSeconds) * time.Second
}

// ConnectionRequest returns the pooled connection acquisition timeout as a duration.
func (t ClientTimeoutsConfig) ConnectionRequest() time.Duration {
	return time.Duration(t.ConnectionRequestSeconds) * time.Second
}

// FixtureConfig names the entity that must exist before the service or the suite runs.
type FixtureConfig struct {
	ID   int64  `koanf:"id"`
	Name string `koanf:"name"`
}

// Validate enforces invariants that keep the runtime predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") || strings.TrimSpace(strings.Trim(c.Server.BasePath, "/")) == "" {
		return fmt.Errorf("config: server.basePath invalid: %q", c.Server.BasePath)
	}
	for user := range c.Server.Users {
		if strings.TrimSpace(user) == "" || strings.Contains(user, ":") {
			return fmt.Errorf("config: server.users contains invalid username %q", user)
		}
	}

	backend := strings.TrimSpace(strings.ToLower(c.Store.Backend))
	switch backend {
	case "", "memory":
	case "redis", "valkey":
		if strings.TrimSpace(c.Store.Redis.Address) == "" {
			return errors.New("config: store.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: store.backend unsupported: %s", c.Store.Backend)
	}

	if err := c.Client.validate(); err != nil {
		return err
	}

	if c.Fixture.ID <= 0 {
		return fmt.Errorf("config: fixture.id invalid: %d", c.Fixture.ID)
	}
	if strings.TrimSpace(c.Fixture.Name) == "" {
		return errors.New("config: fixture.name required")
	}
	return nil
}

func (c ClientConfig) validate() error {
	parsed, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("config: client.baseURL invalid: %w", err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("config: client.baseURL must be an absolute http(s) URL: %q", c.BaseURL)
	}
	if strings.TrimSpace(c.Username) == "" {
		return errors.New("config: client.username required")
	}
	if strings.Contains(c.Username, ":") {
		return errors.New("config: client.username must not contain ':'")
	}
	if c.Timeouts.ConnectSeconds <= 0 {
		return fmt.Errorf("config: client.timeouts.connectSeconds invalid: %d", c.Timeouts.ConnectSeconds)
	}
	if c.Timeouts.ReadSeconds <= 0 {
		return fmt.Errorf("config: client.timeouts.readSeconds invalid: %d", c.Timeouts.ReadSeconds)
	}
	if c.Timeouts.ConnectionRequestSeconds <= 0 {
		return fmt.Errorf("config: client.timeouts.connectionRequestSeconds invalid: %d", c.Timeouts.ConnectionRequestSeconds)
	}
	return nil
}

// DefaultConfig returns the baseline values: a local service on 8080 guarding /foos with user1.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			BasePath: "/foos",
			Users: map[string]string{
				"user1": "user1Pass",
			},
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Client: ClientConfig{
			BaseURL:  "http://localhost:8080/foos",
			Username: "user1",
			Password: "user1Pass",
			Timeouts: ClientTimeoutsConfig{
				ConnectSeconds:           5,
				ReadSeconds:              5,
				ConnectionRequestSeconds: 5,
			},
		},
		Fixture: FixtureConfig{
			ID:   1,
			Name: "bar",
		},
	}
}
