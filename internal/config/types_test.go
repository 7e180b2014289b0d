package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cases := map[string]func(c *Config){
		"port out of range":        func(c *Config) { c.Server.Listen.Port = 70000 },
		"base path without slash":  func(c *Config) { c.Server.BasePath = "foos" },
		"base path root":           func(c *Config) { c.Server.BasePath = "/" },
		"username with colon":      func(c *Config) { c.Server.Users = map[string]string{"a:b": "x"} },
		"unknown store backend":    func(c *Config) { c.Store.Backend = "postgres" },
		"redis without address":    func(c *Config) { c.Store.Backend = "redis" },
		"relative client url":      func(c *Config) { c.Client.BaseURL = "/foos" },
		"ftp client url":           func(c *Config) { c.Client.BaseURL = "ftp://localhost/foos" },
		"missing client username":  func(c *Config) { c.Client.Username = " " },
		"zero connect timeout":     func(c *Config) { c.Client.Timeouts.ConnectSeconds = 0 },
		"negative read timeout":    func(c *Config) { c.Client.Timeouts.ReadSeconds = -1 },
		"zero acquisition timeout": func(c *Config) { c.Client.Timeouts.ConnectionRequestSeconds = 0 },
		"fixture id zero":          func(c *Config) { c.Fixture.ID = 0 },
		"fixture name blank":       func(c *Config) { c.Fixture.Name = "  " },
	}
	for name, mutate := range cases {
		mutate := mutate
		t.Run(name, func(t *testing.T) {
			c := DefaultConfig()
			mutate(&c)
			require.Error(t, c.Validate())
		})
	}

	t.Run("valkey backend with address", func(t *testing.T) {
		c := DefaultConfig()
		c.Store.Backend = "valkey"
		c.Store.Redis.Address = "127.0.0.1:6379"
		require.NoError(t, c.Validate())
	})

	t.Run("nil config", func(t *testing.T) {
		var c *Config
		require.Error(t, c.Validate())
	})
}
