package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	ktoml "github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Files reports the configuration files the loader reads, skipping blanks.
func (l *Loader) Files() []string {
	out := make([]string, 0, len(l.files))
	for _, path := range l.files {
		if path != "" {
			out = append(out, path)
		}
	}
	return out
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	defaults := structToMap(defaultCfg)
	// The user table is replaced, not merged: defaults apply only when no
	// file or env layer names any user.
	defaultUsers := defaults["server"].(map[string]any)["users"]
	delete(defaults["server"].(map[string]any), "users")
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.Files() {
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"server.basepath":                          "server.basePath",
			"store.redis.tls.cafile":                   "store.redis.tls.caFile",
			"client.baseurl":                           "client.baseURL",
			"client.timeouts.connectseconds":           "client.timeouts.connectSeconds",
			"client.timeouts.readseconds":              "client.timeouts.readSeconds",
			"client.timeouts.connectionrequestseconds": "client.timeouts.connectionRequestSeconds",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path (FOOREST_SERVER__LISTEN__PORT -> server.listen.port).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	if !k.Exists("server.users") {
		if err := k.Set("server.users", defaultUsers); err != nil {
			return Config{}, fmt.Errorf("config: default users: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", "":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml":
		return ktoml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file extension %q", filepath.Ext(path))
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	users := make(map[string]any, len(cfg.Server.Users))
	for name, password := range cfg.Server.Users {
		users[name] = password
	}
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
			"basePath": cfg.Server.BasePath,
			"users":    users,
		},
		"store": map[string]any{
			"backend": cfg.Store.Backend,
			"redis": map[string]any{
				"address":  cfg.Store.Redis.Address,
				"username": cfg.Store.Redis.Username,
				"password": cfg.Store.Redis.Password,
				"db":       cfg.Store.Redis.DB,
				"tls": map[string]any{
					"enabled": cfg.Store.Redis.TLS.Enabled,
					"caFile":  cfg.Store.Redis.TLS.CAFile,
				},
			},
		},
		"client": map[string]any{
			"baseURL":  cfg.Client.BaseURL,
			"username": cfg.Client.Username,
			"password": cfg.Client.Password,
			"timeouts": map[string]any{
				"connectSeconds":           cfg.Client.Timeouts.ConnectSeconds,
				"readSeconds":              cfg.Client.Timeouts.ReadSeconds,
				"connectionRequestSeconds": cfg.Client.Timeouts.ConnectionRequestSeconds,
			},
		},
		"fixture": map[string]any{
			"id":   cfg.Fixture.ID,
			"name": cfg.Fixture.Name,
		},
	}
}
