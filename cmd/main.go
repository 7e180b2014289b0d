package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/l0p7/foorest/internal/config"
	"github.com/l0p7/foorest/internal/fixture"
	"github.com/l0p7/foorest/internal/foo"
	"github.com/l0p7/foorest/internal/logging"
	"github.com/l0p7/foorest/internal/metrics"
	"github.com/l0p7/foorest/internal/server"
	"github.com/l0p7/foorest/internal/service"
	"github.com/l0p7/foorest/internal/store"
)

type configWatcher interface {
	Stop()
}

type configLoader interface {
	Load(context.Context) (config.Config, error)
	Watch(context.Context, func(config.Config), func(error)) (configWatcher, error)
}

type runnableServer interface {
	Run(context.Context) error
}

var (
	newConfigLoader = func(envPrefix, configFile string) configLoader {
		return &fileLoader{Loader: config.NewLoader(envPrefix, configFile)}
	}
	newHTTPServer = func(cfg config.Config, logger *slog.Logger, handler http.Handler) (runnableServer, error) {
		return server.New(cfg, logger, handler)
	}
)

// fileLoader adapts config.Loader to configLoader; watching is skipped when
// no file was given.
type fileLoader struct {
	*config.Loader
}

func (l *fileLoader) Watch(ctx context.Context, onChange func(config.Config), onError func(error)) (configWatcher, error) {
	if len(l.Files()) == 0 {
		return nil, nil
	}
	watcher, err := l.Loader.Watch(ctx, onChange, onError)
	if err != nil {
		return nil, err
	}
	return watcher, nil
}

func main() {
	var (
		configFile = flag.String("config", "", "path to configuration file (yaml, json or toml)")
		envPrefix  = flag.String("env-prefix", "FOOREST", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envPrefix, *configFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envPrefix, configFile string) error {
	loader := newConfigLoader(envPrefix, configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	recorder := metrics.NewRecorder(prometheus.NewRegistry())

	backend, entities := buildStore(logger.With(slog.String("agent", "store_factory")), cfg.Store, recorder)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := entities.Close(closeCtx); err != nil {
			logger.Error("store shutdown failed", slog.Any("error", err))
		}
	}()

	seed := foo.Foo{ID: cfg.Fixture.ID, Name: cfg.Fixture.Name}
	entity, created, err := fixture.EnsureOneEntityExists(ctx, entities, seed)
	if err != nil {
		return fmt.Errorf("ensure fixture: %w", err)
	}
	logger.Info("fixture ready",
		slog.Int64("id", entity.ID),
		slog.String("name", entity.Name),
		slog.Bool("created", created),
		slog.String("backend", backend),
	)

	handler, err := service.NewHandler(entities, logger, service.Options{
		BasePath: cfg.Server.BasePath,
		Users:    cfg.Server.Users,
		Metrics:  recorder,
	})
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}

	router := server.NewRouter(server.RouterOptions{
		BasePath:   handler.BasePath(),
		Collection: handler,
		Metrics:    recorder.Handler(),
		Health: func(ctx context.Context) error {
			_, _, err := entities.FindOne(ctx, cfg.Fixture.ID)
			return err
		},
	})

	watcher, err := loader.Watch(ctx, func(next config.Config) {
		handler.SetUsers(next.Server.Users)
		logger.Info("configuration reloaded", slog.Int("users", len(next.Server.Users)))
	}, func(err error) {
		if err != nil {
			logger.Error("configuration watcher error", slog.Any("error", err))
		}
	})
	if err != nil {
		logger.Error("configuration watcher setup failed", slog.Any("error", err))
	} else if watcher != nil {
		defer watcher.Stop()
	}

	srv, err := newHTTPServer(cfg, logger, router)
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server terminated: %w", err)
	}
	logger.Info("server shutdown complete")
	return nil
}

// buildStore returns the configured backend name and an instrumented store.
// A valkey backend that cannot be reached falls back to memory.
func buildStore(logger *slog.Logger, cfg config.StoreConfig, rec *metrics.Recorder) (string, store.Service) {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "redis", "valkey":
		svc, err := store.NewValkey(store.ValkeyConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: store.ValkeyTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("valkey store initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory store")
			return "memory", store.Instrument(store.NewMemory(), "memory", rec, logger)
		}
		logger.Info("using valkey store", slog.String("address", cfg.Redis.Address))
		return "valkey", store.Instrument(svc, "valkey", rec, logger)
	default:
		logger.Info("using memory store")
		return "memory", store.Instrument(store.NewMemory(), "memory", rec, logger)
	}
}
