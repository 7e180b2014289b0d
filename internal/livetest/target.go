// Package livetest runs the Foo CRUD contract against a collection endpoint.
//
// With FOOREST_LIVE_URL set the suite targets that server; FOOREST_LIVE_STORE_ADDR
// then points fixture setup at the valkey instance backing it. Without a live
// URL an in-process service over a memory store is started instead.
package livetest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"

	"github.com/l0p7/foorest/internal/client"
	"github.com/l0p7/foorest/internal/config"
	"github.com/l0p7/foorest/internal/fixture"
	"github.com/l0p7/foorest/internal/foo"
	"github.com/l0p7/foorest/internal/metrics"
	"github.com/l0p7/foorest/internal/server"
	"github.com/l0p7/foorest/internal/service"
	"github.com/l0p7/foorest/internal/store"
)

const (
	// EnvLiveURL names the collection URL of a running service, for example
	// http://localhost:8080/foos.
	EnvLiveURL = "FOOREST_LIVE_URL"
	// EnvLiveStoreAddr names the valkey address backing the live service,
	// used to seed the fixture.
	EnvLiveStoreAddr = "FOOREST_LIVE_STORE_ADDR"
)

// ErrFixtureUnavailable means the fixture is missing on a live target and no
// store address was given to seed it.
var ErrFixtureUnavailable = errors.New("livetest: fixture missing and no store configured")

// Target is one collection endpoint plus the means to seed it.
type Target struct {
	// Config is the effective client and fixture configuration.
	Config config.Config
	// Store is nil for a live target without FOOREST_LIVE_STORE_ADDR.
	Store   store.Service
	Metrics *metrics.Recorder
	Live    bool

	closers []func()
}

// Open resolves the target from the environment. Credentials, timeouts and
// the fixture come from the usual FOOREST_ configuration layers.
func Open(ctx context.Context, logger *slog.Logger) (*Target, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cfg, err := config.NewLoader("FOOREST").Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("livetest: load configuration: %w", err)
	}

	rec := metrics.NewRecorder(nil)
	t := &Target{Config: cfg, Metrics: rec}

	if live := strings.TrimSpace(os.Getenv(EnvLiveURL)); live != "" {
		t.Live = true
		t.Config.Client.BaseURL = live
		if addr := strings.TrimSpace(os.Getenv(EnvLiveStoreAddr)); addr != "" {
			svc, err := store.NewValkey(store.ValkeyConfig{
				Address:  addr,
				Username: cfg.Store.Redis.Username,
				Password: cfg.Store.Redis.Password,
				DB:       cfg.Store.Redis.DB,
			})
			if err != nil {
				return nil, fmt.Errorf("livetest: connect store: %w", err)
			}
			t.Store = store.Instrument(svc, "valkey", rec, logger)
			t.closers = append(t.closers, func() { _ = svc.Close(context.Background()) })
		}
		return t, nil
	}

	t.Store = store.Instrument(store.NewMemory(), "memory", rec, logger)
	handler, err := service.NewHandler(t.Store, logger, service.Options{
		BasePath: cfg.Server.BasePath,
		Users:    cfg.Server.Users,
		Metrics:  rec,
	})
	if err != nil {
		return nil, fmt.Errorf("livetest: build service: %w", err)
	}
	srv := httptest.NewServer(server.NewRouter(server.RouterOptions{
		BasePath:   handler.BasePath(),
		Collection: handler,
		Metrics:    rec.Handler(),
	}))
	t.closers = append(t.closers, srv.Close)
	t.Config.Client.BaseURL = srv.URL + handler.BasePath()
	return t, nil
}

// Client builds a CRUD client for the target.
func (t *Target) Client(opts ...client.Option) (*client.Client, error) {
	opts = append([]client.Option{client.WithMetrics(t.Metrics)}, opts...)
	return client.New(client.ConfigFrom(t.Config.Client), opts...)
}

// Seed is the configured fixture entity.
func (t *Target) Seed() foo.Foo {
	return foo.Foo{ID: t.Config.Fixture.ID, Name: t.Config.Fixture.Name}
}

// EnsureFixture makes the seed entity present. Without a store it can only
// confirm the entity over HTTP.
func (t *Target) EnsureFixture(ctx context.Context) (foo.Foo, bool, error) {
	seed := t.Seed()
	if t.Store != nil {
		return fixture.EnsureOneEntityExists(ctx, t.Store, seed)
	}
	c, err := t.Client()
	if err != nil {
		return foo.Foo{}, false, err
	}
	defer c.CloseIdleConnections()
	got, err := c.Get(ctx, seed.ID)
	if client.IsNotFound(err) {
		return foo.Foo{}, false, ErrFixtureUnavailable
	}
	if err != nil {
		return foo.Foo{}, false, err
	}
	return got.Body, false, nil
}

// Close releases servers and connections in reverse order.
func (t *Target) Close() {
	for i := len(t.closers) - 1; i >= 0; i-- {
		t.closers[i]()
	}
	t.closers = nil
}
