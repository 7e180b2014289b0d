package main

import (
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
)

// TestIntegrationEnvironmentOverrides checks that FOOREST_ variables layer
// over the file: the fixture name, the base path, and the accepted users all
// come from the environment here.
func TestIntegrationEnvironmentOverrides(t *testing.T) {
	if os.Getenv("FOOREST_INTEGRATION") == "" {
		t.Skip("set FOOREST_INTEGRATION=1 to run integration tests")
	}
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	temp := t.TempDir()
	port := allocatePort(t)
	configPath := writeIntegrationConfig(t, temp, port)

	process := startServerProcess(t, configPath, map[string]string{
		"FOOREST_SERVER__BASEPATH":     "/api/foos",
		"FOOREST_SERVER__USERS__ALICE": "secret",
		"FOOREST_FIXTURE__NAME":        "from-env",
	})
	defer process.stop(t)

	poller := &http.Client{Timeout: 5 * time.Second}
	waitForEndpoint(t, poller, integrationURL(port, "/healthz"), 15*time.Second)

	expect := httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  integrationURL(port, ""),
		Reporter: httpexpect.NewRequireReporter(t),
		Client:   poller,
	})

	t.Run("fixture name comes from the environment", func(t *testing.T) {
		expect.GET("/api/foos/1").
			Expect().
			Status(http.StatusOK).
			JSON().Object().
			HasValue("id", 1).
			HasValue("name", "from-env")
	})

	t.Run("file base path is replaced", func(t *testing.T) {
		expect.GET("/foos/1").Expect().Status(http.StatusNotFound)
	})

	t.Run("environment user is merged with file users", func(t *testing.T) {
		expect.POST("/api/foos").
			WithBasicAuth("alice", "secret").
			WithJSON(map[string]string{"name": "alice-made"}).
			Expect().
			Status(http.StatusCreated).
			JSON().Object().HasValue("name", "alice-made")

		expect.POST("/api/foos").
			WithBasicAuth("user1", "user1Pass").
			WithJSON(map[string]string{"name": "user1-made"}).
			Expect().
			Status(http.StatusCreated)
	})

	t.Run("metrics expose served routes", func(t *testing.T) {
		expect.GET("/metrics").
			Expect().
			Status(http.StatusOK).
			Body().Contains(`route="/api/foos"`)
	})
}
