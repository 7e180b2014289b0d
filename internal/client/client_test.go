package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/foorest/internal/config"
	"github.com/l0p7/foorest/internal/foo"
	"github.com/l0p7/foorest/internal/metrics"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:     baseURL,
		Credentials: Credentials{Username: "user1", Password: "user1Pass"},
		Timeouts:    DefaultTimeouts(),
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(testConfig(srv.URL+"/foos/"), opts...)
	require.NoError(t, err)
	t.Cleanup(c.CloseIdleConnections)
	return c, srv
}

func TestNewValidatesConfig(t *testing.T) {
	cases := map[string]Config{
		"relative url":     {BaseURL: "/foos", Credentials: Credentials{Username: "u"}},
		"unsupported url":  {BaseURL: "ftp://host/foos", Credentials: Credentials{Username: "u"}},
		"missing username": {BaseURL: "http://host/foos"},
		"colon username":   {BaseURL: "http://host/foos", Credentials: Credentials{Username: "a:b"}},
	}
	for name, cfg := range cases {
		cfg := cfg
		t.Run(name, func(t *testing.T) {
			_, err := New(cfg)
			require.Error(t, err)
		})
	}
}

func TestNewAppliesDefaultsAndTrimsBase(t *testing.T) {
	c, err := New(Config{BaseURL: "http://localhost:8080/foos/", Credentials: Credentials{Username: "user1"}})
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080/foos", c.BaseURL())
	require.Equal(t, DefaultTimeouts(), c.timeouts)

	httpClient, ok := c.http.(*http.Client)
	require.True(t, ok)
	transport, ok := httpClient.Transport.(*http.Transport)
	require.True(t, ok)
	require.Equal(t, 5*time.Second, transport.ResponseHeaderTimeout)
	require.Equal(t, 5*time.Second, transport.TLSHandshakeTimeout)
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.DefaultConfig().Client)
	require.Equal(t, "http://localhost:8080/foos", cfg.BaseURL)
	require.Equal(t, Credentials{Username: "user1", Password: "user1Pass"}, cfg.Credentials)
	require.Equal(t, DefaultTimeouts(), cfg.Timeouts)
}

func TestGetDecodesEntity(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/foos/1", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":1,"name":"bar"}`)
	})

	res, err := c.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, foo.Foo{ID: 1, Name: "bar"}, res.Body)
}

func TestGetRawKeepsJSONTree(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":1,"name":"bar","extra":true}`)
	})

	res, err := c.GetRaw(context.Background(), 1)
	require.NoError(t, err)
	var tree map[string]any
	require.NoError(t, json.Unmarshal(res.Body, &tree))
	require.Equal(t, "bar", tree["name"])
	require.Equal(t, float64(1), tree["id"])
	require.Equal(t, true, tree["extra"])
}

func TestDecodeFailuresWrapErrDecode(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `not json`)
	})

	_, err := c.Get(context.Background(), 1)
	require.ErrorIs(t, err, ErrDecode)
	_, err = c.GetRaw(context.Background(), 1)
	require.ErrorIs(t, err, ErrDecode)
}

func TestNon2xxBecomesStatusError(t *testing.T) {
	cases := []struct {
		name        string
		status      int
		notFound    bool
		clientError bool
		serverError bool
	}{
		{name: "not found", status: http.StatusNotFound, notFound: true, clientError: true},
		{name: "unauthorized", status: http.StatusUnauthorized, clientError: true},
		{name: "server error", status: http.StatusInternalServerError, serverError: true},
		{name: "redirect", status: http.StatusFound},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tc.status == http.StatusFound {
					w.Header().Set("Location", "/elsewhere")
				}
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, `{"error":"nope"}`)
			})

			_, err := c.Get(context.Background(), 7)
			require.Error(t, err)
			code, ok := StatusCode(err)
			require.True(t, ok)
			require.Equal(t, tc.status, code)
			require.Equal(t, tc.notFound, IsNotFound(err))
			require.Equal(t, tc.clientError, IsClientError(err))
			require.Equal(t, tc.serverError, IsServerError(err))
			require.False(t, errors.Is(err, ErrTimeout))
			require.Contains(t, err.Error(), "nope")
		})
	}
}

func TestCreateSendsAuthenticatedJSON(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/foos", r.URL.Path)
		require.Equal(t, "Basic dXNlcjE6dXNlcjFQYXNz", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		payload, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.JSONEq(t, `{"name":"bar"}`, string(payload))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":12,"name":"bar"}`)
	})

	res, err := c.Create(context.Background(), "bar")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	require.Equal(t, foo.Foo{ID: 12, Name: "bar"}, res.Body)
}

func TestUpdateSendsEntity(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/foos/4", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "user1", user)
		require.Equal(t, "user1Pass", pass)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		payload, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.JSONEq(t, `{"id":4,"name":"newName"}`, string(payload))
		w.WriteHeader(http.StatusOK)
	})

	res, err := c.Update(context.Background(), foo.Foo{ID: 4, Name: "newName"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestDeleteAndList(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodDelete && r.URL.Path == "/foos/3":
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodGet && r.URL.Path == "/foos":
			_, _ = io.WriteString(w, `[{"id":1,"name":"bar"},{"id":2,"name":"baz"}]`)
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	})

	res, err := c.Delete(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	list, err := c.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []foo.Foo{{ID: 1, Name: "bar"}, {ID: 2, Name: "baz"}}, list.Body)
}

func TestHeadForHeaders(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Type", "application/json;charset=UTF-8")
		w.Header().Set("foo", "bar")
		w.WriteHeader(http.StatusOK)
	})

	headers, err := c.HeadForHeaders(context.Background())
	require.NoError(t, err)
	require.True(t, ContentTypeIncludes(headers, "application/json"))
	require.True(t, HeaderContains(headers, "foo", "bar"))
}

func TestOptionsForAllow(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodOptions, r.Method)
		w.Header().Add("Allow", "GET, HEAD,post")
		w.Header().Add("Allow", "PUT,DELETE, OPTIONS")
		w.WriteHeader(http.StatusOK)
	})

	allowed, err := c.OptionsForAllow(context.Background())
	require.NoError(t, err)
	require.True(t, allowed.ContainsAll(http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete))
	require.Equal(t, []string{"DELETE", "GET", "HEAD", "OPTIONS", "POST", "PUT"}, allowed.Methods())
}

func TestSlowResponseHeadersSurfaceAsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL + "/foos")
	cfg.Timeouts.Read = 50 * time.Millisecond
	c, err := New(cfg)
	require.NoError(t, err)

	_, err = c.Get(context.Background(), 1)
	require.ErrorIs(t, err, ErrTimeout)
	_, isStatus := StatusCode(err)
	require.False(t, isStatus)
}

func TestSlowBodySurfacesAsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"id":1,`)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL + "/foos")
	cfg.Timeouts.Read = 50 * time.Millisecond
	c, err := New(cfg)
	require.NoError(t, err)

	_, err = c.Get(context.Background(), 1)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestStalledDialSurfacesAsTimeout(t *testing.T) {
	stall := func(ctx context.Context, _, _ string) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	cfg := testConfig("http://127.0.0.1:9/foos")
	cfg.Timeouts.Connect = 100 * time.Millisecond
	c, err := New(cfg, WithDialContext(stall))
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Get(context.Background(), 1)
	require.ErrorIs(t, err, ErrTimeout)
	require.NotErrorIs(t, err, ErrTransport)
	_, isStatus := StatusCode(err)
	require.False(t, isStatus)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestPoolExhaustionSurfacesAsTimeout(t *testing.T) {
	arrived := make(chan struct{}, maxConnsPerHost)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		arrived <- struct{}{}
		select {
		case <-release:
		case <-r.Context().Done():
		}
		_, _ = io.WriteString(w, `{"id":1,"name":"bar"}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL + "/foos")
	cfg.Timeouts.Connect = 200 * time.Millisecond
	cfg.Timeouts.ConnectionRequest = 200 * time.Millisecond
	c, err := New(cfg)
	require.NoError(t, err)
	defer c.CloseIdleConnections()

	var wg sync.WaitGroup
	for i := 0; i < maxConnsPerHost; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Get(context.Background(), 1)
		}()
	}
	for i := 0; i < maxConnsPerHost; i++ {
		select {
		case <-arrived:
		case <-time.After(2 * time.Second):
			close(release)
			t.Fatalf("only %d of %d connections established", i, maxConnsPerHost)
		}
	}

	start := time.Now()
	_, err = c.Get(context.Background(), 1)
	elapsed := time.Since(start)
	close(release)
	wg.Wait()

	require.ErrorIs(t, err, ErrTimeout)
	_, isStatus := StatusCode(err)
	require.False(t, isStatus)
	require.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	require.Less(t, elapsed, 3*time.Second)
}

func TestUnreachableServerIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := New(testConfig(base + "/foos"))
	require.NoError(t, err)

	_, err = c.Get(context.Background(), 1)
	require.ErrorIs(t, err, ErrTransport)
	require.False(t, IsNotFound(err))
}

type recordingDoer struct {
	requests []*http.Request
	status   int
	body     string
}

func (d *recordingDoer) Do(req *http.Request) (*http.Response, error) {
	d.requests = append(d.requests, req)
	return &http.Response{
		StatusCode: d.status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(d.body)),
		Request:    req,
	}, nil
}

func TestWithHTTPClientAndMetrics(t *testing.T) {
	doer := &recordingDoer{status: http.StatusCreated, body: `{"id":2,"name":"bar"}`}
	rec := metrics.NewRecorder(nil)
	c, err := New(testConfig("http://example.test/foos"), WithHTTPClient(doer), WithMetrics(rec), WithLogger(nil))
	require.NoError(t, err)

	res, err := c.Create(context.Background(), "bar")
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Body.ID)
	require.Len(t, doer.requests, 1)
	require.Equal(t, "http://example.test/foos", doer.requests[0].URL.String())

	families, err := rec.Gatherer().Gather()
	require.NoError(t, err)
	var seen bool
	for _, mf := range families {
		if mf.GetName() == "foorest_client_requests_total" {
			for _, m := range mf.GetMetric() {
				seen = seen || m.GetCounter().GetValue() == 1
			}
		}
	}
	require.True(t, seen, "expected client request counter")
}

func TestHeaderHelpers(t *testing.T) {
	require.False(t, ContentTypeIncludes(http.Header{}, "application/json"))
	require.False(t, ContentTypeIncludes(http.Header{"Content-Type": []string{"text/plain"}}, "application/json"))
	require.True(t, ContentTypeIncludes(http.Header{"Content-Type": []string{"Application/JSON"}}, "application/json"))

	h := http.Header{}
	h.Add("Foo", "baz, bar")
	require.True(t, HeaderContains(h, "foo", "bar"))
	require.False(t, HeaderContains(h, "foo", "qux"))

	require.Empty(t, ParseAllow(nil).Methods())
	require.False(t, ParseAllow([]string{"GET"}).ContainsAll("GET", "PUT"))
}
