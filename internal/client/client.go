// Package client talks to a Foo collection endpoint over HTTP with Basic
// authentication. Every call is synchronous and is never retried.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/l0p7/foorest/internal/config"
	"github.com/l0p7/foorest/internal/foo"
	"github.com/l0p7/foorest/internal/metrics"
)

const (
	maxBodyBytes = 10 << 20
	// maxConnsPerHost caps the pool; requests beyond it wait for a
	// connection under the connection-request timeout.
	maxConnsPerHost = 10
)

var (
	errAcquireTimeout = errors.New("connection acquisition timed out")
	errReadTimeout    = errors.New("response read timed out")
)

// Doer is the minimal transport contract. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Credentials are sent as a Basic Authorization header on every request.
type Credentials struct {
	Username string
	Password string
}

// Timeouts bound each phase of a request.
type Timeouts struct {
	Connect           time.Duration
	Read              time.Duration
	ConnectionRequest time.Duration
}

// DefaultTimeouts returns five seconds for every phase.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect:           5 * time.Second,
		Read:              5 * time.Second,
		ConnectionRequest: 5 * time.Second,
	}
}

// Config is everything New needs to reach a collection.
type Config struct {
	BaseURL     string
	Credentials Credentials
	Timeouts    Timeouts
}

// ConfigFrom maps the loaded client block onto a Config.
func ConfigFrom(cfg config.ClientConfig) Config {
	return Config{
		BaseURL: cfg.BaseURL,
		Credentials: Credentials{
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Timeouts: Timeouts{
			Connect:           cfg.Timeouts.Connect(),
			Read:              cfg.Timeouts.Read(),
			ConnectionRequest: cfg.Timeouts.ConnectionRequest(),
		},
	}
}

// Result carries a successful response. Body holds the decoded payload.
type Result[T any] struct {
	StatusCode int
	Header     http.Header
	Body       T
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the timeout-configured transport. Connect and read
// timeouts then become the caller's responsibility; acquisition and body read
// deadlines are still enforced through the request context.
func WithHTTPClient(doer Doer) Option {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

// DialFunc opens the raw connection beneath the client's connect timeout.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// WithDialContext replaces the TCP dialer of the default transport, for
// example to reach the service over a unix socket. The connect timeout still
// bounds every dial. It has no effect together with WithHTTPClient.
func WithDialContext(dial DialFunc) Option {
	return func(c *Client) {
		c.dial = dial
	}
}

// WithLogger sets the logger used for per-request debug records.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records each request into rec.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(c *Client) {
		c.metrics = rec
	}
}

// Client issues CRUD requests against one Foo collection URL.
type Client struct {
	baseURL     string
	credentials Credentials
	timeouts    Timeouts
	http        Doer
	dial        DialFunc
	logger      *slog.Logger
	metrics     *metrics.Recorder
}

// New validates cfg and builds a client whose transport enforces the
// configured timeouts.
func New(cfg Config, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("client: base url must be absolute http(s): %q", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.Credentials.Username) == "" {
		return nil, errors.New("client: username required")
	}
	if strings.Contains(cfg.Credentials.Username, ":") {
		return nil, errors.New("client: username must not contain ':'")
	}

	timeouts := cfg.Timeouts
	defaults := DefaultTimeouts()
	if timeouts.Connect <= 0 {
		timeouts.Connect = defaults.Connect
	}
	if timeouts.Read <= 0 {
		timeouts.Read = defaults.Read
	}
	if timeouts.ConnectionRequest <= 0 {
		timeouts.ConnectionRequest = defaults.ConnectionRequest
	}

	c := &Client{
		baseURL:     strings.TrimRight(parsed.String(), "/"),
		credentials: cfg.Credentials,
		timeouts:    timeouts,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = newHTTPClient(timeouts, c.dial)
	}
	c.logger = c.logger.With(slog.String("agent", "client"))
	return c, nil
}

func newHTTPClient(timeouts Timeouts, dial DialFunc) *http.Client {
	if dial == nil {
		dial = (&net.Dialer{KeepAlive: 30 * time.Second}).DialContext
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			ctx, cancel := context.WithTimeout(ctx, timeouts.Connect)
			defer cancel()
			return dial(ctx, network, addr)
		},
		TLSHandshakeTimeout:   timeouts.Connect,
		ResponseHeaderTimeout: timeouts.Read,
		MaxIdleConns:          maxConnsPerHost,
		MaxIdleConnsPerHost:   maxConnsPerHost,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		// Redirects are surfaced to the caller as status errors.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// BaseURL returns the collection URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CloseIdleConnections releases pooled connections when the default transport is in use.
func (c *Client) CloseIdleConnections() {
	if closer, ok := c.http.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
}

// Get fetches one entity.
func (c *Client) Get(ctx context.Context, id int64) (Result[foo.Foo], error) {
	return decodeJSON[foo.Foo](c.exchange(ctx, http.MethodGet, c.entityURL(id), nil))
}

// GetRaw fetches one entity and keeps the body as raw JSON.
func (c *Client) GetRaw(ctx context.Context, id int64) (Result[json.RawMessage], error) {
	resp, err := c.exchange(ctx, http.MethodGet, c.entityURL(id), nil)
	if err != nil {
		return Result[json.RawMessage]{}, err
	}
	if !json.Valid(resp.body) {
		return Result[json.RawMessage]{}, fmt.Errorf("%w: GET %s: invalid json", ErrDecode, c.entityURL(id))
	}
	return Result[json.RawMessage]{StatusCode: resp.statusCode, Header: resp.header, Body: json.RawMessage(resp.body)}, nil
}

// List fetches the whole collection.
func (c *Client) List(ctx context.Context) (Result[[]foo.Foo], error) {
	return decodeJSON[[]foo.Foo](c.exchange(ctx, http.MethodGet, c.baseURL, nil))
}

// Create posts a new entity carrying only name; the server assigns the id.
func (c *Client) Create(ctx context.Context, name string) (Result[foo.Foo], error) {
	return decodeJSON[foo.Foo](c.exchange(ctx, http.MethodPost, c.baseURL, createRequest{Name: name}))
}

// Update replaces the name of entity.ID.
func (c *Client) Update(ctx context.Context, entity foo.Foo) (Result[struct{}], error) {
	resp, err := c.exchange(ctx, http.MethodPut, c.entityURL(entity.ID), entity)
	if err != nil {
		return Result[struct{}]{}, err
	}
	return Result[struct{}]{StatusCode: resp.statusCode, Header: resp.header}, nil
}

// Delete removes entity id.
func (c *Client) Delete(ctx context.Context, id int64) (Result[struct{}], error) {
	resp, err := c.exchange(ctx, http.MethodDelete, c.entityURL(id), nil)
	if err != nil {
		return Result[struct{}]{}, err
	}
	return Result[struct{}]{StatusCode: resp.statusCode, Header: resp.header}, nil
}

// HeadForHeaders returns the collection's response headers without a body.
func (c *Client) HeadForHeaders(ctx context.Context) (http.Header, error) {
	resp, err := c.exchange(ctx, http.MethodHead, c.baseURL, nil)
	if err != nil {
		return nil, err
	}
	return resp.header, nil
}

// OptionsForAllow returns the methods the collection advertises in Allow.
func (c *Client) OptionsForAllow(ctx context.Context) (MethodSet, error) {
	resp, err := c.exchange(ctx, http.MethodOptions, c.baseURL, nil)
	if err != nil {
		return nil, err
	}
	return ParseAllow(resp.header.Values("Allow")), nil
}

type createRequest struct {
	Name string `json:"name"`
}

type response struct {
	statusCode int
	header     http.Header
	body       []byte
	url        string
	method     string
}

func (c *Client) entityURL(id int64) string {
	return c.baseURL + "/" + strconv.FormatInt(id, 10)
}

func (c *Client) exchange(ctx context.Context, method, target string, payload any) (response, error) {
	start := time.Now()
	resp, err := c.roundTrip(ctx, method, target, payload)
	duration := time.Since(start)

	outcome := metrics.ClientOutcomeSuccess
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		outcome = metrics.ClientOutcomeClientError
		if statusErr.IsServerError() {
			outcome = metrics.ClientOutcomeServerError
		}
	case errors.Is(err, ErrTimeout):
		outcome = metrics.ClientOutcomeTimeout
	case err != nil:
		outcome = metrics.ClientOutcomeTransport
	}
	c.metrics.ObserveClientRequest(method, resp.statusCode, outcome, duration)

	attrs := []slog.Attr{
		slog.String("method", method),
		slog.String("url", target),
		slog.String("outcome", string(outcome)),
		slog.Duration("duration", duration),
	}
	if resp.statusCode > 0 {
		attrs = append(attrs, slog.Int("status", resp.statusCode))
	}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	c.logger.LogAttrs(ctx, slog.LevelDebug, "request completed", attrs...)
	return resp, err
}

func (c *Client) roundTrip(ctx context.Context, method, target string, payload any) (response, error) {
	out := response{url: target, method: method}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return out, fmt.Errorf("client: encode %s %s: %w", method, target, err)
		}
		body = bytes.NewReader(encoded)
	}

	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	acquire := time.AfterFunc(c.timeouts.ConnectionRequest+c.timeouts.Connect, func() {
		cancel(errAcquireTimeout)
	})
	defer acquire.Stop()
	reqCtx = httptrace.WithClientTrace(reqCtx, &httptrace.ClientTrace{
		GotConn: func(httptrace.GotConnInfo) { acquire.Stop() },
	})

	req, err := http.NewRequestWithContext(reqCtx, method, target, body)
	if err != nil {
		return out, fmt.Errorf("client: build %s %s: %w", method, target, err)
	}
	req.SetBasicAuth(c.credentials.Username, c.credentials.Password)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return out, c.classify(reqCtx, method, target, err)
	}
	defer resp.Body.Close()
	acquire.Stop()

	out.statusCode = resp.StatusCode
	out.header = resp.Header

	readTimer := time.AfterFunc(c.timeouts.Read, func() {
		cancel(errReadTimeout)
	})
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	readTimer.Stop()
	if err != nil {
		return out, c.classify(reqCtx, method, target, err)
	}
	out.body = data

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &StatusError{Method: method, URL: target, StatusCode: resp.StatusCode, Body: data}
	}
	return out, nil
}

func (c *Client) classify(reqCtx context.Context, method, target string, err error) error {
	cause := context.Cause(reqCtx)
	if errors.Is(cause, errAcquireTimeout) || errors.Is(cause, errReadTimeout) {
		return fmt.Errorf("%w: %s %s: %w", ErrTimeout, method, target, cause)
	}
	var netErr net.Error
	if (errors.As(err, &netErr) && netErr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s %s: %w", ErrTimeout, method, target, err)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrTransport, method, target, err)
}

func decodeJSON[T any](resp response, err error) (Result[T], error) {
	if err != nil {
		return Result[T]{}, err
	}
	var body T
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return Result[T]{}, fmt.Errorf("%w: %s %s: %w", ErrDecode, resp.method, resp.url, err)
	}
	return Result[T]{StatusCode: resp.statusCode, Header: resp.header, Body: body}, nil
}
