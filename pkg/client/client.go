// Package client is an HTTP transport for a ship's Eyre interface: scry reads
// and poke commands against Gall agents.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrShipRequired is returned by Poke when the client does not know which
// ship it is talking to. Set it with WithShip or learn it through Login.
var ErrShipRequired = errors.New("ship name required for poke")

const authCookiePrefix = "urbauth-"

// StatusError is returned for any non-2xx response from the ship.
type StatusError struct {
	Code int
	Path string
	Body string
}

func (e *StatusError) Error() string {
	switch e.Code {
	case http.StatusNotFound:
		return fmt.Sprintf("not found: %s", e.Path)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Sprintf("unauthorized (%d): %s", e.Code, e.Path)
	}
	if e.Body != "" {
		return fmt.Sprintf("ship returned HTTP %d for %s: %s", e.Code, e.Path, e.Body)
	}
	return fmt.Sprintf("ship returned HTTP %d for %s", e.Code, e.Path)
}

// NotFound reports whether the ship answered 404.
func (e *StatusError) NotFound() bool { return e.Code == http.StatusNotFound }

// IsNotFound reports whether err wraps a 404 StatusError.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.NotFound()
}

// Client talks to a single ship.
type Client struct {
	shipURL    string
	ship       string // without "~"
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	observe    ObserveFunc

	channelID string
	eventID   atomic.Int64

	// auth cookie, guarded by mu
	mu     sync.Mutex
	cookie *http.Cookie
}

// ObserveFunc receives every request's operation (login, scry, poke), its
// status ("error" when no response arrived) and its duration.
type ObserveFunc func(op, status string, took time.Duration)

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client, overriding any TLS or timeout options.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		c.httpClient.Timeout = d
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development against a ship with a self-signed cert.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: c.httpClient.Timeout,
		}
		return nil
	}
}

// WithRateLimit paces outbound requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) error {
		if rps <= 0 {
			return nil
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

// WithObserver sets the callback invoked after every request.
func WithObserver(fn ObserveFunc) Option {
	return func(c *Client) error {
		c.observe = fn
		return nil
	}
}

// WithLogger attaches a logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) error {
		if l != nil {
			c.logger = l
		}
		return nil
	}
}

// WithShip sets the ship name used as the poke target. A leading "~" is optional.
func WithShip(name string) Option {
	return func(c *Client) error {
		c.ship = strings.TrimPrefix(name, "~")
		return nil
	}
}

// WithCookie attaches a pre-obtained auth cookie value ("urbauth-~zod=0v...")
// so Login can be skipped.
func WithCookie(raw string) Option {
	return func(c *Client) error {
		name, value, ok := strings.Cut(raw, "=")
		if !ok || !strings.HasPrefix(name, authCookiePrefix) {
			return fmt.Errorf("malformed auth cookie: expected %s~ship=<value>", authCookiePrefix)
		}
		c.cookie = &http.Cookie{Name: name, Value: value}
		if c.ship == "" {
			c.ship = strings.TrimPrefix(strings.TrimPrefix(name, authCookiePrefix), "~")
		}
		return nil
	}
}

// New creates a Client for the ship served at shipURL, e.g.
// "https://zod.tlon.network". A trailing slash is rejected.
//
//	c, err := client.New("https://zod.tlon.network",
//	    client.WithShip("~zod"),
//	    client.WithRateLimit(5, 1),
//	)
func New(shipURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(shipURL)
	if err != nil {
		return nil, fmt.Errorf("parse ship URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported ship URL scheme %q: expected http or https", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host in ship URL %q", shipURL)
	}
	if strings.HasSuffix(shipURL, "/") {
		return nil, fmt.Errorf("ship URL %q must not end with /", shipURL)
	}

	c := &Client{
		shipURL:    shipURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     zap.NewNop(),
		channelID:  fmt.Sprintf("expose-%d-%s", time.Now().Unix(), uuid.NewString()[:8]),
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(shipURL string, opts ...Option) *Client {
	c, err := New(shipURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// URL returns the ship's base URL.
func (c *Client) URL() string { return c.shipURL }

// Ship returns the ship name with its "~", or "" when unknown.
func (c *Client) Ship() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ship == "" {
		return ""
	}
	return "~" + c.ship
}

// Login exchanges an access code for an auth cookie, which is attached to
// every later request. When no ship was configured, the ship name is taken
// from the cookie.
func (c *Client) Login(ctx context.Context, code string) error {
	if code == "" {
		return fmt.Errorf("access code is empty")
	}
	form := url.Values{"password": {code}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.shipURL+"/~/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, _, err := c.roundTrip(req, "login")
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	for _, ck := range resp.Cookies() {
		if !strings.HasPrefix(ck.Name, authCookiePrefix) {
			continue
		}
		c.mu.Lock()
		c.cookie = &http.Cookie{Name: ck.Name, Value: ck.Value}
		if c.ship == "" {
			c.ship = strings.TrimPrefix(strings.TrimPrefix(ck.Name, authCookiePrefix), "~")
		}
		c.mu.Unlock()
		c.logger.Debug("logged in", zap.String("ship", c.Ship()))
		return nil
	}
	return fmt.Errorf("login: ship did not set an %s cookie", authCookiePrefix)
}

// Scry reads path from app and returns the raw JSON body.
//
//	body, err := c.Scry(ctx, "expose", "/show")
//	// GET <ship-url>/~/scry/expose/show.json
func (c *Client) Scry(ctx context.Context, app, path string) (json.RawMessage, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target := c.shipURL + "/~/scry/" + url.PathEscape(app) + escapePath(path) + ".json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build scry request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req, "scry")
	if err != nil {
		return nil, err
	}
	return body, nil
}

// escapePath escapes each "/"-separated segment of p, so "?", "#" and
// spaces inside a segment cannot end the path early.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// pokeAction is one element of the JSON array PUT to a channel.
type pokeAction struct {
	ID     int64  `json:"id"`
	Action string `json:"action"`
	Ship   string `json:"ship"`
	App    string `json:"app"`
	Mark   string `json:"mark"`
	JSON   any    `json:"json"`
}

// Poke sends payload to app under mark through this client's channel.
// The ship accepting the PUT is treated as success; the agent's ack on the
// channel's event stream is not awaited.
func (c *Client) Poke(ctx context.Context, app, mark string, payload any) error {
	ship := strings.TrimPrefix(c.Ship(), "~")
	if ship == "" {
		return ErrShipRequired
	}

	b, err := json.Marshal([]pokeAction{{
		ID:     c.eventID.Add(1),
		Action: "poke",
		Ship:   ship,
		App:    app,
		Mark:   mark,
		JSON:   payload,
	}})
	if err != nil {
		return fmt.Errorf("marshal poke: %w", err)
	}

	target := c.shipURL + "/~/channel/" + c.channelID
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build poke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = c.do(req, "poke")
	return err
}

// do executes req and returns the body of a 2xx response.
func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	_, body, err := c.roundTrip(req, op)
	return body, err
}

// roundTrip attaches the auth cookie, applies pacing, reports to the observer, and
// turns non-2xx responses into *StatusError.
func (c *Client) roundTrip(req *http.Request, op string) (*http.Response, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	c.mu.Lock()
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	c.mu.Unlock()

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(op, "error", time.Since(start))
		return nil, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	c.record(op, strconv.Itoa(resp.StatusCode), time.Since(start))
	if err != nil {
		return resp, nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("ship request",
		zap.String("op", op),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode >= 300 {
		return resp, nil, &StatusError{Code: resp.StatusCode, Path: req.URL.Path, Body: strings.TrimSpace(string(body))}
	}
	return resp, body, nil
}

func (c *Client) record(op, status string, took time.Duration) {
	if c.observe != nil {
		c.observe(op, status, took)
	}
}
