// Package apiclient is the HTTP client used to talk to the application
// backend. It enforces HTTPS, optionally pins the server's public key, sends
// and expects JSON, and carries the session bearer token.
package apiclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/elnormous/contenttype"
)

// DefaultTimeout bounds every request unless WithTimeout overrides it.
const DefaultTimeout = 10 * time.Second

const maxErrorBody = 64 << 10

var jsonMediaType = contenttype.NewMediaType("application/json")

var (
	// ErrInsecureURL is returned for non-https URLs when insecure HTTP is not enabled.
	ErrInsecureURL = errors.New("apiclient: https required")
	// ErrUnexpectedContentType is returned when a response body that should be
	// decoded is not application/json.
	ErrUnexpectedContentType = errors.New("apiclient: unexpected content type")
	// ErrPinMismatch is returned (wrapped in the transport error) when no
	// certificate in the server chain matches a configured pin.
	ErrPinMismatch = errors.New("apiclient: certificate pin mismatch")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("apiclient: unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Client issues JSON requests against a base URL.
type Client struct {
	base      *url.URL
	http      *http.Client
	log       *slog.Logger
	userAgent string
	insecure  bool
	bearer    atomic.Pointer[string]
}

type options struct {
	timeout   time.Duration
	pins      []string
	roots     *x509.CertPool
	log       *slog.Logger
	userAgent string
	insecure  bool
	transport http.RoundTripper
}

// Option configures a Client.
type Option func(*options)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// WithPinnedKeys restricts TLS connections to servers whose chain contains a
// certificate with one of the given SubjectPublicKeyInfo pins (base64 of the
// SHA-256 digest).
func WithPinnedKeys(pins ...string) Option {
	return func(o *options) { o.pins = append(o.pins, pins...) }
}

// WithRootCAs replaces the system roots used to verify the server.
func WithRootCAs(pool *x509.CertPool) Option { return func(o *options) { o.roots = pool } }

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option { return func(o *options) { o.userAgent = ua } }

// WithInsecureHTTP allows plain http URLs. Intended for local development.
func WithInsecureHTTP() Option { return func(o *options) { o.insecure = true } }

// WithTransport overrides the underlying round tripper. Pinning and root CA
// options are ignored when it is set.
func WithTransport(rt http.RoundTripper) Option { return func(o *options) { o.transport = rt } }

// New constructs a Client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	o := options{timeout: DefaultTimeout, log: slog.Default(), userAgent: "authsession-go"}
	for _, opt := range opts {
		opt(&o)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("apiclient: invalid base url: %w", err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("apiclient: base url %q has no host", baseURL)
	}
	if err := checkScheme(base, o.insecure); err != nil {
		return nil, err
	}

	rt := o.transport
	if rt == nil {
		pins, err := parsePins(o.pins)
		if err != nil {
			return nil, err
		}
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			RootCAs:    o.roots,
		}
		if len(pins) > 0 {
			tr.TLSClientConfig.VerifyConnection = pins.verify
		}
		rt = tr
	}

	return &Client{
		base:      base,
		http:      &http.Client{Transport: rt, Timeout: o.timeout},
		log:       o.log,
		userAgent: o.userAgent,
		insecure:  o.insecure,
	}, nil
}

// SetBearer makes every subsequent request carry "Authorization: Bearer token".
func (c *Client) SetBearer(token string) {
	if token == "" {
		c.bearer.Store(nil)
		return
	}
	c.bearer.Store(&token)
}

// ClearBearer stops sending the Authorization header.
func (c *Client) ClearBearer() { c.bearer.Store(nil) }

// HasBearer reports whether a bearer token is currently configured.
func (c *Client) HasBearer() bool { return c.bearer.Load() != nil }

// Get issues a GET for path with the given query and decodes the JSON
// response into out (if non-nil).
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		path += sep + query.Encode()
	}
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post sends in as a JSON body and decodes the JSON response into out.
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPost, path, in, out)
}

// Do issues a request. in, when non-nil, is encoded as JSON. out, when
// non-nil, receives the decoded JSON response body.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	u, err := c.resolve(path)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("apiclient: encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("apiclient: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	// The bearer belongs to the API origin; absolute URLs elsewhere go without it.
	if tok := c.bearer.Load(); tok != nil && c.sameOrigin(u) {
		req.Header.Set("Authorization", "Bearer "+*tok)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.log.DebugContext(ctx, "http request failed",
			slog.String("method", method),
			slog.String("url", u.Redacted()),
			slog.String("err", err.Error()))
		return fmt.Errorf("apiclient: %s %s: %w", method, u.Redacted(), err)
	}
	defer res.Body.Close()

	c.log.DebugContext(ctx, "http request",
		slog.String("method", method),
		slog.String("url", u.Redacted()),
		slog.Int("status", res.StatusCode),
		slog.Duration("elapsed", time.Since(start)))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return &StatusError{StatusCode: res.StatusCode, Body: b}
	}
	if out == nil || res.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}

	if mt := contenttype.NewMediaType(res.Header.Get("Content-Type")); !mt.Matches(jsonMediaType) {
		return fmt.Errorf("%w: %q", ErrUnexpectedContentType, res.Header.Get("Content-Type"))
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("apiclient: decode response: %w", err)
	}
	return nil
}

func (c *Client) resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("apiclient: invalid path %q: %w", path, err)
	}
	if ref.IsAbs() {
		if err := checkScheme(ref, c.insecure); err != nil {
			return nil, err
		}
		return ref, nil
	}
	u := c.base.JoinPath(ref.Path)
	u.RawQuery = ref.RawQuery
	return u, nil
}

func (c *Client) sameOrigin(u *url.URL) bool {
	return u.Scheme == c.base.Scheme && strings.EqualFold(u.Host, c.base.Host)
}

func checkScheme(u *url.URL, insecure bool) error {
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if insecure {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrInsecureURL, u.Redacted())
}
