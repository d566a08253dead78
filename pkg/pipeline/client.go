// Package pipeline wraps every outbound API call: it attaches the current
// credential, bounds the call with a timeout and classifies failures
// into recovery actions.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Defaults for Config.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultHeaderName = "Authorization"
	DefaultScheme     = "Bearer"

	// maxErrorBody bounds how much of a failed response is retained.
	maxErrorBody = 1 << 20
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HeaderName string

	// Scheme prefixes the token in the header. Empty sends the bare token.
	Scheme string

	// Development enables diagnostics such as logging anonymous calls.
	Development bool
}

// Deps are the collaborators of a Client.
type Deps struct {
	HTTPClient *http.Client
	Tokens     Tokens
	Recovery   *Recovery
	Logger     *slog.Logger
}

// Client sends credentialed requests to the API.
type Client struct {
	cfg      Config
	base     *url.URL
	http     *http.Client
	tokens   Tokens
	recovery *Recovery
	logger   *slog.Logger
}

// New creates a Client.
func New(cfg Config, deps Deps) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base URL must be absolute: %q", cfg.BaseURL)
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("pipeline: tokens are required")
	}
	if deps.Recovery == nil {
		return nil, fmt.Errorf("pipeline: recovery is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = http.DefaultClient
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		base:     base,
		http:     deps.HTTPClient,
		tokens:   deps.Tokens,
		recovery: deps.Recovery,
		logger:   deps.Logger,
	}, nil
}

// Resolve returns the absolute URL for an API path.
func (c *Client) Resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return strings.TrimRight(c.base.String(), "/") + "/" + strings.TrimLeft(path, "/")
	}
	if ref.IsAbs() {
		return ref.String()
	}
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawQuery = ref.RawQuery
	return u.String()
}

// NewRequest builds a request for an API path.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.Resolve(path), body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	return req, nil
}

// Authorize sets the credential header on req and returns the token used,
// or "" for an anonymous call.
func (c *Client) Authorize(req *http.Request) string {
	raw, ok := c.tokens.Bearer()
	if !ok {
		if c.cfg.Development {
			c.logger.Debug("sending request without credential", "method", req.Method, "url", req.URL.Redacted())
		}
		return ""
	}
	value := raw
	if c.cfg.Scheme != "" {
		value = c.cfg.Scheme + " " + raw
	}
	req.Header.Set(c.cfg.HeaderName, value)
	return raw
}

// Do sends req. Successful responses (below 400) are returned unchanged
// and the caller must close the body. Any failure is returned as *Error
// after its recovery has run.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	parent := req.Context()
	ctx, cancel := context.WithTimeout(parent, c.cfg.Timeout)
	req = req.Clone(ctx)
	bearer := c.Authorize(req)

	resp, err := c.http.Do(req) // #nosec G107 -- URL is built from the configured API base
	if err != nil {
		cancel()
		return nil, c.recovery.Resolve(parent, Outcome{Request: req, Err: err, Bearer: bearer})
	}
	c.recovery.ReportReachable()

	if resp.StatusCode < http.StatusBadRequest {
		resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
	cancel()

	return nil, c.recovery.Resolve(parent, Outcome{
		Request:  req,
		Response: resp,
		Body:     body,
		Bearer:   bearer,
	})
}

// Get sends a GET request for path.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, path, http.NoBody)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// GetJSON sends a GET request and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.SendJSON(ctx, http.MethodGet, path, nil, out)
}

// PostJSON sends in as JSON and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	return c.SendJSON(ctx, http.MethodPost, path, in, out)
}

// SendJSON sends in (if non-nil) as a JSON body and decodes the response
// into out (if non-nil).
func (c *Client) SendJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.NewRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// cancelBody releases the request timeout when the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
