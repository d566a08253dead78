// Package asset fetches credentialed binary content and exposes it to
// native renderers through short-lived local references.
package asset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yosida95/uritemplate/v3"

	"github.com/txn2/adminsession/pkg/pipeline"
)

// Loader defaults.
const (
	DefaultRawTemplate     = "/files/{id}/download"
	DefaultPreviewTemplate = "/files/{id}/preview"
	DefaultMaxBytes        = 256 << 20
	DefaultTimeout         = 2 * time.Minute
)

// Errors reported by handles.
var (
	ErrSuperseded = errors.New("asset load superseded")
	ErrClosed     = errors.New("asset owner closed")
	ErrTooLarge   = errors.New("asset exceeds size limit")
)

// Tokens supplies the credential attached to asset requests.
type Tokens interface {
	Bearer() (string, bool)
}

// Config configures a Loader.
type Config struct {
	BaseURL         string
	RawTemplate     string
	PreviewTemplate string
	HeaderName      string
	Scheme          string
	MaxBytes        int64
	Timeout         time.Duration
}

// Deps are the collaborators of a Loader.
type Deps struct {
	HTTPClient *http.Client
	Tokens     Tokens
	Recovery   *pipeline.Recovery
	URLs       *ObjectURLs
	Logger     *slog.Logger
}

// Loader performs credentialed asset fetches. Failures are classified
// and recovered by the same Recovery as ordinary API calls.
type Loader struct {
	cfg      Config
	raw      *uritemplate.Template
	preview  *uritemplate.Template
	http     *http.Client
	tokens   Tokens
	recovery *pipeline.Recovery
	urls     *ObjectURLs
	logger   *slog.Logger
}

// NewLoader validates cfg and creates a Loader.
func NewLoader(cfg Config, deps Deps) (*Loader, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("asset loader: base URL is required")
	}
	if deps.Tokens == nil || deps.Recovery == nil || deps.URLs == nil {
		return nil, fmt.Errorf("asset loader: tokens, recovery and object URLs are required")
	}
	if cfg.RawTemplate == "" {
		cfg.RawTemplate = DefaultRawTemplate
	}
	if cfg.PreviewTemplate == "" {
		cfg.PreviewTemplate = DefaultPreviewTemplate
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = pipeline.DefaultHeaderName
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	raw, err := uritemplate.New(cfg.RawTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid raw template %q: %w", cfg.RawTemplate, err)
	}
	preview, err := uritemplate.New(cfg.PreviewTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid preview template %q: %w", cfg.PreviewTemplate, err)
	}

	if deps.HTTPClient == nil {
		deps.HTTPClient = http.DefaultClient
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Loader{
		cfg:      cfg,
		raw:      raw,
		preview:  preview,
		http:     deps.HTTPClient,
		tokens:   deps.Tokens,
		recovery: deps.Recovery,
		urls:     deps.URLs,
		logger:   deps.Logger,
	}, nil
}

// URLs returns the object URL registry.
func (l *Loader) URLs() *ObjectURLs {
	return l.urls
}

// Owner creates an owner for one rendering component.
func (l *Loader) Owner(name string) *Owner {
	return &Owner{name: name, loader: l}
}

// Endpoint returns the absolute URL of an asset variant.
func (l *Loader) Endpoint(remoteID string, variant Variant) (string, error) {
	tmpl := l.raw
	if variant == Preview {
		tmpl = l.preview
	}
	path, err := tmpl.Expand(uritemplate.Values{"id": uritemplate.String(remoteID)})
	if err != nil {
		return "", fmt.Errorf("expanding asset template: %w", err)
	}
	return strings.TrimRight(l.cfg.BaseURL, "/") + path, nil
}

// fetchResult is the outcome of one asset request.
type fetchResult struct {
	data        []byte
	contentType string

	// outcome is set when the call failed and must be classified.
	outcome *pipeline.Outcome

	// err is set for failures that need no recovery.
	err error
}

func (l *Loader) fetch(ctx context.Context, remoteID string, variant Variant) fetchResult {
	endpoint, err := l.Endpoint(remoteID, variant)
	if err != nil {
		return fetchResult{err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return fetchResult{err: fmt.Errorf("building asset request: %w", err)}
	}
	bearer, ok := l.tokens.Bearer()
	if ok {
		value := bearer
		if l.cfg.Scheme != "" {
			value = l.cfg.Scheme + " " + bearer
		}
		req.Header.Set(l.cfg.HeaderName, value)
	}

	resp, err := l.http.Do(req) // #nosec G107 -- URL is built from the configured API base
	if err != nil {
		return fetchResult{outcome: &pipeline.Outcome{Request: req, Err: err, Bearer: bearer}}
	}
	defer func() { _ = resp.Body.Close() }()
	l.recovery.ReportReachable()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fetchResult{outcome: &pipeline.Outcome{Request: req, Response: resp, Body: body, Bearer: bearer}}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, l.cfg.MaxBytes+1))
	if err != nil {
		return fetchResult{outcome: &pipeline.Outcome{Request: req, Err: err, Bearer: bearer}}
	}
	if int64(len(data)) > l.cfg.MaxBytes {
		return fetchResult{err: fmt.Errorf("%w: %d bytes", ErrTooLarge, l.cfg.MaxBytes)}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return fetchResult{data: data, contentType: contentType}
}
