package health

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/txn2/adminsession/pkg/clock"
)

// Default prober settings.
const (
	DefaultProbePath     = "/health"
	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// Reporter receives probe outcomes.
type Reporter interface {
	// ReportReachable is called after a probe got any HTTP response.
	ReportReachable()

	// ReportUnreachable is called after a probe got no response.
	ReportUnreachable(err error)
}

// ProberConfig configures a Prober.
type ProberConfig struct {
	BaseURL  string
	Path     string
	Interval time.Duration
	Timeout  time.Duration
}

// Prober periodically polls an unauthenticated health endpoint. It is
// intended for development builds where the API is often restarted.
type Prober struct {
	cfg      ProberConfig
	client   *http.Client
	clock    clock.Clock
	reporter Reporter
	logger   *slog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewProber creates a Prober. A nil client uses http.DefaultClient and a
// nil clock uses the real clock.
func NewProber(cfg ProberConfig, client *http.Client, clk clock.Clock, reporter Reporter, logger *slog.Logger) (*Prober, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("prober: base URL is required")
	}
	if reporter == nil {
		return nil, fmt.Errorf("prober: reporter is required")
	}
	if cfg.Path == "" {
		cfg.Path = DefaultProbePath
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultProbeInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProbeTimeout
	}
	if client == nil {
		client = http.DefaultClient
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		cfg:      cfg,
		client:   client,
		clock:    clk,
		reporter: reporter,
		logger:   logger,
	}, nil
}

// Start begins polling in a background goroutine. Calling Start on a
// running prober is a no-op.
func (p *Prober) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCh != nil {
		return nil
	}
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	ticker := p.clock.NewTicker(p.cfg.Interval)
	go p.loop(ticker, p.stopCh, p.doneCh)
	return nil
}

// Stop halts polling and waits for the loop to exit.
func (p *Prober) Stop(_ context.Context) error {
	p.mu.Lock()
	stopCh, doneCh := p.stopCh, p.doneCh
	p.stopCh, p.doneCh = nil, nil
	p.mu.Unlock()

	if stopCh == nil {
		return nil
	}
	close(stopCh)
	<-doneCh
	return nil
}

func (p *Prober) loop(ticker *clock.Ticker, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			p.Probe(context.Background())
		}
	}
}

// Probe performs one health check and reports the outcome. Any HTTP
// response counts as reachable; only the absence of one is unreachable.
func (p *Prober) Probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	url := strings.TrimRight(p.cfg.BaseURL, "/") + p.cfg.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		p.logger.Warn("building health probe", "error", err)
		return
	}

	resp, err := p.client.Do(req) // #nosec G107 -- URL comes from operator configuration
	if err != nil {
		p.logger.Debug("health probe failed", "url", url, "error", err)
		p.reporter.ReportUnreachable(err)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	p.reporter.ReportReachable()
}
