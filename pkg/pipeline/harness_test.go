package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/txn2/adminsession/pkg/health"
	"github.com/txn2/adminsession/pkg/nav"
	"github.com/txn2/adminsession/pkg/notice"
	"github.com/txn2/adminsession/pkg/permission"
	"github.com/txn2/adminsession/pkg/session"
	"github.com/txn2/adminsession/pkg/tokenstore"
)

const testToken = "token-a"

// harness wires a Client to real in-memory collaborators.
type harness struct {
	server       *httptest.Server
	client       *Client
	recovery     *Recovery
	tokens       *tokenstore.Store
	trigger      *session.Trigger
	history      *nav.History
	notices      *notice.Recorder
	denials      *permission.MemoryBus
	connectivity *health.Connectivity
	shows        atomic.Int32
	clears       atomic.Int32
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	noSurface bool
	view      string
	timeout   time.Duration
}

func withoutSurface() harnessOption { return func(c *harnessConfig) { c.noSurface = true } }

func atView(path string) harnessOption { return func(c *harnessConfig) { c.view = path } }

func withTimeout(d time.Duration) harnessOption { return func(c *harnessConfig) { c.timeout = d } }

func newHarness(t *testing.T, handler http.Handler, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{view: "/"}
	for _, o := range opts {
		o(&cfg)
	}

	h := &harness{
		server:       httptest.NewServer(handler),
		history:      nav.NewHistory(cfg.view),
		notices:      notice.NewRecorder(50),
		denials:      permission.NewMemoryBus(permission.BusConfig{}),
		connectivity: health.NewConnectivity(),
	}
	t.Cleanup(h.server.Close)

	h.tokens = tokenstore.New(tokenstore.NewMemorySlot(),
		tokenstore.WithOnClear(func() { h.clears.Add(1) }))
	require.NoError(t, h.tokens.Set(context.Background(), testToken))

	h.trigger = session.NewTrigger(session.NewTracker(session.Authenticated), nil)
	if !cfg.noSurface {
		h.trigger.Register(session.SurfaceFuncs{OnShow: func(session.Prompt) { h.shows.Add(1) }})
	}

	var err error
	h.recovery, err = NewRecovery(RecoveryDeps{
		Tokens:       h.tokens,
		Reauth:       h.trigger,
		Navigator:    h.history,
		Notifier:     h.notices,
		Denials:      h.denials,
		Connectivity: h.connectivity,
	})
	require.NoError(t, err)

	h.client, err = New(Config{BaseURL: h.server.URL + "/api", Scheme: DefaultScheme, Timeout: cfg.timeout, Development: true},
		Deps{HTTPClient: h.server.Client(), Tokens: h.tokens, Recovery: h.recovery})
	require.NoError(t, err)
	return h
}

func statusHandler(code int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	})
}
