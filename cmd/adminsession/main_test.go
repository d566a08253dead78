package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/adminsession/internal/app"
	"github.com/txn2/adminsession/pkg/config"
	"github.com/txn2/adminsession/pkg/session"
)

// syncBuffer is a bytes.Buffer safe for the watcher goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testToken(t *testing.T) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "operator",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("shell-test"))
	require.NoError(t, err)
	return raw
}

func newTestShell(t *testing.T, handler http.Handler) (*shell, *syncBuffer) {
	t.Helper()
	api := httptest.NewServer(handler)
	t.Cleanup(api.Close)

	cfg, err := config.Parse(fmt.Appendf(nil, "api:\n  base_url: %s\nstorage:\n  kind: memory\nidle:\n  enabled: false\n", api.URL))
	require.NoError(t, err)

	a, err := app.New(cfg)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() {
		_ = a.Stop(ctx)
		_ = a.Close()
	})

	out := &syncBuffer{}
	return newShell(a, out), out
}

func TestShell_LoginGetLogout(t *testing.T) {
	sh, out := newTestShell(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	ctx := context.Background()

	require.NoError(t, sh.exec(ctx, "login "+testToken(t)))
	require.NoError(t, sh.exec(ctx, "get /documents"))
	assert.Contains(t, out.String(), `200 {"items":[]}`)

	require.NoError(t, sh.exec(ctx, "logout"))
	assert.Equal(t, "/login", sh.app.Navigator().Current())
	_, ok := sh.app.Tokens().Bearer()
	assert.False(t, ok)
}

func TestShell_OpenServesAsset(t *testing.T) {
	sh, out := newTestShell(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/7/preview" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF"))
	}))
	ctx := context.Background()
	require.NoError(t, sh.exec(ctx, "login "+testToken(t)))

	require.NoError(t, sh.exec(ctx, "open 7"))
	assert.Contains(t, out.String(), "7 application/pdf (4 bytes) at "+sh.app.BlobOrigin()+"/blob/")
}

func TestShell_Errors(t *testing.T) {
	sh, _ := newTestShell(t, http.NotFoundHandler())
	ctx := context.Background()

	require.Error(t, sh.exec(ctx, "login"))
	require.Error(t, sh.exec(ctx, "frobnicate"))
	require.ErrorIs(t, sh.exec(ctx, "quit"), errQuit)
	require.NoError(t, sh.exec(ctx, "   "))
}

func TestShell_RunStopsAtQuit(t *testing.T) {
	sh, out := newTestShell(t, http.NotFoundHandler())
	in := strings.NewReader("go /documents\nbogus\nstatus\nquit\nstatus\n")

	require.NoError(t, sh.run(context.Background(), in))
	assert.Contains(t, out.String(), `unknown command "bogus"`)
	assert.Contains(t, out.String(), "view:         /documents")
	assert.Equal(t, 1, strings.Count(out.String(), "session:"))
}

func TestShell_WatchReportsPrompts(t *testing.T) {
	sh, out := newTestShell(t, http.NotFoundHandler())
	surface := session.NewChannelSurface(1)
	sh.app.RegisterSurface(surface)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sh.watch(ctx, surface)

	sh.app.Trigger().RequestReauth(session.ReasonIdle)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "login required (idle)")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLogSurface(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)
	surface := logSurface(logger)

	surface.Show(session.Prompt{Reason: session.ReasonUnauthenticated})
	surface.Hide()
	assert.Contains(t, buf.String(), "reason=unauthenticated")
	assert.Contains(t, buf.String(), "session restored")
}

func TestLoadEnv(t *testing.T) {
	require.NoError(t, loadEnv(""))
	require.NoError(t, loadEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("ADMINSESSION_TEST_VALUE=from-env\n"), 0o600))
	t.Setenv("ADMINSESSION_TEST_VALUE", "")
	require.NoError(t, os.Unsetenv("ADMINSESSION_TEST_VALUE"))
	require.NoError(t, loadEnv(path))
	assert.Equal(t, "from-env", os.Getenv("ADMINSESSION_TEST_VALUE"))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	newLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf).Debug("hello")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))

	buf.Reset()
	newLogger(config.LoggingConfig{Level: "error", Format: "text"}, &buf).Info("dropped")
	assert.Empty(t, buf.String())
}

func TestVersionIsSet(t *testing.T) {
	assert.NotEmpty(t, app.Version)
}
