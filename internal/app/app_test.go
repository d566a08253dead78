package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/adminsession/pkg/asset"
	"github.com/txn2/adminsession/pkg/clock"
	"github.com/txn2/adminsession/pkg/config"
	"github.com/txn2/adminsession/pkg/idle"
	"github.com/txn2/adminsession/pkg/nav"
	"github.com/txn2/adminsession/pkg/pipeline"
	"github.com/txn2/adminsession/pkg/session"
	"github.com/txn2/adminsession/pkg/tokenstore"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func signedToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "operator",
		"exp": testNow.Add(ttl).Unix(),
	}).SignedString([]byte("app-test"))
	require.NoError(t, err)
	return raw
}

func testConfig(t *testing.T, baseURL string, extra string) *config.Config {
	t.Helper()
	cfg, err := config.Parse(fmt.Appendf(nil, `
apiVersion: v1
api:
  base_url: %s
storage:
  kind: memory
%s
`, baseURL, extra))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

type fixture struct {
	app     *App
	clock   *clock.FakeClock
	surface *session.ChannelSurface
	api     *httptest.Server
}

func newFixture(t *testing.T, handler http.Handler, extra string, opts ...Option) *fixture {
	t.Helper()
	api := httptest.NewServer(handler)
	t.Cleanup(api.Close)

	clk := clock.Fake(testNow)
	opts = append([]Option{WithClock(clk)}, opts...)
	a, err := New(testConfig(t, api.URL, extra), opts...)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() {
		_ = a.Stop(ctx)
		_ = a.Close()
	})

	surface := session.NewChannelSurface(8)
	a.RegisterSurface(surface)
	return &fixture{app: a, clock: clk, surface: surface, api: api}
}

func receivePrompt(t *testing.T, s *session.ChannelSurface) session.Prompt {
	t.Helper()
	select {
	case p := <-s.Prompts():
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no reauthentication prompt shown")
		return session.Prompt{}
	}
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestNew_RejectsBadListenAddress(t *testing.T) {
	cfg := testConfig(t, "http://api.internal", "assets:\n  listen: \"256.0.0.1:bad\"")
	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binding blob listener")
}

func TestApp_LoginResolvesAndArmsIdleDeadline(t *testing.T) {
	f := newFixture(t, http.NotFoundHandler(), "")
	a := f.app

	assert.Equal(t, session.Unauthenticated, a.Trigger().Tracker().State())
	require.NoError(t, a.Login(context.Background(), signedToken(t, 2*time.Hour)))

	assert.Equal(t, session.Authenticated, a.Trigger().Tracker().State())
	require.NotNil(t, a.Idle())
	assert.Equal(t, testNow.Add(108*time.Minute), a.Idle().Deadline())

	f.clock.Advance(108 * time.Minute)
	p := receivePrompt(t, f.surface)
	assert.Equal(t, session.ReasonIdle, p.Reason)

	_, ok := a.Tokens().Bearer()
	assert.True(t, ok, "idle expiry keeps the credential")
}

func TestApp_ActivityPostponesIdle(t *testing.T) {
	f := newFixture(t, http.NotFoundHandler(), "")
	a := f.app
	require.NoError(t, a.Login(context.Background(), signedToken(t, 2*time.Hour)))

	f.clock.Advance(54 * time.Minute)
	a.Touch(idle.KeyDown)
	// 0.9 of the remaining 66m.
	assert.Equal(t, testNow.Add(54*time.Minute+59*time.Minute+24*time.Second), a.Idle().Deadline())
	assert.False(t, a.Trigger().Pending())
}

func TestApp_LoginRejectsEmptyToken(t *testing.T) {
	f := newFixture(t, http.NotFoundHandler(), "")
	err := f.app.Login(context.Background(), "  ")
	require.ErrorIs(t, err, tokenstore.ErrRejected)
	assert.Equal(t, session.Unauthenticated, f.app.Trigger().Tracker().State())
}

func TestApp_UnauthorizedClearsAndPrompts(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}), "")
	a := f.app
	ctx := context.Background()
	require.NoError(t, a.Login(ctx, signedToken(t, time.Hour)))

	_, err := a.Client().Get(ctx, "/documents")
	require.ErrorIs(t, err, pipeline.ErrUnauthenticated)

	p := receivePrompt(t, f.surface)
	assert.Equal(t, session.ReasonUnauthenticated, p.Reason)
	_, ok := a.Tokens().Bearer()
	assert.False(t, ok)

	require.NoError(t, a.Login(ctx, signedToken(t, time.Hour)))
	select {
	case <-f.surface.Hidden():
	case <-time.After(2 * time.Second):
		t.Fatal("prompt not hidden after login")
	}
	assert.Equal(t, session.Authenticated, a.Trigger().Tracker().State())
}

func TestApp_LogoutNavigatesToLogin(t *testing.T) {
	f := newFixture(t, http.NotFoundHandler(), "")
	a := f.app
	ctx := context.Background()
	require.NoError(t, a.Login(ctx, signedToken(t, time.Hour)))
	a.Navigator().Navigate("/documents", nav.Push)

	a.Logout(ctx)

	_, ok := a.Tokens().Bearer()
	assert.False(t, ok)
	assert.Equal(t, session.Unauthenticated, a.Trigger().Tracker().State())
	assert.Equal(t, "/login", a.Navigator().Current())
	assert.False(t, a.Navigator().Back(), "logout resets the view stack")
	last := a.Navigator().Entries()[len(a.Navigator().Entries())-1]
	assert.Equal(t, nav.Full, last.Mode)

	require.NoError(t, a.Login(ctx, signedToken(t, time.Hour)))
	assert.Equal(t, "/", a.Navigator().Current())
}

func TestApp_RestoresStoredCredential(t *testing.T) {
	slot := tokenstore.NewMemorySlot()
	raw := signedToken(t, time.Hour)
	require.NoError(t, slot.Save(context.Background(), raw))

	f := newFixture(t, http.NotFoundHandler(), "", WithSlot(slot))

	bearer, ok := f.app.Tokens().Bearer()
	require.True(t, ok)
	assert.Equal(t, raw, bearer)
	assert.Equal(t, session.Authenticated, f.app.Trigger().Tracker().State())
}

// unreadableSlot fails every Load, like a slot on a database that has
// lost its table.
type unreadableSlot struct {
	*tokenstore.MemorySlot
}

func (unreadableSlot) Load(context.Context) (string, error) {
	return "", errors.New("relation \"credential_slots\" does not exist")
}

func TestApp_UnreadableSlotStartsUnauthenticated(t *testing.T) {
	slot := unreadableSlot{MemorySlot: tokenstore.NewMemorySlot()}
	f := newFixture(t, http.NotFoundHandler(), "", WithSlot(slot))
	a := f.app

	_, ok := a.Tokens().Bearer()
	assert.False(t, ok)
	assert.Equal(t, session.Unauthenticated, a.Trigger().Tracker().State())

	require.NoError(t, a.Login(context.Background(), signedToken(t, time.Hour)))
	assert.Equal(t, session.Authenticated, a.Trigger().Tracker().State())
}

func TestApp_ForbiddenIsListedOnDenialsEndpoint(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"requiredPermission":"documents_delete"}`))
	}), "")
	a := f.app
	ctx := context.Background()
	require.NoError(t, a.Login(ctx, signedToken(t, time.Hour)))
	a.Navigator().Navigate("/documents/123", nav.Push)

	_, err := a.Client().Get(ctx, "/documents/123")
	require.ErrorIs(t, err, pipeline.ErrForbidden)
	assert.Equal(t, "/access-denied", a.Navigator().Current())

	resp, err := http.Get(a.BlobOrigin() + "/denials?capability=documents_delete")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Events []struct {
			AttemptedPath      string `json:"attempted_path"`
			RequiredCapability string `json:"required_capability"`
		} `json:"events"`
		Total int `json:"total"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 1, body.Total)
	assert.Equal(t, "/documents/123", body.Events[0].AttemptedPath)
	assert.Equal(t, "documents_delete", body.Events[0].RequiredCapability)
}

func TestApp_DenialsEndpointRejectsBadLimit(t *testing.T) {
	f := newFixture(t, http.NotFoundHandler(), "")
	resp, err := http.Get(f.app.BlobOrigin() + "/denials?limit=zero")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestApp_BlobServerServesLoadedAsset(t *testing.T) {
	payload := []byte("%PDF-1.7 test document")
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/42/download" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(payload)
	}), "")
	a := f.app
	ctx := context.Background()
	require.NoError(t, a.Login(ctx, signedToken(t, time.Hour)))

	owner := a.Assets().Owner("viewer")
	defer owner.Close()
	h := owner.Load(ctx, "42", asset.PDF, asset.Raw)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(waitCtx))
	require.Equal(t, asset.Ready, h.State())

	httpURL, ok := a.Assets().URLs().HTTPURL(h.URL())
	require.True(t, ok)

	resp, err := http.Get(httpURL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestApp_ReadinessReflectsConnectivity(t *testing.T) {
	f := newFixture(t, http.NotFoundHandler(), "")
	a := f.app

	a.Connectivity().MarkUnreachable()
	resp, err := http.Get(a.BlobOrigin() + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	a.Connectivity().MarkReachable()
	resp, err = http.Get(a.BlobOrigin() + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApp_IdleDisabled(t *testing.T) {
	f := newFixture(t, http.NotFoundHandler(), "idle:\n  enabled: false")
	assert.Nil(t, f.app.Idle())
	require.NoError(t, f.app.Login(context.Background(), signedToken(t, time.Hour)))
	assert.Equal(t, 0, f.clock.Pending())
}

func TestApp_ProberRunsOnlyInDevelopment(t *testing.T) {
	cfg := testConfig(t, "http://api.internal", "health:\n  enabled: true")
	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	assert.Nil(t, a.prober)

	cfg = testConfig(t, "http://api.internal", "development: true\nhealth:\n  enabled: true")
	a, err = New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	assert.NotNil(t, a.prober)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	api := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(api.Close)
	a, err := New(testConfig(t, api.URL, ""), WithClock(clock.Fake(testNow)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, a.lifecycle.isRunning, 2*time.Second, 10*time.Millisecond)
	origin := a.BlobOrigin()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	_, err = http.Get(origin + "/healthz")
	require.Error(t, err, "blob server still accepting connections")
}
