package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/txn2/adminsession/internal/app"
	"github.com/txn2/adminsession/pkg/asset"
	"github.com/txn2/adminsession/pkg/idle"
	"github.com/txn2/adminsession/pkg/nav"
	"github.com/txn2/adminsession/pkg/pipeline"
	"github.com/txn2/adminsession/pkg/session"
)

const assetWait = 30 * time.Second

var errQuit = errors.New("quit")

// shell is a line-oriented host for the session layer. It stands in for
// the screens of a desktop client.
type shell struct {
	app    *app.App
	viewer *asset.Owner

	mu  sync.Mutex
	out io.Writer
}

func newShell(a *app.App, out io.Writer) *shell {
	return &shell{
		app:    a,
		viewer: a.Assets().Owner("shell"),
		out:    out,
	}
}

func (s *shell) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}

// watch reports prompts from the reauthentication surface until ctx is done.
func (s *shell) watch(ctx context.Context, surface *session.ChannelSurface) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-surface.Prompts():
			s.printf("login required (%s): enter `login <token>`", p.Reason)
		case <-surface.Hidden():
			s.printf("session restored")
		}
	}
}

// run reads commands from in until EOF, quit, or ctx is done.
func (s *shell) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	defer s.viewer.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if err := s.exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				s.printf("error: %v", err)
			}
		}
	}
}

// exec runs one command line.
func (s *shell) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]

	// Every command is user activity.
	s.app.Touch(idle.KeyDown)

	switch cmd {
	case "login":
		if len(args) != 1 {
			return fmt.Errorf("usage: login <token>")
		}
		return s.app.Login(ctx, args[0])
	case "logout":
		s.app.Logout(ctx)
		s.printf("logged out")
		return nil
	case "go":
		if len(args) != 1 {
			return fmt.Errorf("usage: go <path>")
		}
		s.app.Navigator().Navigate(args[0], nav.Push)
		return nil
	case "get":
		if len(args) != 1 {
			return fmt.Errorf("usage: get <path>")
		}
		return s.get(ctx, args[0])
	case "open":
		if len(args) < 1 || len(args) > 2 {
			return fmt.Errorf("usage: open <id> [document|image|video|audio|pdf]")
		}
		category := asset.Document
		if len(args) == 2 {
			category = asset.Category(args[1])
		}
		return s.open(ctx, args[0], category)
	case "status":
		s.status()
		return nil
	case "denials":
		for _, e := range s.app.Denials().Recent() {
			s.printf("%s  %s  requires %s", e.Timestamp.Format(time.RFC3339), e.AttemptedPath, e.RequiredCapability)
		}
		return nil
	case "notices":
		for _, n := range s.app.Notices() {
			s.printf("%s  [%s] %s: %s", n.At.Format(time.RFC3339), n.Level, n.Title, n.Message)
		}
		return nil
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (s *shell) get(ctx context.Context, path string) error {
	ctx = pipeline.WithOrigin(ctx, "shell")
	ctx = pipeline.WithView(ctx, s.app.Navigator().Current())

	resp, err := s.app.Client().Get(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	s.printf("%d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	return nil
}

func (s *shell) open(ctx context.Context, id string, category asset.Category) error {
	ctx = pipeline.WithOrigin(ctx, "viewer")
	ctx = pipeline.WithView(ctx, s.app.Navigator().Current())

	h := s.viewer.Load(ctx, id, category, asset.DefaultVariant(category))
	waitCtx, cancel := context.WithTimeout(ctx, assetWait)
	defer cancel()
	if err := h.Wait(waitCtx); err != nil {
		return err
	}
	url, ok := s.app.Assets().URLs().HTTPURL(h.URL())
	if !ok {
		url = h.URL()
	}
	s.printf("%s %s (%d bytes) at %s", h.RemoteID(), h.ContentType(), h.Size(), url)
	return nil
}

func (s *shell) status() {
	s.printf("session:      %s", s.app.Trigger().Tracker().State())
	s.printf("api:          %s", s.app.Connectivity().State())
	s.printf("view:         %s", s.app.Navigator().Current())
	if m := s.app.Idle(); m != nil {
		if d := m.Deadline(); !d.IsZero() {
			s.printf("idle at:      %s", d.Format(time.RFC3339))
		} else {
			s.printf("idle:         %s", m.State())
		}
	}
	if cred, ok := s.app.Tokens().Get(); ok {
		s.printf("credential:   %s", cred)
	}
}
