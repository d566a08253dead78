package pipeline

import "context"

// contextKey is a private type for context keys.
type contextKey int

const (
	skipRecoveryKey contextKey = iota
	originKey
	viewKey
)

// WithoutRecovery marks a request whose failures must not trigger
// recovery side effects, such as the login call itself.
func WithoutRecovery(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipRecoveryKey, true)
}

func recoverySkipped(ctx context.Context) bool {
	skip, _ := ctx.Value(skipRecoveryKey).(bool)
	return skip
}

// WithOrigin names the UI component issuing the request. It is recorded
// on permission denial events.
func WithOrigin(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, originKey, component)
}

// Origin returns the component set by WithOrigin.
func Origin(ctx context.Context) string {
	s, _ := ctx.Value(originKey).(string)
	return s
}

// WithView records the view path the request was issued from. Without
// it, the navigator's current path is used.
func WithView(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, viewKey, path)
}

// View returns the path set by WithView.
func View(ctx context.Context) string {
	s, _ := ctx.Value(viewKey).(string)
	return s
}
