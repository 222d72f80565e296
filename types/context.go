package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const keySessionID contextKey = "session_id"

// WithSessionID adds the conversation session ID to context.
// Tools read it to keep per-session state apart.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, keySessionID, sessionID)
}

// SessionID extracts the session ID from context.
func SessionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keySessionID).(string)
	return v, ok && v != ""
}
