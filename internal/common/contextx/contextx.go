package contextx

import "context"

type ctxKey string

const (
	keyRequestID ctxKey = "traillink_request_id"
	keySessionID ctxKey = "traillink_session_id"
)

// WithRequestID returns a new context carrying a request correlation ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, keyRequestID, id)
}

// WithSessionID returns a new context carrying the session being served.
func WithSessionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, keySessionID, id)
}

// GetRequestID extracts the request ID from ctx, or "".
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, keyRequestID)
}

// GetSessionID extracts the session ID from ctx, or "".
func GetSessionID(ctx context.Context) string {
	return stringValue(ctx, keySessionID)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}
