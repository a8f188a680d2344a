package logger

import "context"

type ctxKey int

const requestIDKey ctxKey = iota

// WithRequestID stores the correlation id for one HTTP request so log lines
// emitted below the handler can carry it.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the correlation id, or "" outside a request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
