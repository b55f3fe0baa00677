package logger

import "context"

type contextKey int

const (
	requestIDKey contextKey = iota
	connIDKey
)

// ContextWithRequestID 在 Context 中记录请求 ID
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID 读取 Context 中的请求 ID
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ContextWithConnID 在 Context 中记录 WebSocket 连接 ID
func ContextWithConnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connIDKey, id)
}

// ConnID 读取 Context 中的 WebSocket 连接 ID
func ConnID(ctx context.Context) string {
	id, _ := ctx.Value(connIDKey).(string)
	return id
}
