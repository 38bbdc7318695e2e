// Package ctxkeys 保存跨包传递的请求级标识。
package ctxkeys

import "context"

type contextKey string

const (
	requestIDKey   contextKey = "request_id"
	counselorIDKey contextKey = "counselor_id"
	runIDKey       contextKey = "run_id"
)

func value(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRequestID 设置 HTTP 请求 ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID 获取 HTTP 请求 ID
func RequestID(ctx context.Context) (string, bool) { return value(ctx, requestIDKey) }

// WithCounselorID 设置已认证的咨询师标识（JWT sub）
func WithCounselorID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, counselorIDKey, id)
}

// CounselorID 获取咨询师标识
func CounselorID(ctx context.Context) (string, bool) { return value(ctx, counselorIDKey) }

// WithRunID 设置流水线运行 ID
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunID 获取流水线运行 ID
func RunID(ctx context.Context) (string, bool) { return value(ctx, runIDKey) }
