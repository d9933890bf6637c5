package ctxmanage

import (
	"context"

	"github.com/gin-gonic/gin"
)

type ctxKey int

// TraceIdKey is the context key under which middleware.Logger stores the request trace id.
const TraceIdKey ctxKey = 1

// WithTraceId returns a copy of ctx carrying traceId.
func WithTraceId(ctx context.Context, traceId string) context.Context {
	return context.WithValue(ctx, TraceIdKey, traceId)
}

// TraceIdFromContext returns the trace id stored in ctx, or "Unknown".
func TraceIdFromContext(ctx context.Context) string {
	traceId, ok := ctx.Value(TraceIdKey).(string)
	if !ok || traceId == "" {
		return "Unknown"
	}
	return traceId
}

func GetTraceIdOfRequest(c *gin.Context) string {
	return TraceIdFromContext(c.Request.Context())
}
