package requestctx

import (
	"context"
	"time"
)

type requestDataKey struct{}

// RequestData travels with every workflow call so audit rows and errors
// can be correlated with the request that caused them.
type RequestData struct {
	CorrelationID string
	ActorID       string
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	if ctx == nil {
		return nil
	}
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		return rd
	}
	return nil
}

func CorrelationID(ctx context.Context) string {
	if rd := GetRequestData(ctx); rd != nil {
		return rd.CorrelationID
	}
	return ""
}

// EnsureDeadline bounds ctx by fallback unless it already carries a deadline.
func EnsureDeadline(ctx context.Context, fallback time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || fallback <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, fallback)
}
