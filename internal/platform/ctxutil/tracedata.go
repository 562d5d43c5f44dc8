package ctxutil

import "context"

const traceDataKey contextKey = "traceData"

// TraceData carries correlation identifiers for request logging.
type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	td, _ := ctx.Value(traceDataKey).(*TraceData)
	return td
}
