package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const requestDataKey contextKey = "requestData"

// RequestData carries the authenticated identity through a request.
type RequestData struct {
	UserID   uuid.UUID
	Username string
	IsStaff  bool
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	rd, _ := ctx.Value(requestDataKey).(*RequestData)
	return rd
}
