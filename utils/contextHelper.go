package utils

import (
	"context"

	"github.com/leilaotrack/auctions_backend/appctx"
)

var (
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeySource        = appctx.ContextKeySource
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetSourceFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeySource)
}

func SetSourceInContext(ctx context.Context, source string) context.Context {
	return appctx.Set(ctx, ContextKeySource, source)
}
