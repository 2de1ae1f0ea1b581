package utils

import (
	"context"

	"github.com/mmdatafocus/factory_backend/appctx"
)

// The actor headers are forwarded by the gateway; ids below 1 mean "unknown".

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	id, ok := appctx.Value[int](ctx, appctx.KeyUserId)
	return id, ok && id > 0
}

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return appctx.Value[string](ctx, appctx.KeyUserName)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.Value[string](ctx, appctx.KeyCorrelationId)
}

func SetUserIdInContext(ctx context.Context, userId int) context.Context {
	return appctx.With(ctx, appctx.KeyUserId, userId)
}

func SetUserNameInContext(ctx context.Context, userName string) context.Context {
	return appctx.With(ctx, appctx.KeyUserName, userName)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.With(ctx, appctx.KeyCorrelationId, correlationId)
}
