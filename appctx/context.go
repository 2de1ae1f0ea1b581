// Package appctx holds the request-scoped values shared by config and utils.
// config cannot import utils, so both read the keys from here.
package appctx

import "context"

type ContextKey string

const (
	KeyUserId        ContextKey = "UserId"
	KeyUserName      ContextKey = "UserName"
	KeyCorrelationId ContextKey = "CorrelationId"
)

// Value returns the value stored under key when it has type T.
func Value[T any](ctx context.Context, key ContextKey) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(key).(T)
	return v, ok
}

func With(ctx context.Context, key ContextKey, value any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, value)
}
