package utils

import (
	"context"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/mmdatafocus/factory_backend/config"
)

// CACHE_LIFESPAN is in hours; default 1.
func GetCacheLifespan() time.Duration {
	hours, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN"))
	if err != nil || hours <= 0 {
		hours = 1
	}
	return time.Duration(hours) * time.Hour
}

func GetTypeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().Name()
}

// cached rows live under <Type>:<id>
func redisKey[T any](id int) string {
	return GetTypeName[T]() + ":" + strconv.Itoa(id)
}

func StoreRedis[T any](ctx context.Context, obj *T, id int) error {
	return config.SetRedisObject(ctx, redisKey[T](id), obj, GetCacheLifespan())
}

// RetrieveRedis returns nil, nil on a cache miss.
func RetrieveRedis[T any](ctx context.Context, id int) (*T, error) {
	var result T
	found, err := config.GetRedisObject(ctx, redisKey[T](id), &result)
	if err != nil || !found {
		return nil, err
	}
	return &result, nil
}

func RemoveRedisItem[T any](ctx context.Context, ids ...int) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisKey[T](id)
	}
	return config.RemoveRedisKey(ctx, keys...)
}
