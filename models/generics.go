package models

import (
	"context"

	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/utils"
	"github.com/sirupsen/logrus"
)

// first find in redis, then in db, cache result
// (may return RecordNotFound error)
func GetResource[T any](ctx context.Context, id int, associations ...string) (*T, error) {

	// find in redis
	result, err := utils.RetrieveRedis[T](ctx, id)
	if err != nil {
		// a broken cache entry is not fatal, fall back to db
		config.LoggerFromContext(ctx).WithFields(logrus.Fields{
			"field_group": "cache",
			"type":        utils.GetTypeName[T](),
			"id":          id,
		}).WithError(err).Warn("redis read failed")
		result = nil
	}
	if result != nil {
		return result, nil
	}

	// fetch from db
	result, err = utils.FetchModel[T](ctx, id, associations...)
	if err != nil {
		return nil, err
	}

	// store in redis
	if err := utils.StoreRedis[T](ctx, result, id); err != nil {
		return nil, err
	}
	return result, nil
}

// drop cached templates whose rules reference the component
func invalidateTemplatesUsingComponent(ctx context.Context, componentId int) error {
	var templateIds []int
	db := config.GetDB()
	err := db.WithContext(ctx).Model(&TemplateComponent{}).
		Where("component_id = ?", componentId).
		Distinct().Pluck("template_id", &templateIds).Error
	if err != nil {
		return err
	}
	return utils.RemoveRedisItem[ProductTemplate](ctx, templateIds...)
}
