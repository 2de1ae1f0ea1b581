package utils

import (
	"context"
	"fmt"
	"reflect"

	"github.com/mmdatafocus/factory_backend/config"
)

// check if id exists, return RecordNotFound Error
func ValidateResourceId[T any](ctx context.Context, id interface{}) error {

	count, err := ResourceCountWhere[T](ctx, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}

	return nil
}

// check if ALL id exists, return RecordNotFound Error
func ValidateResourcesId[M any, ID comparable](ctx context.Context, ids []ID) error {
	unqIds := UniqueSlice(ids)
	if len(unqIds) == 0 {
		return nil
	}

	count, err := ResourceCountWhere[M](ctx, "id IN ?", unqIds)
	if err != nil {
		return err
	}
	if count != int64(len(unqIds)) {
		return ErrorRecordNotFound
	}

	return nil
}

// scope narrows the uniqueness check, e.g. "template_id = ?" for per-template names
func ValidateUnique[T any](ctx context.Context, column string, value interface{}, exceptId interface{}, scope ...interface{}) error {
	condition := column + " = ?"
	args := []interface{}{value}
	if !reflect.ValueOf(exceptId).IsZero() {
		condition += " AND NOT id = ?"
		args = append(args, exceptId)
	}
	if len(scope) > 0 {
		if cond, ok := scope[0].(string); ok && cond != "" {
			condition += " AND " + cond
			args = append(args, scope[1:]...)
		}
	}

	count, err := ResourceCountWhere[T](ctx, condition, args...)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w %s", ErrorDuplicate, column)
	}
	return nil
}

// count records, using WHERE $condition
func ResourceCountWhere[T any](ctx context.Context, condition string, value ...interface{}) (int64, error) {
	var model T

	db := config.GetDB()
	var count int64
	if err := db.WithContext(ctx).Model(&model).Where(condition, value...).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
