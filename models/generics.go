package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/threadworks/erp_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// tenantFromContext returns the request's tenant id or ErrTenantRequired.
func tenantFromContext(ctx context.Context) (string, error) {
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return "", ErrTenantRequired
	}
	return tenantId, nil
}

// actorFromContext names the user for created_by / closed_by columns.
func actorFromContext(ctx context.Context) string {
	if name, ok := utils.GetUserNameFromContext(ctx); ok && name != "" {
		return name
	}
	return "system"
}

// FetchModel loads one tenant-owned row by id (may return ErrRecordNotFound).
func FetchModel[T any](tx *gorm.DB, tenantId string, id int, associations ...string) (*T, error) {
	q := tx.Where("tenant_id = ?", tenantId)
	for _, field := range associations {
		q = q.Preload(field)
	}
	var result T
	if err := q.First(&result, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &result, nil
}

// FetchModelForUpdate is FetchModel with a row lock held until the transaction ends.
func FetchModelForUpdate[T any](tx *gorm.DB, tenantId string, id int, associations ...string) (*T, error) {
	return FetchModel[T](tx.Clauses(clause.Locking{Strength: "UPDATE"}), tenantId, id, associations...)
}

// ValidateResourceId checks that id exists for the tenant.
func ValidateResourceId[T any](tx *gorm.DB, tenantId string, id int) error {
	var count int64
	if err := tx.Model(new(T)).Where("tenant_id = ? AND id = ?", tenantId, id).Count(&count).Error; err != nil {
		return err
	}
	if count <= 0 {
		return ErrRecordNotFound
	}
	return nil
}

func documentNumber(prefix SourceDocType, id int) string {
	return fmt.Sprintf("%s-%06d", prefix, id)
}
