package workflow

import (
	"errors"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/threadworks/erp_backend/models"
	"gorm.io/gorm"
)

func isDuplicateKeyErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// BeginIdempotency runs inside the posting transaction. A key that already
// SUCCEEDED returns the entry it produced; otherwise a STARTED row is inserted
// and committed together with the posting.
func BeginIdempotency(tx *gorm.DB, tenantId, handlerName, referenceKey string) (*models.IdempotencyKey, error) {
	var existing models.IdempotencyKey
	err := tx.Where("tenant_id = ? AND handler_name = ? AND reference_key = ?", tenantId, handlerName, referenceKey).
		Take(&existing).Error
	if err == nil {
		if existing.Status == models.IdempotencyStatusSucceeded {
			return &existing, nil
		}
		return nil, models.ErrIdempotencyInProgress
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	key := models.IdempotencyKey{
		TenantId:     tenantId,
		HandlerName:  handlerName,
		ReferenceKey: referenceKey,
		Status:       models.IdempotencyStatusStarted,
	}
	if err := tx.Create(&key).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return nil, models.ErrIdempotencyInProgress
		}
		return nil, err
	}
	return nil, nil
}

func MarkIdempotencySucceeded(tx *gorm.DB, tenantId, handlerName, referenceKey string, ledger models.LedgerType, entryId string) error {
	l := string(ledger)
	return tx.Model(&models.IdempotencyKey{}).
		Where("tenant_id = ? AND handler_name = ? AND reference_key = ?", tenantId, handlerName, referenceKey).
		Updates(map[string]interface{}{
			"status":          models.IdempotencyStatusSucceeded,
			"result_entry_id": &entryId,
			"result_ledger":   &l,
		}).Error
}
