package models

import (
	"context"
	"time"

	"github.com/threadworks/erp_backend/config"
)

// ReplayLedgerOutbox makes a FAILED or DEAD event due for publishing again.
// SENT and in-flight records are left alone.
func ReplayLedgerOutbox(ctx context.Context, entryId string) (*LedgerOutboxStatus, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	db := config.GetDB().WithContext(ctx)

	res := db.Model(&LedgerOutboxRecord{}).
		Where("tenant_id = ? AND entry_id = ? AND publish_status IN ?", tenantId, entryId,
			[]string{OutboxPublishStatusFailed, OutboxPublishStatusDead}).
		Updates(map[string]interface{}{
			"publish_status":     OutboxPublishStatusFailed,
			"publish_attempts":   0,
			"next_attempt_at":    &now,
			"locked_at":          nil,
			"locked_by":          nil,
			"last_publish_error": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}

	var rec LedgerOutboxRecord
	if err := db.Where("tenant_id = ? AND entry_id = ?", tenantId, entryId).Take(&rec).Error; err != nil {
		return nil, ErrRecordNotFound
	}
	if res.RowsAffected == 0 {
		return nil, &InvalidDocumentStateError{Document: "ledger event " + entryId, Id: rec.ID, Status: rec.PublishStatus}
	}
	status := rec.Status()
	return &status, nil
}
