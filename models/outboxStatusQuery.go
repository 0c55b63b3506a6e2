package models

import (
	"context"

	"github.com/threadworks/erp_backend/config"
)

// GetLedgerOutboxStatus lists the delivery state of every event a source document produced.
func GetLedgerOutboxStatus(ctx context.Context, docType SourceDocType, docId int) ([]LedgerOutboxStatus, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var records []LedgerOutboxRecord
	if err := config.GetDB().WithContext(ctx).
		Where("tenant_id = ? AND source_doc_type = ? AND source_doc_id = ?", tenantId, docType, docId).
		Order("id").
		Find(&records).Error; err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrRecordNotFound
	}
	out := make([]LedgerOutboxStatus, 0, len(records))
	for i := range records {
		out = append(out, records[i].Status())
	}
	return out, nil
}

// CountLedgerOutboxByStatus is the tenant's backlog per publish status.
func CountLedgerOutboxByStatus(ctx context.Context) (map[string]int64, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		PublishStatus string
		Total         int64
	}
	if err := config.GetDB().WithContext(ctx).Model(&LedgerOutboxRecord{}).
		Select("publish_status, COUNT(*) AS total").
		Where("tenant_id = ?", tenantId).
		Group("publish_status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.PublishStatus] = r.Total
	}
	return out, nil
}
