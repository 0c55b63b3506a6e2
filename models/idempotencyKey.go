package models

import "time"

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
)

// IdempotencyKey makes a direct posting replay-safe: a repeated
// (tenant, handler, reference) returns the entry recorded the first time.
type IdempotencyKey struct {
	ID            int               `gorm:"primary_key" json:"id"`
	TenantId      string            `gorm:"size:64;not null;index:uniq_idem,unique" json:"tenant_id"`
	HandlerName   string            `gorm:"size:100;not null;index:uniq_idem,unique" json:"handler_name"`
	ReferenceKey  string            `gorm:"size:255;not null;index:uniq_idem,unique" json:"reference_key"`
	Status        IdempotencyStatus `gorm:"size:20;not null;index" json:"status"`
	ResultEntryId *string           `gorm:"size:36" json:"result_entry_id"`
	ResultLedger  *string           `gorm:"size:5" json:"result_ledger"`
	CreatedAt     time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}
