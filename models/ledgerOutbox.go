package models

import (
	"encoding/json"
	"time"

	"github.com/threadworks/erp_backend/config"
)

// LedgerOutboxRecord is written in the posting transaction for every appended
// movement; the dispatcher publishes it after commit.
type LedgerOutboxRecord struct {
	ID               int           `gorm:"primary_key;index:idx_ledger_outbox_dispatch,priority:3" json:"id"`
	TenantId         string        `gorm:"size:64;not null;index" json:"tenant_id"`
	Ledger           LedgerType    `gorm:"size:5;not null" json:"ledger"`
	EntryId          string        `gorm:"size:36;not null;uniqueIndex" json:"entry_id"`
	MovementKind     MovementKind  `gorm:"size:20;not null" json:"movement_kind"`
	TransactionDate  time.Time     `gorm:"not null" json:"transaction_date"`
	SourceDocType    SourceDocType `gorm:"size:10;not null" json:"source_doc_type"`
	SourceDocId      int           `gorm:"not null" json:"source_doc_id"`
	Payload          []byte        `gorm:"type:blob" json:"payload"`
	CorrelationId    string        `gorm:"size:64;index" json:"correlation_id"`
	PublishStatus    string        `gorm:"size:20;not null;default:'PENDING';index:idx_ledger_outbox_dispatch,priority:1" json:"publish_status"`
	PublishAttempts  int           `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time    `gorm:"index:idx_ledger_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time    `json:"locked_at"`
	LockedBy         *string       `gorm:"size:100" json:"locked_by"`
	LastPublishError *string       `gorm:"type:text" json:"last_publish_error"`
	PublishedAt      *time.Time    `json:"published_at"`
	PubSubMessageId  *string       `gorm:"size:255" json:"pubsub_message_id"`
	CreatedAt        time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewLedgerOutboxRecord snapshots a finalized movement into a pending outbox row.
func NewLedgerOutboxRecord(m Movement, correlationId string) (*LedgerOutboxRecord, error) {
	entry := ToLedgerEntry(m)
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	c := m.Columns()
	return &LedgerOutboxRecord{
		TenantId:        c.TenantId,
		Ledger:          m.Ledger(),
		EntryId:         c.EntryId,
		MovementKind:    c.MovementKind,
		TransactionDate: c.TransactionDate,
		SourceDocType:   c.SourceDocType,
		SourceDocId:     c.SourceDocId,
		Payload:         payload,
		CorrelationId:   correlationId,
		PublishStatus:   OutboxPublishStatusPending,
	}, nil
}

func (r *LedgerOutboxRecord) ToMessage() config.LedgerEventMessage {
	return config.LedgerEventMessage{
		OutboxId:        r.ID,
		TenantId:        r.TenantId,
		Ledger:          string(r.Ledger),
		EntryId:         r.EntryId,
		MovementKind:    string(r.MovementKind),
		TransactionDate: r.TransactionDate,
		SourceDocType:   string(r.SourceDocType),
		SourceDocId:     r.SourceDocId,
		Payload:         r.Payload,
		CorrelationId:   r.CorrelationId,
	}
}
