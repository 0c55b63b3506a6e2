package models

import "time"

// LedgerOutboxStatus is the operator view of one ledger event's delivery.
type LedgerOutboxStatus struct {
	RecordId         int           `json:"record_id"`
	Ledger           LedgerType    `json:"ledger"`
	EntryId          string        `json:"entry_id"`
	SourceDocType    SourceDocType `json:"source_doc_type"`
	SourceDocId      int           `json:"source_doc_id"`
	PublishStatus    string        `json:"publish_status"`
	PublishAttempts  int           `json:"publish_attempts"`
	NextAttemptAt    *time.Time    `json:"next_attempt_at"`
	LastPublishError *string       `json:"last_publish_error"`
	CreatedAt        time.Time     `json:"created_at"`
	PublishedAt      *time.Time    `json:"published_at"`
}

func (r *LedgerOutboxRecord) Status() LedgerOutboxStatus {
	return LedgerOutboxStatus{
		RecordId:         r.ID,
		Ledger:           r.Ledger,
		EntryId:          r.EntryId,
		SourceDocType:    r.SourceDocType,
		SourceDocId:      r.SourceDocId,
		PublishStatus:    r.PublishStatus,
		PublishAttempts:  r.PublishAttempts,
		NextAttemptAt:    r.NextAttemptAt,
		LastPublishError: r.LastPublishError,
		CreatedAt:        r.CreatedAt,
		PublishedAt:      r.PublishedAt,
	}
}
