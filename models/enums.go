package models

type LedgerType string

const (
	LedgerRawMaterial   LedgerType = "RM"
	LedgerWip           LedgerType = "WIP"
	LedgerFinishedGoods LedgerType = "FG"
)

func (l LedgerType) IsValid() bool {
	switch l {
	case LedgerRawMaterial, LedgerWip, LedgerFinishedGoods:
		return true
	}
	return false
}

type MovementKind string

const (
	MovementReceipt       MovementKind = "receipt"
	MovementIssue         MovementKind = "issue"
	MovementAdjustmentIn  MovementKind = "adjustment_in"
	MovementAdjustmentOut MovementKind = "adjustment_out"
	MovementTransferIn    MovementKind = "transfer_in"
	MovementTransferOut   MovementKind = "transfer_out"
	MovementProductionIn  MovementKind = "production_in"
	MovementProductionOut MovementKind = "production_out"
	MovementSalesOut      MovementKind = "sales_out"
)

// IsOutgoing reports whether the kind removes stock.
func (k MovementKind) IsOutgoing() bool {
	switch k {
	case MovementIssue, MovementAdjustmentOut, MovementTransferOut, MovementProductionOut, MovementSalesOut:
		return true
	}
	return false
}

func (k MovementKind) IsValid() bool {
	switch k {
	case MovementReceipt, MovementIssue, MovementAdjustmentIn, MovementAdjustmentOut,
		MovementTransferIn, MovementTransferOut, MovementProductionIn, MovementProductionOut, MovementSalesOut:
		return true
	}
	return false
}

// SourceDocType tags the document a ledger row was posted from.
type SourceDocType string

const (
	SourceDocManual          SourceDocType = "MANUAL"
	SourceDocAdjustment      SourceDocType = "IVA"
	SourceDocTransferOrder   SourceDocType = "TO"
	SourceDocGoodsReceipt    SourceDocType = "GRN"
	SourceDocDelivery        SourceDocType = "DLV"
	SourceDocProductionOrder SourceDocType = "MO"
	SourceDocProductionScrap SourceDocType = "MOSC"
)

type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "open"
	PeriodStatusClosed PeriodStatus = "closed"
)

type DocumentStatus string

const (
	DocumentStatusDraft     DocumentStatus = "draft"
	DocumentStatusPosted    DocumentStatus = "posted"
	DocumentStatusCancelled DocumentStatus = "cancelled"
)

type ProductionOrderStatus string

const (
	ProductionOrderStatusPlanned    ProductionOrderStatus = "planned"
	ProductionOrderStatusReleased   ProductionOrderStatus = "released"
	ProductionOrderStatusInProgress ProductionOrderStatus = "in_progress"
	ProductionOrderStatusCompleted  ProductionOrderStatus = "completed"
	ProductionOrderStatusCancelled  ProductionOrderStatus = "cancelled"
)

func (s ProductionOrderStatus) IsTerminal() bool {
	return s == ProductionOrderStatusCompleted || s == ProductionOrderStatusCancelled
}

// IsOpen reports whether the order holds outstanding material reservations.
func (s ProductionOrderStatus) IsOpen() bool {
	return s == ProductionOrderStatusReleased || s == ProductionOrderStatusInProgress
}

type MrpAction string

const (
	MrpActionOK       MrpAction = "OK"
	MrpActionPartial  MrpAction = "PARTIAL"
	MrpActionPurchase MrpAction = "PURCHASE"
)

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)
