package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/threadworks/erp_backend/config"
	"github.com/threadworks/erp_backend/utils"
	"gorm.io/gorm"
)

const documentTransferOrder = "transfer order"

// TransferOrder moves RM or FG stock between two warehouse/bin locations at cost.
type TransferOrder struct {
	ID                     int                   `gorm:"primary_key" json:"id"`
	TenantId               string                `gorm:"size:64;not null;index" json:"tenant_id"`
	OrderNumber            string                `gorm:"size:64" json:"order_number"`
	Ledger                 LedgerType            `gorm:"size:5;not null" json:"ledger"`
	SourceWarehouseId      int                   `gorm:"not null" json:"source_warehouse_id"`
	SourceBinId            int                   `gorm:"not null" json:"source_bin_id"`
	DestinationWarehouseId int                   `gorm:"not null" json:"destination_warehouse_id"`
	DestinationBinId       int                   `gorm:"not null" json:"destination_bin_id"`
	TransferDate           time.Time             `gorm:"not null" json:"transfer_date"`
	Reason                 string                `gorm:"size:255" json:"reason"`
	Status                 DocumentStatus        `gorm:"size:20;not null" json:"status"`
	PostedAt               *time.Time            `json:"posted_at"`
	Details                []TransferOrderDetail `gorm:"foreignKey:TransferOrderId" json:"details"`
	CreatedBy              string                `gorm:"size:100" json:"created_by"`
	CreatedAt              time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

// TransferOrderDetail records the cost the line moved at once posted.
type TransferOrderDetail struct {
	ID              int             `gorm:"primary_key" json:"id"`
	TenantId        string          `gorm:"size:64;not null;index" json:"tenant_id"`
	TransferOrderId int             `gorm:"not null;index" json:"transfer_order_id"`
	ItemId          int             `gorm:"not null" json:"item_id"`
	Quantity        decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"quantity"`
	UnitCost        decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"unit_cost"`
	OutEntryId      *string         `gorm:"size:36" json:"out_entry_id"`
	InEntryId       *string         `gorm:"size:36" json:"in_entry_id"`
}

type NewTransferOrder struct {
	Ledger                 LedgerType               `json:"ledger" validate:"required,oneof=RM FG"`
	SourceWarehouseId      int                      `json:"source_warehouse_id" validate:"required,gt=0"`
	SourceBinId            int                      `json:"source_bin_id"`
	DestinationWarehouseId int                      `json:"destination_warehouse_id" validate:"required,gt=0"`
	DestinationBinId       int                      `json:"destination_bin_id"`
	TransferDate           time.Time                `json:"transfer_date" validate:"required"`
	Reason                 string                   `json:"reason" validate:"max=255"`
	Details                []NewTransferOrderDetail `json:"details" validate:"dive"`
}

type NewTransferOrderDetail struct {
	ItemId   int             `json:"item_id" validate:"required,gt=0"`
	Quantity decimal.Decimal `json:"quantity"`
}

// TransferLinePosting is what the posting protocol wrote for one line.
type TransferLinePosting struct {
	UnitCost   decimal.Decimal
	OutEntryId string
	InEntryId  string
}

func (input *NewTransferOrderDetail) validate(tx *gorm.DB, tenantId string, ledger LedgerType) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.Quantity.IsPositive() {
		return errors.New("transfer quantity must be positive")
	}
	return ValidateItem(tx, tenantId, ledger, input.ItemId)
}

type DraftTransferOrder struct {
	doc *TransferOrder
}

type PostedTransferOrder struct {
	doc TransferOrder
}

func CreateTransferOrder(ctx context.Context, input *NewTransferOrder) (*TransferOrder, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.SourceWarehouseId == input.DestinationWarehouseId && input.SourceBinId == input.DestinationBinId {
		return nil, errors.New("source and destination must differ")
	}
	order := TransferOrder{
		TenantId:               tenantId,
		Ledger:                 input.Ledger,
		SourceWarehouseId:      input.SourceWarehouseId,
		SourceBinId:            input.SourceBinId,
		DestinationWarehouseId: input.DestinationWarehouseId,
		DestinationBinId:       input.DestinationBinId,
		TransferDate:           input.TransferDate.UTC(),
		Reason:                 input.Reason,
		Status:                 DocumentStatusDraft,
		CreatedBy:              actorFromContext(ctx),
	}
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ValidateLocation(tx, tenantId, input.SourceWarehouseId, input.SourceBinId); err != nil {
			return err
		}
		if err := ValidateLocation(tx, tenantId, input.DestinationWarehouseId, input.DestinationBinId); err != nil {
			return err
		}
		for i := range input.Details {
			d := input.Details[i]
			if err := d.validate(tx, tenantId, input.Ledger); err != nil {
				return err
			}
			order.Details = append(order.Details, TransferOrderDetail{
				TenantId: tenantId,
				ItemId:   d.ItemId,
				Quantity: d.Quantity,
			})
		}
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		order.OrderNumber = documentNumber(SourceDocTransferOrder, order.ID)
		return tx.Model(&TransferOrder{}).Where("tenant_id = ? AND id = ?", tenantId, order.ID).
			Update("order_number", order.OrderNumber).Error
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func GetTransferOrder(ctx context.Context, id int) (*TransferOrder, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return FetchModel[TransferOrder](config.GetDB().WithContext(ctx), tenantId, id, "Details")
}

func LoadDraftTransferOrder(tx *gorm.DB, tenantId string, id int) (*DraftTransferOrder, error) {
	order, err := FetchModelForUpdate[TransferOrder](tx, tenantId, id, "Details")
	if err != nil {
		return nil, err
	}
	if order.Status != DocumentStatusDraft {
		return nil, &InvalidDocumentStateError{Document: documentTransferOrder, Id: id, Status: string(order.Status)}
	}
	return &DraftTransferOrder{doc: order}, nil
}

func (d *DraftTransferOrder) Id() int { return d.doc.ID }
func (d *DraftTransferOrder) Number() string { return d.doc.OrderNumber }
func (d *DraftTransferOrder) Ledger() LedgerType { return d.doc.Ledger }
func (d *DraftTransferOrder) TransferDate() time.Time { return d.doc.TransferDate }
func (d *DraftTransferOrder) Source() Location {
	return WarehouseLocation(d.doc.SourceWarehouseId, d.doc.SourceBinId)
}
func (d *DraftTransferOrder) Destination() Location {
	return WarehouseLocation(d.doc.DestinationWarehouseId, d.doc.DestinationBinId)
}
func (d *DraftTransferOrder) Lines() []TransferOrderDetail {
	return append([]TransferOrderDetail(nil), d.doc.Details...)
}

func (d *DraftTransferOrder) AddLine(tx *gorm.DB, input NewTransferOrderDetail) error {
	if err := input.validate(tx, d.doc.TenantId, d.doc.Ledger); err != nil {
		return err
	}
	line := TransferOrderDetail{
		TenantId:        d.doc.TenantId,
		TransferOrderId: d.doc.ID,
		ItemId:          input.ItemId,
		Quantity:        input.Quantity,
	}
	if err := tx.Create(&line).Error; err != nil {
		return err
	}
	d.doc.Details = append(d.doc.Details, line)
	return nil
}

func (d *DraftTransferOrder) Cancel(tx *gorm.DB) (*TransferOrder, error) {
	if err := tx.Model(&TransferOrder{}).Where("tenant_id = ? AND id = ?", d.doc.TenantId, d.doc.ID).
		Update("status", DocumentStatusCancelled).Error; err != nil {
		return nil, err
	}
	d.doc.Status = DocumentStatusCancelled
	return d.doc, nil
}

// MarkPosted stores the per-line postings (same order as Lines) and freezes the order.
func (d *DraftTransferOrder) MarkPosted(tx *gorm.DB, lines []TransferLinePosting) (*PostedTransferOrder, error) {
	if len(lines) != len(d.doc.Details) {
		return nil, errors.New("one posting per transfer line is required")
	}
	for i := range d.doc.Details {
		p := lines[i]
		if err := tx.Model(&TransferOrderDetail{}).
			Where("tenant_id = ? AND id = ?", d.doc.TenantId, d.doc.Details[i].ID).
			Updates(map[string]interface{}{"unit_cost": p.UnitCost, "out_entry_id": &p.OutEntryId, "in_entry_id": &p.InEntryId}).Error; err != nil {
			return nil, err
		}
		d.doc.Details[i].UnitCost = p.UnitCost
		d.doc.Details[i].OutEntryId = &p.OutEntryId
		d.doc.Details[i].InEntryId = &p.InEntryId
	}
	now := time.Now().UTC()
	if err := tx.Model(&TransferOrder{}).Where("tenant_id = ? AND id = ?", d.doc.TenantId, d.doc.ID).
		Updates(map[string]interface{}{"status": DocumentStatusPosted, "posted_at": &now}).Error; err != nil {
		return nil, err
	}
	d.doc.Status = DocumentStatusPosted
	d.doc.PostedAt = &now
	posted := &PostedTransferOrder{doc: *d.doc}
	d.doc = nil
	return posted, nil
}

func (p *PostedTransferOrder) Id() int { return p.doc.ID }
func (p *PostedTransferOrder) Number() string { return p.doc.OrderNumber }
func (p *PostedTransferOrder) PostedAt() time.Time { return *p.doc.PostedAt }
func (p *PostedTransferOrder) Document() TransferOrder { return p.doc }
func (p *PostedTransferOrder) Lines() []TransferOrderDetail {
	return append([]TransferOrderDetail(nil), p.doc.Details...)
}
