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

const documentInventoryAdjustment = "inventory adjustment"

// InventoryAdjustment corrects on-hand quantities of one RM or FG location.
type InventoryAdjustment struct {
	ID               int                         `gorm:"primary_key" json:"id"`
	TenantId         string                      `gorm:"size:64;not null;index" json:"tenant_id"`
	AdjustmentNumber string                      `gorm:"size:64" json:"adjustment_number"`
	Ledger           LedgerType                  `gorm:"size:5;not null" json:"ledger"`
	WarehouseId      int                         `gorm:"not null" json:"warehouse_id"`
	BinId            int                         `gorm:"not null" json:"bin_id"`
	AdjustmentDate   time.Time                   `gorm:"not null" json:"adjustment_date"`
	Reason           string                      `gorm:"size:255" json:"reason"`
	Status           DocumentStatus              `gorm:"size:20;not null" json:"status"`
	ApprovedBy       *string                     `gorm:"size:100" json:"approved_by"`
	ApprovedAt       *time.Time                  `json:"approved_at"`
	PostedAt         *time.Time                  `json:"posted_at"`
	Details          []InventoryAdjustmentDetail `gorm:"foreignKey:InventoryAdjustmentId" json:"details"`
	CreatedBy        string                      `gorm:"size:100" json:"created_by"`
	CreatedAt        time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

// InventoryAdjustmentDetail carries a signed quantity variance. UnitCost only
// values gains; losses always leave at the current average.
type InventoryAdjustmentDetail struct {
	ID                    int             `gorm:"primary_key" json:"id"`
	TenantId              string          `gorm:"size:64;not null;index" json:"tenant_id"`
	InventoryAdjustmentId int             `gorm:"not null;index" json:"inventory_adjustment_id"`
	ItemId                int             `gorm:"not null" json:"item_id"`
	QtyVariance           decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"qty_variance"`
	UnitCost              decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"unit_cost"`
	EntryId               *string         `gorm:"size:36" json:"entry_id"`
}

type NewInventoryAdjustment struct {
	Ledger         LedgerType                     `json:"ledger" validate:"required,oneof=RM FG"`
	WarehouseId    int                            `json:"warehouse_id" validate:"required,gt=0"`
	BinId          int                            `json:"bin_id"`
	AdjustmentDate time.Time                      `json:"adjustment_date" validate:"required"`
	Reason         string                         `json:"reason" validate:"max=255"`
	Details        []NewInventoryAdjustmentDetail `json:"details" validate:"dive"`
}

type NewInventoryAdjustmentDetail struct {
	ItemId      int             `json:"item_id" validate:"required,gt=0"`
	QtyVariance decimal.Decimal `json:"qty_variance"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

func (input *NewInventoryAdjustmentDetail) validate(tx *gorm.DB, tenantId string, ledger LedgerType) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.QtyVariance.IsZero() {
		return errors.New("qty_variance must not be zero")
	}
	if input.UnitCost.IsNegative() {
		return errors.New("unit_cost must not be negative")
	}
	return ValidateItem(tx, tenantId, ledger, input.ItemId)
}

// DraftInventoryAdjustment is an adjustment that can still be edited.
type DraftInventoryAdjustment struct {
	doc *InventoryAdjustment
}

// PostedInventoryAdjustment is the frozen result of posting.
type PostedInventoryAdjustment struct {
	doc InventoryAdjustment
}

func CreateInventoryAdjustment(ctx context.Context, input *NewInventoryAdjustment) (*InventoryAdjustment, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	adj := InventoryAdjustment{
		TenantId:       tenantId,
		Ledger:         input.Ledger,
		WarehouseId:    input.WarehouseId,
		BinId:          input.BinId,
		AdjustmentDate: input.AdjustmentDate.UTC(),
		Reason:         input.Reason,
		Status:         DocumentStatusDraft,
		CreatedBy:      actorFromContext(ctx),
	}
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ValidateLocation(tx, tenantId, input.WarehouseId, input.BinId); err != nil {
			return err
		}
		for i := range input.Details {
			d := input.Details[i]
			if err := d.validate(tx, tenantId, input.Ledger); err != nil {
				return err
			}
			adj.Details = append(adj.Details, InventoryAdjustmentDetail{
				TenantId:    tenantId,
				ItemId:      d.ItemId,
				QtyVariance: d.QtyVariance,
				UnitCost:    d.UnitCost,
			})
		}
		if err := tx.Create(&adj).Error; err != nil {
			return err
		}
		adj.AdjustmentNumber = documentNumber(SourceDocAdjustment, adj.ID)
		return tx.Model(&InventoryAdjustment{}).Where("tenant_id = ? AND id = ?", tenantId, adj.ID).
			Update("adjustment_number", adj.AdjustmentNumber).Error
	})
	if err != nil {
		return nil, err
	}
	return &adj, nil
}

func GetInventoryAdjustment(ctx context.Context, id int) (*InventoryAdjustment, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return FetchModel[InventoryAdjustment](config.GetDB().WithContext(ctx), tenantId, id, "Details")
}

// LoadDraftInventoryAdjustment locks the adjustment and fails unless it is a draft.
func LoadDraftInventoryAdjustment(tx *gorm.DB, tenantId string, id int) (*DraftInventoryAdjustment, error) {
	adj, err := FetchModelForUpdate[InventoryAdjustment](tx, tenantId, id, "Details")
	if err != nil {
		return nil, err
	}
	if adj.Status != DocumentStatusDraft {
		return nil, &InvalidDocumentStateError{Document: documentInventoryAdjustment, Id: id, Status: string(adj.Status)}
	}
	return &DraftInventoryAdjustment{doc: adj}, nil
}

func (d *DraftInventoryAdjustment) Id() int { return d.doc.ID }
func (d *DraftInventoryAdjustment) Number() string { return d.doc.AdjustmentNumber }
func (d *DraftInventoryAdjustment) Ledger() LedgerType { return d.doc.Ledger }
func (d *DraftInventoryAdjustment) Location() Location { return WarehouseLocation(d.doc.WarehouseId, d.doc.BinId) }
func (d *DraftInventoryAdjustment) AdjustmentDate() time.Time { return d.doc.AdjustmentDate }
func (d *DraftInventoryAdjustment) IsApproved() bool { return d.doc.ApprovedAt != nil }
func (d *DraftInventoryAdjustment) Lines() []InventoryAdjustmentDetail {
	return append([]InventoryAdjustmentDetail(nil), d.doc.Details...)
}

func (d *DraftInventoryAdjustment) AddLine(tx *gorm.DB, input NewInventoryAdjustmentDetail) error {
	if err := input.validate(tx, d.doc.TenantId, d.doc.Ledger); err != nil {
		return err
	}
	line := InventoryAdjustmentDetail{
		TenantId:              d.doc.TenantId,
		InventoryAdjustmentId: d.doc.ID,
		ItemId:                input.ItemId,
		QtyVariance:           input.QtyVariance,
		UnitCost:              input.UnitCost,
	}
	if err := tx.Create(&line).Error; err != nil {
		return err
	}
	d.doc.Details = append(d.doc.Details, line)
	return nil
}

func (d *DraftInventoryAdjustment) Approve(tx *gorm.DB, by string) error {
	now := time.Now().UTC()
	if err := tx.Model(&InventoryAdjustment{}).Where("tenant_id = ? AND id = ?", d.doc.TenantId, d.doc.ID).
		Updates(map[string]interface{}{"approved_by": &by, "approved_at": &now}).Error; err != nil {
		return err
	}
	d.doc.ApprovedBy = &by
	d.doc.ApprovedAt = &now
	return nil
}

func (d *DraftInventoryAdjustment) Cancel(tx *gorm.DB) (*InventoryAdjustment, error) {
	if err := tx.Model(&InventoryAdjustment{}).Where("tenant_id = ? AND id = ?", d.doc.TenantId, d.doc.ID).
		Update("status", DocumentStatusCancelled).Error; err != nil {
		return nil, err
	}
	d.doc.Status = DocumentStatusCancelled
	return d.doc, nil
}

// MarkPosted records the ledger entry of each line (same order as Lines) and freezes the document.
func (d *DraftInventoryAdjustment) MarkPosted(tx *gorm.DB, entryIds []string) (*PostedInventoryAdjustment, error) {
	if len(entryIds) != len(d.doc.Details) {
		return nil, errors.New("one ledger entry per adjustment line is required")
	}
	for i := range d.doc.Details {
		entryId := entryIds[i]
		if err := tx.Model(&InventoryAdjustmentDetail{}).
			Where("tenant_id = ? AND id = ?", d.doc.TenantId, d.doc.Details[i].ID).
			Update("entry_id", &entryId).Error; err != nil {
			return nil, err
		}
		d.doc.Details[i].EntryId = &entryId
	}
	now := time.Now().UTC()
	if err := tx.Model(&InventoryAdjustment{}).Where("tenant_id = ? AND id = ?", d.doc.TenantId, d.doc.ID).
		Updates(map[string]interface{}{"status": DocumentStatusPosted, "posted_at": &now}).Error; err != nil {
		return nil, err
	}
	d.doc.Status = DocumentStatusPosted
	d.doc.PostedAt = &now
	posted := &PostedInventoryAdjustment{doc: *d.doc}
	d.doc = nil
	return posted, nil
}

func (p *PostedInventoryAdjustment) Id() int { return p.doc.ID }
func (p *PostedInventoryAdjustment) Number() string { return p.doc.AdjustmentNumber }
func (p *PostedInventoryAdjustment) PostedAt() time.Time { return *p.doc.PostedAt }
func (p *PostedInventoryAdjustment) Document() InventoryAdjustment { return p.doc }
func (p *PostedInventoryAdjustment) EntryIds() []string {
	ids := make([]string, 0, len(p.doc.Details))
	for _, l := range p.doc.Details {
		ids = append(ids, utils.DereferencePtr(l.EntryId))
	}
	return ids
}
