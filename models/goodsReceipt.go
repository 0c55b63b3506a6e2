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

const documentGoodsReceipt = "goods receipt"

// GoodsReceipt receives purchased raw materials against purchase-order lines.
type GoodsReceipt struct {
	ID                  int                  `gorm:"primary_key" json:"id"`
	TenantId            string               `gorm:"size:64;not null;index" json:"tenant_id"`
	ReceiptNumber       string               `gorm:"size:64" json:"receipt_number"`
	SupplierName        string               `gorm:"size:200" json:"supplier_name"`
	PurchaseOrderNumber string               `gorm:"size:64" json:"purchase_order_number"`
	WarehouseId         int                  `gorm:"not null" json:"warehouse_id"`
	BinId               int                  `gorm:"not null" json:"bin_id"`
	ReceiptDate         time.Time            `gorm:"not null" json:"receipt_date"`
	Status              DocumentStatus       `gorm:"size:20;not null" json:"status"`
	VarianceApprovedBy  *string              `gorm:"size:100" json:"variance_approved_by"`
	VarianceApprovedAt  *time.Time           `json:"variance_approved_at"`
	PostedAt            *time.Time           `json:"posted_at"`
	Details             []GoodsReceiptDetail `gorm:"foreignKey:GoodsReceiptId" json:"details"`
	CreatedBy           string               `gorm:"size:100" json:"created_by"`
	CreatedAt           time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

// GoodsReceiptDetail holds the receipt cost next to the PO price it is matched against.
type GoodsReceiptDetail struct {
	ID                    int             `gorm:"primary_key" json:"id"`
	TenantId              string          `gorm:"size:64;not null;index" json:"tenant_id"`
	GoodsReceiptId        int             `gorm:"not null;index" json:"goods_receipt_id"`
	PurchaseOrderLineRef  string          `gorm:"size:64" json:"purchase_order_line_ref"`
	MaterialId            int             `gorm:"not null" json:"material_id"`
	Quantity              decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"quantity"`
	UnitCost              decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"unit_cost"`
	PurchaseOrderUnitCost decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"purchase_order_unit_cost"`
	EntryId               *string         `gorm:"size:36" json:"entry_id"`
}

type NewGoodsReceipt struct {
	SupplierName        string                  `json:"supplier_name" validate:"max=200"`
	PurchaseOrderNumber string                  `json:"purchase_order_number" validate:"max=64"`
	WarehouseId         int                     `json:"warehouse_id" validate:"required,gt=0"`
	BinId               int                     `json:"bin_id"`
	ReceiptDate         time.Time               `json:"receipt_date" validate:"required"`
	Details             []NewGoodsReceiptDetail `json:"details" validate:"dive"`
}

type NewGoodsReceiptDetail struct {
	PurchaseOrderLineRef  string          `json:"purchase_order_line_ref" validate:"max=64"`
	MaterialId            int             `json:"material_id" validate:"required,gt=0"`
	Quantity              decimal.Decimal `json:"quantity"`
	UnitCost              decimal.Decimal `json:"unit_cost"`
	PurchaseOrderUnitCost decimal.Decimal `json:"purchase_order_unit_cost"`
}

// PriceVariancePct is |unit_cost - po_price| / po_price * 100, zero when there is no PO price.
func (l *GoodsReceiptDetail) PriceVariancePct() decimal.Decimal {
	if !l.PurchaseOrderUnitCost.IsPositive() {
		return decimal.Zero
	}
	return l.UnitCost.Sub(l.PurchaseOrderUnitCost).Abs().Mul(hundred).DivRound(l.PurchaseOrderUnitCost, 4)
}

func (input *NewGoodsReceiptDetail) validate(tx *gorm.DB, tenantId string) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.Quantity.IsPositive() {
		return errors.New("received quantity must be positive")
	}
	if input.UnitCost.IsNegative() || input.PurchaseOrderUnitCost.IsNegative() {
		return errors.New("costs must not be negative")
	}
	return ValidateItem(tx, tenantId, LedgerRawMaterial, input.MaterialId)
}

type DraftGoodsReceipt struct {
	doc *GoodsReceipt
}

type PostedGoodsReceipt struct {
	doc GoodsReceipt
}

func CreateGoodsReceipt(ctx context.Context, input *NewGoodsReceipt) (*GoodsReceipt, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	grn := GoodsReceipt{
		TenantId:            tenantId,
		SupplierName:        input.SupplierName,
		PurchaseOrderNumber: input.PurchaseOrderNumber,
		WarehouseId:         input.WarehouseId,
		BinId:               input.BinId,
		ReceiptDate:         input.ReceiptDate.UTC(),
		Status:              DocumentStatusDraft,
		CreatedBy:           actorFromContext(ctx),
	}
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ValidateLocation(tx, tenantId, input.WarehouseId, input.BinId); err != nil {
			return err
		}
		for i := range input.Details {
			d := input.Details[i]
			if err := d.validate(tx, tenantId); err != nil {
				return err
			}
			grn.Details = append(grn.Details, GoodsReceiptDetail{
				TenantId:              tenantId,
				PurchaseOrderLineRef:  d.PurchaseOrderLineRef,
				MaterialId:            d.MaterialId,
				Quantity:              d.Quantity,
				UnitCost:              d.UnitCost,
				PurchaseOrderUnitCost: d.PurchaseOrderUnitCost,
			})
		}
		if err := tx.Create(&grn).Error; err != nil {
			return err
		}
		grn.ReceiptNumber = documentNumber(SourceDocGoodsReceipt, grn.ID)
		return tx.Model(&GoodsReceipt{}).Where("tenant_id = ? AND id = ?", tenantId, grn.ID).
			Update("receipt_number", grn.ReceiptNumber).Error
	})
	if err != nil {
		return nil, err
	}
	return &grn, nil
}

func GetGoodsReceipt(ctx context.Context, id int) (*GoodsReceipt, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return FetchModel[GoodsReceipt](config.GetDB().WithContext(ctx), tenantId, id, "Details")
}

func LoadDraftGoodsReceipt(tx *gorm.DB, tenantId string, id int) (*DraftGoodsReceipt, error) {
	grn, err := FetchModelForUpdate[GoodsReceipt](tx, tenantId, id, "Details")
	if err != nil {
		return nil, err
	}
	if grn.Status != DocumentStatusDraft {
		return nil, &InvalidDocumentStateError{Document: documentGoodsReceipt, Id: id, Status: string(grn.Status)}
	}
	return &DraftGoodsReceipt{doc: grn}, nil
}

func (d *DraftGoodsReceipt) Id() int { return d.doc.ID }
func (d *DraftGoodsReceipt) Number() string { return d.doc.ReceiptNumber }
func (d *DraftGoodsReceipt) ReceiptDate() time.Time { return d.doc.ReceiptDate }
func (d *DraftGoodsReceipt) Location() Location { return WarehouseLocation(d.doc.WarehouseId, d.doc.BinId) }
func (d *DraftGoodsReceipt) VarianceApproved() bool { return d.doc.VarianceApprovedAt != nil }
func (d *DraftGoodsReceipt) Lines() []GoodsReceiptDetail {
	return append([]GoodsReceiptDetail(nil), d.doc.Details...)
}

func (d *DraftGoodsReceipt) AddLine(tx *gorm.DB, input NewGoodsReceiptDetail) error {
	if err := input.validate(tx, d.doc.TenantId); err != nil {
		return err
	}
	line := GoodsReceiptDetail{
		TenantId:              d.doc.TenantId,
		GoodsReceiptId:        d.doc.ID,
		PurchaseOrderLineRef:  input.PurchaseOrderLineRef,
		MaterialId:            input.MaterialId,
		Quantity:              input.Quantity,
		UnitCost:              input.UnitCost,
		PurchaseOrderUnitCost: input.PurchaseOrderUnitCost,
	}
	if err := tx.Create(&line).Error; err != nil {
		return err
	}
	d.doc.Details = append(d.doc.Details, line)
	return nil
}

func (d *DraftGoodsReceipt) ApproveVariance(tx *gorm.DB, by string) error {
	now := time.Now().UTC()
	if err := tx.Model(&GoodsReceipt{}).Where("tenant_id = ? AND id = ?", d.doc.TenantId, d.doc.ID).
		Updates(map[string]interface{}{"variance_approved_by": &by, "variance_approved_at": &now}).Error; err != nil {
		return err
	}
	d.doc.VarianceApprovedBy = &by
	d.doc.VarianceApprovedAt = &now
	return nil
}

func (d *DraftGoodsReceipt) Cancel(tx *gorm.DB) (*GoodsReceipt, error) {
	if err := tx.Model(&GoodsReceipt{}).Where("tenant_id = ? AND id = ?", d.doc.TenantId, d.doc.ID).
		Update("status", DocumentStatusCancelled).Error; err != nil {
		return nil, err
	}
	d.doc.Status = DocumentStatusCancelled
	return d.doc, nil
}

func (d *DraftGoodsReceipt) MarkPosted(tx *gorm.DB, entryIds []string) (*PostedGoodsReceipt, error) {
	if len(entryIds) != len(d.doc.Details) {
		return nil, errors.New("one ledger entry per receipt line is required")
	}
	for i := range d.doc.Details {
		entryId := entryIds[i]
		if err := tx.Model(&GoodsReceiptDetail{}).
			Where("tenant_id = ? AND id = ?", d.doc.TenantId, d.doc.Details[i].ID).
			Update("entry_id", &entryId).Error; err != nil {
			return nil, err
		}
		d.doc.Details[i].EntryId = &entryId
	}
	now := time.Now().UTC()
	if err := tx.Model(&GoodsReceipt{}).Where("tenant_id = ? AND id = ?", d.doc.TenantId, d.doc.ID).
		Updates(map[string]interface{}{"status": DocumentStatusPosted, "posted_at": &now}).Error; err != nil {
		return nil, err
	}
	d.doc.Status = DocumentStatusPosted
	d.doc.PostedAt = &now
	posted := &PostedGoodsReceipt{doc: *d.doc}
	d.doc = nil
	return posted, nil
}

func (p *PostedGoodsReceipt) Id() int { return p.doc.ID }
func (p *PostedGoodsReceipt) Number() string { return p.doc.ReceiptNumber }
func (p *PostedGoodsReceipt) PostedAt() time.Time { return *p.doc.PostedAt }
func (p *PostedGoodsReceipt) Document() GoodsReceipt { return p.doc }
func (p *PostedGoodsReceipt) EntryIds() []string {
	ids := make([]string, 0, len(p.doc.Details))
	for _, l := range p.doc.Details {
		ids = append(ids, utils.DereferencePtr(l.EntryId))
	}
	return ids
}
