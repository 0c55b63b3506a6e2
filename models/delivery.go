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

const documentDelivery = "delivery"

// Delivery issues finished goods to a customer (shipment or POS sale).
type Delivery struct {
	ID             int              `gorm:"primary_key" json:"id"`
	TenantId       string           `gorm:"size:64;not null;index" json:"tenant_id"`
	DeliveryNumber string           `gorm:"size:64" json:"delivery_number"`
	CustomerName   string           `gorm:"size:200" json:"customer_name"`
	Channel        string           `gorm:"size:20" json:"channel"`
	WarehouseId    int              `gorm:"not null" json:"warehouse_id"`
	BinId          int              `gorm:"not null" json:"bin_id"`
	DeliveryDate   time.Time        `gorm:"not null" json:"delivery_date"`
	Status         DocumentStatus   `gorm:"size:20;not null" json:"status"`
	PostedAt       *time.Time       `json:"posted_at"`
	Details        []DeliveryDetail `gorm:"foreignKey:DeliveryId" json:"details"`
	CreatedBy      string           `gorm:"size:100" json:"created_by"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// DeliveryDetail gets its unit cost (the FG average at posting) when posted.
type DeliveryDetail struct {
	ID         int             `gorm:"primary_key" json:"id"`
	TenantId   string          `gorm:"size:64;not null;index" json:"tenant_id"`
	DeliveryId int             `gorm:"not null;index" json:"delivery_id"`
	ProductId  int             `gorm:"not null" json:"product_id"`
	Quantity   decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"quantity"`
	UnitCost   decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"unit_cost"`
	EntryId    *string         `gorm:"size:36" json:"entry_id"`
}

type NewDelivery struct {
	CustomerName string              `json:"customer_name" validate:"max=200"`
	Channel      string              `json:"channel" validate:"omitempty,oneof=POS SHIPMENT"`
	WarehouseId  int                 `json:"warehouse_id" validate:"required,gt=0"`
	BinId        int                 `json:"bin_id"`
	DeliveryDate time.Time           `json:"delivery_date" validate:"required"`
	Details      []NewDeliveryDetail `json:"details" validate:"dive"`
}

type NewDeliveryDetail struct {
	ProductId int             `json:"product_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// DeliveryLinePosting is the cost and entry a delivery line was posted with.
type DeliveryLinePosting struct {
	UnitCost decimal.Decimal
	EntryId  string
}

func (input *NewDeliveryDetail) validate(tx *gorm.DB, tenantId string) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.Quantity.IsPositive() {
		return errors.New("delivered quantity must be positive")
	}
	return ValidateItem(tx, tenantId, LedgerFinishedGoods, input.ProductId)
}

type DraftDelivery struct {
	doc *Delivery
}

type PostedDelivery struct {
	doc Delivery
}

func CreateDelivery(ctx context.Context, input *NewDelivery) (*Delivery, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	channel := input.Channel
	if channel == "" {
		channel = "SHIPMENT"
	}
	dlv := Delivery{
		TenantId:     tenantId,
		CustomerName: input.CustomerName,
		Channel:      channel,
		WarehouseId:  input.WarehouseId,
		BinId:        input.BinId,
		DeliveryDate: input.DeliveryDate.UTC(),
		Status:       DocumentStatusDraft,
		CreatedBy:    actorFromContext(ctx),
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
			dlv.Details = append(dlv.Details, DeliveryDetail{
				TenantId:  tenantId,
				ProductId: d.ProductId,
				Quantity:  d.Quantity,
			})
		}
		if err := tx.Create(&dlv).Error; err != nil {
			return err
		}
		dlv.DeliveryNumber = documentNumber(SourceDocDelivery, dlv.ID)
		return tx.Model(&Delivery{}).Where("tenant_id = ? AND id = ?", tenantId, dlv.ID).
			Update("delivery_number", dlv.DeliveryNumber).Error
	})
	if err != nil {
		return nil, err
	}
	return &dlv, nil
}

func GetDelivery(ctx context.Context, id int) (*Delivery, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return FetchModel[Delivery](config.GetDB().WithContext(ctx), tenantId, id, "Details")
}

func LoadDraftDelivery(tx *gorm.DB, tenantId string, id int) (*DraftDelivery, error) {
	dlv, err := FetchModelForUpdate[Delivery](tx, tenantId, id, "Details")
	if err != nil {
		return nil, err
	}
	if dlv.Status != DocumentStatusDraft {
		return nil, &InvalidDocumentStateError{Document: documentDelivery, Id: id, Status: string(dlv.Status)}
	}
	return &DraftDelivery{doc: dlv}, nil
}

func (d *DraftDelivery) Id() int { return d.doc.ID }
func (d *DraftDelivery) Number() string { return d.doc.DeliveryNumber }
func (d *DraftDelivery) DeliveryDate() time.Time { return d.doc.DeliveryDate }
func (d *DraftDelivery) Location() Location { return WarehouseLocation(d.doc.WarehouseId, d.doc.BinId) }
func (d *DraftDelivery) Lines() []DeliveryDetail {
	return append([]DeliveryDetail(nil), d.doc.Details...)
}

func (d *DraftDelivery) AddLine(tx *gorm.DB, input NewDeliveryDetail) error {
	if err := input.validate(tx, d.doc.TenantId); err != nil {
		return err
	}
	line := DeliveryDetail{
		TenantId:   d.doc.TenantId,
		DeliveryId: d.doc.ID,
		ProductId:  input.ProductId,
		Quantity:   input.Quantity,
	}
	if err := tx.Create(&line).Error; err != nil {
		return err
	}
	d.doc.Details = append(d.doc.Details, line)
	return nil
}

func (d *DraftDelivery) Cancel(tx *gorm.DB) (*Delivery, error) {
	if err := tx.Model(&Delivery{}).Where("tenant_id = ? AND id = ?", d.doc.TenantId, d.doc.ID).
		Update("status", DocumentStatusCancelled).Error; err != nil {
		return nil, err
	}
	d.doc.Status = DocumentStatusCancelled
	return d.doc, nil
}

func (d *DraftDelivery) MarkPosted(tx *gorm.DB, lines []DeliveryLinePosting) (*PostedDelivery, error) {
	if len(lines) != len(d.doc.Details) {
		return nil, errors.New("one posting per delivery line is required")
	}
	for i := range d.doc.Details {
		p := lines[i]
		if err := tx.Model(&DeliveryDetail{}).
			Where("tenant_id = ? AND id = ?", d.doc.TenantId, d.doc.Details[i].ID).
			Updates(map[string]interface{}{"unit_cost": p.UnitCost, "entry_id": &p.EntryId}).Error; err != nil {
			return nil, err
		}
		d.doc.Details[i].UnitCost = p.UnitCost
		d.doc.Details[i].EntryId = &p.EntryId
	}
	now := time.Now().UTC()
	if err := tx.Model(&Delivery{}).Where("tenant_id = ? AND id = ?", d.doc.TenantId, d.doc.ID).
		Updates(map[string]interface{}{"status": DocumentStatusPosted, "posted_at": &now}).Error; err != nil {
		return nil, err
	}
	d.doc.Status = DocumentStatusPosted
	d.doc.PostedAt = &now
	posted := &PostedDelivery{doc: *d.doc}
	d.doc = nil
	return posted, nil
}

func (p *PostedDelivery) Id() int { return p.doc.ID }
func (p *PostedDelivery) Number() string { return p.doc.DeliveryNumber }
func (p *PostedDelivery) PostedAt() time.Time { return *p.doc.PostedAt }
func (p *PostedDelivery) Document() Delivery { return p.doc }
func (p *PostedDelivery) Lines() []DeliveryDetail {
	return append([]DeliveryDetail(nil), p.doc.Details...)
}
