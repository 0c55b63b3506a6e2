package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LedgerColumns is shared by the three movement ledgers. A row is written once
// by the posting gate and never updated or deleted; corrections are new
// offsetting rows.
type LedgerColumns struct {
	ID              int             `gorm:"primary_key" json:"id"`
	EntryId         string          `gorm:"size:36;not null;uniqueIndex" json:"entry_id"`
	TenantId        string          `gorm:"size:64;not null;index" json:"tenant_id"`
	ItemId          int             `gorm:"not null;index" json:"item_id"`
	PeriodId        int             `gorm:"not null" json:"period_id"`
	TransactionDate time.Time       `gorm:"not null" json:"transaction_date"`
	MovementKind    MovementKind    `gorm:"size:20;not null" json:"movement_kind"`
	QtyIn           decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"qty_in"`
	QtyOut          decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"qty_out"`
	UnitCost        decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"unit_cost"`
	TotalCost       decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"total_cost"`
	SourceDocType   SourceDocType   `gorm:"size:10;not null" json:"source_doc_type"`
	SourceDocId     int             `gorm:"not null" json:"source_doc_id"`
	SourceDocNumber string          `gorm:"size:64" json:"source_doc_number"`
	ReferenceId     string          `gorm:"size:128;index" json:"reference_id"`
	CreatedBy       string          `gorm:"size:100" json:"created_by"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`

	// UseAverageCost asks the gate to value the movement at the balance's
	// current average cost instead of UnitCost.
	UseAverageCost bool `gorm:"-" json:"-"`
}

// Quantity is the unsigned moved quantity.
func (c *LedgerColumns) Quantity() decimal.Decimal {
	if c.QtyIn.IsPositive() {
		return c.QtyIn
	}
	return c.QtyOut
}

// SignedQuantity is positive for stock in, negative for stock out.
func (c *LedgerColumns) SignedQuantity() decimal.Decimal {
	return c.QtyIn.Sub(c.QtyOut)
}

// ValidateShape enforces: exactly one of qty_in/qty_out nonzero, nothing negative,
// and the direction agrees with the movement kind.
func (c *LedgerColumns) ValidateShape() error {
	if !c.MovementKind.IsValid() {
		return fmt.Errorf("%w: unknown movement kind %q", ErrInvalidMovement, c.MovementKind)
	}
	if c.QtyIn.IsNegative() || c.QtyOut.IsNegative() {
		return fmt.Errorf("%w: negative quantity", ErrInvalidMovement)
	}
	if c.QtyIn.IsZero() == c.QtyOut.IsZero() {
		return fmt.Errorf("%w: exactly one of qty_in and qty_out must be nonzero", ErrInvalidMovement)
	}
	if c.UnitCost.IsNegative() {
		return fmt.Errorf("%w: negative unit cost", ErrInvalidMovement)
	}
	if c.MovementKind.IsOutgoing() != c.QtyOut.IsPositive() {
		return fmt.Errorf("%w: %s does not match quantity direction", ErrInvalidMovement, c.MovementKind)
	}
	if c.ItemId <= 0 {
		return fmt.Errorf("%w: item is required", ErrInvalidMovement)
	}
	if c.TransactionDate.IsZero() {
		return fmt.Errorf("%w: transaction date is required", ErrInvalidMovement)
	}
	return nil
}

// Finalize stamps the entry id and recomputes total cost from quantity and unit cost.
func (c *LedgerColumns) Finalize() {
	if c.EntryId == "" {
		c.EntryId = uuid.NewString()
	}
	c.UnitCost = c.UnitCost.Round(costScale)
	c.TotalCost = c.Quantity().Mul(c.UnitCost).Round(costScale)
	c.TransactionDate = c.TransactionDate.UTC()
}

// Movement is implemented by the three ledger row types.
type Movement interface {
	Ledger() LedgerType
	Columns() *LedgerColumns
	Location() Location
}

type RawMaterialMovement struct {
	LedgerColumns
	WarehouseId int `gorm:"not null;index" json:"warehouse_id"`
	BinId       int `gorm:"not null" json:"bin_id"`
}

// WipMovement lives at a (production order, stage). The cost breakdown holds
// the costs added at that stage; any remainder of TotalCost was carried in
// from the previous stage.
type WipMovement struct {
	LedgerColumns
	ProductionOrderId int             `gorm:"not null;index" json:"production_order_id"`
	Stage             string          `gorm:"size:32;not null" json:"stage"`
	MaterialCost      decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"material_cost"`
	LaborCost         decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"labor_cost"`
	OverheadCost      decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"overhead_cost"`
}

type FinishedGoodsMovement struct {
	LedgerColumns
	WarehouseId       int  `gorm:"not null;index" json:"warehouse_id"`
	BinId             int  `gorm:"not null" json:"bin_id"`
	ProductionOrderId *int `gorm:"index" json:"production_order_id"`
}

func (m *RawMaterialMovement) Ledger() LedgerType { return LedgerRawMaterial }
func (m *RawMaterialMovement) Columns() *LedgerColumns { return &m.LedgerColumns }
func (m *RawMaterialMovement) Location() Location { return WarehouseLocation(m.WarehouseId, m.BinId) }
func (m *WipMovement) Ledger() LedgerType { return LedgerWip }
func (m *WipMovement) Columns() *LedgerColumns { return &m.LedgerColumns }
func (m *WipMovement) Location() Location { return StageLocation(m.ProductionOrderId, m.Stage) }
func (m *FinishedGoodsMovement) Ledger() LedgerType { return LedgerFinishedGoods }
func (m *FinishedGoodsMovement) Columns() *LedgerColumns { return &m.LedgerColumns }
func (m *FinishedGoodsMovement) Location() Location { return WarehouseLocation(m.WarehouseId, m.BinId) }

func (m *RawMaterialMovement) BeforeUpdate(tx *gorm.DB) error { return ErrLedgerImmutable }
func (m *RawMaterialMovement) BeforeDelete(tx *gorm.DB) error { return ErrLedgerImmutable }
func (m *WipMovement) BeforeUpdate(tx *gorm.DB) error { return ErrLedgerImmutable }
func (m *WipMovement) BeforeDelete(tx *gorm.DB) error { return ErrLedgerImmutable }
func (m *FinishedGoodsMovement) BeforeUpdate(tx *gorm.DB) error { return ErrLedgerImmutable }
func (m *FinishedGoodsMovement) BeforeDelete(tx *gorm.DB) error { return ErrLedgerImmutable }

// NewMovement builds an empty row of the ledger's concrete type at loc.
func NewMovement(ledger LedgerType, loc Location) (Movement, error) {
	switch ledger {
	case LedgerRawMaterial:
		return &RawMaterialMovement{WarehouseId: loc.WarehouseId, BinId: loc.BinId}, nil
	case LedgerWip:
		return &WipMovement{ProductionOrderId: loc.ProductionOrderId, Stage: loc.Stage}, nil
	case LedgerFinishedGoods:
		m := &FinishedGoodsMovement{WarehouseId: loc.WarehouseId, BinId: loc.BinId}
		if loc.ProductionOrderId > 0 {
			orderId := loc.ProductionOrderId
			m.ProductionOrderId = &orderId
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: unknown ledger %q", ErrInvalidMovement, ledger)
}

// LedgerEntry is the ledger-agnostic view of a movement row.
type LedgerEntry struct {
	LedgerColumns
	Ledger       LedgerType      `json:"ledger"`
	Location     Location        `json:"location"`
	MaterialCost decimal.Decimal `json:"material_cost"`
	LaborCost    decimal.Decimal `json:"labor_cost"`
	OverheadCost decimal.Decimal `json:"overhead_cost"`
}

func ToLedgerEntry(m Movement) LedgerEntry {
	e := LedgerEntry{
		LedgerColumns: *m.Columns(),
		Ledger:        m.Ledger(),
		Location:      m.Location(),
	}
	if w, ok := m.(*WipMovement); ok {
		e.MaterialCost = w.MaterialCost
		e.LaborCost = w.LaborCost
		e.OverheadCost = w.OverheadCost
	}
	return e
}

// LoadLedgerEntries returns every row of one ledger for the tenant in insertion order.
func LoadLedgerEntries(tx *gorm.DB, tenantId string, ledger LedgerType) ([]Movement, error) {
	q := tx.Where("tenant_id = ?", tenantId).Order("id ASC")
	switch ledger {
	case LedgerRawMaterial:
		var rows []*RawMaterialMovement
		if err := q.Find(&rows).Error; err != nil {
			return nil, err
		}
		return toMovements(rows), nil
	case LedgerWip:
		var rows []*WipMovement
		if err := q.Find(&rows).Error; err != nil {
			return nil, err
		}
		return toMovements(rows), nil
	case LedgerFinishedGoods:
		var rows []*FinishedGoodsMovement
		if err := q.Find(&rows).Error; err != nil {
			return nil, err
		}
		return toMovements(rows), nil
	}
	return nil, fmt.Errorf("%w: unknown ledger %q", ErrInvalidMovement, ledger)
}

// LoadLocationHistory lists the rows of one (item, location) in insertion order.
func LoadLocationHistory(tx *gorm.DB, tenantId string, ledger LedgerType, itemId int, loc Location) ([]LedgerEntry, error) {
	q := tx.Where("tenant_id = ? AND item_id = ?", tenantId, itemId).Order("id ASC")
	var movements []Movement
	switch ledger {
	case LedgerRawMaterial:
		var rows []*RawMaterialMovement
		if err := q.Where("warehouse_id = ? AND bin_id = ?", loc.WarehouseId, loc.BinId).Find(&rows).Error; err != nil {
			return nil, err
		}
		movements = toMovements(rows)
	case LedgerWip:
		var rows []*WipMovement
		if err := q.Where("production_order_id = ? AND stage = ?", loc.ProductionOrderId, loc.Stage).Find(&rows).Error; err != nil {
			return nil, err
		}
		movements = toMovements(rows)
	case LedgerFinishedGoods:
		var rows []*FinishedGoodsMovement
		if err := q.Where("warehouse_id = ? AND bin_id = ?", loc.WarehouseId, loc.BinId).Find(&rows).Error; err != nil {
			return nil, err
		}
		movements = toMovements(rows)
	default:
		return nil, fmt.Errorf("%w: unknown ledger %q", ErrInvalidMovement, ledger)
	}
	entries := make([]LedgerEntry, 0, len(movements))
	for _, m := range movements {
		entries = append(entries, ToLedgerEntry(m))
	}
	return entries, nil
}

// FindLedgerEntry looks a row up by its entry id.
func FindLedgerEntry(tx *gorm.DB, tenantId string, ledger LedgerType, entryId string) (Movement, error) {
	m, err := NewMovement(ledger, Location{})
	if err != nil {
		return nil, err
	}
	if err := tx.Where("tenant_id = ? AND entry_id = ?", tenantId, entryId).Take(m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return m, nil
}

func toMovements[T Movement](rows []T) []Movement {
	out := make([]Movement, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}
