package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/threadworks/erp_backend/config"
	"github.com/threadworks/erp_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProductionOrder struct {
	ID                  int                   `gorm:"primary_key" json:"id"`
	TenantId            string                `gorm:"size:64;not null;index" json:"tenant_id"`
	OrderNumber         string                `gorm:"size:64;not null" json:"order_number"`
	ProductId           int                   `gorm:"not null;index" json:"product_id"`
	BomId               int                   `gorm:"not null" json:"bom_id"`
	BomVersion          int                   `gorm:"not null" json:"bom_version"`
	BomDate             time.Time             `gorm:"not null" json:"bom_date"`
	QtyPlanned          decimal.Decimal       `gorm:"type:decimal(24,6);not null" json:"qty_planned"`
	QtyCompleted        decimal.Decimal       `gorm:"type:decimal(24,6);not null" json:"qty_completed"`
	QtyRejected         decimal.Decimal       `gorm:"type:decimal(24,6);not null" json:"qty_rejected"`
	Status              ProductionOrderStatus `gorm:"size:20;not null;index" json:"status"`
	DueDate             *time.Time            `json:"due_date"`
	MaterialWarehouseId int                   `gorm:"not null" json:"material_warehouse_id"`
	FgWarehouseId       int                   `gorm:"not null" json:"fg_warehouse_id"`
	ReleasedAt          *time.Time            `json:"released_at"`
	CompletedAt         *time.Time            `json:"completed_at"`
	CancelledAt         *time.Time            `json:"cancelled_at"`
	CreatedBy           string                `gorm:"size:100" json:"created_by"`
	CreatedAt           time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time             `gorm:"autoUpdateTime" json:"updated_at"`

	Reservations  []MaterialReservation     `gorm:"foreignKey:ProductionOrderId" json:"reservations"`
	StageProgress []ProductionStageProgress `gorm:"foreignKey:ProductionOrderId" json:"stage_progress"`
}

// MaterialReservation is written when the order is released and drawn down by backflush.
type MaterialReservation struct {
	ID                int             `gorm:"primary_key" json:"id"`
	TenantId          string          `gorm:"size:64;not null;index" json:"tenant_id"`
	ProductionOrderId int             `gorm:"not null;index" json:"production_order_id"`
	MaterialId        int             `gorm:"not null;index" json:"material_id"`
	Stage             string          `gorm:"size:32;not null" json:"stage"`
	QtyRequired       decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"qty_required"`
	QtyIssued         decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"qty_issued"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r *MaterialReservation) Outstanding() decimal.Decimal {
	return DecimalNonNegative(r.QtyRequired.Sub(r.QtyIssued))
}

// ProductionStageProgress accumulates what a routing stage has produced and cost.
type ProductionStageProgress struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	TenantId            string          `gorm:"size:64;not null;index" json:"tenant_id"`
	ProductionOrderId   int             `gorm:"not null;index" json:"production_order_id"`
	Stage               string          `gorm:"size:32;not null" json:"stage"`
	Seq                 int             `gorm:"not null" json:"seq"`
	OverheadRatePerUnit decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"overhead_rate_per_unit"`
	QtyCompleted        decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"qty_completed"`
	QtyRejected         decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"qty_rejected"`
	MaterialCost        decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"material_cost"`
	LaborCost           decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"labor_cost"`
	OverheadCost        decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"overhead_cost"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type LaborTimeEntry struct {
	ID                int             `gorm:"primary_key" json:"id"`
	TenantId          string          `gorm:"size:64;not null;index" json:"tenant_id"`
	ProductionOrderId int             `gorm:"not null;index" json:"production_order_id"`
	Stage             string          `gorm:"size:32;not null" json:"stage"`
	Hours             decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"hours"`
	HourlyRate        decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"hourly_rate"`
	WorkDate          time.Time       `gorm:"not null" json:"work_date"`
	BackflushedAt     *time.Time      `json:"backflushed_at"`
	CreatedBy         string          `gorm:"size:100" json:"created_by"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (l *LaborTimeEntry) Cost() decimal.Decimal {
	return l.Hours.Mul(l.HourlyRate).Round(costScale)
}

type NewProductionOrder struct {
	ProductId           int             `json:"product_id" validate:"required,gt=0"`
	Quantity            decimal.Decimal `json:"quantity"`
	DueDate             *time.Time      `json:"due_date"`
	MaterialWarehouseId int             `json:"material_warehouse_id" validate:"required,gt=0"`
	FgWarehouseId       int             `json:"fg_warehouse_id" validate:"required,gt=0"`
	// BomDate selects the BOM version; defaults to today.
	BomDate *time.Time `json:"bom_date"`
}

// sortStages orders stage progress rows by routing sequence.
func (o *ProductionOrder) sortStages() {
	sort.Slice(o.StageProgress, func(i, j int) bool { return o.StageProgress[i].Seq < o.StageProgress[j].Seq })
}

// Stage returns the progress row of a routing stage and the previous stage (nil for the first).
func (o *ProductionOrder) Stage(code string) (current, previous *ProductionStageProgress, ok bool) {
	o.sortStages()
	for i := range o.StageProgress {
		if o.StageProgress[i].Stage == code {
			if i > 0 {
				previous = &o.StageProgress[i-1]
			}
			return &o.StageProgress[i], previous, true
		}
	}
	return nil, nil, false
}

// IsTerminalStage reports whether code is the last routing stage.
func (o *ProductionOrder) IsTerminalStage(code string) bool {
	o.sortStages()
	n := len(o.StageProgress)
	return n > 0 && o.StageProgress[n-1].Stage == code
}

func CreateProductionOrder(ctx context.Context, input *NewProductionOrder) (*ProductionOrder, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.Quantity.IsPositive() {
		return nil, errors.New("planned quantity must be positive")
	}
	bomDate := time.Now().UTC()
	if input.BomDate != nil {
		bomDate = *input.BomDate
	}

	var order ProductionOrder
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ValidateResourceId[Product](tx, tenantId, input.ProductId); err != nil {
			return errors.New("product not found")
		}
		if err := ValidateLocation(tx, tenantId, input.MaterialWarehouseId, 0); err != nil {
			return err
		}
		if err := ValidateLocation(tx, tenantId, input.FgWarehouseId, 0); err != nil {
			return err
		}
		graph, err := LoadBomGraph(tx, tenantId)
		if err != nil {
			return err
		}
		bom, ok := graph.ActiveBom(input.ProductId, bomDate)
		if !ok {
			return fmt.Errorf("%w: product %d", ErrBomNotFound, input.ProductId)
		}
		if len(bom.Stages) == 0 {
			return fmt.Errorf("bom %d has no routing stages", bom.ID)
		}

		order = ProductionOrder{
			TenantId:            tenantId,
			ProductId:           input.ProductId,
			BomId:               bom.ID,
			BomVersion:          bom.Version,
			BomDate:             bomDate,
			QtyPlanned:          input.Quantity,
			Status:              ProductionOrderStatusPlanned,
			DueDate:             input.DueDate,
			MaterialWarehouseId: input.MaterialWarehouseId,
			FgWarehouseId:       input.FgWarehouseId,
			CreatedBy:           actorFromContext(ctx),
		}
		for _, s := range bom.Stages {
			order.StageProgress = append(order.StageProgress, ProductionStageProgress{
				TenantId:            tenantId,
				Stage:               s.Code,
				Seq:                 s.Seq,
				OverheadRatePerUnit: s.OverheadRatePerUnit,
			})
		}
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		order.OrderNumber = documentNumber(SourceDocProductionOrder, order.ID)
		return tx.Model(&ProductionOrder{}).Where("tenant_id = ? AND id = ?", tenantId, order.ID).
			Update("order_number", order.OrderNumber).Error
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// LoadProductionOrder reads an order with its reservations and stage progress.
func LoadProductionOrder(tx *gorm.DB, tenantId string, id int) (*ProductionOrder, error) {
	return FetchModel[ProductionOrder](tx, tenantId, id, "Reservations", "StageProgress")
}

func GetProductionOrder(ctx context.Context, id int) (*ProductionOrder, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	order, err := LoadProductionOrder(config.GetDB().WithContext(ctx), tenantId, id)
	if err != nil {
		return nil, err
	}
	order.sortStages()
	return order, nil
}

// ListProductionOrders returns the tenant's orders, newest first, optionally filtered by status.
func ListProductionOrders(ctx context.Context, status *ProductionOrderStatus) ([]*ProductionOrder, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	dbCtx := config.GetDB().WithContext(ctx).Where("tenant_id = ?", tenantId)
	if status != nil {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	var results []*ProductionOrder
	err = dbCtx.Order("id DESC").Find(&results).Error
	return results, err
}

// LockProductionOrder is LoadProductionOrder holding the order row FOR UPDATE.
func LockProductionOrder(tx *gorm.DB, tenantId string, id int) (*ProductionOrder, error) {
	var order ProductionOrder
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("tenant_id = ?", tenantId).First(&order, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Where("tenant_id = ? AND production_order_id = ?", tenantId, id).Order("id").Find(&order.Reservations).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("tenant_id = ? AND production_order_id = ?", tenantId, id).Order("seq").Find(&order.StageProgress).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// OutstandingReservations sums qty_required - qty_issued per material over the
// open orders drawing on a warehouse, excluding one order.
func OutstandingReservations(tx *gorm.DB, tenantId string, warehouseId, excludeOrderId int, materialIds []int) (map[int]decimal.Decimal, error) {
	out := make(map[int]decimal.Decimal)
	if len(materialIds) == 0 {
		return out, nil
	}
	openOrders := tx.Model(&ProductionOrder{}).Select("id").
		Where("tenant_id = ? AND material_warehouse_id = ? AND id <> ? AND status IN ?", tenantId, warehouseId, excludeOrderId,
			[]ProductionOrderStatus{ProductionOrderStatusReleased, ProductionOrderStatusInProgress})
	var rows []MaterialReservation
	if err := tx.Where("tenant_id = ? AND material_id IN ? AND production_order_id IN (?)", tenantId, materialIds, openOrders).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		out[rows[i].MaterialId] = out[rows[i].MaterialId].Add(rows[i].Outstanding())
	}
	return out, nil
}

// PendingLaborEntries returns the not yet backflushed time of one stage.
func PendingLaborEntries(tx *gorm.DB, tenantId string, orderId int, stage string) ([]LaborTimeEntry, error) {
	var rows []LaborTimeEntry
	err := tx.Where("tenant_id = ? AND production_order_id = ? AND stage = ? AND backflushed_at IS NULL", tenantId, orderId, stage).
		Order("id").Find(&rows).Error
	return rows, err
}

func DecimalNonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// MrpLine is the plan for one material of a production order.
type MrpLine struct {
	MaterialId       int             `json:"material_id"`
	GrossRequirement decimal.Decimal `json:"gross_requirement"`
	OnHand           decimal.Decimal `json:"on_hand"`
	Reserved         decimal.Decimal `json:"reserved"`
	Available        decimal.Decimal `json:"available"`
	NetRequirement   decimal.Decimal `json:"net_requirement"`
	Action           MrpAction       `json:"action"`
}

type MrpPlan struct {
	ProductionOrderId int                   `json:"production_order_id"`
	ProductId         int                   `json:"product_id"`
	Quantity          decimal.Decimal       `json:"quantity"`
	Requirements      []ExplodedRequirement `json:"requirements"`
	Lines             []MrpLine             `json:"lines"`
}

// Shortages lists the lines that are not fully covered.
func (p *MrpPlan) Shortages() []MrpLine {
	var out []MrpLine
	for _, l := range p.Lines {
		if l.Action != MrpActionOK {
			out = append(out, l)
		}
	}
	return out
}
