package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// costScale is the number of decimal places kept for unit and total costs.
const costScale = 6

// Location addresses a balance inside a ledger. RM and FG use warehouse/bin,
// WIP uses production order/stage; unused parts stay zero.
type Location struct {
	WarehouseId       int    `json:"warehouse_id,omitempty"`
	BinId             int    `json:"bin_id,omitempty"`
	ProductionOrderId int    `json:"production_order_id,omitempty"`
	Stage             string `json:"stage,omitempty"`
}

func WarehouseLocation(warehouseId, binId int) Location {
	return Location{WarehouseId: warehouseId, BinId: binId}
}

func StageLocation(productionOrderId int, stage string) Location {
	return Location{ProductionOrderId: productionOrderId, Stage: stage}
}

func (l Location) String() string {
	if l.ProductionOrderId > 0 && l.Stage != "" {
		return fmt.Sprintf("order %d stage %s", l.ProductionOrderId, l.Stage)
	}
	if l.BinId > 0 {
		return fmt.Sprintf("warehouse %d bin %d", l.WarehouseId, l.BinId)
	}
	return fmt.Sprintf("warehouse %d", l.WarehouseId)
}

// balanceLocation drops the informational production order of FG rows so the
// FG balance is per warehouse/bin only.
func balanceLocation(ledger LedgerType, loc Location) Location {
	if ledger == LedgerWip {
		return StageLocation(loc.ProductionOrderId, loc.Stage)
	}
	return WarehouseLocation(loc.WarehouseId, loc.BinId)
}

// BalanceKey names the balance a movement of (ledger, item, loc) lands on.
// Posting locks are taken on these names.
func BalanceKey(tenantId string, ledger LedgerType, itemId int, loc Location) string {
	loc = balanceLocation(ledger, loc)
	return fmt.Sprintf("balance:%s:%s:%d:%d:%d:%d:%s", tenantId, ledger, itemId, loc.WarehouseId, loc.BinId, loc.ProductionOrderId, loc.Stage)
}

// StockBalance is the derived running total for one (ledger, item, location).
// The ledger is the source of truth; see RebuildBalances.
type StockBalance struct {
	ID                int             `gorm:"primary_key" json:"id"`
	TenantId          string          `gorm:"size:64;not null;index:uniq_stock_balance_key,unique" json:"tenant_id"`
	Ledger            LedgerType      `gorm:"size:5;not null;index:uniq_stock_balance_key,unique" json:"ledger"`
	ItemId            int             `gorm:"not null;index:uniq_stock_balance_key,unique" json:"item_id"`
	WarehouseId       int             `gorm:"not null;index:uniq_stock_balance_key,unique" json:"warehouse_id"`
	BinId             int             `gorm:"not null;index:uniq_stock_balance_key,unique" json:"bin_id"`
	ProductionOrderId int             `gorm:"not null;index:uniq_stock_balance_key,unique" json:"production_order_id"`
	Stage             string          `gorm:"size:32;not null;index:uniq_stock_balance_key,unique" json:"stage"`
	QtyInTotal        decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"qty_in_total"`
	QtyOutTotal       decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"qty_out_total"`
	CostInTotal       decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"cost_in_total"`
	CostOutTotal      decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"cost_out_total"`
	LastMovementAt    *time.Time      `json:"last_movement_at"`
	Version           int             `gorm:"not null" json:"version"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// BalanceSnapshot is what callers see of a balance.
type BalanceSnapshot struct {
	Ledger          LedgerType      `json:"ledger"`
	ItemId          int             `json:"item_id"`
	Location        Location        `json:"location"`
	Quantity        decimal.Decimal `json:"quantity"`
	AverageUnitCost decimal.Decimal `json:"avg_unit_cost"`
	TotalValue      decimal.Decimal `json:"total_value"`
	LastMovementAt  *time.Time      `json:"last_movement_at"`
}

func (b *StockBalance) Location() Location {
	return Location{WarehouseId: b.WarehouseId, BinId: b.BinId, ProductionOrderId: b.ProductionOrderId, Stage: b.Stage}
}

func (b *StockBalance) Quantity() decimal.Decimal {
	return b.QtyInTotal.Sub(b.QtyOutTotal)
}

// AverageCost is Σcost_in / Σqty_in, zero before the first receipt.
func (b *StockBalance) AverageCost() decimal.Decimal {
	if b.QtyInTotal.IsZero() {
		return decimal.Zero
	}
	return b.CostInTotal.DivRound(b.QtyInTotal, costScale)
}

func (b *StockBalance) TotalValue() decimal.Decimal {
	return b.Quantity().Mul(b.AverageCost()).Round(costScale)
}

func (b *StockBalance) Snapshot() BalanceSnapshot {
	return BalanceSnapshot{
		Ledger:          b.Ledger,
		ItemId:          b.ItemId,
		Location:        b.Location(),
		Quantity:        b.Quantity(),
		AverageUnitCost: b.AverageCost(),
		TotalValue:      b.TotalValue(),
		LastMovementAt:  b.LastMovementAt,
	}
}

// accumulate adds one ledger row to the running totals in memory.
func (b *StockBalance) accumulate(c *LedgerColumns) {
	if c.QtyIn.IsPositive() {
		b.QtyInTotal = b.QtyInTotal.Add(c.QtyIn)
		b.CostInTotal = b.CostInTotal.Add(c.TotalCost)
	} else {
		b.QtyOutTotal = b.QtyOutTotal.Add(c.QtyOut)
		b.CostOutTotal = b.CostOutTotal.Add(c.TotalCost)
	}
	if b.LastMovementAt == nil || c.TransactionDate.After(*b.LastMovementAt) {
		t := c.TransactionDate
		b.LastMovementAt = &t
	}
}

func balanceKeyQuery(tx *gorm.DB, tenantId string, ledger LedgerType, itemId int, loc Location) *gorm.DB {
	loc = balanceLocation(ledger, loc)
	return tx.Where("tenant_id = ? AND ledger = ? AND item_id = ? AND warehouse_id = ? AND bin_id = ? AND production_order_id = ? AND stage = ?",
		tenantId, ledger, itemId, loc.WarehouseId, loc.BinId, loc.ProductionOrderId, loc.Stage)
}

// LockBalance returns the balance row for the key read FOR UPDATE, creating an
// empty row on first use.
func LockBalance(tx *gorm.DB, tenantId string, ledger LedgerType, itemId int, loc Location) (*StockBalance, error) {
	var bal StockBalance
	err := balanceKeyQuery(tx.Clauses(clause.Locking{Strength: "UPDATE"}), tenantId, ledger, itemId, loc).Take(&bal).Error
	if err == nil {
		return &bal, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	loc = balanceLocation(ledger, loc)
	bal = StockBalance{
		TenantId:          tenantId,
		Ledger:            ledger,
		ItemId:            itemId,
		WarehouseId:       loc.WarehouseId,
		BinId:             loc.BinId,
		ProductionOrderId: loc.ProductionOrderId,
		Stage:             loc.Stage,
	}
	if err := tx.Create(&bal).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrConcurrentUpdate
		}
		return nil, err
	}
	return &bal, nil
}

// ApplyMovement adds the row to the locked balance and persists it with a
// row-version check.
func (b *StockBalance) ApplyMovement(tx *gorm.DB, c *LedgerColumns) error {
	next := *b
	next.accumulate(c)
	res := tx.Model(&StockBalance{}).
		Where("tenant_id = ? AND id = ? AND version = ?", b.TenantId, b.ID, b.Version).
		Updates(map[string]interface{}{
			"qty_in_total":     next.QtyInTotal,
			"qty_out_total":    next.QtyOutTotal,
			"cost_in_total":    next.CostInTotal,
			"cost_out_total":   next.CostOutTotal,
			"last_movement_at": next.LastMovementAt,
			"version":          b.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	next.Version = b.Version + 1
	*b = next
	return nil
}

// GetBalance reads the current balance; a key never posted to is a zero balance.
func GetBalance(tx *gorm.DB, tenantId string, ledger LedgerType, itemId int, loc Location) (BalanceSnapshot, error) {
	var bal StockBalance
	err := balanceKeyQuery(tx, tenantId, ledger, itemId, loc).Take(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return BalanceSnapshot{
			Ledger:          ledger,
			ItemId:          itemId,
			Location:        balanceLocation(ledger, loc),
			Quantity:        decimal.Zero,
			AverageUnitCost: decimal.Zero,
			TotalValue:      decimal.Zero,
		}, nil
	}
	if err != nil {
		return BalanceSnapshot{}, err
	}
	return bal.Snapshot(), nil
}

// ListBalances returns every balance row of a ledger ("" for all ledgers).
func ListBalances(tx *gorm.DB, tenantId string, ledger LedgerType) ([]StockBalance, error) {
	q := tx.Where("tenant_id = ?", tenantId)
	if ledger != "" {
		q = q.Where("ledger = ?", ledger)
	}
	var rows []StockBalance
	err := q.Order("ledger, item_id, warehouse_id, bin_id, production_order_id, stage").Find(&rows).Error
	return rows, err
}

// WarehouseBalances lists the balances of an item in every bin of a warehouse, by bin.
func WarehouseBalances(tx *gorm.DB, tenantId string, ledger LedgerType, itemId, warehouseId int) ([]StockBalance, error) {
	var rows []StockBalance
	err := tx.Where("tenant_id = ? AND ledger = ? AND item_id = ? AND warehouse_id = ?", tenantId, ledger, itemId, warehouseId).
		Order("bin_id").Find(&rows).Error
	return rows, err
}

// WarehouseOnHand sums the quantity of an item over every bin of a warehouse.
func WarehouseOnHand(tx *gorm.DB, tenantId string, ledger LedgerType, itemId, warehouseId int) (decimal.Decimal, error) {
	rows, err := WarehouseBalances(tx, tenantId, ledger, itemId, warehouseId)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for i := range rows {
		total = total.Add(rows[i].Quantity())
	}
	return total, nil
}

// ComputeBalances folds ledger rows into balances keyed like StockBalance.
func ComputeBalances(tenantId string, movements []Movement) []StockBalance {
	type key struct {
		ledger LedgerType
		item   int
		loc    Location
	}
	index := make(map[key]int)
	var out []StockBalance
	for _, m := range movements {
		c := m.Columns()
		loc := balanceLocation(m.Ledger(), m.Location())
		k := key{m.Ledger(), c.ItemId, loc}
		i, ok := index[k]
		if !ok {
			out = append(out, StockBalance{
				TenantId:          tenantId,
				Ledger:            m.Ledger(),
				ItemId:            c.ItemId,
				WarehouseId:       loc.WarehouseId,
				BinId:             loc.BinId,
				ProductionOrderId: loc.ProductionOrderId,
				Stage:             loc.Stage,
			})
			i = len(out) - 1
			index[k] = i
		}
		out[i].accumulate(c)
	}
	return out
}

// SameTotals reports whether two balances carry identical running sums.
func (b *StockBalance) SameTotals(o *StockBalance) bool {
	return b.QtyInTotal.Equal(o.QtyInTotal) && b.QtyOutTotal.Equal(o.QtyOutTotal) &&
		b.CostInTotal.Equal(o.CostInTotal) && b.CostOutTotal.Equal(o.CostOutTotal)
}
