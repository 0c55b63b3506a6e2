package reports

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/threadworks/erp_backend/config"
	"github.com/threadworks/erp_backend/models"
	"github.com/threadworks/erp_backend/utils"
)

type InventoryValuationRow struct {
	Ledger            models.LedgerType `json:"ledger"`
	ItemId            int               `json:"item_id"`
	Sku               string            `json:"sku"`
	ItemName          string            `json:"item_name"`
	WarehouseCode     string            `json:"warehouse_code,omitempty"`
	BinId             int               `json:"bin_id,omitempty"`
	ProductionOrderId int               `json:"production_order_id,omitempty"`
	Stage             string            `json:"stage,omitempty"`
	Quantity          decimal.Decimal   `json:"quantity"`
	AverageUnitCost   decimal.Decimal   `json:"avg_unit_cost"`
	TotalValue        decimal.Decimal   `json:"total_value"`
	LastMovementAt    *time.Time        `json:"last_movement_at"`
}

type InventoryValuationReport struct {
	GeneratedAt time.Time                             `json:"generated_at"`
	Rows        []InventoryValuationRow               `json:"rows"`
	LedgerTotal map[models.LedgerType]decimal.Decimal `json:"ledger_total"`
	GrandTotal  decimal.Decimal                       `json:"grand_total"`
}

type itemRef struct {
	sku  string
	name string
}

// GetInventoryValuationReport values every non-empty balance of the tenant at
// its current average cost. An empty ledger means all three. With
// ENABLE_REPORT_CACHE the result is served from Redis for the cache TTL.
func GetInventoryValuationReport(ctx context.Context, ledger models.LedgerType) (*InventoryValuationReport, error) {
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, models.ErrTenantRequired
	}
	started := time.Now()
	cacheKey := fmt.Sprintf("report:valuation:%s:%s", tenantId, ledger)
	if reportCacheEnabled() {
		var cached InventoryValuationReport
		if hit, err := cacheGet(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, nil
		}
	}
	report, err := buildInventoryValuation(ctx, tenantId, ledger)
	if err != nil {
		return nil, err
	}
	if reportCacheEnabled() {
		if err := cacheSet(ctx, cacheKey, report, reportCacheTTL()); err != nil {
			config.LogError(config.GetLogger(), "reports", "GetInventoryValuationReport", "cache", cacheKey, err)
		}
	}
	logSlowReport(ctx, "inventory_valuation", started, logrus.Fields{"ledger": ledger, "rows": len(report.Rows)})
	return report, nil
}

func buildInventoryValuation(ctx context.Context, tenantId string, ledger models.LedgerType) (*InventoryValuationReport, error) {
	db := config.GetDB().WithContext(ctx)

	balances, err := models.ListBalances(db, tenantId, ledger)
	if err != nil {
		return nil, err
	}

	var materials []models.Material
	if err := db.Where("tenant_id = ?", tenantId).Find(&materials).Error; err != nil {
		return nil, err
	}
	var products []models.Product
	if err := db.Where("tenant_id = ?", tenantId).Find(&products).Error; err != nil {
		return nil, err
	}
	var warehouses []models.Warehouse
	if err := db.Where("tenant_id = ?", tenantId).Find(&warehouses).Error; err != nil {
		return nil, err
	}
	materialRefs := make(map[int]itemRef, len(materials))
	for _, m := range materials {
		materialRefs[m.ID] = itemRef{m.Sku, m.Name}
	}
	productRefs := make(map[int]itemRef, len(products))
	for _, p := range products {
		productRefs[p.ID] = itemRef{p.Sku, p.Name}
	}
	warehouseCodes := make(map[int]string, len(warehouses))
	for _, w := range warehouses {
		warehouseCodes[w.ID] = w.Code
	}

	report := &InventoryValuationReport{
		GeneratedAt: time.Now().UTC(),
		Rows:        []InventoryValuationRow{},
		LedgerTotal: make(map[models.LedgerType]decimal.Decimal),
		GrandTotal:  decimal.Zero,
	}
	for i := range balances {
		b := &balances[i]
		qty := b.Quantity()
		if qty.IsZero() {
			continue
		}
		ref := productRefs[b.ItemId]
		if b.Ledger == models.LedgerRawMaterial {
			ref = materialRefs[b.ItemId]
		}
		row := InventoryValuationRow{
			Ledger:            b.Ledger,
			ItemId:            b.ItemId,
			Sku:               ref.sku,
			ItemName:          ref.name,
			WarehouseCode:     warehouseCodes[b.WarehouseId],
			BinId:             b.BinId,
			ProductionOrderId: b.ProductionOrderId,
			Stage:             b.Stage,
			Quantity:          qty,
			AverageUnitCost:   b.AverageCost(),
			TotalValue:        b.TotalValue(),
			LastMovementAt:    b.LastMovementAt,
		}
		report.Rows = append(report.Rows, row)
		report.LedgerTotal[b.Ledger] = report.LedgerTotal[b.Ledger].Add(row.TotalValue)
		report.GrandTotal = report.GrandTotal.Add(row.TotalValue)
	}
	sort.SliceStable(report.Rows, func(i, j int) bool {
		a, b := report.Rows[i], report.Rows[j]
		if a.Ledger != b.Ledger {
			return ledgerOrder(a.Ledger) < ledgerOrder(b.Ledger)
		}
		return a.Sku < b.Sku
	})
	return report, nil
}

func ledgerOrder(l models.LedgerType) int {
	switch l {
	case models.LedgerRawMaterial:
		return 0
	case models.LedgerWip:
		return 1
	}
	return 2
}
