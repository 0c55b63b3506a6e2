package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/threadworks/erp_backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var allLedgers = []models.LedgerType{models.LedgerRawMaterial, models.LedgerWip, models.LedgerFinishedGoods}

// BalanceDiscrepancy is a stored balance that does not match the ledger.
type BalanceDiscrepancy struct {
	Ledger   models.LedgerType      `json:"ledger"`
	ItemId   int                    `json:"item_id"`
	Location models.Location        `json:"location"`
	Stored   models.BalanceSnapshot `json:"stored"`
	Derived  models.BalanceSnapshot `json:"derived"`
}

type balanceIndexKey struct {
	ledger models.LedgerType
	item   int
	loc    models.Location
}

func indexKey(b *models.StockBalance) balanceIndexKey {
	return balanceIndexKey{b.Ledger, b.ItemId, b.Location()}
}

func (e *Engine) GetBalance(ctx context.Context, ledger models.LedgerType, itemId int, loc models.Location) (models.BalanceSnapshot, error) {
	tenantId, err := requireTenant(ctx)
	if err != nil {
		return models.BalanceSnapshot{}, err
	}
	if !ledger.IsValid() {
		return models.BalanceSnapshot{}, fmt.Errorf("%w: unknown ledger %q", models.ErrInvalidMovement, ledger)
	}
	return models.GetBalance(e.DB.WithContext(ctx), tenantId, ledger, itemId, loc)
}

// LedgerHistory lists the entries of one (item, location) in the order they were appended.
func (e *Engine) LedgerHistory(ctx context.Context, ledger models.LedgerType, itemId int, loc models.Location) ([]models.LedgerEntry, error) {
	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	return models.LoadLocationHistory(e.DB.WithContext(ctx), tenantId, ledger, itemId, loc)
}

// ExplodeBOM expands the product's active BOM on asOf without touching stock.
func (e *Engine) ExplodeBOM(ctx context.Context, productId int, quantity decimal.Decimal, asOf time.Time) ([]models.ExplodedRequirement, error) {
	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	graph, err := models.LoadBomGraph(e.DB.WithContext(ctx), tenantId)
	if err != nil {
		return nil, err
	}
	return graph.Explode(productId, quantity, e.Settings.BomMaxDepth, asOf)
}

// ClosePeriod closes an accounting period. Postings dated inside it fail from then on.
func (e *Engine) ClosePeriod(ctx context.Context, periodId int) (period *models.AccountingPeriod, err error) {
	ctx, span := startSpan(ctx, "ClosePeriod")
	defer func() { endSpan(span, err) }()

	if _, err := requireTenant(ctx); err != nil {
		return nil, err
	}
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		period, err = models.CloseAccountingPeriod(ctx, tx, periodId)
		return err
	})
	if err != nil {
		e.logRejection("ClosePeriod", periodId, err)
		return nil, err
	}
	return period, nil
}

func deriveBalances(tx *gorm.DB, tenantId string) ([]models.StockBalance, error) {
	var derived []models.StockBalance
	for _, ledger := range allLedgers {
		movements, err := models.LoadLedgerEntries(tx, tenantId, ledger)
		if err != nil {
			return nil, err
		}
		derived = append(derived, models.ComputeBalances(tenantId, movements)...)
	}
	return derived, nil
}

func zeroBalance(b *models.StockBalance) models.StockBalance {
	return models.StockBalance{
		TenantId:          b.TenantId,
		Ledger:            b.Ledger,
		ItemId:            b.ItemId,
		WarehouseId:       b.WarehouseId,
		BinId:             b.BinId,
		ProductionOrderId: b.ProductionOrderId,
		Stage:             b.Stage,
	}
}

// compareBalances pairs stored rows with ledger-derived ones. Stored rows
// without ledger rows must be zero; derived rows without a stored row are missing.
func compareBalances(stored, derived []models.StockBalance) []BalanceDiscrepancy {
	byKey := make(map[balanceIndexKey]*models.StockBalance, len(stored))
	for i := range stored {
		byKey[indexKey(&stored[i])] = &stored[i]
	}
	var out []BalanceDiscrepancy
	seen := make(map[balanceIndexKey]struct{}, len(derived))
	for i := range derived {
		d := &derived[i]
		k := indexKey(d)
		seen[k] = struct{}{}
		s, ok := byKey[k]
		if !ok {
			empty := zeroBalance(d)
			s = &empty
		}
		if !s.SameTotals(d) {
			out = append(out, BalanceDiscrepancy{Ledger: d.Ledger, ItemId: d.ItemId, Location: d.Location(), Stored: s.Snapshot(), Derived: d.Snapshot()})
		}
	}
	for i := range stored {
		s := &stored[i]
		if _, ok := seen[indexKey(s)]; ok {
			continue
		}
		empty := zeroBalance(s)
		if !s.SameTotals(&empty) {
			out = append(out, BalanceDiscrepancy{Ledger: s.Ledger, ItemId: s.ItemId, Location: s.Location(), Stored: s.Snapshot(), Derived: empty.Snapshot()})
		}
	}
	return out
}

// VerifyBalances re-derives every balance from the ledgers and reports the
// stored rows that disagree. Nothing is written.
func (e *Engine) VerifyBalances(ctx context.Context) ([]BalanceDiscrepancy, error) {
	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	db := e.DB.WithContext(ctx)
	stored, err := models.ListBalances(db, tenantId, "")
	if err != nil {
		return nil, err
	}
	derived, err := deriveBalances(db, tenantId)
	if err != nil {
		return nil, err
	}
	return compareBalances(stored, derived), nil
}

// RebuildBalances rewrites the tenant's balance rows from the ledgers and
// returns what it had to correct. The stored rows are held FOR UPDATE for the
// whole rebuild so postings wait for it.
func (e *Engine) RebuildBalances(ctx context.Context) (fixed []BalanceDiscrepancy, err error) {
	ctx, span := startSpan(ctx, "RebuildBalances")
	defer func() { endSpan(span, err) }()

	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored []models.StockBalance
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("tenant_id = ?", tenantId).
			Order("id").Find(&stored).Error; err != nil {
			return err
		}
		derived, err := deriveBalances(tx, tenantId)
		if err != nil {
			return err
		}
		fixed = compareBalances(stored, derived)
		if len(fixed) == 0 {
			return nil
		}

		byKey := make(map[balanceIndexKey]*models.StockBalance, len(stored))
		for i := range stored {
			byKey[indexKey(&stored[i])] = &stored[i]
		}
		write := func(s *models.StockBalance, d *models.StockBalance) error {
			return tx.Model(&models.StockBalance{}).Where("tenant_id = ? AND id = ?", tenantId, s.ID).
				Updates(map[string]interface{}{
					"qty_in_total":     d.QtyInTotal,
					"qty_out_total":    d.QtyOutTotal,
					"cost_in_total":    d.CostInTotal,
					"cost_out_total":   d.CostOutTotal,
					"last_movement_at": d.LastMovementAt,
					"version":          s.Version + 1,
				}).Error
		}
		seen := make(map[balanceIndexKey]struct{}, len(derived))
		for i := range derived {
			d := &derived[i]
			k := indexKey(d)
			seen[k] = struct{}{}
			s, ok := byKey[k]
			if !ok {
				if err := tx.Create(d).Error; err != nil {
					return err
				}
				continue
			}
			if s.SameTotals(d) {
				continue
			}
			if err := write(s, d); err != nil {
				return err
			}
		}
		for i := range stored {
			s := &stored[i]
			if _, ok := seen[indexKey(s)]; ok {
				continue
			}
			empty := zeroBalance(s)
			if s.SameTotals(&empty) {
				continue
			}
			if err := write(s, &empty); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.logRejection("RebuildBalances", tenantId, err)
		return nil, err
	}
	if len(fixed) > 0 && e.Logger != nil {
		e.Logger.WithFields(logrus.Fields{
			"module":    "workflow",
			"funcName":  "RebuildBalances",
			"tenant_id": tenantId,
			"corrected": len(fixed),
		}).Warn("stock balances drifted from the ledger and were rebuilt")
	}
	return fixed, nil
}
