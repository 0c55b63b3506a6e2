package workflow

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/threadworks/erp_backend/models"
	"gorm.io/gorm"
)

func adjustmentMovements(adj *models.DraftInventoryAdjustment) []plannedMovement {
	lines := adj.Lines()
	planned := make([]plannedMovement, 0, len(lines))
	for _, l := range lines {
		s := plannedMovement{
			Ledger:    adj.Ledger(),
			Location:  adj.Location(),
			ItemId:    l.ItemId,
			Quantity:  l.QtyVariance.Abs(),
			Date:      adj.AdjustmentDate(),
			DocType:   models.SourceDocAdjustment,
			DocId:     adj.Id(),
			DocNumber: adj.Number(),
		}
		if l.QtyVariance.IsPositive() {
			s.Kind = models.MovementAdjustmentIn
			s.UnitCost = l.UnitCost
			s.AtAverage = l.UnitCost.IsZero()
		} else {
			s.Kind = models.MovementAdjustmentOut
			s.AtAverage = true
		}
		planned = append(planned, s)
	}
	return planned
}

func adjustmentKeys(tenantId string, adj *models.InventoryAdjustment) []string {
	keys := make([]string, 0, len(adj.Details))
	loc := models.WarehouseLocation(adj.WarehouseId, adj.BinId)
	for _, l := range adj.Details {
		keys = append(keys, models.BalanceKey(tenantId, adj.Ledger, l.ItemId, loc))
	}
	return keys
}

// adjustmentValue is Σ|variance| × cost, valuing losses and zero-cost gains at
// the current average.
func adjustmentValue(tx *gorm.DB, tenantId string, planned []plannedMovement) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, s := range planned {
		cost := s.UnitCost
		if s.AtAverage {
			snap, err := models.GetBalance(tx, tenantId, s.Ledger, s.ItemId, s.Location)
			if err != nil {
				return decimal.Zero, err
			}
			cost = snap.AverageUnitCost
		}
		total = total.Add(s.Quantity.Mul(cost))
	}
	return total, nil
}

// PostInventoryAdjustment posts every line of a draft adjustment in one transaction.
func (e *Engine) PostInventoryAdjustment(ctx context.Context, id int) (posted *models.PostedInventoryAdjustment, err error) {
	ctx, span := startSpan(ctx, "PostInventoryAdjustment")
	defer func() { endSpan(span, err) }()
	defer func() { e.logRejection("PostInventoryAdjustment", id, err) }()

	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := models.FetchModel[models.InventoryAdjustment](e.DB.WithContext(ctx), tenantId, id, "Details")
	if err != nil {
		return nil, err
	}
	keys := adjustmentKeys(tenantId, doc)

	err = e.post(ctx, keys, func(tx *gorm.DB) error {
		draft, err := models.LoadDraftInventoryAdjustment(tx, tenantId, id)
		if err != nil {
			return err
		}
		planned := adjustmentMovements(draft)
		if len(planned) == 0 {
			return fmt.Errorf("%w: adjustment %s has no lines", models.ErrInvalidMovement, draft.Number())
		}
		needed := make([]string, 0, len(planned))
		for _, s := range planned {
			needed = append(needed, s.key(tenantId))
		}
		if err := ensureLocked(keys, needed); err != nil {
			return err
		}

		value, err := adjustmentValue(tx, tenantId, planned)
		if err != nil {
			return err
		}
		if value.GreaterThan(e.Settings.AdjustmentApprovalThreshold) && !draft.IsApproved() {
			return fmt.Errorf("%w: adjustment %s is valued at %s", models.ErrApprovalRequired, draft.Number(), value.StringFixed(2))
		}

		entryIds := make([]string, 0, len(planned))
		for _, s := range planned {
			m, _, err := appendPlanned(ctx, tx, tenantId, s)
			if err != nil {
				return err
			}
			entryIds = append(entryIds, m.Columns().EntryId)
		}
		posted, err = draft.MarkPosted(tx, entryIds)
		return err
	})
	if err != nil {
		return nil, err
	}
	return posted, nil
}

func (e *Engine) ApproveInventoryAdjustment(ctx context.Context, id int) (adj *models.InventoryAdjustment, err error) {
	ctx, span := startSpan(ctx, "ApproveInventoryAdjustment")
	defer func() { endSpan(span, err) }()

	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		draft, err := models.LoadDraftInventoryAdjustment(tx, tenantId, id)
		if err != nil {
			return err
		}
		if err := draft.Approve(tx, actor(ctx)); err != nil {
			return err
		}
		adj, err = models.FetchModel[models.InventoryAdjustment](tx, tenantId, id, "Details")
		return err
	})
	if err != nil {
		e.logRejection("ApproveInventoryAdjustment", id, err)
		return nil, err
	}
	return adj, nil
}

func (e *Engine) CancelInventoryAdjustment(ctx context.Context, id int) (*models.InventoryAdjustment, error) {
	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	var adj *models.InventoryAdjustment
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		draft, err := models.LoadDraftInventoryAdjustment(tx, tenantId, id)
		if err != nil {
			return err
		}
		adj, err = draft.Cancel(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return adj, nil
}
