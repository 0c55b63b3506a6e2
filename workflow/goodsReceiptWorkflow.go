package workflow

import (
	"context"
	"fmt"

	"github.com/threadworks/erp_backend/models"
	"gorm.io/gorm"
)

// PostGoodsReceipt receives every line into RM at the receipt cost after the
// price match against the purchase order.
func (e *Engine) PostGoodsReceipt(ctx context.Context, id int) (posted *models.PostedGoodsReceipt, err error) {
	ctx, span := startSpan(ctx, "PostGoodsReceipt")
	defer func() { endSpan(span, err) }()
	defer func() { e.logRejection("PostGoodsReceipt", id, err) }()

	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := models.FetchModel[models.GoodsReceipt](e.DB.WithContext(ctx), tenantId, id, "Details")
	if err != nil {
		return nil, err
	}
	loc := models.WarehouseLocation(doc.WarehouseId, doc.BinId)
	keys := make([]string, 0, len(doc.Details))
	for _, l := range doc.Details {
		keys = append(keys, models.BalanceKey(tenantId, models.LedgerRawMaterial, l.MaterialId, loc))
	}

	err = e.post(ctx, keys, func(tx *gorm.DB) error {
		draft, err := models.LoadDraftGoodsReceipt(tx, tenantId, id)
		if err != nil {
			return err
		}
		lines := draft.Lines()
		if len(lines) == 0 {
			return fmt.Errorf("%w: goods receipt %s has no lines", models.ErrInvalidMovement, draft.Number())
		}
		tolerance := e.Settings.PriceVarianceTolerancePct
		planned := make([]plannedMovement, 0, len(lines))
		needed := make([]string, 0, len(lines))
		for i := range lines {
			l := &lines[i]
			if pct := l.PriceVariancePct(); pct.GreaterThan(tolerance) && !draft.VarianceApproved() {
				return &models.PriceVarianceExceededError{
					LineId:       l.ID,
					MaterialId:   l.MaterialId,
					VariancePct:  pct,
					TolerancePct: tolerance,
				}
			}
			s := plannedMovement{
				Ledger:    models.LedgerRawMaterial,
				Location:  draft.Location(),
				ItemId:    l.MaterialId,
				Kind:      models.MovementReceipt,
				Quantity:  l.Quantity,
				UnitCost:  l.UnitCost,
				Date:      draft.ReceiptDate(),
				DocType:   models.SourceDocGoodsReceipt,
				DocId:     draft.Id(),
				DocNumber: draft.Number(),
				Reference: l.PurchaseOrderLineRef,
			}
			planned = append(planned, s)
			needed = append(needed, s.key(tenantId))
		}
		if err := ensureLocked(keys, needed); err != nil {
			return err
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

// ApproveGoodsReceiptVariance lets a receipt outside the price tolerance post.
func (e *Engine) ApproveGoodsReceiptVariance(ctx context.Context, id int) (*models.GoodsReceipt, error) {
	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	var grn *models.GoodsReceipt
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		draft, err := models.LoadDraftGoodsReceipt(tx, tenantId, id)
		if err != nil {
			return err
		}
		if err := draft.ApproveVariance(tx, actor(ctx)); err != nil {
			return err
		}
		grn, err = models.FetchModel[models.GoodsReceipt](tx, tenantId, id, "Details")
		return err
	})
	if err != nil {
		return nil, err
	}
	return grn, nil
}

func (e *Engine) CancelGoodsReceipt(ctx context.Context, id int) (*models.GoodsReceipt, error) {
	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	var grn *models.GoodsReceipt
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		draft, err := models.LoadDraftGoodsReceipt(tx, tenantId, id)
		if err != nil {
			return err
		}
		grn, err = draft.Cancel(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return grn, nil
}
