package workflow

import (
	"context"
	"fmt"

	"github.com/threadworks/erp_backend/models"
	"gorm.io/gorm"
)

// PostDelivery issues each line from FG as sales_out at the current average cost.
func (e *Engine) PostDelivery(ctx context.Context, id int) (posted *models.PostedDelivery, err error) {
	ctx, span := startSpan(ctx, "PostDelivery")
	defer func() { endSpan(span, err) }()
	defer func() { e.logRejection("PostDelivery", id, err) }()

	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := models.FetchModel[models.Delivery](e.DB.WithContext(ctx), tenantId, id, "Details")
	if err != nil {
		return nil, err
	}
	loc := models.WarehouseLocation(doc.WarehouseId, doc.BinId)
	keys := make([]string, 0, len(doc.Details))
	for _, l := range doc.Details {
		keys = append(keys, models.BalanceKey(tenantId, models.LedgerFinishedGoods, l.ProductId, loc))
	}

	err = e.post(ctx, keys, func(tx *gorm.DB) error {
		draft, err := models.LoadDraftDelivery(tx, tenantId, id)
		if err != nil {
			return err
		}
		lines := draft.Lines()
		if len(lines) == 0 {
			return fmt.Errorf("%w: delivery %s has no lines", models.ErrInvalidMovement, draft.Number())
		}
		needed := make([]string, 0, len(lines))
		for _, l := range lines {
			needed = append(needed, models.BalanceKey(tenantId, models.LedgerFinishedGoods, l.ProductId, draft.Location()))
		}
		if err := ensureLocked(keys, needed); err != nil {
			return err
		}

		postings := make([]models.DeliveryLinePosting, 0, len(lines))
		for _, l := range lines {
			m, _, err := appendPlanned(ctx, tx, tenantId, plannedMovement{
				Ledger:    models.LedgerFinishedGoods,
				Location:  draft.Location(),
				ItemId:    l.ProductId,
				Kind:      models.MovementSalesOut,
				Quantity:  l.Quantity,
				AtAverage: true,
				Date:      draft.DeliveryDate(),
				DocType:   models.SourceDocDelivery,
				DocId:     draft.Id(),
				DocNumber: draft.Number(),
			})
			if err != nil {
				return err
			}
			postings = append(postings, models.DeliveryLinePosting{
				UnitCost: m.Columns().UnitCost,
				EntryId:  m.Columns().EntryId,
			})
		}
		posted, err = draft.MarkPosted(tx, postings)
		return err
	})
	if err != nil {
		return nil, err
	}
	return posted, nil
}

func (e *Engine) CancelDelivery(ctx context.Context, id int) (*models.Delivery, error) {
	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	var dlv *models.Delivery
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		draft, err := models.LoadDraftDelivery(tx, tenantId, id)
		if err != nil {
			return err
		}
		dlv, err = draft.Cancel(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dlv, nil
}
