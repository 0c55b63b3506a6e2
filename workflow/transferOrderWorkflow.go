package workflow

import (
	"context"
	"fmt"

	"github.com/threadworks/erp_backend/models"
	"gorm.io/gorm"
)

func transferKeys(tenantId string, ledger models.LedgerType, source, destination models.Location, itemIds []int) []string {
	keys := make([]string, 0, 2*len(itemIds))
	for _, itemId := range itemIds {
		keys = append(keys,
			models.BalanceKey(tenantId, ledger, itemId, source),
			models.BalanceKey(tenantId, ledger, itemId, destination))
	}
	return keys
}

// PostTransferOrder moves each line out of the source at the current average
// cost and into the destination at that same cost.
func (e *Engine) PostTransferOrder(ctx context.Context, id int) (posted *models.PostedTransferOrder, err error) {
	ctx, span := startSpan(ctx, "PostTransferOrder")
	defer func() { endSpan(span, err) }()
	defer func() { e.logRejection("PostTransferOrder", id, err) }()

	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := models.FetchModel[models.TransferOrder](e.DB.WithContext(ctx), tenantId, id, "Details")
	if err != nil {
		return nil, err
	}
	itemIds := make([]int, 0, len(doc.Details))
	for _, l := range doc.Details {
		itemIds = append(itemIds, l.ItemId)
	}
	keys := transferKeys(tenantId, doc.Ledger,
		models.WarehouseLocation(doc.SourceWarehouseId, doc.SourceBinId),
		models.WarehouseLocation(doc.DestinationWarehouseId, doc.DestinationBinId), itemIds)

	err = e.post(ctx, keys, func(tx *gorm.DB) error {
		draft, err := models.LoadDraftTransferOrder(tx, tenantId, id)
		if err != nil {
			return err
		}
		lines := draft.Lines()
		if len(lines) == 0 {
			return fmt.Errorf("%w: transfer order %s has no lines", models.ErrInvalidMovement, draft.Number())
		}
		if draft.Source() == draft.Destination() {
			return fmt.Errorf("%w: transfer source and destination are the same", models.ErrInvalidMovement)
		}
		lineItems := make([]int, 0, len(lines))
		for _, l := range lines {
			lineItems = append(lineItems, l.ItemId)
		}
		if err := ensureLocked(keys, transferKeys(tenantId, draft.Ledger(), draft.Source(), draft.Destination(), lineItems)); err != nil {
			return err
		}

		postings := make([]models.TransferLinePosting, 0, len(lines))
		for _, l := range lines {
			out, _, err := appendPlanned(ctx, tx, tenantId, plannedMovement{
				Ledger:    draft.Ledger(),
				Location:  draft.Source(),
				ItemId:    l.ItemId,
				Kind:      models.MovementTransferOut,
				Quantity:  l.Quantity,
				AtAverage: true,
				Date:      draft.TransferDate(),
				DocType:   models.SourceDocTransferOrder,
				DocId:     draft.Id(),
				DocNumber: draft.Number(),
			})
			if err != nil {
				return err
			}
			unitCost := out.Columns().UnitCost
			in, _, err := appendPlanned(ctx, tx, tenantId, plannedMovement{
				Ledger:    draft.Ledger(),
				Location:  draft.Destination(),
				ItemId:    l.ItemId,
				Kind:      models.MovementTransferIn,
				Quantity:  l.Quantity,
				UnitCost:  unitCost,
				Date:      draft.TransferDate(),
				DocType:   models.SourceDocTransferOrder,
				DocId:     draft.Id(),
				DocNumber: draft.Number(),
			})
			if err != nil {
				return err
			}
			postings = append(postings, models.TransferLinePosting{
				UnitCost:   unitCost,
				OutEntryId: out.Columns().EntryId,
				InEntryId:  in.Columns().EntryId,
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

func (e *Engine) CancelTransferOrder(ctx context.Context, id int) (*models.TransferOrder, error) {
	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	var order *models.TransferOrder
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		draft, err := models.LoadDraftTransferOrder(tx, tenantId, id)
		if err != nil {
			return err
		}
		order, err = draft.Cancel(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}
