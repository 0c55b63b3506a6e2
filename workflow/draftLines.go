package workflow

import (
	"context"

	"github.com/threadworks/erp_backend/models"
	"gorm.io/gorm"
)

// Lines can only be added to drafts. An approval covers the lines that existed
// when it was given, so approved drafts are closed to new lines.

func (e *Engine) AddInventoryAdjustmentLine(ctx context.Context, id int, input models.NewInventoryAdjustmentDetail) (lines []models.InventoryAdjustmentDetail, err error) {
	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		draft, err := models.LoadDraftInventoryAdjustment(tx, tenantId, id)
		if err != nil {
			return err
		}
		if draft.IsApproved() {
			return &models.InvalidDocumentStateError{Document: "inventory adjustment", Id: id, Status: "approved"}
		}
		if err := draft.AddLine(tx, input); err != nil {
			return err
		}
		lines = draft.Lines()
		return nil
	})
	if err != nil {
		e.logRejection("AddInventoryAdjustmentLine", input, err)
		return nil, err
	}
	return lines, nil
}

func (e *Engine) AddTransferOrderLine(ctx context.Context, id int, input models.NewTransferOrderDetail) (lines []models.TransferOrderDetail, err error) {
	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		draft, err := models.LoadDraftTransferOrder(tx, tenantId, id)
		if err != nil {
			return err
		}
		if err := draft.AddLine(tx, input); err != nil {
			return err
		}
		lines = draft.Lines()
		return nil
	})
	if err != nil {
		e.logRejection("AddTransferOrderLine", input, err)
		return nil, err
	}
	return lines, nil
}

func (e *Engine) AddGoodsReceiptLine(ctx context.Context, id int, input models.NewGoodsReceiptDetail) (lines []models.GoodsReceiptDetail, err error) {
	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		draft, err := models.LoadDraftGoodsReceipt(tx, tenantId, id)
		if err != nil {
			return err
		}
		if draft.VarianceApproved() {
			return &models.InvalidDocumentStateError{Document: "goods receipt", Id: id, Status: "variance approved"}
		}
		if err := draft.AddLine(tx, input); err != nil {
			return err
		}
		lines = draft.Lines()
		return nil
	})
	if err != nil {
		e.logRejection("AddGoodsReceiptLine", input, err)
		return nil, err
	}
	return lines, nil
}

func (e *Engine) AddDeliveryLine(ctx context.Context, id int, input models.NewDeliveryDetail) (lines []models.DeliveryDetail, err error) {
	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		draft, err := models.LoadDraftDelivery(tx, tenantId, id)
		if err != nil {
			return err
		}
		if err := draft.AddLine(tx, input); err != nil {
			return err
		}
		lines = draft.Lines()
		return nil
	})
	if err != nil {
		e.logRejection("AddDeliveryLine", input, err)
		return nil, err
	}
	return lines, nil
}
