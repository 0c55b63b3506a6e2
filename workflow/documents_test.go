package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threadworks/erp_backend/models"
	"github.com/threadworks/erp_backend/testutil"
)

func TestAdjustmentAboveThresholdNeedsApproval(t *testing.T) {
	e, f := newTestEngine(t, "tenant-docs")
	cloth := f.Material(t, "Cloth")
	receiveRM(t, e, f.Ctx, cloth.ID, f.Main.ID, "100", "20", 1)

	adj, err := models.CreateInventoryAdjustment(f.Ctx, &models.NewInventoryAdjustment{
		Ledger:         models.LedgerRawMaterial,
		WarehouseId:    f.Main.ID,
		AdjustmentDate: march(10),
		Reason:         "stock count",
		Details:        []models.NewInventoryAdjustmentDetail{{ItemId: cloth.ID, QtyVariance: testutil.Dec("-60")}},
	})
	require.NoError(t, err)

	// 60 x 20 = 1200 is over the default 1000 threshold
	_, err = e.PostInventoryAdjustment(f.Ctx, adj.ID)
	assert.ErrorIs(t, err, models.ErrApprovalRequired)

	approved, err := e.ApproveInventoryAdjustment(f.Ctx, adj.ID)
	require.NoError(t, err)
	require.NotNil(t, approved.ApprovedAt)
	assert.Equal(t, "tester", *approved.ApprovedBy)

	_, err = e.AddInventoryAdjustmentLine(f.Ctx, adj.ID, models.NewInventoryAdjustmentDetail{ItemId: cloth.ID, QtyVariance: testutil.Dec("-1")})
	var state *models.InvalidDocumentStateError
	require.True(t, errors.As(err, &state), "got %v", err)
	assert.Equal(t, "approved", state.Status)

	posted, err := e.PostInventoryAdjustment(f.Ctx, adj.ID)
	require.NoError(t, err)
	require.Len(t, posted.EntryIds(), 1)
	assert.Equal(t, models.DocumentStatusPosted, posted.Document().Status)

	snap, err := e.GetBalance(f.Ctx, models.LedgerRawMaterial, cloth.ID, models.WarehouseLocation(f.Main.ID, 0))
	require.NoError(t, err)
	assertDec(t, "40", snap.Quantity)
	assertDec(t, "20", snap.AverageUnitCost)

	_, err = e.PostInventoryAdjustment(f.Ctx, adj.ID)
	require.True(t, errors.As(err, &state), "got %v", err)
	assert.Equal(t, string(models.DocumentStatusPosted), state.Status)
}

func TestAdjustmentGainWithoutCostUsesAverage(t *testing.T) {
	e, f := newTestEngine(t, "tenant-docs")
	cloth := f.Material(t, "Cloth")
	receiveRM(t, e, f.Ctx, cloth.ID, f.Main.ID, "10", "8", 1)

	adj, err := models.CreateInventoryAdjustment(f.Ctx, &models.NewInventoryAdjustment{
		Ledger:         models.LedgerRawMaterial,
		WarehouseId:    f.Main.ID,
		AdjustmentDate: march(10),
	})
	require.NoError(t, err)
	lines, err := e.AddInventoryAdjustmentLine(f.Ctx, adj.ID, models.NewInventoryAdjustmentDetail{ItemId: cloth.ID, QtyVariance: testutil.Dec("5")})
	require.NoError(t, err)
	require.Len(t, lines, 1)

	_, err = e.PostInventoryAdjustment(f.Ctx, adj.ID)
	require.NoError(t, err)

	history, err := e.LedgerHistory(f.Ctx, models.LedgerRawMaterial, cloth.ID, models.WarehouseLocation(f.Main.ID, 0))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.MovementAdjustmentIn, history[1].MovementKind)
	assert.Equal(t, models.SourceDocAdjustment, history[1].SourceDocType)
	assert.Equal(t, adj.ID, history[1].SourceDocId)
	assertDec(t, "8", history[1].UnitCost)
}

func TestEmptyDocumentCannotPost(t *testing.T) {
	e, f := newTestEngine(t, "tenant-docs")

	adj, err := models.CreateInventoryAdjustment(f.Ctx, &models.NewInventoryAdjustment{
		Ledger:         models.LedgerRawMaterial,
		WarehouseId:    f.Main.ID,
		AdjustmentDate: march(10),
	})
	require.NoError(t, err)
	_, err = e.PostInventoryAdjustment(f.Ctx, adj.ID)
	assert.ErrorIs(t, err, models.ErrInvalidMovement)

	dlv, err := models.CreateDelivery(f.Ctx, &models.NewDelivery{WarehouseId: f.Main.ID, DeliveryDate: march(10)})
	require.NoError(t, err)
	_, err = e.PostDelivery(f.Ctx, dlv.ID)
	assert.ErrorIs(t, err, models.ErrInvalidMovement)
}

func TestGoodsReceiptPriceVariance(t *testing.T) {
	e, f := newTestEngine(t, "tenant-docs")
	cloth := f.Material(t, "Cloth")

	grn, err := models.CreateGoodsReceipt(f.Ctx, &models.NewGoodsReceipt{
		SupplierName:        "Mill Co",
		PurchaseOrderNumber: "PO-100",
		WarehouseId:         f.Main.ID,
		ReceiptDate:         march(4),
		Details: []models.NewGoodsReceiptDetail{{
			PurchaseOrderLineRef:  "PO-100/1",
			MaterialId:            cloth.ID,
			Quantity:              testutil.Dec("10"),
			UnitCost:              testutil.Dec("10.6"),
			PurchaseOrderUnitCost: testutil.Dec("10"),
		}},
	})
	require.NoError(t, err)

	_, err = e.PostGoodsReceipt(f.Ctx, grn.ID)
	var variance *models.PriceVarianceExceededError
	require.True(t, errors.As(err, &variance), "got %v", err)
	assertDec(t, "6", variance.VariancePct)
	assertDec(t, "5", variance.TolerancePct)

	_, err = e.ApproveGoodsReceiptVariance(f.Ctx, grn.ID)
	require.NoError(t, err)

	posted, err := e.PostGoodsReceipt(f.Ctx, grn.ID)
	require.NoError(t, err)
	require.Len(t, posted.EntryIds(), 1)

	snap, err := e.GetBalance(f.Ctx, models.LedgerRawMaterial, cloth.ID, models.WarehouseLocation(f.Main.ID, 0))
	require.NoError(t, err)
	assertDec(t, "10", snap.Quantity)
	assertDec(t, "10.6", snap.AverageUnitCost)

	events, err := models.GetLedgerOutboxStatus(f.Ctx, models.SourceDocGoodsReceipt, grn.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.OutboxPublishStatusPending, events[0].PublishStatus)
	assert.Equal(t, posted.EntryIds()[0], events[0].EntryId)
}

func TestGoodsReceiptWithinTolerancePosts(t *testing.T) {
	e, f := newTestEngine(t, "tenant-docs")
	cloth := f.Material(t, "Cloth")

	grn, err := models.CreateGoodsReceipt(f.Ctx, &models.NewGoodsReceipt{WarehouseId: f.Main.ID, ReceiptDate: march(4)})
	require.NoError(t, err)
	_, err = e.AddGoodsReceiptLine(f.Ctx, grn.ID, models.NewGoodsReceiptDetail{
		MaterialId:            cloth.ID,
		Quantity:              testutil.Dec("5"),
		UnitCost:              testutil.Dec("10.4"),
		PurchaseOrderUnitCost: testutil.Dec("10"),
	})
	require.NoError(t, err)

	_, err = e.PostGoodsReceipt(f.Ctx, grn.ID)
	require.NoError(t, err)

	_, err = e.CancelGoodsReceipt(f.Ctx, grn.ID)
	var state *models.InvalidDocumentStateError
	assert.True(t, errors.As(err, &state), "a posted receipt cannot be cancelled")
}

func TestTransferMovesValueAtAverageCost(t *testing.T) {
	e, f := newTestEngine(t, "tenant-docs")
	cloth := f.Material(t, "Cloth")
	receiveRM(t, e, f.Ctx, cloth.ID, f.Main.ID, "10", "5", 1)
	receiveRM(t, e, f.Ctx, cloth.ID, f.Main.ID, "10", "7", 2)

	to, err := models.CreateTransferOrder(f.Ctx, &models.NewTransferOrder{
		Ledger:                 models.LedgerRawMaterial,
		SourceWarehouseId:      f.Main.ID,
		DestinationWarehouseId: f.Store.ID,
		TransferDate:           march(5),
		Details:                []models.NewTransferOrderDetail{{ItemId: cloth.ID, Quantity: testutil.Dec("4")}},
	})
	require.NoError(t, err)

	posted, err := e.PostTransferOrder(f.Ctx, to.ID)
	require.NoError(t, err)
	lines := posted.Lines()
	require.Len(t, lines, 1)
	assertDec(t, "6", lines[0].UnitCost)
	require.NotNil(t, lines[0].OutEntryId)
	require.NotNil(t, lines[0].InEntryId)

	source, err := e.GetBalance(f.Ctx, models.LedgerRawMaterial, cloth.ID, models.WarehouseLocation(f.Main.ID, 0))
	require.NoError(t, err)
	dest, err := e.GetBalance(f.Ctx, models.LedgerRawMaterial, cloth.ID, models.WarehouseLocation(f.Store.ID, 0))
	require.NoError(t, err)
	assertDec(t, "16", source.Quantity)
	assertDec(t, "4", dest.Quantity)
	assertDec(t, "6", dest.AverageUnitCost)
	assertDec(t, "120", source.TotalValue.Add(dest.TotalValue))
}

func TestTransferShortLeavesDraft(t *testing.T) {
	e, f := newTestEngine(t, "tenant-docs")
	cloth := f.Material(t, "Cloth")
	thread := f.Material(t, "Thread")
	receiveRM(t, e, f.Ctx, cloth.ID, f.Main.ID, "10", "5", 1)
	receiveRM(t, e, f.Ctx, thread.ID, f.Main.ID, "1", "2", 1)

	to, err := models.CreateTransferOrder(f.Ctx, &models.NewTransferOrder{
		Ledger:                 models.LedgerRawMaterial,
		SourceWarehouseId:      f.Main.ID,
		DestinationWarehouseId: f.Store.ID,
		TransferDate:           march(5),
		Details: []models.NewTransferOrderDetail{
			{ItemId: cloth.ID, Quantity: testutil.Dec("4")},
			{ItemId: thread.ID, Quantity: testutil.Dec("3")},
		},
	})
	require.NoError(t, err)

	_, err = e.PostTransferOrder(f.Ctx, to.ID)
	var short *models.InsufficientStockError
	require.True(t, errors.As(err, &short), "got %v", err)
	assert.Equal(t, thread.ID, short.ItemId)

	// the cloth line was rolled back with the thread line
	source, err := e.GetBalance(f.Ctx, models.LedgerRawMaterial, cloth.ID, models.WarehouseLocation(f.Main.ID, 0))
	require.NoError(t, err)
	assertDec(t, "10", source.Quantity)

	doc, err := models.GetTransferOrder(f.Ctx, to.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusDraft, doc.Status)

	_, err = models.CreateTransferOrder(f.Ctx, &models.NewTransferOrder{
		Ledger:                 models.LedgerRawMaterial,
		SourceWarehouseId:      f.Main.ID,
		DestinationWarehouseId: f.Main.ID,
		TransferDate:           march(5),
	})
	assert.Error(t, err)
}

func TestDeliveryIssuesAtAverageCost(t *testing.T) {
	e, f := newTestEngine(t, "tenant-docs")
	shirt := f.Product(t, "Shirt")
	receiveFG(t, e, f.Ctx, shirt.ID, f.Main.ID, "4", "10", 1)
	receiveFG(t, e, f.Ctx, shirt.ID, f.Main.ID, "4", "14", 2)

	dlv, err := models.CreateDelivery(f.Ctx, &models.NewDelivery{
		CustomerName: "Walk-in",
		Channel:      "POS",
		WarehouseId:  f.Main.ID,
		DeliveryDate: march(6),
	})
	require.NoError(t, err)
	_, err = e.AddDeliveryLine(f.Ctx, dlv.ID, models.NewDeliveryDetail{ProductId: shirt.ID, Quantity: testutil.Dec("3")})
	require.NoError(t, err)

	posted, err := e.PostDelivery(f.Ctx, dlv.ID)
	require.NoError(t, err)
	lines := posted.Lines()
	require.Len(t, lines, 1)
	assertDec(t, "12", lines[0].UnitCost)

	snap, err := e.GetBalance(f.Ctx, models.LedgerFinishedGoods, shirt.ID, models.WarehouseLocation(f.Main.ID, 0))
	require.NoError(t, err)
	assertDec(t, "5", snap.Quantity)
	assertDec(t, "60", snap.TotalValue)
}

func TestCancelledDocumentCannotPost(t *testing.T) {
	e, f := newTestEngine(t, "tenant-docs")
	shirt := f.Product(t, "Shirt")

	dlv, err := models.CreateDelivery(f.Ctx, &models.NewDelivery{
		WarehouseId:  f.Main.ID,
		DeliveryDate: march(6),
		Details:      []models.NewDeliveryDetail{{ProductId: shirt.ID, Quantity: testutil.Dec("1")}},
	})
	require.NoError(t, err)
	cancelled, err := e.CancelDelivery(f.Ctx, dlv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusCancelled, cancelled.Status)

	_, err = e.PostDelivery(f.Ctx, dlv.ID)
	var state *models.InvalidDocumentStateError
	require.True(t, errors.As(err, &state), "got %v", err)
	assert.Equal(t, string(models.DocumentStatusCancelled), state.Status)

	_, err = e.AddDeliveryLine(f.Ctx, dlv.ID, models.NewDeliveryDetail{ProductId: shirt.ID, Quantity: testutil.Dec("1")})
	assert.True(t, errors.As(err, &state))
}

func TestClosedPeriodLeavesDocumentsDraft(t *testing.T) {
	e, f := newTestEngine(t, "tenant-docs")
	cloth := f.Material(t, "Cloth")
	shirt := f.Product(t, "Shirt")
	receiveRM(t, e, f.Ctx, cloth.ID, f.Main.ID, "10", "5", 1)
	receiveFG(t, e, f.Ctx, shirt.ID, f.Main.ID, "4", "10", 1)

	to, err := models.CreateTransferOrder(f.Ctx, &models.NewTransferOrder{
		Ledger:                 models.LedgerRawMaterial,
		SourceWarehouseId:      f.Main.ID,
		DestinationWarehouseId: f.Store.ID,
		TransferDate:           march(5),
		Details:                []models.NewTransferOrderDetail{{ItemId: cloth.ID, Quantity: testutil.Dec("2")}},
	})
	require.NoError(t, err)
	adj, err := models.CreateInventoryAdjustment(f.Ctx, &models.NewInventoryAdjustment{
		Ledger:         models.LedgerRawMaterial,
		WarehouseId:    f.Main.ID,
		AdjustmentDate: march(5),
		Details:        []models.NewInventoryAdjustmentDetail{{ItemId: cloth.ID, QtyVariance: testutil.Dec("-1")}},
	})
	require.NoError(t, err)
	grn, err := models.CreateGoodsReceipt(f.Ctx, &models.NewGoodsReceipt{
		WarehouseId: f.Main.ID,
		ReceiptDate: march(5),
		Details: []models.NewGoodsReceiptDetail{{
			MaterialId:            cloth.ID,
			Quantity:              testutil.Dec("5"),
			UnitCost:              testutil.Dec("5"),
			PurchaseOrderUnitCost: testutil.Dec("5"),
		}},
	})
	require.NoError(t, err)
	dlv, err := models.CreateDelivery(f.Ctx, &models.NewDelivery{
		WarehouseId:  f.Main.ID,
		DeliveryDate: march(5),
		Details:      []models.NewDeliveryDetail{{ProductId: shirt.ID, Quantity: testutil.Dec("1")}},
	})
	require.NoError(t, err)

	_, err = e.ClosePeriod(f.Ctx, f.Period.ID)
	require.NoError(t, err)

	var closed *models.PeriodClosedError
	_, err = e.PostTransferOrder(f.Ctx, to.ID)
	require.True(t, errors.As(err, &closed), "transfer: got %v", err)
	_, err = e.PostInventoryAdjustment(f.Ctx, adj.ID)
	require.True(t, errors.As(err, &closed), "adjustment: got %v", err)
	_, err = e.PostGoodsReceipt(f.Ctx, grn.ID)
	require.True(t, errors.As(err, &closed), "receipt: got %v", err)
	_, err = e.PostDelivery(f.Ctx, dlv.ID)
	require.True(t, errors.As(err, &closed), "delivery: got %v", err)

	gotTransfer, err := models.GetTransferOrder(f.Ctx, to.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusDraft, gotTransfer.Status)
	gotAdj, err := models.GetInventoryAdjustment(f.Ctx, adj.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusDraft, gotAdj.Status)
	gotGrn, err := models.GetGoodsReceipt(f.Ctx, grn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusDraft, gotGrn.Status)
	gotDlv, err := models.GetDelivery(f.Ctx, dlv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusDraft, gotDlv.Status)

	rm, err := e.GetBalance(f.Ctx, models.LedgerRawMaterial, cloth.ID, models.WarehouseLocation(f.Main.ID, 0))
	require.NoError(t, err)
	assertDec(t, "10", rm.Quantity)
	fg, err := e.GetBalance(f.Ctx, models.LedgerFinishedGoods, shirt.ID, models.WarehouseLocation(f.Main.ID, 0))
	require.NoError(t, err)
	assertDec(t, "4", fg.Quantity)
}
