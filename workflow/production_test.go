package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threadworks/erp_backend/models"
	"github.com/threadworks/erp_backend/testutil"
)

func timePtr(t time.Time) *time.Time { return &t }

type shirtLine struct {
	e       *Engine
	f       *testutil.Fixture
	shirt   *models.Product
	cloth   *models.Material
	buttons *models.Material
}

// newShirtLine sets up a two-stage routing: cut uses 2 cloth per shirt, sew
// uses 4 buttons per shirt and absorbs 1.00 of overhead per shirt.
func newShirtLine(t *testing.T) *shirtLine {
	t.Helper()
	e, f := newTestEngine(t, "tenant-mfg")
	s := &shirtLine{e: e, f: f}
	s.shirt = f.Product(t, "Shirt")
	s.cloth = f.Material(t, "Cloth")
	s.buttons = f.Material(t, "Buttons")

	bom, err := models.CreateBillOfMaterials(f.Ctx, &models.NewBillOfMaterials{
		ProductId:     s.shirt.ID,
		EffectiveFrom: testutil.Date(2020, time.January, 1),
		Stages: []models.NewBomStage{
			{Code: "cut"},
			{Code: "sew", OverheadRatePerUnit: testutil.Dec("1")},
		},
	})
	require.NoError(t, err)
	f.MaterialLine(t, bom.ID, s.cloth.ID, "2", "0", "cut")
	f.MaterialLine(t, bom.ID, s.buttons.ID, "4", "0", "sew")

	receiveRM(t, e, f.Ctx, s.cloth.ID, f.Main.ID, "100", "3", 1)
	receiveRM(t, e, f.Ctx, s.buttons.ID, f.Main.ID, "200", "0.5", 1)
	return s
}

func (s *shirtLine) order(t *testing.T, qty string) *models.ProductionOrder {
	t.Helper()
	order, err := models.CreateProductionOrder(s.f.Ctx, &models.NewProductionOrder{
		ProductId:           s.shirt.ID,
		Quantity:            testutil.Dec(qty),
		MaterialWarehouseId: s.f.Main.ID,
		FgWarehouseId:       s.f.Main.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ProductionOrderStatusPlanned, order.Status)
	return order
}

func (s *shirtLine) output(t *testing.T, orderId int, stage, completed, rejected string, day int) *StageOutputResult {
	t.Helper()
	date := march(day)
	res, err := s.e.RecordStageOutput(s.f.Ctx, StageOutputRequest{
		ProductionOrderId: orderId,
		Stage:             stage,
		QtyCompleted:      testutil.Dec(completed),
		QtyRejected:       testutil.Dec(rejected),
		OutputDate:        &date,
	})
	require.NoError(t, err)
	return res
}

func TestProductionRunRollsCostIntoFinishedGoods(t *testing.T) {
	s := newShirtLine(t)
	order := s.order(t, "10")

	plan, err := s.e.ReleaseProductionOrder(s.f.Ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, plan.Shortages())

	_, err = s.e.RecordLaborTime(s.f.Ctx, NewLaborTime{
		ProductionOrderId: order.ID,
		Stage:             "cut",
		Hours:             testutil.Dec("2"),
		HourlyRate:        testutil.Dec("15"),
		WorkDate:          march(3),
	})
	require.NoError(t, err)

	// 20 cloth at 3.00 plus 30.00 labor over 10 shirts
	cut := s.output(t, order.ID, "cut", "10", "0", 3)
	assertDec(t, "60", cut.MaterialCost)
	assertDec(t, "30", cut.LaborCost)
	assertDec(t, "0", cut.OverheadCost)
	assertDec(t, "9", cut.UnitCost)
	assert.Equal(t, models.LedgerWip, cut.OutputLedger)
	assert.Empty(t, cut.CarryOutEntryId)
	assert.Equal(t, models.ProductionOrderStatusInProgress, cut.Status)

	// 90.00 carried from cut plus 20.00 buttons and 10.00 overhead
	sew := s.output(t, order.ID, "sew", "10", "0", 4)
	assertDec(t, "20", sew.MaterialCost)
	assertDec(t, "10", sew.OverheadCost)
	assertDec(t, "12", sew.UnitCost)
	assertDec(t, "0", sew.RejectedCost)
	assert.NotEmpty(t, sew.CarryOutEntryId)
	assert.Equal(t, models.LedgerFinishedGoods, sew.OutputLedger)
	assert.Equal(t, models.ProductionOrderStatusCompleted, sew.Status)

	fg, err := s.e.GetBalance(s.f.Ctx, models.LedgerFinishedGoods, s.shirt.ID, models.WarehouseLocation(s.f.Main.ID, 0))
	require.NoError(t, err)
	assertDec(t, "10", fg.Quantity)
	assertDec(t, "12", fg.AverageUnitCost)

	wip, err := s.e.GetBalance(s.f.Ctx, models.LedgerWip, s.shirt.ID, models.StageLocation(order.ID, "cut"))
	require.NoError(t, err)
	assertDec(t, "0", wip.Quantity)
	assertDec(t, "0", wip.TotalValue)

	cloth, err := s.e.GetBalance(s.f.Ctx, models.LedgerRawMaterial, s.cloth.ID, models.WarehouseLocation(s.f.Main.ID, 0))
	require.NoError(t, err)
	assertDec(t, "80", cloth.Quantity)

	done, err := models.GetProductionOrder(s.f.Ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProductionOrderStatusCompleted, done.Status)
	assertDec(t, "10", done.QtyCompleted)
	for _, r := range done.Reservations {
		assertDec(t, r.QtyRequired.String(), r.QtyIssued)
	}

	discrepancies, err := s.e.VerifyBalances(s.f.Ctx)
	require.NoError(t, err)
	assert.Empty(t, discrepancies)
}

func TestRejectedUnitsWriteOffTheirCost(t *testing.T) {
	s := newShirtLine(t)
	order := s.order(t, "10")
	_, err := s.e.ReleaseProductionOrder(s.f.Ctx, order.ID)
	require.NoError(t, err)

	s.output(t, order.ID, "cut", "10", "0", 3)

	// no labor on cut, so 10 leave it at 6.00; 2 are scrapped and 8 sew shirts
	// carry 48.00 plus 16.00 of buttons and 8.00 overhead
	sew := s.output(t, order.ID, "sew", "8", "2", 4)
	assertDec(t, "12", sew.RejectedCost)
	assertDec(t, "16", sew.MaterialCost)
	assertDec(t, "0", sew.LaborCost)
	assertDec(t, "8", sew.OverheadCost)
	assertDec(t, "9", sew.UnitCost)
	assert.Equal(t, models.ProductionOrderStatusInProgress, sew.Status)

	buttons, err := s.e.GetBalance(s.f.Ctx, models.LedgerRawMaterial, s.buttons.ID, models.WarehouseLocation(s.f.Main.ID, 0))
	require.NoError(t, err)
	assertDec(t, "168", buttons.Quantity)

	_, err = s.e.RecordStageOutput(s.f.Ctx, StageOutputRequest{
		ProductionOrderId: order.ID,
		Stage:             "sew",
		QtyCompleted:      testutil.Dec("1"),
		OutputDate:        timePtr(march(5)),
	})
	assert.ErrorIs(t, err, models.ErrInvalidMovement, "sew already accounts for all 10 units")

	closed, err := s.e.CompleteProductionOrder(s.f.Ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProductionOrderStatusCompleted, closed.Status)
	assertDec(t, "2", closed.QtyRejected)
}

func TestStageOutputNeedsReleasedOrder(t *testing.T) {
	s := newShirtLine(t)
	order := s.order(t, "5")

	_, err := s.e.RecordStageOutput(s.f.Ctx, StageOutputRequest{
		ProductionOrderId: order.ID,
		Stage:             "cut",
		QtyCompleted:      testutil.Dec("1"),
		OutputDate:        timePtr(march(3)),
	})
	var state *models.InvalidDocumentStateError
	require.True(t, errors.As(err, &state), "got %v", err)
	assert.Equal(t, string(models.ProductionOrderStatusPlanned), state.Status)

	_, err = s.e.CompleteProductionOrder(s.f.Ctx, order.ID)
	require.True(t, errors.As(err, &state), "got %v", err)

	_, err = s.e.ReleaseProductionOrder(s.f.Ctx, order.ID)
	require.NoError(t, err)
	_, err = s.e.RecordStageOutput(s.f.Ctx, StageOutputRequest{
		ProductionOrderId: order.ID,
		Stage:             "press",
		QtyCompleted:      testutil.Dec("1"),
		OutputDate:        timePtr(march(3)),
	})
	assert.ErrorIs(t, err, models.ErrInvalidMovement)

	cancelled, err := s.e.CancelProductionOrder(s.f.Ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProductionOrderStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	_, err = s.e.CancelProductionOrder(s.f.Ctx, order.ID)
	require.True(t, errors.As(err, &state), "got %v", err)
	assert.Equal(t, string(models.ProductionOrderStatusCancelled), state.Status)

	_, err = s.e.RecordLaborTime(s.f.Ctx, NewLaborTime{
		ProductionOrderId: order.ID,
		Stage:             "cut",
		Hours:             testutil.Dec("1"),
		HourlyRate:        testutil.Dec("10"),
		WorkDate:          march(3),
	})
	assert.True(t, errors.As(err, &state))
}

func TestReleaseNetsOtherOrdersReservations(t *testing.T) {
	s := newShirtLine(t)
	// 30 shirts need 60 cloth and 120 buttons per order; 100 cloth and 200 buttons are on hand
	first := s.order(t, "30")
	second := s.order(t, "30")

	_, err := s.e.ReleaseProductionOrder(s.f.Ctx, first.ID)
	require.NoError(t, err)

	_, err = s.e.ReleaseProductionOrder(s.f.Ctx, second.ID)
	var shortage *models.MaterialShortageError
	require.True(t, errors.As(err, &shortage), "got %v", err)
	assert.Equal(t, second.ID, shortage.OrderId)
	require.Len(t, shortage.Lines, 2)
	short := map[int]models.MrpLine{}
	for _, l := range shortage.Lines {
		short[l.MaterialId] = l
	}
	cloth := short[s.cloth.ID]
	assert.Equal(t, models.MrpActionPartial, cloth.Action)
	assertDec(t, "60", cloth.Reserved)
	assertDec(t, "40", cloth.Available)
	assertDec(t, "20", cloth.NetRequirement)
	assertDec(t, "40", short[s.buttons.ID].NetRequirement)

	still, err := models.GetProductionOrder(s.f.Ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProductionOrderStatusPlanned, still.Status)
	assert.Empty(t, still.Reservations)

	plans, err := s.e.PlanOrders(s.f.Ctx, []int{first.ID, second.ID})
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, first.ID, plans[0].ProductionOrderId)
	assert.Empty(t, plans[0].Shortages(), "an order's own reservations do not count against it")
	assert.Len(t, plans[1].Shortages(), 2)
}

func TestReleaseWithNoStockAsksForPurchase(t *testing.T) {
	e, f := newTestEngine(t, "tenant-mfg")
	scarf := f.Product(t, "Scarf")
	wool := f.Material(t, "Wool")
	bom := f.Bom(t, scarf.ID, "knit")
	f.MaterialLine(t, bom.ID, wool.ID, "1.5", "0", "knit")

	order, err := models.CreateProductionOrder(f.Ctx, &models.NewProductionOrder{
		ProductId:           scarf.ID,
		Quantity:            testutil.Dec("4"),
		MaterialWarehouseId: f.Main.ID,
		FgWarehouseId:       f.Store.ID,
	})
	require.NoError(t, err)

	plan, err := e.PlanOrder(f.Ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, plan.Lines, 1)
	assert.Equal(t, models.MrpActionPurchase, plan.Lines[0].Action)
	assertDec(t, "6", plan.Lines[0].NetRequirement)

	_, err = e.ReleaseProductionOrder(f.Ctx, order.ID)
	var shortage *models.MaterialShortageError
	assert.True(t, errors.As(err, &shortage), "got %v", err)
}

func TestOrderWithoutBomIsRefused(t *testing.T) {
	_, f := newTestEngine(t, "tenant-mfg")
	hat := f.Product(t, "Hat")
	_, err := models.CreateProductionOrder(f.Ctx, &models.NewProductionOrder{
		ProductId:           hat.ID,
		Quantity:            testutil.Dec("1"),
		MaterialWarehouseId: f.Main.ID,
		FgWarehouseId:       f.Main.ID,
	})
	assert.ErrorIs(t, err, models.ErrBomNotFound)
}

// hookedLocker runs before once, ahead of the next lock request.
type hookedLocker struct {
	Locker
	before func()
}

func (l *hookedLocker) Obtain(ctx context.Context, keys []string) (func(), error) {
	if hook := l.before; hook != nil {
		l.before = nil
		hook()
	}
	return l.Locker.Obtain(ctx, keys)
}

func TestStageOutputRetriesWhenBinsChangeBeforeLock(t *testing.T) {
	s := newShirtLine(t)
	order := s.order(t, "10")
	_, err := s.e.ReleaseProductionOrder(s.f.Ctx, order.ID)
	require.NoError(t, err)

	// cloth lands in a bin the key pre-read has not seen
	s.e.Locker = &hookedLocker{Locker: s.e.Locker, before: func() {
		_, err := s.e.ReceiveMaterial(s.f.Ctx, StockMovementRequest{
			ItemId:          s.cloth.ID,
			WarehouseId:     s.f.Main.ID,
			BinId:           s.f.MainBin.ID,
			Quantity:        testutil.Dec("10"),
			UnitCost:        testutil.Dec("3"),
			TransactionDate: march(2),
		})
		require.NoError(t, err)
	}}

	_, err = s.e.RecordStageOutput(s.f.Ctx, StageOutputRequest{
		ProductionOrderId: order.ID,
		Stage:             "cut",
		QtyCompleted:      testutil.Dec("10"),
		OutputDate:        timePtr(march(3)),
	})
	assert.ErrorIs(t, err, models.ErrConcurrentUpdate)

	still, err := models.GetProductionOrder(s.f.Ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProductionOrderStatusReleased, still.Status)
	for _, r := range still.Reservations {
		assert.True(t, r.QtyIssued.IsZero(), "material %d was issued", r.MaterialId)
	}

	cut := s.output(t, order.ID, "cut", "10", "0", 3)
	assertDec(t, "60", cut.MaterialCost)
	after, err := models.GetProductionOrder(s.f.Ctx, order.ID)
	require.NoError(t, err)
	for _, r := range after.Reservations {
		if r.MaterialId == s.cloth.ID {
			assertDec(t, "20", r.QtyIssued)
		}
	}
}

func TestClosedPeriodBlocksStageOutput(t *testing.T) {
	s := newShirtLine(t)
	order := s.order(t, "10")
	_, err := s.e.ReleaseProductionOrder(s.f.Ctx, order.ID)
	require.NoError(t, err)
	_, err = s.e.ClosePeriod(s.f.Ctx, s.f.Period.ID)
	require.NoError(t, err)

	_, err = s.e.RecordStageOutput(s.f.Ctx, StageOutputRequest{
		ProductionOrderId: order.ID,
		Stage:             "cut",
		QtyCompleted:      testutil.Dec("10"),
		OutputDate:        timePtr(march(3)),
	})
	var closed *models.PeriodClosedError
	require.True(t, errors.As(err, &closed), "got %v", err)

	still, err := models.GetProductionOrder(s.f.Ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProductionOrderStatusReleased, still.Status)
	require.NotEmpty(t, still.Reservations)
	for _, r := range still.Reservations {
		assert.True(t, r.QtyIssued.IsZero(), "material %d was issued", r.MaterialId)
	}
	snap, err := s.e.GetBalance(s.f.Ctx, models.LedgerRawMaterial, s.cloth.ID, models.WarehouseLocation(s.f.Main.ID, 0))
	require.NoError(t, err)
	assertDec(t, "100", snap.Quantity)
}

func TestOrderExplodesOnItsBomDate(t *testing.T) {
	e, f := newTestEngine(t, "tenant-mfg")
	shirt := f.Product(t, "Shirt")
	collar := f.Product(t, "Collar")
	cloth := f.Material(t, "Cloth")

	shirtBom := f.Bom(t, shirt.ID, "sew")
	collarV1 := f.Bom(t, collar.ID, "cut")
	f.MaterialLine(t, collarV1.ID, cloth.ID, "1", "0", "cut")
	collarV2, err := models.CreateBillOfMaterials(f.Ctx, &models.NewBillOfMaterials{
		ProductId:     collar.ID,
		EffectiveFrom: testutil.Date(2025, time.June, 1),
		Stages:        []models.NewBomStage{{Code: "cut"}},
	})
	require.NoError(t, err)
	f.MaterialLine(t, collarV2.ID, cloth.ID, "3", "0", "cut")
	require.NoError(t, f.SubAssemblyLine(t, shirtBom.ID, collar.ID, "1", "0", "sew"))

	bomDate := testutil.Date(2025, time.March, 10)
	order, err := models.CreateProductionOrder(f.Ctx, &models.NewProductionOrder{
		ProductId:           shirt.ID,
		Quantity:            testutil.Dec("5"),
		MaterialWarehouseId: f.Main.ID,
		FgWarehouseId:       f.Main.ID,
		BomDate:             &bomDate,
	})
	require.NoError(t, err)
	stored, err := models.GetProductionOrder(f.Ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-10", stored.BomDate.Format("2006-01-02"))

	// the collar's June version must not leak into a March order
	plan, err := e.PlanOrder(f.Ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, plan.Lines, 1)
	assert.Equal(t, cloth.ID, plan.Lines[0].MaterialId)
	assertDec(t, "5", plan.Lines[0].GrossRequirement)
}

func TestFullyReservedStockIsPartial(t *testing.T) {
	e, f := newTestEngine(t, "tenant-mfg")
	scarf := f.Product(t, "Scarf")
	wool := f.Material(t, "Wool")
	bom := f.Bom(t, scarf.ID, "knit")
	f.MaterialLine(t, bom.ID, wool.ID, "1.5", "0", "knit")
	receiveRM(t, e, f.Ctx, wool.ID, f.Main.ID, "6", "4", 1)

	newOrder := func() *models.ProductionOrder {
		order, err := models.CreateProductionOrder(f.Ctx, &models.NewProductionOrder{
			ProductId:           scarf.ID,
			Quantity:            testutil.Dec("4"),
			MaterialWarehouseId: f.Main.ID,
			FgWarehouseId:       f.Store.ID,
		})
		require.NoError(t, err)
		return order
	}
	first, second := newOrder(), newOrder()
	_, err := e.ReleaseProductionOrder(f.Ctx, first.ID)
	require.NoError(t, err)

	// wool is on hand but all of it is held by the first order
	plan, err := e.PlanOrder(f.Ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, plan.Lines, 1)
	line := plan.Lines[0]
	assert.Equal(t, models.MrpActionPartial, line.Action)
	assertDec(t, "6", line.OnHand)
	assertDec(t, "0", line.Available)
	assertDec(t, "6", line.NetRequirement)

	_, err = e.ReleaseProductionOrder(f.Ctx, second.ID)
	var shortage *models.MaterialShortageError
	assert.True(t, errors.As(err, &shortage), "got %v", err)
}
