package models_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threadworks/erp_backend/models"
	"github.com/threadworks/erp_backend/testutil"
)

func columns(kind models.MovementKind, in, out, cost string) models.LedgerColumns {
	return models.LedgerColumns{
		ItemId:          1,
		TransactionDate: testutil.Date(2026, time.March, 2),
		MovementKind:    kind,
		QtyIn:           testutil.Dec(in),
		QtyOut:          testutil.Dec(out),
		UnitCost:        testutil.Dec(cost),
	}
}

func TestValidateShape(t *testing.T) {
	cases := []struct {
		name string
		cols models.LedgerColumns
		ok   bool
	}{
		{"receipt", columns(models.MovementReceipt, "5", "0", "2"), true},
		{"issue", columns(models.MovementIssue, "0", "5", "2"), true},
		{"both sides", columns(models.MovementReceipt, "5", "5", "2"), false},
		{"neither side", columns(models.MovementReceipt, "0", "0", "2"), false},
		{"negative quantity", columns(models.MovementReceipt, "-1", "0", "2"), false},
		{"negative cost", columns(models.MovementReceipt, "1", "0", "-2"), false},
		{"issue with qty in", columns(models.MovementIssue, "5", "0", "2"), false},
		{"receipt with qty out", columns(models.MovementReceipt, "0", "5", "2"), false},
		{"unknown kind", columns("teleport", "5", "0", "2"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cols.ValidateShape()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, models.ErrInvalidMovement)
			}
		})
	}

	missingItem := columns(models.MovementReceipt, "1", "0", "1")
	missingItem.ItemId = 0
	assert.ErrorIs(t, missingItem.ValidateShape(), models.ErrInvalidMovement)

	missingDate := columns(models.MovementReceipt, "1", "0", "1")
	missingDate.TransactionDate = time.Time{}
	assert.ErrorIs(t, missingDate.ValidateShape(), models.ErrInvalidMovement)
}

func TestFinalizeComputesTotal(t *testing.T) {
	c := columns(models.MovementIssue, "0", "3", "1.3333333")
	c.Finalize()
	assert.NotEmpty(t, c.EntryId)
	assert.True(t, c.UnitCost.Equal(testutil.Dec("1.333333")))
	assert.True(t, c.TotalCost.Equal(testutil.Dec("3.999999")))
	assert.True(t, c.SignedQuantity().Equal(decimal.NewFromInt(-3)))
}

func TestLedgerRowsAreImmutable(t *testing.T) {
	db := testutil.OpenDB(t)

	row := &models.RawMaterialMovement{
		LedgerColumns: columns(models.MovementReceipt, "10", "0", "5"),
		WarehouseId:   1,
	}
	row.TenantId = "tenant-ledger"
	row.SourceDocType = models.SourceDocManual
	row.Finalize()
	require.NoError(t, db.Create(row).Error)

	err := db.Model(row).Update("unit_cost", decimal.NewFromInt(9)).Error
	assert.ErrorIs(t, err, models.ErrLedgerImmutable)

	err = db.Delete(row).Error
	assert.ErrorIs(t, err, models.ErrLedgerImmutable)

	var stored models.RawMaterialMovement
	require.NoError(t, db.Where("entry_id = ?", row.EntryId).Take(&stored).Error)
	assert.True(t, stored.UnitCost.Equal(decimal.NewFromInt(5)))
	assert.True(t, stored.TotalCost.Equal(decimal.NewFromInt(50)))

	wip := &models.WipMovement{LedgerColumns: columns(models.MovementProductionIn, "1", "0", "1"), ProductionOrderId: 1, Stage: "cut"}
	wip.TenantId = "tenant-ledger"
	wip.SourceDocType = models.SourceDocProductionOrder
	wip.Finalize()
	require.NoError(t, db.Create(wip).Error)
	assert.ErrorIs(t, db.Delete(wip).Error, models.ErrLedgerImmutable)
}

func TestComputeBalancesFoldsMovements(t *testing.T) {
	in := &models.RawMaterialMovement{LedgerColumns: columns(models.MovementReceipt, "10", "0", "5"), WarehouseId: 1}
	in.Finalize()
	in2 := &models.RawMaterialMovement{LedgerColumns: columns(models.MovementReceipt, "10", "0", "7"), WarehouseId: 1}
	in2.Finalize()
	out := &models.RawMaterialMovement{LedgerColumns: columns(models.MovementIssue, "0", "5", "6"), WarehouseId: 1}
	out.Finalize()
	elsewhere := &models.RawMaterialMovement{LedgerColumns: columns(models.MovementReceipt, "1", "0", "1"), WarehouseId: 2}
	elsewhere.Finalize()

	balances := models.ComputeBalances("t", []models.Movement{in, in2, out, elsewhere})
	require.Len(t, balances, 2)
	main := balances[0]
	assert.True(t, main.Quantity().Equal(decimal.NewFromInt(15)))
	assert.True(t, main.AverageCost().Equal(decimal.NewFromInt(6)))
	assert.True(t, main.CostOutTotal.Equal(decimal.NewFromInt(30)))
	assert.True(t, main.TotalValue().Equal(decimal.NewFromInt(90)))
	assert.Equal(t, 2, balances[1].WarehouseId)
}

func TestComputeBalancesIgnoresFinishedGoodsOrder(t *testing.T) {
	orderId := 7
	fromOrder := &models.FinishedGoodsMovement{LedgerColumns: columns(models.MovementProductionIn, "4", "0", "12"), WarehouseId: 1, ProductionOrderId: &orderId}
	fromOrder.Finalize()
	bought := &models.FinishedGoodsMovement{LedgerColumns: columns(models.MovementReceipt, "4", "0", "10"), WarehouseId: 1}
	bought.Finalize()

	balances := models.ComputeBalances("t", []models.Movement{fromOrder, bought})
	require.Len(t, balances, 1)
	assert.Equal(t, 0, balances[0].ProductionOrderId)
	assert.True(t, balances[0].AverageCost().Equal(decimal.NewFromInt(11)))
}

func TestBalanceKeyDropsFinishedGoodsOrder(t *testing.T) {
	withOrder := models.BalanceKey("t", models.LedgerFinishedGoods, 3, models.Location{WarehouseId: 1, ProductionOrderId: 9})
	plain := models.BalanceKey("t", models.LedgerFinishedGoods, 3, models.WarehouseLocation(1, 0))
	assert.Equal(t, plain, withOrder)

	stageA := models.BalanceKey("t", models.LedgerWip, 3, models.StageLocation(9, "cut"))
	stageB := models.BalanceKey("t", models.LedgerWip, 3, models.StageLocation(9, "sew"))
	assert.NotEqual(t, stageA, stageB)
}

func TestGetBalanceOfUnknownKeyIsZero(t *testing.T) {
	db := testutil.OpenDB(t)
	snap, err := models.GetBalance(db, "tenant-ledger", models.LedgerRawMaterial, 42, models.WarehouseLocation(1, 0))
	require.NoError(t, err)
	assert.True(t, snap.Quantity.IsZero())
	assert.True(t, snap.AverageUnitCost.IsZero())
	assert.Nil(t, snap.LastMovementAt)
}
