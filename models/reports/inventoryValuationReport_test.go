package reports_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threadworks/erp_backend/config"
	"github.com/threadworks/erp_backend/models"
	"github.com/threadworks/erp_backend/models/reports"
	"github.com/threadworks/erp_backend/testutil"
	"github.com/threadworks/erp_backend/workflow"
	"github.com/xuri/excelize/v2"
)

type stocked struct {
	f     *testutil.Fixture
	e     *workflow.Engine
	cloth *models.Material
	shirt *models.Product
}

func stockUp(t *testing.T) *stocked {
	t.Helper()
	testutil.OpenDB(t)
	f := testutil.NewFixture(t, "tenant-report")
	s := &stocked{f: f, e: workflow.NewEngine(config.LoadSettings())}
	s.cloth = f.Material(t, "Cloth")
	s.shirt = f.Product(t, "Shirt")

	_, err := s.e.ReceiveMaterial(f.Ctx, workflow.StockMovementRequest{
		ItemId: s.cloth.ID, WarehouseId: f.Main.ID,
		Quantity: testutil.Dec("10"), UnitCost: testutil.Dec("5"),
		TransactionDate: testutil.Date(2026, time.March, 1),
	})
	require.NoError(t, err)
	_, err = s.e.ReceiveFinishedGoods(f.Ctx, workflow.StockMovementRequest{
		ItemId: s.shirt.ID, WarehouseId: f.Store.ID,
		Quantity: testutil.Dec("4"), UnitCost: testutil.Dec("10"),
		TransactionDate: testutil.Date(2026, time.March, 2),
	})
	require.NoError(t, err)
	return s
}

func TestInventoryValuationReport(t *testing.T) {
	s := stockUp(t)

	report, err := reports.GetInventoryValuationReport(s.f.Ctx, "")
	require.NoError(t, err)
	require.Len(t, report.Rows, 2)

	rm := report.Rows[0]
	assert.Equal(t, models.LedgerRawMaterial, rm.Ledger)
	assert.Equal(t, "RM-001", rm.Sku)
	assert.Equal(t, "Cloth", rm.ItemName)
	assert.Equal(t, "MAIN", rm.WarehouseCode)
	assert.True(t, rm.TotalValue.Equal(testutil.Dec("50")))

	fg := report.Rows[1]
	assert.Equal(t, models.LedgerFinishedGoods, fg.Ledger)
	assert.Equal(t, "STORE", fg.WarehouseCode)
	assert.True(t, fg.AverageUnitCost.Equal(testutil.Dec("10")))

	assert.True(t, report.GrandTotal.Equal(testutil.Dec("90")))
	assert.True(t, report.LedgerTotal[models.LedgerFinishedGoods].Equal(testutil.Dec("40")))

	onlyFG, err := reports.GetInventoryValuationReport(s.f.Ctx, models.LedgerFinishedGoods)
	require.NoError(t, err)
	require.Len(t, onlyFG.Rows, 1)
	assert.Equal(t, s.shirt.ID, onlyFG.Rows[0].ItemId)

	other, err := reports.GetInventoryValuationReport(testutil.TenantContext("someone-else"), "")
	require.NoError(t, err)
	assert.Empty(t, other.Rows)
}

func TestInventoryValuationReportIsCached(t *testing.T) {
	s := stockUp(t)
	mr := miniredis.RunT(t)
	config.SetRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { config.SetRedis(nil) })
	t.Setenv("ENABLE_REPORT_CACHE", "true")

	first, err := reports.GetInventoryValuationReport(s.f.Ctx, "")
	require.NoError(t, err)
	assert.True(t, mr.Exists("report:valuation:tenant-report:"))

	_, err = s.e.ReceiveMaterial(s.f.Ctx, workflow.StockMovementRequest{
		ItemId: s.cloth.ID, WarehouseId: s.f.Main.ID,
		Quantity: testutil.Dec("1"), UnitCost: testutil.Dec("5"),
		TransactionDate: testutil.Date(2026, time.March, 3),
	})
	require.NoError(t, err)

	cached, err := reports.GetInventoryValuationReport(s.f.Ctx, "")
	require.NoError(t, err)
	assert.True(t, cached.GrandTotal.Equal(first.GrandTotal), "served from cache until the TTL runs out")

	mr.FastForward(3 * time.Minute)
	fresh, err := reports.GetInventoryValuationReport(s.f.Ctx, "")
	require.NoError(t, err)
	assert.True(t, fresh.GrandTotal.Equal(testutil.Dec("95")))
}

func TestWriteValuationExcel(t *testing.T) {
	s := stockUp(t)
	report, err := reports.GetInventoryValuationReport(s.f.Ctx, "")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, reports.WriteValuationExcel(report, &buf))

	book, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer book.Close()

	rows, err := book.GetRows("Valuation")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{
		"Ledger", "SKU", "Item", "Warehouse", "Bin", "Production Order", "Stage",
		"Quantity", "Avg Unit Cost", "Total Value", "Last Movement",
	}, rows[0])
	assert.Equal(t, "RM", rows[1][0])
	assert.Equal(t, "Cloth", rows[1][2])
	assert.Equal(t, "10", rows[1][7])
	assert.Equal(t, "2026-03-01", rows[1][10])
	assert.Equal(t, "Grand Total", rows[3][8])
	assert.Equal(t, "90", rows[3][9])
}

func TestValuationObjectName(t *testing.T) {
	assert.Equal(t, "exports/t1/inventory-valuation-20260301T000000Z.xlsx", reports.ValuationObjectName("t1", "20260301T000000Z"))
}
