// Package testutil opens throwaway databases and seeds the master data the
// ledger tests post against.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/threadworks/erp_backend/config"
	"github.com/threadworks/erp_backend/models"
	"github.com/threadworks/erp_backend/utils"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// OpenDB opens a private in-memory SQLite database, migrates it and installs it
// as the global handle. One connection only, so transactions run one at a time.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := config.OpenDatabase(sqlite.Open(dsn))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	previous := config.GetDB()
	config.SetDB(db)
	t.Cleanup(func() {
		config.SetDB(previous)
		_ = sqlDB.Close()
	})
	return db
}

// TenantContext is a request context for tenant with a named user.
func TenantContext(tenantId string) context.Context {
	ctx := utils.SetTenantIdInContext(context.Background(), tenantId)
	return utils.SetUserNameInContext(ctx, "tester")
}

func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Fixture is a minimal tenant: two warehouses, a bin in the first, an open
// period covering 2026 and nothing else.
type Fixture struct {
	Ctx       context.Context
	TenantId  string
	Main      *models.Warehouse
	Store     *models.Warehouse
	MainBin   *models.Bin
	Period    *models.AccountingPeriod
	materials int
	products  int
}

func NewFixture(t testing.TB, tenantId string) *Fixture {
	t.Helper()
	ctx := TenantContext(tenantId)
	f := &Fixture{Ctx: ctx, TenantId: tenantId}
	var err error
	if f.Main, err = models.CreateWarehouse(ctx, &models.NewWarehouse{Code: "MAIN", Name: "Main"}); err != nil {
		t.Fatalf("warehouse: %v", err)
	}
	if f.Store, err = models.CreateWarehouse(ctx, &models.NewWarehouse{Code: "STORE", Name: "Store"}); err != nil {
		t.Fatalf("warehouse: %v", err)
	}
	if f.MainBin, err = models.CreateBin(ctx, &models.NewBin{WarehouseId: f.Main.ID, Code: "A-01"}); err != nil {
		t.Fatalf("bin: %v", err)
	}
	f.Period, err = models.CreateAccountingPeriod(ctx, &models.NewAccountingPeriod{
		Name:      "FY2026",
		StartDate: Date(2026, time.January, 1),
		EndDate:   Date(2026, time.December, 31),
	})
	if err != nil {
		t.Fatalf("period: %v", err)
	}
	return f
}

func (f *Fixture) Material(t testing.TB, name string) *models.Material {
	t.Helper()
	f.materials++
	m, err := models.CreateMaterial(f.Ctx, &models.NewMaterial{Sku: fmt.Sprintf("RM-%03d", f.materials), Name: name, Uom: "m"})
	if err != nil {
		t.Fatalf("material %s: %v", name, err)
	}
	return m
}

func (f *Fixture) Product(t testing.TB, name string) *models.Product {
	t.Helper()
	f.products++
	p, err := models.CreateProduct(f.Ctx, &models.NewProduct{Sku: fmt.Sprintf("FG-%03d", f.products), Name: name, Uom: "pcs"})
	if err != nil {
		t.Fatalf("product %s: %v", name, err)
	}
	return p
}

// Bom creates a version-1 BOM for product with the given stages (no overhead)
// effective since 2020 so that orders created today pick it up.
func (f *Fixture) Bom(t testing.TB, productId int, stages ...string) *models.BillOfMaterials {
	t.Helper()
	input := &models.NewBillOfMaterials{ProductId: productId, EffectiveFrom: Date(2020, time.January, 1)}
	for _, s := range stages {
		input.Stages = append(input.Stages, models.NewBomStage{Code: s})
	}
	bom, err := models.CreateBillOfMaterials(f.Ctx, input)
	if err != nil {
		t.Fatalf("bom: %v", err)
	}
	return bom
}

func (f *Fixture) MaterialLine(t testing.TB, bomId, materialId int, qtyPer, scrapPct, stage string) {
	t.Helper()
	if _, err := models.AddBomLine(f.Ctx, bomId, &models.NewBomLine{
		MaterialId: &materialId,
		QtyPer:     Dec(qtyPer),
		ScrapPct:   Dec(scrapPct),
		Stage:      stage,
	}); err != nil {
		t.Fatalf("bom line: %v", err)
	}
}

func (f *Fixture) SubAssemblyLine(t testing.TB, bomId, productId int, qtyPer, scrapPct, stage string) error {
	t.Helper()
	_, err := models.AddBomLine(f.Ctx, bomId, &models.NewBomLine{
		SubAssemblyProductId: &productId,
		QtyPer:               Dec(qtyPer),
		ScrapPct:             Dec(scrapPct),
		Stage:                stage,
	})
	return err
}
