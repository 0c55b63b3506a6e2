package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threadworks/erp_backend/models"
	"github.com/threadworks/erp_backend/testutil"
)

const shirtSeed = `
warehouses:
  - code: MAIN
    name: Main plant
    bins: [A-01, A-02]
  - code: STORE
    name: Shop floor store
materials:
  - {sku: RM-CLOTH, name: Cloth, uom: m}
  - {sku: RM-BTN, name: Buttons, uom: pcs}
products:
  - {sku: SA-COLLAR, name: Collar, uom: pcs}
  - {sku: FG-SHIRT, name: Shirt, uom: pcs}
periods:
  - {name: FY2026, start_date: "2026-01-01", end_date: "2026-12-31"}
boms:
  - product_sku: SA-COLLAR
    effective_from: "2026-01-01"
    stages:
      - {code: cut}
    lines:
      - {material_sku: RM-CLOTH, qty_per: "0.2", stage: cut}
  - product_sku: FG-SHIRT
    effective_from: "2026-01-01"
    yield_pct: "95"
    stages:
      - {code: cut}
      - {code: sew, overhead_rate_per_unit: "1.5"}
    lines:
      - {material_sku: RM-CLOTH, qty_per: "1.5", scrap_pct: "4", stage: cut}
      - {sub_assembly_sku: SA-COLLAR, qty_per: "1", stage: sew}
      - {material_sku: RM-BTN, qty_per: "6", stage: sew}
`

func TestApplySeed(t *testing.T) {
	testutil.OpenDB(t)
	ctx := testutil.TenantContext("tenant-seed")

	seed, err := loadSeed(strings.NewReader(shirtSeed))
	require.NoError(t, err)
	summary, err := applySeed(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, seedSummary{Warehouses: 2, Bins: 2, Materials: 2, Products: 2, Periods: 1, Boms: 2, BomLines: 4}, *summary)

	materials, err := models.ListMaterials(ctx)
	require.NoError(t, err)
	require.Len(t, materials, 2)
	assert.Equal(t, "RM-BTN", materials[0].Sku)

	periods, err := models.ListAccountingPeriods(ctx)
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, models.PeriodStatusOpen, periods[0].Status)

	products, err := models.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 2)
}

func TestSeedRejectsBadInput(t *testing.T) {
	_, err := loadSeed(strings.NewReader("materials:\n  - {sku: X, name: X, uom: m, colour: red}\n"))
	assert.ErrorContains(t, err, "parse seed")

	testutil.OpenDB(t)
	ctx := testutil.TenantContext("tenant-seed")
	seed, err := loadSeed(strings.NewReader(`
products:
  - {sku: FG-1, name: Thing, uom: pcs}
boms:
  - product_sku: FG-1
    effective_from: "2026-01-01"
    stages: [{code: sew}]
    lines:
      - {material_sku: RM-MISSING, qty_per: "1", stage: sew}
`))
	require.NoError(t, err)
	_, err = applySeed(ctx, seed)
	assert.ErrorContains(t, err, "unknown material RM-MISSING")

	seed, err = loadSeed(strings.NewReader(`
periods:
  - {name: P1, start_date: "01/01/2026", end_date: "2026-01-31"}
`))
	require.NoError(t, err)
	_, err = applySeed(ctx, seed)
	assert.ErrorContains(t, err, "is not YYYY-MM-DD")
}

func TestSeedAndVerifyCommands(t *testing.T) {
	testutil.OpenDB(t)
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(shirtSeed), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	rootCmd.SetArgs([]string{"seed", "--tenant", "tenant-cli", "-f", path})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), `"BomLines": 4`)

	out.Reset()
	rootCmd.SetArgs([]string{"verify-balances", "--tenant", "tenant-cli"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "balances consistent\n", out.String())

	rootCmd.SetArgs([]string{"close-period", "--tenant", "tenant-cli"})
	assert.ErrorContains(t, rootCmd.Execute(), "--period-id is required")
}
