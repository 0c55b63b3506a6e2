package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/threadworks/erp_backend/models"
	"gopkg.in/yaml.v3"
)

// seedFile is the YAML layout of master data loaded by `ledgerctl seed`.
// Quantities and rates are strings so that they stay exact.
type seedFile struct {
	Warehouses []struct {
		Code    string   `yaml:"code"`
		Name    string   `yaml:"name"`
		Address string   `yaml:"address"`
		Bins    []string `yaml:"bins"`
	} `yaml:"warehouses"`
	Materials []models.NewMaterial `yaml:"materials"`
	Products  []models.NewProduct  `yaml:"products"`
	Periods   []struct {
		Name      string `yaml:"name"`
		StartDate string `yaml:"start_date"`
		EndDate   string `yaml:"end_date"`
	} `yaml:"periods"`
	Boms []seedBom `yaml:"boms"`
}

type seedBom struct {
	ProductSku    string `yaml:"product_sku"`
	Version       int    `yaml:"version"`
	EffectiveFrom string `yaml:"effective_from"`
	BaseQuantity  string `yaml:"base_quantity"`
	YieldPct      string `yaml:"yield_pct"`
	Stages        []struct {
		Code     string `yaml:"code"`
		Overhead string `yaml:"overhead_rate_per_unit"`
	} `yaml:"stages"`
	Lines []struct {
		MaterialSku    string `yaml:"material_sku"`
		SubAssemblySku string `yaml:"sub_assembly_sku"`
		QtyPer         string `yaml:"qty_per"`
		ScrapPct       string `yaml:"scrap_pct"`
		Stage          string `yaml:"stage"`
	} `yaml:"lines"`
}

// seedSummary counts what a seed run created.
type seedSummary struct {
	Warehouses, Bins, Materials, Products, Periods, Boms, BomLines int
}

var seedPath string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load master data (warehouses, items, periods, BOMs) from YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := tenantContext(cmd)
		if err != nil {
			return err
		}
		f, err := os.Open(seedPath)
		if err != nil {
			return err
		}
		defer f.Close()
		seed, err := loadSeed(f)
		if err != nil {
			return err
		}
		summary, err := applySeed(ctx, seed)
		if err != nil {
			return err
		}
		return printJSON(cmd, summary)
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedPath, "file", "f", "seed.yaml", "seed file")
	rootCmd.AddCommand(seedCmd)
}

func loadSeed(r io.Reader) (*seedFile, error) {
	var seed seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &seed, nil
}

func parseDate(field, v string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %q is not YYYY-MM-DD", field, v)
	}
	return t, nil
}

func parseDecimal(field, v string, def decimal.Decimal) (decimal.Decimal, error) {
	if v == "" {
		return def, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %q is not a number", field, v)
	}
	return d, nil
}

// applySeed creates everything in dependency order: locations, items, periods, then BOMs.
func applySeed(ctx context.Context, seed *seedFile) (*seedSummary, error) {
	var sum seedSummary
	for _, w := range seed.Warehouses {
		warehouse, err := models.CreateWarehouse(ctx, &models.NewWarehouse{Code: w.Code, Name: w.Name, Address: w.Address})
		if err != nil {
			return nil, fmt.Errorf("warehouse %s: %w", w.Code, err)
		}
		sum.Warehouses++
		for _, code := range w.Bins {
			if _, err := models.CreateBin(ctx, &models.NewBin{WarehouseId: warehouse.ID, Code: code}); err != nil {
				return nil, fmt.Errorf("bin %s/%s: %w", w.Code, code, err)
			}
			sum.Bins++
		}
	}

	materialIds := make(map[string]int, len(seed.Materials))
	for i := range seed.Materials {
		m, err := models.CreateMaterial(ctx, &seed.Materials[i])
		if err != nil {
			return nil, fmt.Errorf("material %s: %w", seed.Materials[i].Sku, err)
		}
		materialIds[m.Sku] = m.ID
		sum.Materials++
	}
	productIds := make(map[string]int, len(seed.Products))
	for i := range seed.Products {
		p, err := models.CreateProduct(ctx, &seed.Products[i])
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", seed.Products[i].Sku, err)
		}
		productIds[p.Sku] = p.ID
		sum.Products++
	}

	for _, p := range seed.Periods {
		start, err := parseDate("period start_date", p.StartDate)
		if err != nil {
			return nil, err
		}
		end, err := parseDate("period end_date", p.EndDate)
		if err != nil {
			return nil, err
		}
		if _, err := models.CreateAccountingPeriod(ctx, &models.NewAccountingPeriod{Name: p.Name, StartDate: start, EndDate: end}); err != nil {
			return nil, fmt.Errorf("period %s: %w", p.Name, err)
		}
		sum.Periods++
	}

	for _, b := range seed.Boms {
		n, err := seedBillOfMaterials(ctx, b, materialIds, productIds)
		if err != nil {
			return nil, fmt.Errorf("bom %s v%d: %w", b.ProductSku, b.Version, err)
		}
		sum.Boms++
		sum.BomLines += n
	}
	return &sum, nil
}

func seedBillOfMaterials(ctx context.Context, b seedBom, materialIds, productIds map[string]int) (int, error) {
	productId, ok := productIds[b.ProductSku]
	if !ok {
		return 0, fmt.Errorf("unknown product %s", b.ProductSku)
	}
	from, err := parseDate("effective_from", b.EffectiveFrom)
	if err != nil {
		return 0, err
	}
	base, err := parseDecimal("base_quantity", b.BaseQuantity, decimal.NewFromInt(1))
	if err != nil {
		return 0, err
	}
	yield, err := parseDecimal("yield_pct", b.YieldPct, decimal.NewFromInt(100))
	if err != nil {
		return 0, err
	}
	input := models.NewBillOfMaterials{
		ProductId:     productId,
		Version:       b.Version,
		EffectiveFrom: from,
		BaseQuantity:  base,
		YieldPct:      yield,
	}
	for _, s := range b.Stages {
		rate, err := parseDecimal("overhead_rate_per_unit", s.Overhead, decimal.Zero)
		if err != nil {
			return 0, err
		}
		input.Stages = append(input.Stages, models.NewBomStage{Code: s.Code, OverheadRatePerUnit: rate})
	}
	bom, err := models.CreateBillOfMaterials(ctx, &input)
	if err != nil {
		return 0, err
	}

	for _, l := range b.Lines {
		qty, err := parseDecimal("qty_per", l.QtyPer, decimal.Zero)
		if err != nil {
			return 0, err
		}
		scrap, err := parseDecimal("scrap_pct", l.ScrapPct, decimal.Zero)
		if err != nil {
			return 0, err
		}
		line := models.NewBomLine{QtyPer: qty, ScrapPct: scrap, Stage: l.Stage}
		switch {
		case l.MaterialSku != "":
			id, ok := materialIds[l.MaterialSku]
			if !ok {
				return 0, fmt.Errorf("unknown material %s", l.MaterialSku)
			}
			line.MaterialId = &id
		case l.SubAssemblySku != "":
			id, ok := productIds[l.SubAssemblySku]
			if !ok {
				return 0, fmt.Errorf("unknown sub-assembly %s", l.SubAssemblySku)
			}
			line.SubAssemblyProductId = &id
		default:
			return 0, fmt.Errorf("line at stage %s names neither a material nor a sub-assembly", l.Stage)
		}
		if _, err := models.AddBomLine(ctx, bom.ID, &line); err != nil {
			return 0, err
		}
	}
	return len(b.Lines), nil
}
