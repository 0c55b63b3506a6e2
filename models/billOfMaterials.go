package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/threadworks/erp_backend/config"
	"github.com/threadworks/erp_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BillOfMaterials is one version of a product's recipe. Quantities on the lines
// produce BaseQuantity units of the product at YieldPct.
type BillOfMaterials struct {
	ID            int             `gorm:"primary_key" json:"id"`
	TenantId      string          `gorm:"size:64;not null;index:uniq_bom_version,unique" json:"tenant_id"`
	ProductId     int             `gorm:"not null;index:uniq_bom_version,unique" json:"product_id"`
	Version       int             `gorm:"not null;index:uniq_bom_version,unique" json:"version"`
	EffectiveFrom time.Time       `gorm:"not null" json:"effective_from"`
	EffectiveTo   *time.Time      `json:"effective_to"`
	BaseQuantity  decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"base_quantity"`
	YieldPct      decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"yield_pct"`
	Description   string          `gorm:"size:255" json:"description"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Stages []BomStage `gorm:"foreignKey:BomId" json:"stages"`
	Lines  []BomLine  `gorm:"foreignKey:BomId" json:"lines"`
}

// BomStage is one routing step. Seq orders the stages; the highest seq is terminal.
type BomStage struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	TenantId            string          `gorm:"size:64;not null;index" json:"tenant_id"`
	BomId               int             `gorm:"not null;index" json:"bom_id"`
	Seq                 int             `gorm:"not null" json:"seq"`
	Code                string          `gorm:"size:32;not null" json:"code"`
	OverheadRatePerUnit decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"overhead_rate_per_unit"`
}

// BomLine consumes either a material or a sub-assembly product, never both.
type BomLine struct {
	ID                   int             `gorm:"primary_key" json:"id"`
	TenantId             string          `gorm:"size:64;not null;index" json:"tenant_id"`
	BomId                int             `gorm:"not null;index" json:"bom_id"`
	Seq                  int             `gorm:"not null" json:"seq"`
	MaterialId           *int            `json:"material_id"`
	SubAssemblyProductId *int            `gorm:"index" json:"sub_assembly_product_id"`
	QtyPer               decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"qty_per"`
	ScrapPct             decimal.Decimal `gorm:"type:decimal(24,6);not null" json:"scrap_pct"`
	Stage                string          `gorm:"size:32;not null" json:"stage"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewBomStage struct {
	Code                string          `json:"code" validate:"required,max=32"`
	OverheadRatePerUnit decimal.Decimal `json:"overhead_rate_per_unit"`
}

type NewBillOfMaterials struct {
	ProductId     int             `json:"product_id" validate:"required,gt=0"`
	Version       int             `json:"version"`
	EffectiveFrom time.Time       `json:"effective_from" validate:"required"`
	EffectiveTo   *time.Time      `json:"effective_to"`
	BaseQuantity  decimal.Decimal `json:"base_quantity"`
	YieldPct      decimal.Decimal `json:"yield_pct"`
	Description   string          `json:"description"`
	Stages        []NewBomStage   `json:"stages" validate:"required,min=1,dive"`
}

type NewBomLine struct {
	MaterialId           *int            `json:"material_id"`
	SubAssemblyProductId *int            `json:"sub_assembly_product_id"`
	QtyPer               decimal.Decimal `json:"qty_per"`
	ScrapPct             decimal.Decimal `json:"scrap_pct"`
	Stage                string          `json:"stage" validate:"required"`
}

// IsEffective reports whether the version is in force on asOf.
func (b *BillOfMaterials) IsEffective(asOf time.Time) bool {
	d := utils.DateOnly(asOf)
	if d.Before(utils.DateOnly(b.EffectiveFrom)) {
		return false
	}
	return b.EffectiveTo == nil || !d.After(utils.DateOnly(*b.EffectiveTo))
}

func (b *BillOfMaterials) Stage(code string) (*BomStage, bool) {
	for i := range b.Stages {
		if b.Stages[i].Code == code {
			return &b.Stages[i], true
		}
	}
	return nil, false
}

func (input *NewBillOfMaterials) validate() error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.EffectiveTo != nil && utils.DateOnly(*input.EffectiveTo).Before(utils.DateOnly(input.EffectiveFrom)) {
		return errors.New("effective_to is before effective_from")
	}
	if input.BaseQuantity.IsNegative() {
		return errors.New("base quantity must be positive")
	}
	if input.YieldPct.IsNegative() || input.YieldPct.GreaterThan(decimal.NewFromInt(100)) {
		return errors.New("yield must be between 0 and 100 percent")
	}
	seen := make(map[string]bool, len(input.Stages))
	for _, s := range input.Stages {
		code := strings.TrimSpace(s.Code)
		if seen[code] {
			return fmt.Errorf("duplicate stage %q", code)
		}
		seen[code] = true
		if s.OverheadRatePerUnit.IsNegative() {
			return fmt.Errorf("stage %q has a negative overhead rate", code)
		}
	}
	return nil
}

func CreateBillOfMaterials(ctx context.Context, input *NewBillOfMaterials) (*BillOfMaterials, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	baseQty := input.BaseQuantity
	if baseQty.IsZero() {
		baseQty = decimal.NewFromInt(1)
	}
	yield := input.YieldPct
	if yield.IsZero() {
		yield = decimal.NewFromInt(100)
	}

	bom := BillOfMaterials{
		TenantId:      tenantId,
		ProductId:     input.ProductId,
		Version:       input.Version,
		EffectiveFrom: utils.DateOnly(input.EffectiveFrom),
		EffectiveTo:   input.EffectiveTo,
		BaseQuantity:  baseQty,
		YieldPct:      yield,
		Description:   input.Description,
	}
	for i, s := range input.Stages {
		bom.Stages = append(bom.Stages, BomStage{
			TenantId:            tenantId,
			Seq:                 i + 1,
			Code:                strings.TrimSpace(s.Code),
			OverheadRatePerUnit: s.OverheadRatePerUnit,
		})
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ValidateResourceId[Product](tx, tenantId, input.ProductId); err != nil {
			return errors.New("product not found")
		}
		if bom.Version == 0 {
			var maxVersion int
			if err := tx.Model(&BillOfMaterials{}).
				Where("tenant_id = ? AND product_id = ?", tenantId, input.ProductId).
				Select("COALESCE(MAX(version), 0)").Scan(&maxVersion).Error; err != nil {
				return err
			}
			bom.Version = maxVersion + 1
		}
		return tx.Create(&bom).Error
	})
	if err != nil {
		return nil, duplicateError("bill of materials version", fmt.Sprint(bom.Version), err)
	}
	return &bom, nil
}

// AddBomLine appends a line to a BOM version. A sub-assembly line is refused
// when the BOM's product is reachable from the sub-assembly through any version.
func AddBomLine(ctx context.Context, bomId int, input *NewBomLine) (*BomLine, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if (input.MaterialId == nil) == (input.SubAssemblyProductId == nil) {
		return nil, errors.New("a bom line needs exactly one of material_id and sub_assembly_product_id")
	}
	if !input.QtyPer.IsPositive() {
		return nil, errors.New("qty_per must be positive")
	}
	if input.ScrapPct.IsNegative() {
		return nil, errors.New("scrap_pct must not be negative")
	}

	var line BomLine
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// serialize authoring per tenant so two lines cannot close a cycle concurrently
		var headers []BillOfMaterials
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("tenant_id = ?", tenantId).Find(&headers).Error; err != nil {
			return err
		}
		bom, err := FetchModel[BillOfMaterials](tx, tenantId, bomId, "Stages")
		if err != nil {
			return err
		}
		if _, ok := bom.Stage(input.Stage); !ok {
			return fmt.Errorf("stage %q is not in the routing of bom %d", input.Stage, bomId)
		}
		if input.MaterialId != nil {
			if err := ValidateResourceId[Material](tx, tenantId, *input.MaterialId); err != nil {
				return errors.New("material not found")
			}
		} else {
			subId := *input.SubAssemblyProductId
			if err := ValidateResourceId[Product](tx, tenantId, subId); err != nil {
				return errors.New("sub-assembly product not found")
			}
			graph, err := LoadBomGraph(tx, tenantId)
			if err != nil {
				return err
			}
			if path := graph.PathBetween(subId, bom.ProductId); path != nil {
				return &CircularBOMError{Path: append([]int{bom.ProductId}, path...)}
			}
		}

		var maxSeq int
		if err := tx.Model(&BomLine{}).Where("tenant_id = ? AND bom_id = ?", tenantId, bomId).
			Select("COALESCE(MAX(seq), 0)").Scan(&maxSeq).Error; err != nil {
			return err
		}
		line = BomLine{
			TenantId:             tenantId,
			BomId:                bomId,
			Seq:                  maxSeq + 1,
			MaterialId:           input.MaterialId,
			SubAssemblyProductId: input.SubAssemblyProductId,
			QtyPer:               input.QtyPer,
			ScrapPct:             input.ScrapPct,
			Stage:                input.Stage,
		}
		return tx.Create(&line).Error
	})
	if err != nil {
		return nil, err
	}
	return &line, nil
}

func GetBillOfMaterials(ctx context.Context, id int) (*BillOfMaterials, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)
	return loadBom(db, tenantId, id)
}

func loadBom(tx *gorm.DB, tenantId string, id int) (*BillOfMaterials, error) {
	var bom BillOfMaterials
	err := tx.Where("tenant_id = ?", tenantId).
		Preload("Stages", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		First(&bom, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &bom, nil
}
