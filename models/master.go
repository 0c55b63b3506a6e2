package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/threadworks/erp_backend/config"
	"github.com/threadworks/erp_backend/utils"
	"gorm.io/gorm"
)

type Material struct {
	ID        int       `gorm:"primary_key" json:"id"`
	TenantId  string    `gorm:"size:64;not null;index:uniq_material_sku,unique" json:"tenant_id"`
	Sku       string    `gorm:"size:64;not null;index:uniq_material_sku,unique" json:"sku"`
	Name      string    `gorm:"size:200;not null" json:"name"`
	Uom       string    `gorm:"size:20;not null" json:"uom"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Product struct {
	ID        int       `gorm:"primary_key" json:"id"`
	TenantId  string    `gorm:"size:64;not null;index:uniq_product_sku,unique" json:"tenant_id"`
	Sku       string    `gorm:"size:64;not null;index:uniq_product_sku,unique" json:"sku"`
	Name      string    `gorm:"size:200;not null" json:"name"`
	Uom       string    `gorm:"size:20;not null" json:"uom"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Warehouse struct {
	ID        int       `gorm:"primary_key" json:"id"`
	TenantId  string    `gorm:"size:64;not null;index:uniq_warehouse_code,unique" json:"tenant_id"`
	Code      string    `gorm:"size:32;not null;index:uniq_warehouse_code,unique" json:"code"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Address   string    `gorm:"type:text" json:"address"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Bin is an optional sub-location of a warehouse. Bin id 0 on a ledger row means "no bin".
type Bin struct {
	ID          int       `gorm:"primary_key" json:"id"`
	TenantId    string    `gorm:"size:64;not null;index:uniq_bin_code,unique" json:"tenant_id"`
	WarehouseId int       `gorm:"not null;index:uniq_bin_code,unique" json:"warehouse_id"`
	Code        string    `gorm:"size:32;not null;index:uniq_bin_code,unique" json:"code"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewMaterial struct {
	Sku  string `json:"sku" validate:"required,max=64"`
	Name string `json:"name" validate:"required,max=200"`
	Uom  string `json:"uom" validate:"required,max=20"`
}

type NewProduct struct {
	Sku  string `json:"sku" validate:"required,max=64"`
	Name string `json:"name" validate:"required,max=200"`
	Uom  string `json:"uom" validate:"required,max=20"`
}

type NewWarehouse struct {
	Code    string `json:"code" validate:"required,max=32"`
	Name    string `json:"name" validate:"required,max=100"`
	Address string `json:"address"`
}

type NewBin struct {
	WarehouseId int    `json:"warehouse_id" validate:"required,gt=0"`
	Code        string `json:"code" validate:"required,max=32"`
}

func duplicateError(what, value string, err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%s %q already exists", what, value)
	}
	return err
}

func CreateMaterial(ctx context.Context, input *NewMaterial) (*Material, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	active := true
	material := Material{
		TenantId: tenantId,
		Sku:      strings.TrimSpace(input.Sku),
		Name:     input.Name,
		Uom:      input.Uom,
		IsActive: &active,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&material).Error; err != nil {
		return nil, duplicateError("material sku", material.Sku, err)
	}
	return &material, nil
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	active := true
	product := Product{
		TenantId: tenantId,
		Sku:      strings.TrimSpace(input.Sku),
		Name:     input.Name,
		Uom:      input.Uom,
		IsActive: &active,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, duplicateError("product sku", product.Sku, err)
	}
	return &product, nil
}

func CreateWarehouse(ctx context.Context, input *NewWarehouse) (*Warehouse, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	active := true
	warehouse := Warehouse{
		TenantId: tenantId,
		Code:     strings.TrimSpace(input.Code),
		Name:     input.Name,
		Address:  input.Address,
		IsActive: &active,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&warehouse).Error; err != nil {
		return nil, duplicateError("warehouse code", warehouse.Code, err)
	}
	return &warehouse, nil
}

func CreateBin(ctx context.Context, input *NewBin) (*Bin, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)
	if err := ValidateResourceId[Warehouse](db, tenantId, input.WarehouseId); err != nil {
		return nil, errors.New("warehouse not found")
	}
	bin := Bin{
		TenantId:    tenantId,
		WarehouseId: input.WarehouseId,
		Code:        strings.TrimSpace(input.Code),
	}
	if err := db.Create(&bin).Error; err != nil {
		return nil, duplicateError("bin code", bin.Code, err)
	}
	return &bin, nil
}

func ListMaterials(ctx context.Context) ([]*Material, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var results []*Material
	err = config.GetDB().WithContext(ctx).Where("tenant_id = ?", tenantId).Order("sku").Find(&results).Error
	return results, err
}

func ListProducts(ctx context.Context) ([]*Product, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var results []*Product
	err = config.GetDB().WithContext(ctx).Where("tenant_id = ?", tenantId).Order("sku").Find(&results).Error
	return results, err
}

func ListWarehouses(ctx context.Context) ([]*Warehouse, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var results []*Warehouse
	err = config.GetDB().WithContext(ctx).Where("tenant_id = ?", tenantId).Order("code").Find(&results).Error
	return results, err
}

// ValidateLocation checks a warehouse (and bin, when set) belong to the tenant.
func ValidateLocation(tx *gorm.DB, tenantId string, warehouseId, binId int) error {
	if err := ValidateResourceId[Warehouse](tx, tenantId, warehouseId); err != nil {
		return fmt.Errorf("warehouse %d not found", warehouseId)
	}
	if binId == 0 {
		return nil
	}
	var count int64
	if err := tx.Model(&Bin{}).Where("tenant_id = ? AND id = ? AND warehouse_id = ?", tenantId, binId, warehouseId).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("bin %d not found in warehouse %d", binId, warehouseId)
	}
	return nil
}

// ValidateItem checks the item exists in the master table its ledger draws on:
// materials for RM, products for WIP and FG.
func ValidateItem(tx *gorm.DB, tenantId string, ledger LedgerType, itemId int) error {
	var err error
	switch ledger {
	case LedgerRawMaterial:
		err = ValidateResourceId[Material](tx, tenantId, itemId)
	case LedgerWip, LedgerFinishedGoods:
		err = ValidateResourceId[Product](tx, tenantId, itemId)
	default:
		return fmt.Errorf("%w: unknown ledger %q", ErrInvalidMovement, ledger)
	}
	if errors.Is(err, ErrRecordNotFound) {
		return fmt.Errorf("%w: %s item %d not found", ErrInvalidMovement, ledger, itemId)
	}
	return err
}
