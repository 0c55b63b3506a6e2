package models

import "gorm.io/gorm"

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&Material{}, &Product{}, &Warehouse{}, &Bin{},
		&AccountingPeriod{},
		&BillOfMaterials{}, &BomStage{}, &BomLine{},
		&RawMaterialMovement{}, &WipMovement{}, &FinishedGoodsMovement{},
		&StockBalance{},
		&ProductionOrder{}, &MaterialReservation{}, &ProductionStageProgress{}, &LaborTimeEntry{},
		&InventoryAdjustment{}, &InventoryAdjustmentDetail{},
		&TransferOrder{}, &TransferOrderDetail{},
		&GoodsReceipt{}, &GoodsReceiptDetail{},
		&Delivery{}, &DeliveryDetail{},
		&IdempotencyKey{},
		&LedgerOutboxRecord{},
	)
}
