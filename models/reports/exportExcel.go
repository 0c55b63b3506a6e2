package reports

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const valuationSheet = "Valuation"

var valuationHeadings = []string{
	"Ledger", "SKU", "Item", "Warehouse", "Bin", "Production Order", "Stage",
	"Quantity", "Avg Unit Cost", "Total Value", "Last Movement",
}

func (r InventoryValuationRow) cellValues() []interface{} {
	last := ""
	if r.LastMovementAt != nil {
		last = r.LastMovementAt.Format("2006-01-02")
	}
	return []interface{}{
		string(r.Ledger), r.Sku, r.ItemName, r.WarehouseCode, r.BinId, r.ProductionOrderId, r.Stage,
		r.Quantity.InexactFloat64(), r.AverageUnitCost.InexactFloat64(), r.TotalValue.InexactFloat64(), last,
	}
}

// WriteValuationExcel renders the report as an xlsx workbook into w.
func WriteValuationExcel(report *InventoryValuationReport, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", valuationSheet); err != nil {
		return err
	}
	for i, h := range valuationHeadings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(valuationSheet, cell, h); err != nil {
			return err
		}
	}

	rowNo := 2
	for _, row := range report.Rows {
		for i, v := range row.cellValues() {
			cell, err := excelize.CoordinatesToCellName(i+1, rowNo)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(valuationSheet, cell, v); err != nil {
				return err
			}
		}
		rowNo++
	}
	totalLabel, _ := excelize.CoordinatesToCellName(9, rowNo)
	totalCell, _ := excelize.CoordinatesToCellName(10, rowNo)
	if err := f.SetCellValue(valuationSheet, totalLabel, "Grand Total"); err != nil {
		return err
	}
	if err := f.SetCellValue(valuationSheet, totalCell, report.GrandTotal.InexactFloat64()); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write valuation workbook: %w", err)
	}
	return nil
}
