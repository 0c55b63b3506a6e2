package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/threadworks/erp_backend/models"
	"github.com/threadworks/erp_backend/utils"
	"gorm.io/gorm"
)

const costScale = 6

// StageOutputRequest reports units finished (and rejected) at one routing stage.
type StageOutputRequest struct {
	ProductionOrderId int             `json:"production_order_id" validate:"required,gt=0"`
	Stage             string          `json:"stage" validate:"required,max=32"`
	QtyCompleted      decimal.Decimal `json:"qty_completed"`
	QtyRejected       decimal.Decimal `json:"qty_rejected"`
	OutputDate        *time.Time      `json:"output_date"`
}

type StageOutputResult struct {
	ProductionOrderId int                          `json:"production_order_id"`
	Stage             string                       `json:"stage"`
	MaterialEntryIds  []string                     `json:"material_entry_ids"`
	CarryOutEntryId   string                       `json:"carry_out_entry_id,omitempty"`
	OutputEntryId     string                       `json:"output_entry_id,omitempty"`
	OutputLedger      models.LedgerType            `json:"output_ledger,omitempty"`
	UnitCost          decimal.Decimal              `json:"unit_cost"`
	MaterialCost      decimal.Decimal              `json:"material_cost"`
	LaborCost         decimal.Decimal              `json:"labor_cost"`
	OverheadCost      decimal.Decimal              `json:"overhead_cost"`
	RejectedCost      decimal.Decimal              `json:"rejected_cost"`
	Status            models.ProductionOrderStatus `json:"status"`
}

type NewLaborTime struct {
	ProductionOrderId int             `json:"production_order_id" validate:"required,gt=0"`
	Stage             string          `json:"stage" validate:"required,max=32"`
	Hours             decimal.Decimal `json:"hours"`
	HourlyRate        decimal.Decimal `json:"hourly_rate"`
	WorkDate          time.Time       `json:"work_date" validate:"required"`
}

func orderKey(tenantId string, orderId int) string {
	return fmt.Sprintf("production_order:%s:%d", tenantId, orderId)
}

// stageOutputKeys lists the balances a backflush of stage can touch. It runs
// once to take the locks and again under them.
func stageOutputKeys(tx *gorm.DB, tenantId string, order *models.ProductionOrder, stage string) ([]string, error) {
	keys := []string{
		orderKey(tenantId, order.ID),
		models.BalanceKey(tenantId, models.LedgerWip, order.ProductId, models.StageLocation(order.ID, stage)),
		models.BalanceKey(tenantId, models.LedgerFinishedGoods, order.ProductId, models.WarehouseLocation(order.FgWarehouseId, 0)),
	}
	if _, previous, ok := order.Stage(stage); ok && previous != nil {
		keys = append(keys, models.BalanceKey(tenantId, models.LedgerWip, order.ProductId, models.StageLocation(order.ID, previous.Stage)))
	}
	for _, r := range order.Reservations {
		if r.Stage != stage {
			continue
		}
		balances, err := models.WarehouseBalances(tx, tenantId, models.LedgerRawMaterial, r.MaterialId, order.MaterialWarehouseId)
		if err != nil {
			return nil, err
		}
		keys = append(keys, models.BalanceKey(tenantId, models.LedgerRawMaterial, r.MaterialId, models.WarehouseLocation(order.MaterialWarehouseId, 0)))
		for _, b := range balances {
			keys = append(keys, models.BalanceKey(tenantId, models.LedgerRawMaterial, r.MaterialId, b.Location()))
		}
	}
	return keys, nil
}

// issueFromWarehouse issues qty of a material from the order's material
// warehouse, draining bins in bin order, each at its own average cost.
func issueFromWarehouse(ctx context.Context, tx *gorm.DB, tenantId string, order *models.ProductionOrder, stage string, materialId int, qty decimal.Decimal, date time.Time) ([]string, decimal.Decimal, error) {
	balances, err := models.WarehouseBalances(tx, tenantId, models.LedgerRawMaterial, materialId, order.MaterialWarehouseId)
	if err != nil {
		return nil, decimal.Zero, err
	}
	available := decimal.Zero
	for i := range balances {
		if q := balances[i].Quantity(); q.IsPositive() {
			available = available.Add(q)
		}
	}
	if available.LessThan(qty) {
		return nil, decimal.Zero, &models.InsufficientStockError{
			Ledger:    models.LedgerRawMaterial,
			ItemId:    materialId,
			Location:  models.WarehouseLocation(order.MaterialWarehouseId, 0),
			Required:  qty,
			Available: available,
		}
	}

	var entryIds []string
	cost := decimal.Zero
	remaining := qty
	for i := range balances {
		if !remaining.IsPositive() {
			break
		}
		onHand := balances[i].Quantity()
		if !onHand.IsPositive() {
			continue
		}
		take := decimal.Min(remaining, onHand)
		m, _, err := appendPlanned(ctx, tx, tenantId, plannedMovement{
			Ledger:    models.LedgerRawMaterial,
			Location:  balances[i].Location(),
			ItemId:    materialId,
			Kind:      models.MovementIssue,
			Quantity:  take,
			AtAverage: true,
			Date:      date,
			DocType:   models.SourceDocProductionOrder,
			DocId:     order.ID,
			DocNumber: order.OrderNumber,
			Reference: stage,
		})
		if err != nil {
			return nil, decimal.Zero, err
		}
		entryIds = append(entryIds, m.Columns().EntryId)
		cost = cost.Add(m.Columns().TotalCost)
		remaining = remaining.Sub(take)
	}
	return entryIds, cost, nil
}

// RecordStageOutput backflushes one stage: it issues the stage's materials in
// proportion to the cumulative completed quantity, absorbs pending labor and
// the stage overhead, carries completed and rejected units out of the previous
// stage's WIP and receives the completed units into this stage's WIP, or into
// FG when the stage is the last one.
func (e *Engine) RecordStageOutput(ctx context.Context, req StageOutputRequest) (result *StageOutputResult, err error) {
	ctx, span := startSpan(ctx, "RecordStageOutput")
	defer func() { endSpan(span, err) }()
	defer func() { e.logRejection("RecordStageOutput", req, err) }()

	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return nil, err
	}
	if req.QtyCompleted.IsNegative() || req.QtyRejected.IsNegative() {
		return nil, fmt.Errorf("%w: stage quantities must not be negative", models.ErrInvalidMovement)
	}
	if !req.QtyCompleted.Add(req.QtyRejected).IsPositive() {
		return nil, fmt.Errorf("%w: stage output has no quantity", models.ErrInvalidMovement)
	}
	date := time.Now().UTC()
	if req.OutputDate != nil {
		date = req.OutputDate.UTC()
	}

	db := e.DB.WithContext(ctx)
	pre, err := models.LoadProductionOrder(db, tenantId, req.ProductionOrderId)
	if err != nil {
		return nil, err
	}
	keys, err := stageOutputKeys(db, tenantId, pre, req.Stage)
	if err != nil {
		return nil, err
	}

	err = e.post(ctx, keys, func(tx *gorm.DB) error {
		order, err := models.LockProductionOrder(tx, tenantId, req.ProductionOrderId)
		if err != nil {
			return err
		}
		if !order.Status.IsOpen() {
			return &models.InvalidDocumentStateError{Document: "production order", Id: order.ID, Status: string(order.Status)}
		}
		current, previous, ok := order.Stage(req.Stage)
		if !ok {
			return fmt.Errorf("%w: stage %q is not in the routing of %s", models.ErrInvalidMovement, req.Stage, order.OrderNumber)
		}
		moved := req.QtyCompleted.Add(req.QtyRejected)
		if current.QtyCompleted.Add(current.QtyRejected).Add(moved).GreaterThan(order.QtyPlanned) {
			return fmt.Errorf("%w: stage %s output exceeds planned quantity %s", models.ErrInvalidMovement, req.Stage, order.QtyPlanned.String())
		}
		needed, err := stageOutputKeys(tx, tenantId, order, req.Stage)
		if err != nil {
			return err
		}
		if err := ensureLocked(keys, needed); err != nil {
			return err
		}

		res := &StageOutputResult{
			ProductionOrderId: order.ID,
			Stage:             req.Stage,
			MaterialCost:      decimal.Zero,
			LaborCost:         decimal.Zero,
			OverheadCost:      decimal.Zero,
			RejectedCost:      decimal.Zero,
			UnitCost:          decimal.Zero,
		}
		now := time.Now().UTC()

		if req.QtyCompleted.IsPositive() {
			stageCompleted := current.QtyCompleted.Add(req.QtyCompleted)
			for i := range order.Reservations {
				r := &order.Reservations[i]
				if r.Stage != req.Stage {
					continue
				}
				target := r.QtyRequired
				if stageCompleted.LessThan(order.QtyPlanned) {
					target = r.QtyRequired.Mul(stageCompleted).Div(order.QtyPlanned).Round(costScale)
				}
				issue := decimal.Min(target.Sub(r.QtyIssued), r.Outstanding())
				if !issue.IsPositive() {
					continue
				}
				ids, cost, err := issueFromWarehouse(ctx, tx, tenantId, order, req.Stage, r.MaterialId, issue, date)
				if err != nil {
					return err
				}
				res.MaterialEntryIds = append(res.MaterialEntryIds, ids...)
				res.MaterialCost = res.MaterialCost.Add(cost)
				r.QtyIssued = r.QtyIssued.Add(issue)
				if err := tx.Model(&models.MaterialReservation{}).Where("tenant_id = ? AND id = ?", tenantId, r.ID).
					Update("qty_issued", r.QtyIssued).Error; err != nil {
					return err
				}
			}

			labor, err := models.PendingLaborEntries(tx, tenantId, order.ID, req.Stage)
			if err != nil {
				return err
			}
			if len(labor) > 0 {
				ids := make([]int, 0, len(labor))
				for i := range labor {
					res.LaborCost = res.LaborCost.Add(labor[i].Cost())
					ids = append(ids, labor[i].ID)
				}
				if err := tx.Model(&models.LaborTimeEntry{}).Where("tenant_id = ? AND id IN ?", tenantId, ids).
					Update("backflushed_at", &now).Error; err != nil {
					return err
				}
			}
			res.OverheadCost = current.OverheadRatePerUnit.Mul(req.QtyCompleted).Round(costScale)
		}

		carried := decimal.Zero
		if previous != nil {
			out, _, err := appendPlanned(ctx, tx, tenantId, plannedMovement{
				Ledger:    models.LedgerWip,
				Location:  models.StageLocation(order.ID, previous.Stage),
				ItemId:    order.ProductId,
				Kind:      models.MovementProductionOut,
				Quantity:  moved,
				AtAverage: true,
				Date:      date,
				DocType:   models.SourceDocProductionOrder,
				DocId:     order.ID,
				DocNumber: order.OrderNumber,
				Reference: req.Stage,
			})
			if err != nil {
				return err
			}
			res.CarryOutEntryId = out.Columns().EntryId
			carried = out.Columns().UnitCost.Mul(req.QtyCompleted).Round(costScale)
			res.RejectedCost = out.Columns().TotalCost.Sub(carried)
		}

		terminal := order.IsTerminalStage(req.Stage)
		if req.QtyCompleted.IsPositive() {
			stageCost := res.MaterialCost.Add(res.LaborCost).Add(res.OverheadCost)
			res.UnitCost = carried.Add(stageCost).DivRound(req.QtyCompleted, costScale)
			pm := plannedMovement{
				ItemId:    order.ProductId,
				Kind:      models.MovementProductionIn,
				Quantity:  req.QtyCompleted,
				UnitCost:  res.UnitCost,
				Date:      date,
				DocType:   models.SourceDocProductionOrder,
				DocId:     order.ID,
				DocNumber: order.OrderNumber,
				Reference: req.Stage,
			}
			if terminal {
				pm.Ledger = models.LedgerFinishedGoods
				pm.Location = models.Location{WarehouseId: order.FgWarehouseId, ProductionOrderId: order.ID}
			} else {
				pm.Ledger = models.LedgerWip
				pm.Location = models.StageLocation(order.ID, req.Stage)
			}
			m, err := pm.build(tenantId, actor(ctx))
			if err != nil {
				return err
			}
			if w, ok := m.(*models.WipMovement); ok {
				w.MaterialCost = res.MaterialCost
				w.LaborCost = res.LaborCost
				w.OverheadCost = res.OverheadCost
			}
			if _, err := appendMovement(ctx, tx, m); err != nil {
				return err
			}
			res.OutputEntryId = m.Columns().EntryId
			res.OutputLedger = pm.Ledger
		}

		if err := tx.Model(&models.ProductionStageProgress{}).Where("tenant_id = ? AND id = ?", tenantId, current.ID).
			Updates(map[string]interface{}{
				"qty_completed": current.QtyCompleted.Add(req.QtyCompleted),
				"qty_rejected":  current.QtyRejected.Add(req.QtyRejected),
				"material_cost": current.MaterialCost.Add(res.MaterialCost),
				"labor_cost":    current.LaborCost.Add(res.LaborCost),
				"overhead_cost": current.OverheadCost.Add(res.OverheadCost),
			}).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"qty_rejected": order.QtyRejected.Add(req.QtyRejected),
		}
		status := models.ProductionOrderStatusInProgress
		if terminal {
			completed := order.QtyCompleted.Add(req.QtyCompleted)
			updates["qty_completed"] = completed
			if completed.GreaterThanOrEqual(order.QtyPlanned) {
				status = models.ProductionOrderStatusCompleted
				updates["completed_at"] = &now
			}
		}
		updates["status"] = status
		if err := tx.Model(&models.ProductionOrder{}).Where("tenant_id = ? AND id = ?", tenantId, order.ID).
			Updates(updates).Error; err != nil {
			return err
		}
		res.Status = status
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecordLaborTime books hours against a stage; the cost is absorbed by the
// stage's next output.
func (e *Engine) RecordLaborTime(ctx context.Context, input NewLaborTime) (entry *models.LaborTimeEntry, err error) {
	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(&input); err != nil {
		return nil, err
	}
	if !input.Hours.IsPositive() {
		return nil, fmt.Errorf("%w: hours must be positive", models.ErrInvalidMovement)
	}
	if input.HourlyRate.IsNegative() {
		return nil, fmt.Errorf("%w: hourly rate must not be negative", models.ErrInvalidMovement)
	}
	err = e.post(ctx, []string{orderKey(tenantId, input.ProductionOrderId)}, func(tx *gorm.DB) error {
		order, err := models.LockProductionOrder(tx, tenantId, input.ProductionOrderId)
		if err != nil {
			return err
		}
		if order.Status.IsTerminal() {
			return &models.InvalidDocumentStateError{Document: "production order", Id: order.ID, Status: string(order.Status)}
		}
		if _, _, ok := order.Stage(input.Stage); !ok {
			return fmt.Errorf("%w: stage %q is not in the routing of %s", models.ErrInvalidMovement, input.Stage, order.OrderNumber)
		}
		entry = &models.LaborTimeEntry{
			TenantId:          tenantId,
			ProductionOrderId: order.ID,
			Stage:             input.Stage,
			Hours:             input.Hours,
			HourlyRate:        input.HourlyRate,
			WorkDate:          input.WorkDate.UTC(),
			CreatedBy:         actor(ctx),
		}
		return tx.Create(entry).Error
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// CompleteProductionOrder closes an order early; whatever was completed stays in FG.
func (e *Engine) CompleteProductionOrder(ctx context.Context, orderId int) (*models.ProductionOrder, error) {
	return e.finishOrder(ctx, orderId, models.ProductionOrderStatusCompleted)
}

// CancelProductionOrder stops further backflush. Posted entries are never reversed.
func (e *Engine) CancelProductionOrder(ctx context.Context, orderId int) (*models.ProductionOrder, error) {
	return e.finishOrder(ctx, orderId, models.ProductionOrderStatusCancelled)
}

func (e *Engine) finishOrder(ctx context.Context, orderId int, status models.ProductionOrderStatus) (order *models.ProductionOrder, err error) {
	ctx, span := startSpan(ctx, "finishOrder")
	defer func() { endSpan(span, err) }()

	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	err = e.post(ctx, []string{orderKey(tenantId, orderId)}, func(tx *gorm.DB) error {
		current, err := models.LockProductionOrder(tx, tenantId, orderId)
		if err != nil {
			return err
		}
		allowed := !current.Status.IsTerminal()
		if status == models.ProductionOrderStatusCompleted {
			allowed = current.Status.IsOpen()
		}
		if !allowed {
			return &models.InvalidDocumentStateError{Document: "production order", Id: orderId, Status: string(current.Status)}
		}
		now := time.Now().UTC()
		updates := map[string]interface{}{"status": status}
		if status == models.ProductionOrderStatusCompleted {
			updates["completed_at"] = &now
		} else {
			updates["cancelled_at"] = &now
		}
		if err := tx.Model(&models.ProductionOrder{}).Where("tenant_id = ? AND id = ?", tenantId, orderId).
			Updates(updates).Error; err != nil {
			return err
		}
		order, err = models.LoadProductionOrder(tx, tenantId, orderId)
		return err
	})
	if err != nil {
		e.logRejection("finishOrder", orderId, err)
		return nil, err
	}
	return order, nil
}
