package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/threadworks/erp_backend/models"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const planConcurrency = 4

func mrpKey(tenantId string, warehouseId int) string {
	return fmt.Sprintf("mrp:%s:%d", tenantId, warehouseId)
}

// planOrder explodes the order's own BOM version and nets it against the
// material warehouse. Other open orders' outstanding reservations reduce what
// is available; the order's own reservations do not.
func (e *Engine) planOrder(tx *gorm.DB, tenantId string, order *models.ProductionOrder) (*models.MrpPlan, error) {
	graph, err := models.LoadBomGraph(tx, tenantId)
	if err != nil {
		return nil, err
	}
	bom, ok := graph.Bom(order.BomId)
	if !ok {
		return nil, fmt.Errorf("%w: bom %d of order %s", models.ErrBomNotFound, order.BomId, order.OrderNumber)
	}
	reqs, err := graph.ExplodeBom(bom, order.QtyPlanned, e.Settings.BomMaxDepth, order.BomDate)
	if err != nil {
		return nil, err
	}

	gross := models.AggregateByMaterial(reqs)
	materialIds := make([]int, 0, len(gross))
	for id := range gross {
		materialIds = append(materialIds, id)
	}
	sort.Ints(materialIds)
	reserved, err := models.OutstandingReservations(tx, tenantId, order.MaterialWarehouseId, order.ID, materialIds)
	if err != nil {
		return nil, err
	}

	plan := &models.MrpPlan{
		ProductionOrderId: order.ID,
		ProductId:         order.ProductId,
		Quantity:          order.QtyPlanned,
		Requirements:      reqs,
	}
	for _, materialId := range materialIds {
		onHand, err := models.WarehouseOnHand(tx, tenantId, models.LedgerRawMaterial, materialId, order.MaterialWarehouseId)
		if err != nil {
			return nil, err
		}
		plan.Lines = append(plan.Lines, classify(materialId, gross[materialId], onHand, reserved[materialId]))
	}
	return plan, nil
}

func classify(materialId int, gross, onHand, reserved decimal.Decimal) models.MrpLine {
	available := onHand.Sub(reserved)
	line := models.MrpLine{
		MaterialId:       materialId,
		GrossRequirement: gross,
		OnHand:           onHand,
		Reserved:         reserved,
		Available:        available,
		NetRequirement:   models.DecimalNonNegative(gross.Sub(available)),
	}
	switch {
	case available.GreaterThanOrEqual(gross):
		line.Action = models.MrpActionOK
	case !onHand.IsPositive():
		line.Action = models.MrpActionPurchase
	default:
		line.Action = models.MrpActionPartial
	}
	return line
}

// PlanOrder is an advisory read: nothing is reserved.
func (e *Engine) PlanOrder(ctx context.Context, orderId int) (plan *models.MrpPlan, err error) {
	ctx, span := startSpan(ctx, "PlanOrder")
	defer func() { endSpan(span, err) }()

	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	db := e.DB.WithContext(ctx)
	order, err := models.LoadProductionOrder(db, tenantId, orderId)
	if err != nil {
		return nil, err
	}
	return e.planOrder(db, tenantId, order)
}

// PlanOrders plans several orders concurrently. Plans come back in the order
// of orderIds.
func (e *Engine) PlanOrders(ctx context.Context, orderIds []int) ([]*models.MrpPlan, error) {
	plans := make([]*models.MrpPlan, len(orderIds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(planConcurrency)
	for i, id := range orderIds {
		i, id := i, id
		g.Go(func() error {
			plan, err := e.PlanOrder(gctx, id)
			if err != nil {
				return fmt.Errorf("plan order %d: %w", id, err)
			}
			plans[i] = plan
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return plans, nil
}

// ReleaseProductionOrder re-plans under the warehouse's MRP lock and releases
// the order only when every material is fully covered. The reservations
// written here make the stock unavailable to the next release.
func (e *Engine) ReleaseProductionOrder(ctx context.Context, orderId int) (plan *models.MrpPlan, err error) {
	ctx, span := startSpan(ctx, "ReleaseProductionOrder")
	defer func() { endSpan(span, err) }()
	defer func() { e.logRejection("ReleaseProductionOrder", orderId, err) }()

	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	pre, err := models.LoadProductionOrder(e.DB.WithContext(ctx), tenantId, orderId)
	if err != nil {
		return nil, err
	}

	err = e.post(ctx, []string{mrpKey(tenantId, pre.MaterialWarehouseId)}, func(tx *gorm.DB) error {
		order, err := models.LockProductionOrder(tx, tenantId, orderId)
		if err != nil {
			return err
		}
		if order.Status != models.ProductionOrderStatusPlanned {
			return &models.InvalidDocumentStateError{Document: "production order", Id: orderId, Status: string(order.Status)}
		}
		plan, err = e.planOrder(tx, tenantId, order)
		if err != nil {
			return err
		}
		if shortages := plan.Shortages(); len(shortages) > 0 {
			return &models.MaterialShortageError{OrderId: orderId, Lines: shortages}
		}
		for _, r := range plan.Requirements {
			res := models.MaterialReservation{
				TenantId:          tenantId,
				ProductionOrderId: orderId,
				MaterialId:        r.MaterialId,
				Stage:             r.Stage,
				QtyRequired:       r.Quantity,
				QtyIssued:         decimal.Zero,
			}
			if err := tx.Create(&res).Error; err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		return tx.Model(&models.ProductionOrder{}).Where("tenant_id = ? AND id = ?", tenantId, orderId).
			Updates(map[string]interface{}{"status": models.ProductionOrderStatusReleased, "released_at": &now}).Error
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}
