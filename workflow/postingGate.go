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

// plannedMovement describes one ledger row before the gate values and stamps it.
type plannedMovement struct {
	Ledger    models.LedgerType
	Location  models.Location
	ItemId    int
	Kind      models.MovementKind
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
	AtAverage bool
	Date      time.Time
	DocType   models.SourceDocType
	DocId     int
	DocNumber string
	Reference string
}

func (s plannedMovement) key(tenantId string) string {
	return models.BalanceKey(tenantId, s.Ledger, s.ItemId, s.Location)
}

func (s plannedMovement) build(tenantId, createdBy string) (models.Movement, error) {
	m, err := models.NewMovement(s.Ledger, s.Location)
	if err != nil {
		return nil, err
	}
	c := m.Columns()
	c.TenantId = tenantId
	c.ItemId = s.ItemId
	c.MovementKind = s.Kind
	c.QtyIn = decimal.Zero
	c.QtyOut = decimal.Zero
	if s.Kind.IsOutgoing() {
		c.QtyOut = s.Quantity
	} else {
		c.QtyIn = s.Quantity
	}
	c.UnitCost = s.UnitCost
	c.UseAverageCost = s.AtAverage
	c.TransactionDate = s.Date
	c.SourceDocType = s.DocType
	c.SourceDocId = s.DocId
	c.SourceDocNumber = s.DocNumber
	c.ReferenceId = s.Reference
	c.CreatedBy = createdBy
	if w, ok := m.(*models.WipMovement); ok {
		w.MaterialCost = decimal.Zero
		w.LaborCost = decimal.Zero
		w.OverheadCost = decimal.Zero
	}
	return m, nil
}

// appendMovement is the only way a ledger row is written. Inside the caller's
// transaction it checks the row shape, resolves an open period, locks the
// balance, refuses to go negative, values average-cost movements, inserts the
// row, rolls the balance forward and queues the ledger event.
func appendMovement(ctx context.Context, tx *gorm.DB, m models.Movement) (models.BalanceSnapshot, error) {
	c := m.Columns()
	if c.TenantId == "" {
		return models.BalanceSnapshot{}, models.ErrTenantRequired
	}
	if err := c.ValidateShape(); err != nil {
		return models.BalanceSnapshot{}, err
	}
	if err := models.ValidateItem(tx, c.TenantId, m.Ledger(), c.ItemId); err != nil {
		return models.BalanceSnapshot{}, err
	}

	periodId, err := models.ResolvePostingPeriod(tx, c.TenantId, c.TransactionDate)
	if err != nil {
		return models.BalanceSnapshot{}, err
	}
	c.PeriodId = periodId

	bal, err := models.LockBalance(tx, c.TenantId, m.Ledger(), c.ItemId, m.Location())
	if err != nil {
		return models.BalanceSnapshot{}, err
	}
	if c.QtyOut.IsPositive() {
		available := bal.Quantity()
		if c.QtyOut.GreaterThan(available) {
			return models.BalanceSnapshot{}, &models.InsufficientStockError{
				Ledger:    m.Ledger(),
				ItemId:    c.ItemId,
				Location:  m.Location(),
				Required:  c.QtyOut,
				Available: available,
			}
		}
	}
	if c.UseAverageCost {
		c.UnitCost = bal.AverageCost()
	}
	c.Finalize()

	if err := tx.Create(m).Error; err != nil {
		return models.BalanceSnapshot{}, fmt.Errorf("insert %s ledger row: %w", m.Ledger(), err)
	}
	if err := bal.ApplyMovement(tx, c); err != nil {
		return models.BalanceSnapshot{}, err
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	record, err := models.NewLedgerOutboxRecord(m, correlationId)
	if err != nil {
		return models.BalanceSnapshot{}, err
	}
	if err := tx.Create(record).Error; err != nil {
		return models.BalanceSnapshot{}, fmt.Errorf("queue ledger event: %w", err)
	}
	return bal.Snapshot(), nil
}

// appendPlanned builds and appends one movement.
func appendPlanned(ctx context.Context, tx *gorm.DB, tenantId string, s plannedMovement) (models.Movement, models.BalanceSnapshot, error) {
	m, err := s.build(tenantId, actor(ctx))
	if err != nil {
		return nil, models.BalanceSnapshot{}, err
	}
	snap, err := appendMovement(ctx, tx, m)
	if err != nil {
		return nil, models.BalanceSnapshot{}, err
	}
	return m, snap, nil
}
