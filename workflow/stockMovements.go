package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/threadworks/erp_backend/models"
	"github.com/threadworks/erp_backend/utils"
	"gorm.io/gorm"
)

// StockMovementRequest is a direct receipt or issue outside any document.
// Reference makes the call idempotent: repeating it returns the first result.
type StockMovementRequest struct {
	ItemId          int             `json:"item_id" validate:"required,gt=0"`
	WarehouseId     int             `json:"warehouse_id" validate:"required,gt=0"`
	BinId           int             `json:"bin_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	TransactionDate time.Time       `json:"transaction_date" validate:"required"`
	Reference       string          `json:"reference" validate:"max=128"`
}

type PostingResult struct {
	EntryId  string                 `json:"entry_id"`
	Ledger   models.LedgerType      `json:"ledger"`
	Balance  models.BalanceSnapshot `json:"balance"`
	Replayed bool                   `json:"replayed"`
}

func (e *Engine) ReceiveMaterial(ctx context.Context, req StockMovementRequest) (*PostingResult, error) {
	return e.postDirect(ctx, "ReceiveMaterial", models.LedgerRawMaterial, models.MovementReceipt, req)
}

// IssueMaterial always issues at the current average cost; req.UnitCost is ignored.
func (e *Engine) IssueMaterial(ctx context.Context, req StockMovementRequest) (*PostingResult, error) {
	return e.postDirect(ctx, "IssueMaterial", models.LedgerRawMaterial, models.MovementIssue, req)
}

func (e *Engine) ReceiveFinishedGoods(ctx context.Context, req StockMovementRequest) (*PostingResult, error) {
	return e.postDirect(ctx, "ReceiveFinishedGoods", models.LedgerFinishedGoods, models.MovementReceipt, req)
}

func (e *Engine) IssueFinishedGoods(ctx context.Context, req StockMovementRequest) (*PostingResult, error) {
	return e.postDirect(ctx, "IssueFinishedGoods", models.LedgerFinishedGoods, models.MovementSalesOut, req)
}

func (e *Engine) postDirect(ctx context.Context, handler string, ledger models.LedgerType, kind models.MovementKind, req StockMovementRequest) (result *PostingResult, err error) {
	ctx, span := startSpan(ctx, handler)
	defer func() { endSpan(span, err) }()
	defer func() { e.logRejection(handler, req, err) }()

	tenantId, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return nil, err
	}
	if !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be positive", models.ErrInvalidMovement)
	}
	if req.UnitCost.IsNegative() {
		return nil, fmt.Errorf("%w: negative unit cost", models.ErrInvalidMovement)
	}

	pm := plannedMovement{
		Ledger:    ledger,
		Location:  models.WarehouseLocation(req.WarehouseId, req.BinId),
		ItemId:    req.ItemId,
		Kind:      kind,
		Quantity:  req.Quantity,
		UnitCost:  req.UnitCost,
		AtAverage: kind.IsOutgoing(),
		Date:      req.TransactionDate,
		DocType:   models.SourceDocManual,
		Reference: req.Reference,
	}
	err = e.post(ctx, []string{pm.key(tenantId)}, func(tx *gorm.DB) error {
		if req.Reference != "" {
			done, err := BeginIdempotency(tx, tenantId, handler, req.Reference)
			if err != nil {
				return err
			}
			if done != nil {
				result, err = replayedResult(tx, tenantId, done)
				return err
			}
		}
		if err := models.ValidateLocation(tx, tenantId, req.WarehouseId, req.BinId); err != nil {
			return err
		}
		m, snap, err := appendPlanned(ctx, tx, tenantId, pm)
		if err != nil {
			return err
		}
		entryId := m.Columns().EntryId
		if req.Reference != "" {
			if err := MarkIdempotencySucceeded(tx, tenantId, handler, req.Reference, ledger, entryId); err != nil {
				return err
			}
		}
		result = &PostingResult{EntryId: entryId, Ledger: ledger, Balance: snap}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func replayedResult(tx *gorm.DB, tenantId string, key *models.IdempotencyKey) (*PostingResult, error) {
	if key.ResultEntryId == nil || key.ResultLedger == nil {
		return nil, errors.New("idempotency key has no recorded result")
	}
	ledger := models.LedgerType(*key.ResultLedger)
	m, err := models.FindLedgerEntry(tx, tenantId, ledger, *key.ResultEntryId)
	if err != nil {
		return nil, err
	}
	snap, err := models.GetBalance(tx, tenantId, ledger, m.Columns().ItemId, m.Location())
	if err != nil {
		return nil, err
	}
	return &PostingResult{EntryId: *key.ResultEntryId, Ledger: ledger, Balance: snap, Replayed: true}, nil
}
