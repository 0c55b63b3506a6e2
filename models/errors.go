package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrRecordNotFound        = errors.New("record not found")
	ErrLedgerImmutable       = errors.New("ledger entries are append-only and cannot be changed")
	ErrInvalidMovement       = errors.New("invalid movement")
	ErrApprovalRequired      = errors.New("document requires approval before posting")
	ErrBomNotFound           = errors.New("no active bill of materials")
	ErrBomDepthExceeded      = errors.New("bill of materials exceeds the maximum explosion depth")
	ErrConcurrentUpdate      = errors.New("concurrent balance update, retry")
	ErrIdempotencyInProgress = errors.New("idempotency in progress")
	ErrTenantRequired        = errors.New("tenant id is required")
)

// PeriodClosedError is returned when a posting date is not inside an open period.
// The posting is never moved to another period.
type PeriodClosedError struct {
	Date     time.Time
	PeriodId int
}

func (e *PeriodClosedError) Error() string {
	if e.PeriodId > 0 {
		return fmt.Sprintf("accounting period %d is closed for %s", e.PeriodId, e.Date.Format("2006-01-02"))
	}
	return fmt.Sprintf("no open accounting period for %s", e.Date.Format("2006-01-02"))
}

// InsufficientStockError is returned when an issue would drive a balance negative.
type InsufficientStockError struct {
	Ledger    LedgerType
	ItemId    int
	Location  Location
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s item %d at %s: required %s, available %s",
		e.Ledger, e.ItemId, e.Location.String(), e.Required.String(), e.Available.String())
}

// MaterialShortageError carries every material MRP could not cover at release time.
type MaterialShortageError struct {
	OrderId int
	Lines   []MrpLine
}

func (e *MaterialShortageError) Error() string {
	parts := make([]string, 0, len(e.Lines))
	for _, l := range e.Lines {
		parts = append(parts, fmt.Sprintf("material %d short %s (%s)", l.MaterialId, l.NetRequirement.String(), l.Action))
	}
	return fmt.Sprintf("production order %d has material shortage: %s", e.OrderId, strings.Join(parts, ", "))
}

// CircularBOMError names the product path that would close a cycle.
type CircularBOMError struct {
	Path []int
}

func (e *CircularBOMError) Error() string {
	parts := make([]string, 0, len(e.Path))
	for _, p := range e.Path {
		parts = append(parts, fmt.Sprint(p))
	}
	return "circular bill of materials: " + strings.Join(parts, " -> ")
}

// InvalidDocumentStateError is returned when a document is not in the state an operation needs.
type InvalidDocumentStateError struct {
	Document string
	Id       int
	Status   string
}

func (e *InvalidDocumentStateError) Error() string {
	return fmt.Sprintf("%s %d is %s", e.Document, e.Id, e.Status)
}

// PriceVarianceExceededError is a 3-way-match breach on a goods receipt line.
type PriceVarianceExceededError struct {
	LineId       int
	MaterialId   int
	VariancePct  decimal.Decimal
	TolerancePct decimal.Decimal
}

func (e *PriceVarianceExceededError) Error() string {
	return fmt.Sprintf("price variance %s%% on material %d exceeds tolerance %s%%",
		e.VariancePct.StringFixed(2), e.MaterialId, e.TolerancePct.StringFixed(2))
}

// IsBusinessRuleError reports whether err is a rule violation (never retried)
// rather than an infrastructure failure.
func IsBusinessRuleError(err error) bool {
	if err == nil {
		return false
	}
	var (
		pc *PeriodClosedError
		is *InsufficientStockError
		ms *MaterialShortageError
		cb *CircularBOMError
		ds *InvalidDocumentStateError
		pv *PriceVarianceExceededError
	)
	switch {
	case errors.As(err, &pc), errors.As(err, &is), errors.As(err, &ms),
		errors.As(err, &cb), errors.As(err, &ds), errors.As(err, &pv):
		return true
	case errors.Is(err, ErrLedgerImmutable), errors.Is(err, ErrInvalidMovement),
		errors.Is(err, ErrApprovalRequired), errors.Is(err, ErrBomNotFound),
		errors.Is(err, ErrBomDepthExceeded):
		return true
	}
	return false
}
