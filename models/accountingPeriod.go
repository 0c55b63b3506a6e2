package models

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/threadworks/erp_backend/config"
	"github.com/threadworks/erp_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountingPeriod is an inclusive [StartDate, EndDate] calendar range.
// Closing is one-way; nothing dated inside a closed period is ever accepted.
type AccountingPeriod struct {
	ID        int          `gorm:"primary_key" json:"id"`
	TenantId  string       `gorm:"size:64;not null;index" json:"tenant_id"`
	Name      string       `gorm:"size:50;not null" json:"name"`
	StartDate time.Time    `gorm:"not null" json:"start_date"`
	EndDate   time.Time    `gorm:"not null" json:"end_date"`
	Status    PeriodStatus `gorm:"size:10;not null" json:"status"`
	ClosedAt  *time.Time   `json:"closed_at"`
	ClosedBy  *string      `gorm:"size:100" json:"closed_by"`
	CreatedAt time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewAccountingPeriod struct {
	Name      string    `json:"name" validate:"required,max=50"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required"`
}

// Contains reports whether the calendar day of t lies inside the period.
func (p *AccountingPeriod) Contains(t time.Time) bool {
	d := utils.DateOnly(t)
	return !d.Before(utils.DateOnly(p.StartDate)) && !d.After(utils.DateOnly(p.EndDate))
}

func (p *AccountingPeriod) overlaps(start, end time.Time) bool {
	return !utils.DateOnly(end).Before(utils.DateOnly(p.StartDate)) && !utils.DateOnly(start).After(utils.DateOnly(p.EndDate))
}

func CreateAccountingPeriod(ctx context.Context, input *NewAccountingPeriod) (*AccountingPeriod, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	start, end := utils.DateOnly(input.StartDate), utils.DateOnly(input.EndDate)
	if end.Before(start) {
		return nil, errors.New("period end date is before start date")
	}

	period := AccountingPeriod{
		TenantId:  tenantId,
		Name:      input.Name,
		StartDate: start,
		EndDate:   end,
		Status:    PeriodStatusOpen,
	}
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := loadPeriods(tx.Clauses(clause.Locking{Strength: "UPDATE"}), tenantId)
		if err != nil {
			return err
		}
		for _, p := range existing {
			if p.overlaps(start, end) {
				return errors.New("accounting period overlaps " + p.Name)
			}
		}
		return tx.Create(&period).Error
	})
	if err != nil {
		return nil, err
	}
	return &period, nil
}

// CloseAccountingPeriod closes an open period. The row lock makes a close wait
// for in-flight postings that resolved the period under a share lock.
func CloseAccountingPeriod(ctx context.Context, tx *gorm.DB, id int) (*AccountingPeriod, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	period, err := FetchModelForUpdate[AccountingPeriod](tx, tenantId, id)
	if err != nil {
		return nil, err
	}
	if period.Status == PeriodStatusClosed {
		return nil, &InvalidDocumentStateError{Document: "accounting period", Id: id, Status: string(period.Status)}
	}
	now := time.Now().UTC()
	by := actorFromContext(ctx)
	if err := tx.Model(&AccountingPeriod{}).Where("tenant_id = ? AND id = ?", tenantId, id).Updates(map[string]interface{}{
		"status":    PeriodStatusClosed,
		"closed_at": &now,
		"closed_by": &by,
	}).Error; err != nil {
		return nil, err
	}
	period.Status = PeriodStatusClosed
	period.ClosedAt = &now
	period.ClosedBy = &by
	return period, nil
}

func ListAccountingPeriods(ctx context.Context) ([]AccountingPeriod, error) {
	tenantId, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return loadPeriods(config.GetDB().WithContext(ctx), tenantId)
}

func loadPeriods(tx *gorm.DB, tenantId string) ([]AccountingPeriod, error) {
	var periods []AccountingPeriod
	if err := tx.Where("tenant_id = ?", tenantId).Find(&periods).Error; err != nil {
		return nil, err
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].StartDate.Before(periods[j].StartDate) })
	return periods, nil
}

// ResolvePostingPeriod returns the open period containing date. A closed period
// containing the date always wins, and a date outside every period is rejected.
func ResolvePostingPeriod(tx *gorm.DB, tenantId string, date time.Time) (int, error) {
	periods, err := loadPeriods(tx.Clauses(clause.Locking{Strength: "SHARE"}), tenantId)
	if err != nil {
		return 0, err
	}
	openId := 0
	for i := range periods {
		p := &periods[i]
		if !p.Contains(date) {
			continue
		}
		if p.Status == PeriodStatusClosed {
			return 0, &PeriodClosedError{Date: date, PeriodId: p.ID}
		}
		if openId == 0 {
			openId = p.ID
		}
	}
	if openId == 0 {
		return 0, &PeriodClosedError{Date: date}
	}
	return openId, nil
}
