package config

import (
	"context"
	"strings"

	"github.com/threadworks/erp_backend/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const tenantColumn = "tenant_id"

// TenantGuardPlugin adds tenant_id = <context tenant> to every query, row,
// update and delete on a model with a tenant_id column. Raw SQL is not seen
// by the callbacks and has to filter on its own.
type TenantGuardPlugin struct{}

func NewTenantGuardPlugin() *TenantGuardPlugin { return &TenantGuardPlugin{} }

func (p *TenantGuardPlugin) Name() string { return "tenant_guard" }

func (p *TenantGuardPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	hooks := []struct {
		name     string
		register func() error
	}{
		{"query", func() error { return cb.Query().Before("gorm:query").Register("tenant_guard:query", scopeToTenant) }},
		{"row", func() error { return cb.Row().Before("gorm:row").Register("tenant_guard:row", scopeToTenant) }},
		{"update", func() error { return cb.Update().Before("gorm:update").Register("tenant_guard:update", scopeToTenant) }},
		{"delete", func() error { return cb.Delete().Before("gorm:delete").Register("tenant_guard:delete", scopeToTenant) }},
	}
	for _, h := range hooks {
		if err := h.register(); err != nil {
			return err
		}
	}
	return nil
}

func scopeToTenant(db *gorm.DB) {
	stmt := db.Statement
	if stmt == nil || stmt.Context == nil || stmt.Schema == nil {
		return
	}
	tenantId, bypass := tenantScope(stmt.Context)
	if bypass || tenantId == "" {
		return
	}
	if stmt.Schema.LookUpField(tenantColumn) == nil {
		return
	}
	if where, ok := stmt.Clauses["WHERE"].Expression.(clause.Where); ok && filtersTenant(where.Exprs) {
		return
	}
	stmt.AddClause(clause.Where{Exprs: []clause.Expression{
		clause.Eq{Column: clause.Column{Table: stmt.Table, Name: tenantColumn}, Value: tenantId},
	}})
}

// tenantScope reads the tenant and the skip flag set by the outbox
// dispatcher, which claims rows across tenants.
func tenantScope(ctx context.Context) (tenantId string, bypass bool) {
	if skip, ok := appctx.GetBool(ctx, appctx.ContextKeySkipTenantScope); ok && skip {
		return "", true
	}
	tenantId, _ = appctx.GetString(ctx, appctx.ContextKeyTenantId)
	return tenantId, false
}

func filtersTenant(exprs []clause.Expression) bool {
	for _, e := range exprs {
		switch v := e.(type) {
		case clause.Eq:
			if isTenantColumn(v.Column) {
				return true
			}
		case clause.Neq:
			if isTenantColumn(v.Column) {
				return true
			}
		case clause.IN:
			if isTenantColumn(v.Column) {
				return true
			}
		case clause.AndConditions:
			if filtersTenant(v.Exprs) {
				return true
			}
		case clause.OrConditions:
			if filtersTenant(v.Exprs) {
				return true
			}
		case clause.Expr:
			if strings.Contains(strings.ToLower(v.SQL), tenantColumn) {
				return true
			}
		}
	}
	return false
}

func isTenantColumn(col any) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, tenantColumn)
	case clause.Column:
		return strings.EqualFold(c.Name, tenantColumn)
	}
	return false
}
