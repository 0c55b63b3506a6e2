package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/threadworks/erp_backend/models"
	"github.com/threadworks/erp_backend/models/reports"
	"github.com/threadworks/erp_backend/utils"
)

func (h *Handler) registerOperations(r gin.IRouter) {
	r.GET("/maintenance/verify-balances", h.verifyBalances)
	r.POST("/maintenance/rebuild-balances", h.rebuildBalances)

	r.GET("/reports/valuation", h.valuationReport)
	r.POST("/reports/valuation/export", h.exportValuation)

	r.GET("/outbox/summary", h.outboxSummary)
	r.GET("/outbox/status/:docType/:docId", h.outboxStatus)
	r.POST("/outbox/replay/:entryId", h.replayOutbox)
}

func (h *Handler) verifyBalances(c *gin.Context) {
	drift, err := h.Engine.VerifyBalances(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"consistent": len(drift) == 0, "discrepancies": drift})
}

func (h *Handler) rebuildBalances(c *gin.Context) {
	fixed, err := h.Engine.RebuildBalances(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"corrected": len(fixed), "discrepancies": fixed})
}

func valuationLedger(c *gin.Context) (models.LedgerType, bool) {
	ledger := models.LedgerType(strings.ToUpper(c.Query("ledger")))
	if ledger != "" && !ledger.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ledger must be RM, WIP or FG"})
		return "", false
	}
	return ledger, true
}

// valuationReport returns JSON, or an xlsx download with ?format=xlsx.
func (h *Handler) valuationReport(c *gin.Context) {
	ledger, ok := valuationLedger(c)
	if !ok {
		return
	}
	report, err := reports.GetInventoryValuationReport(c.Request.Context(), ledger)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if c.Query("format") != "xlsx" {
		c.JSON(http.StatusOK, report)
		return
	}
	filename := fmt.Sprintf("inventory-valuation-%s.xlsx", report.GeneratedAt.Format("20060102"))
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Header("Content-Type", reports.XlsxContentType)
	c.Status(http.StatusOK)
	if err := reports.WriteValuationExcel(report, c.Writer); err != nil {
		_ = c.Error(err)
	}
}

func (h *Handler) exportValuation(c *gin.Context) {
	ledger, ok := valuationLedger(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	tenantId, _ := utils.GetTenantIdFromContext(ctx)
	report, err := reports.GetInventoryValuationReport(ctx, ledger)
	if err != nil {
		h.writeError(c, err)
		return
	}
	uri, err := reports.ExportValuationToGCS(ctx, tenantId, report)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"uri": uri, "generated_at": report.GeneratedAt.Format(time.RFC3339), "rows": len(report.Rows)})
}

func (h *Handler) outboxSummary(c *gin.Context) {
	counts, err := models.CountLedgerOutboxByStatus(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (h *Handler) outboxStatus(c *gin.Context) {
	docId, ok := idParam(c, "docId")
	if !ok {
		return
	}
	statuses, err := models.GetLedgerOutboxStatus(c.Request.Context(), models.SourceDocType(strings.ToUpper(c.Param("docType"))), docId)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, statuses)
}

func (h *Handler) replayOutbox(c *gin.Context) {
	status, err := models.ReplayLedgerOutbox(c.Request.Context(), c.Param("entryId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
