package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/threadworks/erp_backend/models"
	"github.com/threadworks/erp_backend/workflow"
	"gorm.io/gorm"
)

// Handler exposes the ledger engine and master data over JSON.
type Handler struct {
	Engine *workflow.Engine
	Logger *logrus.Logger
}

func New(engine *workflow.Engine, logger *logrus.Logger) *Handler {
	return &Handler{Engine: engine, Logger: logger}
}

// Register mounts every route on r. Callers put the tenant middleware in front.
func (h *Handler) Register(r gin.IRouter) {
	h.registerMasterData(r)
	h.registerStock(r)
	h.registerDocuments(r)
	h.registerProduction(r)
	h.registerOperations(r)
}

func statusFor(err error) int {
	var (
		is *models.InsufficientStockError
		pc *models.PeriodClosedError
		ms *models.MaterialShortageError
		ds *models.InvalidDocumentStateError
		pv *models.PriceVarianceExceededError
		cb *models.CircularBOMError
	)
	switch {
	case errors.Is(err, models.ErrRecordNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrTenantRequired):
		return http.StatusUnauthorized
	case errors.As(err, &is), errors.As(err, &pc), errors.As(err, &ms), errors.As(err, &ds), errors.As(err, &pv),
		errors.Is(err, models.ErrApprovalRequired), errors.Is(err, models.ErrConcurrentUpdate),
		errors.Is(err, models.ErrIdempotencyInProgress), errors.Is(err, models.ErrLedgerImmutable):
		return http.StatusConflict
	case errors.As(err, &cb), errors.Is(err, models.ErrInvalidMovement),
		errors.Is(err, models.ErrBomDepthExceeded), errors.Is(err, models.ErrBomNotFound):
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}

func (h *Handler) writeError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	var (
		ms *models.MaterialShortageError
		is *models.InsufficientStockError
	)
	if errors.As(err, &ms) {
		body["shortages"] = ms.Lines
	}
	if errors.As(err, &is) {
		body["required"] = is.Required
		body["available"] = is.Available
	}
	status := statusFor(err)
	if status == http.StatusBadRequest && !models.IsBusinessRuleError(err) {
		_ = c.Error(err)
	}
	c.JSON(status, body)
}

func idParam(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return false
	}
	return true
}

func queryInt(c *gin.Context, name string) (int, bool) {
	v := c.Query(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return n, true
}

func ledgerParam(c *gin.Context) (models.LedgerType, bool) {
	ledger := models.LedgerType(c.Param("ledger"))
	if !ledger.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ledger must be RM, WIP or FG"})
		return "", false
	}
	return ledger, true
}

// locationQuery reads warehouse_id/bin_id or production_order_id/stage.
func locationQuery(c *gin.Context) (models.Location, bool) {
	var loc models.Location
	var ok bool
	if loc.WarehouseId, ok = queryInt(c, "warehouse_id"); !ok {
		return loc, false
	}
	if loc.BinId, ok = queryInt(c, "bin_id"); !ok {
		return loc, false
	}
	if loc.ProductionOrderId, ok = queryInt(c, "production_order_id"); !ok {
		return loc, false
	}
	loc.Stage = c.Query("stage")
	return loc, true
}
