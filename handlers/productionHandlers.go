package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/threadworks/erp_backend/models"
	"github.com/threadworks/erp_backend/workflow"
)

func (h *Handler) registerProduction(r gin.IRouter) {
	mo := r.Group("/production-orders")
	mo.POST("", h.createProductionOrder)
	mo.GET("", h.listProductionOrders)
	mo.GET("/:id", h.getProductionOrder)
	mo.POST("/:id/plan", h.planProductionOrder)
	mo.POST("/:id/release", h.releaseProductionOrder)
	mo.POST("/:id/stage-output", h.recordStageOutput)
	mo.POST("/:id/labor", h.recordLaborTime)
	mo.POST("/:id/complete", h.completeProductionOrder)
	mo.POST("/:id/cancel", h.cancelProductionOrder)

	r.POST("/mrp/plan", h.planProductionOrders)
}

func (h *Handler) createProductionOrder(c *gin.Context) {
	var input models.NewProductionOrder
	if !bindJSON(c, &input) {
		return
	}
	order, err := models.CreateProductionOrder(c.Request.Context(), &input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) listProductionOrders(c *gin.Context) {
	var status *models.ProductionOrderStatus
	if v := c.Query("status"); v != "" {
		s := models.ProductionOrderStatus(v)
		status = &s
	}
	orders, err := models.ListProductionOrders(c.Request.Context(), status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *Handler) getProductionOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	order, err := models.GetProductionOrder(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) planProductionOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	plan, err := h.Engine.PlanOrder(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

type planOrdersRequest struct {
	ProductionOrderIds []int `json:"production_order_ids" binding:"required,min=1"`
}

func (h *Handler) planProductionOrders(c *gin.Context) {
	var req planOrdersRequest
	if !bindJSON(c, &req) {
		return
	}
	plans, err := h.Engine.PlanOrders(c.Request.Context(), req.ProductionOrderIds)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plans)
}

func (h *Handler) releaseProductionOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	plan, err := h.Engine.ReleaseProductionOrder(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (h *Handler) recordStageOutput(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req workflow.StageOutputRequest
	if !bindJSON(c, &req) {
		return
	}
	req.ProductionOrderId = id
	result, err := h.Engine.RecordStageOutput(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) recordLaborTime(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input workflow.NewLaborTime
	if !bindJSON(c, &input) {
		return
	}
	input.ProductionOrderId = id
	entry, err := h.Engine.RecordLaborTime(c.Request.Context(), input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) completeProductionOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	order, err := h.Engine.CompleteProductionOrder(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) cancelProductionOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	order, err := h.Engine.CancelProductionOrder(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
