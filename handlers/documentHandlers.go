package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/threadworks/erp_backend/models"
)

func (h *Handler) registerDocuments(r gin.IRouter) {
	adj := r.Group("/inventory-adjustments")
	adj.POST("", h.createAdjustment)
	adj.GET("/:id", h.getAdjustment)
	adj.POST("/:id/lines", h.addAdjustmentLine)
	adj.POST("/:id/approve", h.approveAdjustment)
	adj.POST("/:id/post", h.postAdjustment)
	adj.POST("/:id/cancel", h.cancelAdjustment)

	to := r.Group("/transfer-orders")
	to.POST("", h.createTransferOrder)
	to.GET("/:id", h.getTransferOrder)
	to.POST("/:id/lines", h.addTransferOrderLine)
	to.POST("/:id/post", h.postTransferOrder)
	to.POST("/:id/cancel", h.cancelTransferOrder)

	grn := r.Group("/goods-receipts")
	grn.POST("", h.createGoodsReceipt)
	grn.GET("/:id", h.getGoodsReceipt)
	grn.POST("/:id/lines", h.addGoodsReceiptLine)
	grn.POST("/:id/approve-variance", h.approveGoodsReceiptVariance)
	grn.POST("/:id/post", h.postGoodsReceipt)
	grn.POST("/:id/cancel", h.cancelGoodsReceipt)

	dlv := r.Group("/deliveries")
	dlv.POST("", h.createDelivery)
	dlv.GET("/:id", h.getDelivery)
	dlv.POST("/:id/lines", h.addDeliveryLine)
	dlv.POST("/:id/post", h.postDelivery)
	dlv.POST("/:id/cancel", h.cancelDelivery)
}

// Inventory adjustments

func (h *Handler) createAdjustment(c *gin.Context) {
	var input models.NewInventoryAdjustment
	if !bindJSON(c, &input) {
		return
	}
	adj, err := models.CreateInventoryAdjustment(c.Request.Context(), &input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, adj)
}

func (h *Handler) getAdjustment(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	adj, err := models.GetInventoryAdjustment(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, adj)
}

func (h *Handler) addAdjustmentLine(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input models.NewInventoryAdjustmentDetail
	if !bindJSON(c, &input) {
		return
	}
	lines, err := h.Engine.AddInventoryAdjustmentLine(c.Request.Context(), id, input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lines)
}

func (h *Handler) approveAdjustment(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	adj, err := h.Engine.ApproveInventoryAdjustment(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, adj)
}

func (h *Handler) postAdjustment(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	posted, err := h.Engine.PostInventoryAdjustment(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, posted.Document())
}

func (h *Handler) cancelAdjustment(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	adj, err := h.Engine.CancelInventoryAdjustment(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, adj)
}

// Transfer orders

func (h *Handler) createTransferOrder(c *gin.Context) {
	var input models.NewTransferOrder
	if !bindJSON(c, &input) {
		return
	}
	order, err := models.CreateTransferOrder(c.Request.Context(), &input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) getTransferOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	order, err := models.GetTransferOrder(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) addTransferOrderLine(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input models.NewTransferOrderDetail
	if !bindJSON(c, &input) {
		return
	}
	lines, err := h.Engine.AddTransferOrderLine(c.Request.Context(), id, input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lines)
}

func (h *Handler) postTransferOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	posted, err := h.Engine.PostTransferOrder(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, posted.Document())
}

func (h *Handler) cancelTransferOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	order, err := h.Engine.CancelTransferOrder(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// Goods receipts

func (h *Handler) createGoodsReceipt(c *gin.Context) {
	var input models.NewGoodsReceipt
	if !bindJSON(c, &input) {
		return
	}
	grn, err := models.CreateGoodsReceipt(c.Request.Context(), &input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, grn)
}

func (h *Handler) getGoodsReceipt(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	grn, err := models.GetGoodsReceipt(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, grn)
}

func (h *Handler) addGoodsReceiptLine(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input models.NewGoodsReceiptDetail
	if !bindJSON(c, &input) {
		return
	}
	lines, err := h.Engine.AddGoodsReceiptLine(c.Request.Context(), id, input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lines)
}

func (h *Handler) approveGoodsReceiptVariance(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	grn, err := h.Engine.ApproveGoodsReceiptVariance(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, grn)
}

func (h *Handler) postGoodsReceipt(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	posted, err := h.Engine.PostGoodsReceipt(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, posted.Document())
}

func (h *Handler) cancelGoodsReceipt(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	grn, err := h.Engine.CancelGoodsReceipt(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, grn)
}

// Deliveries

func (h *Handler) createDelivery(c *gin.Context) {
	var input models.NewDelivery
	if !bindJSON(c, &input) {
		return
	}
	dlv, err := models.CreateDelivery(c.Request.Context(), &input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dlv)
}

func (h *Handler) getDelivery(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	dlv, err := models.GetDelivery(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dlv)
}

func (h *Handler) addDeliveryLine(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input models.NewDeliveryDetail
	if !bindJSON(c, &input) {
		return
	}
	lines, err := h.Engine.AddDeliveryLine(c.Request.Context(), id, input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lines)
}

func (h *Handler) postDelivery(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	posted, err := h.Engine.PostDelivery(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, posted.Document())
}

func (h *Handler) cancelDelivery(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	dlv, err := h.Engine.CancelDelivery(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dlv)
}
