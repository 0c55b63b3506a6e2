package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/threadworks/erp_backend/workflow"
)

type stockMove func(ctx context.Context, req workflow.StockMovementRequest) (*workflow.PostingResult, error)

func (h *Handler) registerStock(r gin.IRouter) {
	r.POST("/stock/rm/receive", h.postStock(h.Engine.ReceiveMaterial))
	r.POST("/stock/rm/issue", h.postStock(h.Engine.IssueMaterial))
	r.POST("/stock/fg/receive", h.postStock(h.Engine.ReceiveFinishedGoods))
	r.POST("/stock/fg/issue", h.postStock(h.Engine.IssueFinishedGoods))

	r.GET("/balances/:ledger/:item", h.getBalance)
	r.GET("/history/:ledger/:item", h.ledgerHistory)
}

func (h *Handler) postStock(move stockMove) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req workflow.StockMovementRequest
		if !bindJSON(c, &req) {
			return
		}
		if req.Reference == "" {
			req.Reference = c.GetHeader("Idempotency-Key")
		}
		result, err := move(c.Request.Context(), req)
		if err != nil {
			h.writeError(c, err)
			return
		}
		status := http.StatusCreated
		if result.Replayed {
			status = http.StatusOK
		}
		c.JSON(status, result)
	}
}

func (h *Handler) getBalance(c *gin.Context) {
	ledger, ok := ledgerParam(c)
	if !ok {
		return
	}
	itemId, ok := idParam(c, "item")
	if !ok {
		return
	}
	loc, ok := locationQuery(c)
	if !ok {
		return
	}
	balance, err := h.Engine.GetBalance(c.Request.Context(), ledger, itemId, loc)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

func (h *Handler) ledgerHistory(c *gin.Context) {
	ledger, ok := ledgerParam(c)
	if !ok {
		return
	}
	itemId, ok := idParam(c, "item")
	if !ok {
		return
	}
	loc, ok := locationQuery(c)
	if !ok {
		return
	}
	entries, err := h.Engine.LedgerHistory(c.Request.Context(), ledger, itemId, loc)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
