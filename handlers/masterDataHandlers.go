package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/threadworks/erp_backend/models"
)

func (h *Handler) registerMasterData(r gin.IRouter) {
	r.POST("/materials", h.createMaterial)
	r.GET("/materials", h.listMaterials)
	r.POST("/products", h.createProduct)
	r.GET("/products", h.listProducts)
	r.GET("/products/:id/explode", h.explodeBom)
	r.POST("/warehouses", h.createWarehouse)
	r.GET("/warehouses", h.listWarehouses)
	r.POST("/bins", h.createBin)

	r.POST("/periods", h.createPeriod)
	r.GET("/periods", h.listPeriods)
	r.POST("/periods/:id/close", h.closePeriod)

	r.POST("/boms", h.createBom)
	r.GET("/boms/:id", h.getBom)
	r.POST("/boms/:id/lines", h.addBomLine)
}

func (h *Handler) createMaterial(c *gin.Context) {
	var input models.NewMaterial
	if !bindJSON(c, &input) {
		return
	}
	material, err := models.CreateMaterial(c.Request.Context(), &input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, material)
}

func (h *Handler) listMaterials(c *gin.Context) {
	materials, err := models.ListMaterials(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, materials)
}

func (h *Handler) createProduct(c *gin.Context) {
	var input models.NewProduct
	if !bindJSON(c, &input) {
		return
	}
	product, err := models.CreateProduct(c.Request.Context(), &input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (h *Handler) listProducts(c *gin.Context) {
	products, err := models.ListProducts(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

// explodeBom answers GET /products/:id/explode?qty=5&as_of=2026-03-01.
func (h *Handler) explodeBom(c *gin.Context) {
	productId, ok := idParam(c, "id")
	if !ok {
		return
	}
	qty, err := decimal.NewFromString(c.DefaultQuery("qty", "1"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid qty"})
		return
	}
	asOf := time.Now().UTC()
	if v := c.Query("as_of"); v != "" {
		if asOf, err = time.Parse("2006-01-02", v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "as_of must be YYYY-MM-DD"})
			return
		}
	}
	reqs, err := h.Engine.ExplodeBOM(c.Request.Context(), productId, qty, asOf)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product_id":   productId,
		"quantity":     qty,
		"requirements": reqs,
		"by_material":  models.AggregateByMaterial(reqs),
	})
}

func (h *Handler) createWarehouse(c *gin.Context) {
	var input models.NewWarehouse
	if !bindJSON(c, &input) {
		return
	}
	warehouse, err := models.CreateWarehouse(c.Request.Context(), &input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, warehouse)
}

func (h *Handler) listWarehouses(c *gin.Context) {
	warehouses, err := models.ListWarehouses(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, warehouses)
}

func (h *Handler) createBin(c *gin.Context) {
	var input models.NewBin
	if !bindJSON(c, &input) {
		return
	}
	bin, err := models.CreateBin(c.Request.Context(), &input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bin)
}

func (h *Handler) createPeriod(c *gin.Context) {
	var input models.NewAccountingPeriod
	if !bindJSON(c, &input) {
		return
	}
	period, err := models.CreateAccountingPeriod(c.Request.Context(), &input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, period)
}

func (h *Handler) listPeriods(c *gin.Context) {
	periods, err := models.ListAccountingPeriods(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, periods)
}

func (h *Handler) closePeriod(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	period, err := h.Engine.ClosePeriod(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, period)
}

func (h *Handler) createBom(c *gin.Context) {
	var input models.NewBillOfMaterials
	if !bindJSON(c, &input) {
		return
	}
	bom, err := models.CreateBillOfMaterials(c.Request.Context(), &input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bom)
}

func (h *Handler) getBom(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	bom, err := models.GetBillOfMaterials(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bom)
}

func (h *Handler) addBomLine(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input models.NewBomLine
	if !bindJSON(c, &input) {
		return
	}
	line, err := models.AddBomLine(c.Request.Context(), id, &input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, line)
}
