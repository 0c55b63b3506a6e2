package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threadworks/erp_backend/config"
	"github.com/threadworks/erp_backend/handlers"
	"github.com/threadworks/erp_backend/middlewares"
	"github.com/threadworks/erp_backend/models"
	"github.com/threadworks/erp_backend/testutil"
	"github.com/threadworks/erp_backend/workflow"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type api struct {
	router *gin.Engine
	f      *testutil.Fixture
}

func newAPI(t *testing.T) *api {
	t.Helper()
	testutil.OpenDB(t)
	f := testutil.NewFixture(t, "tenant-http")
	engine := workflow.NewEngine(config.LoadSettings())

	r := gin.New()
	r.Use(middlewares.SessionMiddleware())
	g := r.Group("/api/v1", middlewares.RequireTenant())
	handlers.New(engine, config.GetLogger()).Register(g)
	return &api{router: r, f: f}
}

func (a *api) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middlewares.HeaderTenantId, a.f.TenantId)
	req.Header.Set(middlewares.HeaderUserName, "clerk")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

var itoa = strconv.Itoa

func movement(itemId, warehouseId int, qty, cost string) gin.H {
	return gin.H{
		"item_id":          itemId,
		"warehouse_id":     warehouseId,
		"quantity":         qty,
		"unit_cost":        cost,
		"transaction_date": "2026-03-01T00:00:00Z",
	}
}

func TestTenantHeaderIsRequired(t *testing.T) {
	a := newAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/materials", nil)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"tenant id is required"}`, w.Body.String())
}

func TestReceiveReplaysIdempotencyKey(t *testing.T) {
	a := newAPI(t)
	cloth := a.f.Material(t, "Cloth")
	key := map[string]string{"Idempotency-Key": "GRN-2001"}

	w := a.do(t, http.MethodPost, "/stock/rm/receive", movement(cloth.ID, a.f.Main.ID, "10", "5"), key)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var first workflow.PostingResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.False(t, first.Replayed)
	assert.True(t, first.Balance.Quantity.Equal(decimal.NewFromInt(10)))

	w = a.do(t, http.MethodPost, "/stock/rm/receive", movement(cloth.ID, a.f.Main.ID, "10", "5"), key)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var again workflow.PostingResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &again))
	assert.True(t, again.Replayed)
	assert.Equal(t, first.EntryId, again.EntryId)

	w = a.do(t, http.MethodGet, "/balances/RM/"+itoa(cloth.ID)+"?warehouse_id="+itoa(a.f.Main.ID), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap models.BalanceSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.True(t, snap.Quantity.Equal(decimal.NewFromInt(10)))

	w = a.do(t, http.MethodGet, "/history/RM/"+itoa(cloth.ID)+"?warehouse_id="+itoa(a.f.Main.ID), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []models.LedgerEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "clerk", history[0].CreatedBy)
}

func TestInsufficientStockIsConflict(t *testing.T) {
	a := newAPI(t)
	cloth := a.f.Material(t, "Cloth")
	w := a.do(t, http.MethodPost, "/stock/rm/receive", movement(cloth.ID, a.f.Main.ID, "3", "5"), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = a.do(t, http.MethodPost, "/stock/rm/issue", movement(cloth.ID, a.f.Main.ID, "5", "0"), nil)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	var body struct {
		Error     string          `json:"error"`
		Required  decimal.Decimal `json:"required"`
		Available decimal.Decimal `json:"available"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "insufficient stock")
	assert.True(t, body.Required.Equal(decimal.NewFromInt(5)))
	assert.True(t, body.Available.Equal(decimal.NewFromInt(3)))
}

func TestBadRequests(t *testing.T) {
	a := newAPI(t)

	w := a.do(t, http.MethodGet, "/balances/XX/1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodGet, "/balances/RM/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodGet, "/inventory-adjustments/4242", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodPost, "/stock/rm/receive", movement(9999, a.f.Main.ID, "1", "1"), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
}

func TestAdjustmentLifecycleOverHTTP(t *testing.T) {
	a := newAPI(t)
	cloth := a.f.Material(t, "Cloth")
	w := a.do(t, http.MethodPost, "/stock/rm/receive", movement(cloth.ID, a.f.Main.ID, "10", "5"), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = a.do(t, http.MethodPost, "/inventory-adjustments", gin.H{
		"ledger":          "RM",
		"warehouse_id":    a.f.Main.ID,
		"adjustment_date": "2026-03-05T00:00:00Z",
		"reason":          "cycle count",
		"details":         []gin.H{{"item_id": cloth.ID, "qty_variance": "-2"}},
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var adj models.InventoryAdjustment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &adj))
	assert.Equal(t, "clerk", adj.CreatedBy)

	w = a.do(t, http.MethodPost, "/inventory-adjustments/"+itoa(adj.ID)+"/post", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &adj))
	assert.Equal(t, models.DocumentStatusPosted, adj.Status)

	w = a.do(t, http.MethodPost, "/inventory-adjustments/"+itoa(adj.ID)+"/post", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, http.MethodGet, "/outbox/status/iva/"+itoa(adj.ID), nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var statuses []models.LedgerOutboxStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, models.OutboxPublishStatusPending, statuses[0].PublishStatus)
}

func TestReleaseShortageListsMaterials(t *testing.T) {
	a := newAPI(t)
	shirt := a.f.Product(t, "Shirt")
	cloth := a.f.Material(t, "Cloth")
	bom := a.f.Bom(t, shirt.ID, "sew")
	a.f.MaterialLine(t, bom.ID, cloth.ID, "2", "0", "sew")

	w := a.do(t, http.MethodPost, "/production-orders", gin.H{
		"product_id":            shirt.ID,
		"quantity":              "5",
		"material_warehouse_id": a.f.Main.ID,
		"fg_warehouse_id":       a.f.Main.ID,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var order models.ProductionOrder
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))

	w = a.do(t, http.MethodPost, "/production-orders/"+itoa(order.ID)+"/release", nil, nil)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	var body struct {
		Shortages []models.MrpLine `json:"shortages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Shortages, 1)
	assert.Equal(t, cloth.ID, body.Shortages[0].MaterialId)
	assert.Equal(t, models.MrpActionPurchase, body.Shortages[0].Action)
	assert.True(t, body.Shortages[0].NetRequirement.Equal(decimal.NewFromInt(10)))
}
