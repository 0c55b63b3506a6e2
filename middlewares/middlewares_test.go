package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threadworks/erp_backend/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func echoContext(c *gin.Context) {
	ctx := c.Request.Context()
	tenantId, _ := utils.GetTenantIdFromContext(ctx)
	user, _ := utils.GetUserNameFromContext(ctx)
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	c.JSON(http.StatusOK, gin.H{"tenant": tenantId, "user": user, "cid": cid})
}

func TestSessionAndCorrelation(t *testing.T) {
	r := gin.New()
	r.Use(CorrelationMiddleware(), SessionMiddleware())
	r.GET("/who", echoContext)

	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set(HeaderTenantId, " acme ")
	req.Header.Set(HeaderUserName, "kim")
	req.Header.Set(HeaderCorrelationId, "cid-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"tenant":"acme","user":"kim","cid":"cid-1"}`, w.Body.String())
	assert.Equal(t, "cid-1", w.Header().Get(HeaderCorrelationId))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/who", nil))
	assert.NotEmpty(t, w.Header().Get(HeaderCorrelationId), "a correlation id is generated when missing")
}

func TestRequireTenant(t *testing.T) {
	r := gin.New()
	r.Use(SessionMiddleware(), RequireTenant())
	r.GET("/who", echoContext)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/who", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"tenant id is required"}`, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set(HeaderTenantId, "acme")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func limitedRouter(client *redis.Client, limit int64) *gin.Engine {
	r := gin.New()
	r.Use(SessionMiddleware(), NewRateLimiter(client, limit, time.Minute).Middleware)
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func ping(r *gin.Engine, tenantId string) int {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if tenantId != "" {
		req.Header.Set(HeaderTenantId, tenantId)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimiterPerTenant(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	r := limitedRouter(client, 2)

	assert.Equal(t, http.StatusNoContent, ping(r, "acme"))
	assert.Equal(t, http.StatusNoContent, ping(r, "acme"))
	assert.Equal(t, http.StatusTooManyRequests, ping(r, "acme"))
	assert.Equal(t, http.StatusNoContent, ping(r, "globex"), "tenants have separate windows")

	assert.True(t, mr.Exists("ratelimit:tenant:acme"))
	assert.Greater(t, mr.TTL("ratelimit:tenant:acme"), time.Duration(0))

	mr.FastForward(2 * time.Minute)
	assert.Equal(t, http.StatusNoContent, ping(r, "acme"))

	assert.Equal(t, http.StatusNoContent, ping(r, ""))
	assert.True(t, mr.Exists("ratelimit:ip:192.0.2.1"))
}

func TestRateLimiterFailsOpen(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	r := limitedRouter(client, 1)

	mr.Close()
	assert.Equal(t, http.StatusNoContent, ping(r, "acme"))
	assert.Equal(t, http.StatusNoContent, ping(r, "acme"))
}
