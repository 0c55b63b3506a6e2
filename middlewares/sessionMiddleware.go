package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/threadworks/erp_backend/utils"
)

// The API sits behind a gateway that authenticates the caller and forwards
// the tenant and user as headers.
const (
	HeaderTenantId      = "X-Tenant-Id"
	HeaderUserName      = "X-User-Name"
	HeaderCorrelationId = "X-Correlation-Id"
)

func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(HeaderCorrelationId)
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header(HeaderCorrelationId, cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	}
}

func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if tenantId := strings.TrimSpace(c.GetHeader(HeaderTenantId)); tenantId != "" {
			ctx = utils.SetTenantIdInContext(ctx, tenantId)
		}
		if name := strings.TrimSpace(c.GetHeader(HeaderUserName)); name != "" {
			ctx = utils.SetUserNameInContext(ctx, name)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireTenant rejects requests that did not name a tenant.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if tenantId, ok := utils.GetTenantIdFromContext(c.Request.Context()); !ok || tenantId == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant id is required"})
			return
		}
		c.Next()
	}
}
