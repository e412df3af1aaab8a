package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthCheck handles GET /health
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "shipping-rates-service",
	})
}

func getTenantID(c *gin.Context) string {
	// Set by upstream auth middleware when the gateway injects the tenant
	tenantID := c.GetString("tenant_id")

	// Fall back to the value set by TenantMiddleware
	if tenantID == "" {
		tenantID = c.GetString("tenantID")
	}
	if tenantID == "" {
		tenantID = "default"
	}
	return tenantID
}

func stringPtr(s string) *string {
	return &s
}
