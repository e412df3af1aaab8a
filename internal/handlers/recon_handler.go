package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"shipping-rates-service/internal/models"
	"shipping-rates-service/internal/recon"
)

// ReconHandler handles HTTP requests for billing reconciliation
type ReconHandler struct {
	engine *recon.Engine
}

// NewReconHandler creates a new reconciliation handler
func NewReconHandler(engine *recon.Engine) *ReconHandler {
	return &ReconHandler{engine: engine}
}

// ImportBilling handles POST /api/reconciliation/import
func (h *ReconHandler) ImportBilling(c *gin.Context) {
	tenantID := getTenantID(c)

	var request models.ImportBillingRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}
	if len(request.Records) == 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Empty import batch",
			Message: "At least one billing record is required",
		})
		return
	}

	summary, err := h.engine.ImportBatch(c.Request.Context(), tenantID, request)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "Failed to import billing records",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    summary,
		Message: stringPtr("Billing batch reconciled"),
	})
}

// ListCases handles GET /api/reconciliation/cases
func (h *ReconHandler) ListCases(c *gin.Context) {
	tenantID := getTenantID(c)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	status := models.VarianceStatus(c.Query("status"))

	cases, total, err := h.engine.ListCases(c.Request.Context(), tenantID, status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "Failed to list variance cases",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.ListResponse{
		Success: true,
		Data:    cases,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

// ResolveCase handles POST /api/reconciliation/cases/:id/resolve
func (h *ReconHandler) ResolveCase(c *gin.Context) {
	tenantID := getTenantID(c)

	caseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid case ID",
			Message: "Case ID must be a valid UUID",
		})
		return
	}

	var request models.ResolveCaseRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	resolvedBy := c.GetString("user_id")
	varianceCase, err := h.engine.ResolveCase(c.Request.Context(), tenantID, caseID, resolvedBy, request)
	if err != nil {
		if models.IsValidation(err) {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "Invalid resolution",
				Message: err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "Failed to resolve case",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    varianceCase,
		Message: stringPtr("Variance case updated"),
	})
}
