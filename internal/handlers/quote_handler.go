package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"shipping-rates-service/internal/models"
	"shipping-rates-service/internal/quotes"
)

// QuoteHandler handles HTTP requests for quote sessions
type QuoteHandler struct {
	orchestrator *quotes.Orchestrator
}

// NewQuoteHandler creates a new quote handler
func NewQuoteHandler(orchestrator *quotes.Orchestrator) *QuoteHandler {
	return &QuoteHandler{orchestrator: orchestrator}
}

// GenerateQuote handles POST /api/quotes
func (h *QuoteHandler) GenerateQuote(c *gin.Context) {
	tenantID := getTenantID(c)

	var request models.QuoteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	session, err := h.orchestrator.GenerateQuote(c.Request.Context(), tenantID, request)
	if err != nil {
		if models.IsValidation(err) {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "Invalid quote request",
				Message: err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "Failed to generate quote",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data: models.QuoteResponse{
			SessionID:        session.ID,
			Options:          session.Options,
			RecommendedID:    session.RecommendedID,
			Confidence:       session.Confidence,
			ProviderTimeouts: session.ProviderTimeouts,
			ExpiresAt:        session.ExpiresAt,
		},
	})
}

// GetQuote handles GET /api/quotes/:sessionId
func (h *QuoteHandler) GetQuote(c *gin.Context) {
	tenantID := getTenantID(c)

	sessionID, err := uuid.Parse(c.Param("sessionId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid session ID",
			Message: "Session ID must be a valid UUID",
		})
		return
	}

	session, err := h.orchestrator.GetSession(c.Request.Context(), tenantID, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) || errors.Is(err, models.ErrSessionExpired) {
			c.JSON(http.StatusGone, models.ErrorResponse{
				Error:   "Quote session expired",
				Message: "Generate a new quote to continue",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "Failed to load quote session",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    session,
	})
}

// SelectOption handles POST /api/quotes/:sessionId/select
func (h *QuoteHandler) SelectOption(c *gin.Context) {
	tenantID := getTenantID(c)

	sessionID, err := uuid.Parse(c.Param("sessionId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid session ID",
			Message: "Session ID must be a valid UUID",
		})
		return
	}

	var request models.SelectOptionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	if err := h.orchestrator.SelectOption(c.Request.Context(), tenantID, sessionID, request.OptionID); err != nil {
		status, title := selectionErrorStatus(err)
		c.JSON(status, models.ErrorResponse{
			Error:   title,
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    gin.H{"sessionId": sessionID, "selectedOptionId": request.OptionID},
		Message: stringPtr("Option selected"),
	})
}

func selectionErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrSessionExpired), errors.Is(err, models.ErrSessionNotFound):
		return http.StatusGone, "Quote session expired"
	case errors.Is(err, models.ErrSessionBooked):
		return http.StatusUnprocessableEntity, "Quote session already booked"
	case errors.Is(err, models.ErrInvalidOption):
		return http.StatusUnprocessableEntity, "Option not found in session"
	default:
		return http.StatusInternalServerError, "Failed to select option"
	}
}
