package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"shipping-rates-service/internal/booking"
	"shipping-rates-service/internal/models"
	"shipping-rates-service/internal/repository"
)

// BookingHandler handles HTTP requests for shipment booking and tracking
type BookingHandler struct {
	saga         *booking.Saga
	tracker      *booking.Tracker
	shipmentRepo repository.ShipmentRepository
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(saga *booking.Saga, tracker *booking.Tracker, shipmentRepo repository.ShipmentRepository) *BookingHandler {
	return &BookingHandler{
		saga:         saga,
		tracker:      tracker,
		shipmentRepo: shipmentRepo,
	}
}

// BookShipment handles POST /api/shipments
func (h *BookingHandler) BookShipment(c *gin.Context) {
	tenantID := getTenantID(c)

	var request models.BookShipmentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	response, err := h.saga.Book(c.Request.Context(), tenantID, request)
	if err != nil {
		status, title := bookingErrorStatus(err)
		c.JSON(status, models.ErrorResponse{
			Error:   title,
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, models.SuccessResponse{
		Success: true,
		Data:    response,
		Message: stringPtr("Shipment booked successfully"),
	})
}

// GetShipment handles GET /api/shipments/:id
func (h *BookingHandler) GetShipment(c *gin.Context) {
	tenantID := getTenantID(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid shipment ID",
			Message: "Shipment ID must be a valid UUID",
		})
		return
	}

	shipment, err := h.shipmentRepo.GetByID(c.Request.Context(), id, tenantID)
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "Shipment not found",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    shipment,
	})
}

// GetShipmentHistory handles GET /api/shipments/:id/history
func (h *BookingHandler) GetShipmentHistory(c *gin.Context) {
	tenantID := getTenantID(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid shipment ID",
			Message: "Shipment ID must be a valid UUID",
		})
		return
	}

	events, err := h.shipmentRepo.GetStatusEvents(c.Request.Context(), id, tenantID)
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "Shipment not found",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    events,
	})
}

// ListShipments handles GET /api/shipments
func (h *BookingHandler) ListShipments(c *gin.Context) {
	tenantID := getTenantID(c)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	shipments, total, err := h.shipmentRepo.List(c.Request.Context(), tenantID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "Failed to list shipments",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.ListResponse{
		Success: true,
		Data:    shipments,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

// TrackShipment handles GET /api/shipments/track/:awb
func (h *BookingHandler) TrackShipment(c *gin.Context) {
	tenantID := getTenantID(c)

	awb := c.Param("awb")
	info, err := h.tracker.Track(c.Request.Context(), tenantID, awb)
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "Shipment not found",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    info,
	})
}

// UpdateStatus handles POST /webhooks/status (carrier callbacks)
func (h *BookingHandler) UpdateStatus(c *gin.Context) {
	var request models.UpdateStatusRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid webhook payload",
			Message: err.Error(),
		})
		return
	}

	if err := h.tracker.ApplyStatus(c.Request.Context(), request); err != nil {
		if models.IsValidation(err) {
			c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{
				Error:   "Invalid status transition",
				Message: err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "Failed to apply status update",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    gin.H{"awb": request.AWB, "status": request.Status},
	})
}

func bookingErrorStatus(err error) (int, string) {
	var compensated *models.BookingCompensatedError
	switch {
	case errors.Is(err, models.ErrSessionExpired), errors.Is(err, models.ErrSessionNotFound):
		return http.StatusGone, "Quote session expired"
	case errors.Is(err, models.ErrSessionBooked):
		return http.StatusUnprocessableEntity, "Quote session already booked"
	case errors.Is(err, models.ErrInvalidOption):
		return http.StatusUnprocessableEntity, "Option not found in session"
	case models.IsValidation(err):
		return http.StatusBadRequest, "Invalid booking request"
	case errors.As(err, &compensated):
		return http.StatusBadGateway, "Booking compensated"
	case errors.Is(err, models.ErrProviderUnavailable):
		return http.StatusBadGateway, "Carrier unavailable"
	default:
		return http.StatusInternalServerError, "Failed to book shipment"
	}
}
