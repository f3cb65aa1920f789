package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"reservation-service/internal/service"
	"reservation-service/internal/store"
	"reservation-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	checkout  *service.CheckoutService
	manager   *service.ReservationManager
	inventory *service.Inventory
}

// NewHandler creates a new HTTP handler
func NewHandler(checkout *service.CheckoutService, manager *service.ReservationManager, inventory *service.Inventory) *Handler {
	return &Handler{
		checkout:  checkout,
		manager:   manager,
		inventory: inventory,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/checkout", h.beginCheckout)
		v1.POST("/reservations", h.createReservation)
		v1.GET("/sessions/:id", h.getSession)
		v1.POST("/sessions/:id/extend", h.extendSession)
		v1.POST("/sessions/:id/commit", h.commitSession)
		v1.POST("/sessions/:id/abandon", h.abandonSession)
		v1.GET("/inventory/:sku", h.getAvailable)
		v1.PUT("/inventory/:sku", h.setStock)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// beginCheckout reserves all requested items under one new session
func (h *Handler) beginCheckout(c *gin.Context) {
	var req service.BeginCheckoutRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	session, reservations, err := h.checkout.BeginCheckout(c.Request.Context(), &req)
	if err != nil {
		status, msg := statusForError(err)
		c.JSON(status, gin.H{"error": msg, "details": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session":      session,
		"reservations": reservations,
	})
}

type createReservationRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	SkuID     string `json:"sku_id" binding:"required"`
	Qty       int    `json:"qty" binding:"required,min=1"`
}

// createReservation adds one hold to an existing session ("buy now" path)
func (h *Handler) createReservation(c *gin.Context) {
	var req createReservationRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	res, err := h.manager.Reserve(c.Request.Context(), req.SessionID, req.SkuID, req.Qty)
	if err != nil {
		status, msg := statusForError(err)
		c.JSON(status, gin.H{"error": msg, "details": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"reservation_id": res.ReservationID,
		"expires_at":     res.ExpiresAt,
	})
}

// getSession returns a session with its reservations; the client derives
// its countdown from the server-issued expires_at.
func (h *Handler) getSession(c *gin.Context) {
	session, reservations, err := h.manager.GetSessionState(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, msg := statusForError(err)
		c.JSON(status, gin.H{"error": msg, "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session":      session,
		"reservations": reservations,
	})
}

// extendSession consumes the session's single allowed extension
func (h *Handler) extendSession(c *gin.Context) {
	newExpiry, err := h.checkout.Extend(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, msg := statusForError(err)
		c.JSON(status, gin.H{"error": msg, "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"expires_at": newExpiry})
}

// commitSession turns the session's holds into a permanent sale
func (h *Handler) commitSession(c *gin.Context) {
	result, err := h.checkout.Commit(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, msg := statusForError(err)
		c.JSON(status, gin.H{"error": msg, "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order_ref": result.OrderRef})
}

// abandonSession releases the session's holds
func (h *Handler) abandonSession(c *gin.Context) {
	if err := h.checkout.Abandon(c.Request.Context(), c.Param("id")); err != nil {
		status, msg := statusForError(err)
		c.JSON(status, gin.H{"error": msg, "details": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

// getAvailable returns the displayable available quantity for a SKU
func (h *Handler) getAvailable(c *gin.Context) {
	available, err := h.inventory.GetAvailable(c.Request.Context(), c.Param("sku"))
	if err != nil {
		status, msg := statusForError(err)
		c.JSON(status, gin.H{"error": msg, "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sku_id":        c.Param("sku"),
		"available_qty": available,
	})
}

type setStockRequest struct {
	OnHandQty *int `json:"on_hand_qty" binding:"required"`
}

// setStock sets on-hand stock for a SKU (admin/restock path)
func (h *Handler) setStock(c *gin.Context) {
	var req setStockRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.inventory.SetStock(c.Request.Context(), c.Param("sku"), *req.OnHandQty); err != nil {
		status, msg := statusForError(err)
		c.JSON(status, gin.H{"error": msg, "details": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

// statusForError maps the reservation error taxonomy onto HTTP statuses
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrInsufficientStock):
		return http.StatusConflict, "Insufficient stock"
	case errors.Is(err, service.ErrSessionExpired):
		return http.StatusConflict, "Session expired"
	case errors.Is(err, store.ErrAlreadyExtended):
		return http.StatusConflict, "Session already extended"
	case errors.Is(err, service.ErrSessionClosed):
		return http.StatusConflict, "Session closed"
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusNotFound, "Session not found"
	case errors.Is(err, store.ErrSkuNotFound):
		return http.StatusNotFound, "SKU not found"
	case errors.Is(err, service.ErrInvalidQuantity), errors.Is(err, service.ErrEmptyCheckout):
		return http.StatusBadRequest, "Invalid request"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
