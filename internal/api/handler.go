package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"booking-service/internal/availability"
	"booking-service/internal/models"
	"booking-service/internal/service"
	"booking-service/internal/store"
	"booking-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	carts        *service.CartService
	checkout     *service.CheckoutService
	bookings     *service.BookingService
	availability *availability.Engine
	store        *store.Store
}

// NewHandler creates a new HTTP handler
func NewHandler(
	carts *service.CartService,
	checkout *service.CheckoutService,
	bookings *service.BookingService,
	engine *availability.Engine,
	st *store.Store,
) *Handler {
	return &Handler{
		carts:        carts,
		checkout:     checkout,
		bookings:     bookings,
		availability: engine,
		store:        st,
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
		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.PATCH("/cart/items/:id", h.updateCartItem)
		v1.DELETE("/cart/items/:id", h.removeCartItem)

		v1.POST("/quote", h.quote)
		v1.POST("/checkout", h.checkoutCart)
		v1.GET("/orders/:id", h.getOrder)

		v1.POST("/bookings", h.createBooking)
		v1.GET("/bookings", h.listBookings)
		v1.GET("/bookings/:id", h.getBooking)
		v1.POST("/bookings/:id/cancel", h.cancelBooking)
		v1.POST("/bookings/:id/complete", h.completeBooking)
		v1.POST("/bookings/:id/release-table", h.releaseTable)

		v1.GET("/availability", h.checkAvailability)
		v1.POST("/availability/blocks", h.createBlock)

		v1.GET("/points/balance", h.pointsBalance)
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

// userID extracts the authenticated user. Authentication itself sits
// at the gateway; the user id arrives as a trusted header.
func userID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid user"})
		return 0, false
	}
	return id, true
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// writeError maps the error taxonomy onto HTTP statuses
func writeError(c *gin.Context, err error) {
	var conflict *models.AvailabilityConflictError
	if errors.As(err, &conflict) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":     "availability conflict",
			"conflicts": conflict.Conflicts,
		})
		return
	}

	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrValidation),
		models.IsCouponError(err),
		errors.Is(err, models.ErrPointsConfig),
		errors.Is(err, models.ErrInsufficientPoints):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrServiceNotActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrPaymentDeclined):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrTransientInfra):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable, retry with the same idempotency key"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// getCart returns the user's open cart with fresh pricing
func (h *Handler) getCart(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	view, err := h.carts.GetCart(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type addCartItemRequest struct {
	ServiceID int64           `json:"service_id" binding:"required"`
	Quantity  int             `json:"quantity"`
	StartDate time.Time       `json:"start_date" binding:"required"`
	EndDate   time.Time       `json:"end_date" binding:"required"`
	Details   json.RawMessage `json:"details" binding:"required"`
}

// addCartItem adds a line to the user's cart
func (h *Handler) addCartItem(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	var req addCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	item := &models.CartItem{
		ServiceID: req.ServiceID,
		Quantity:  req.Quantity,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Details:   req.Details,
	}
	view, err := h.carts.AddItem(c.Request.Context(), uid, item)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// updateCartItem changes the quantity of one cart line
func (h *Handler) updateCartItem(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	itemID, ok := pathID(c)
	if !ok {
		return
	}

	var req struct {
		Quantity int `json:"quantity" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	view, err := h.carts.UpdateItemQuantity(c.Request.Context(), uid, itemID, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// removeCartItem deletes one cart line
func (h *Handler) removeCartItem(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	itemID, ok := pathID(c)
	if !ok {
		return
	}

	view, err := h.carts.RemoveItem(c.Request.Context(), uid, itemID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type quoteRequest struct {
	CouponCode  string `json:"coupon_code,omitempty"`
	PointsToUse int64  `json:"points_to_use,omitempty"`
}

// quote prices the open cart without committing anything
func (h *Handler) quote(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	breakdown, err := h.checkout.QuoteCart(c.Request.Context(), uid, req.CouponCode, req.PointsToUse)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, breakdown)
}

// checkoutCart converts the open cart into an order and captures payment
func (h *Handler) checkoutCart(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	req.UserID = uid
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := h.checkout.Checkout(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

// getOrder returns one order with its items
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, items, err := h.checkout.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

// createBooking handles the direct single-booking flow
func (h *Handler) createBooking(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	var req service.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	req.UserID = uid
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	booking, err := h.bookings.CreateBooking(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, booking)
}

// listBookings returns the user's bookings
func (h *Handler) listBookings(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	bookings, err := h.bookings.ListBookings(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}

// getBooking returns one booking scoped to its owner
func (h *Handler) getBooking(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c)
	if !ok {
		return
	}
	booking, err := h.bookings.GetBooking(c.Request.Context(), uid, bookingID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// cancelBooking cancels a booking and reverses its points spend
func (h *Handler) cancelBooking(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	bookingID, ok := pathID(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := h.bookings.Cancel(c.Request.Context(), uid, bookingID, req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// completeBooking marks a booking completed and credits earn points
func (h *Handler) completeBooking(c *gin.Context) {
	bookingID, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.bookings.Complete(c.Request.Context(), bookingID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

// releaseTable frees a MANUAL table reservation early
func (h *Handler) releaseTable(c *gin.Context) {
	bookingID, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.bookings.ReleaseTable(c.Request.Context(), bookingID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "released"})
}

// checkAvailability answers a capacity question without reserving
func (h *Handler) checkAvailability(c *gin.Context) {
	serviceID, err := strconv.ParseInt(c.Query("service_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "service_id required"})
		return
	}
	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start must be RFC3339"})
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must be RFC3339"})
		return
	}
	tableID, _ := strconv.ParseInt(c.Query("table_id"), 10, 64)
	quantity, _ := strconv.Atoi(c.DefaultQuery("quantity", "1"))
	headcount, _ := strconv.Atoi(c.Query("headcount"))

	result, err := h.availability.CheckAvailability(c.Request.Context(), availability.Request{
		ServiceID: serviceID,
		TableID:   tableID,
		Start:     start,
		End:       end,
		Quantity:  quantity,
		Headcount: headcount,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type createBlockRequest struct {
	ServiceID int64     `json:"service_id" binding:"required"`
	StartDate time.Time `json:"start_date" binding:"required"`
	EndDate   time.Time `json:"end_date" binding:"required"`
	Reason    string    `json:"reason,omitempty"`
}

// createBlock lets a provider block out a date range
func (h *Handler) createBlock(c *gin.Context) {
	var req createBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if !req.EndDate.After(req.StartDate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must be after start_date"})
		return
	}

	block := &models.AvailabilityBlock{
		ServiceID: req.ServiceID,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Reason:    req.Reason,
	}
	if err := h.store.CreateAvailabilityBlock(c.Request.Context(), block); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, block)
}

// pointsBalance returns the user's live points balance
func (h *Handler) pointsBalance(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	balance, err := h.bookings.PointsBalance(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
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
