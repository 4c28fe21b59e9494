package api

import (
	"net/http"

	"shop-service/internal/apperr"
	"shop-service/internal/service"

	"github.com/gin-gonic/gin"
)

// Missing status values bind as "" and are rejected with the allowed set.
type updateStatusRequest struct {
	Status string `json:"status"`
}

type updatePaymentStatusRequest struct {
	PaymentStatus string `json:"payment_status"`
}

type updateTrackingRequest struct {
	TrackingNumber *string `json:"tracking_number"`
}

// createOrder checks out the caller's cart
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CheckoutRequest
	if !bindJSON(c, &req) {
		return
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	order, err := h.orders.Checkout(c.Request.Context(), principalFrom(c).UserID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newOrderResponse(order))
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), principalFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderListResponse(orders))
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), principalFrom(c), orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *Handler) markPaid(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	order, err := h.orders.MarkPaid(c.Request.Context(), principalFrom(c), orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *Handler) adminListOrders(c *gin.Context) {
	var query service.AdminOrderQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeError(c, apperr.Wrap(apperr.CodeValidation, err, "Invalid query parameters"))
		return
	}

	orders, err := h.admin.ListOrders(c.Request.Context(), query)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderListResponse(orders))
}

func (h *Handler) updateStatus(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}
	var req updateStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.admin.UpdateStatus(c.Request.Context(), orderID, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *Handler) updatePaymentStatus(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}
	var req updatePaymentStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.admin.UpdatePaymentStatus(c.Request.Context(), orderID, req.PaymentStatus)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *Handler) updateTracking(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}
	var req updateTrackingRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.TrackingNumber == nil {
		writeError(c, apperr.Validation("tracking_number is required"))
		return
	}

	order, err := h.admin.UpdateTracking(c.Request.Context(), orderID, *req.TrackingNumber)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}
