package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type addItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  *int  `json:"quantity"`
}

type updateItemRequest struct {
	ItemID   int64 `json:"item_id" binding:"required"`
	Quantity *int  `json:"quantity" binding:"required"`
}

type removeItemRequest struct {
	ItemID int64 `json:"item_id" binding:"required"`
}

func (h *Handler) getCart(c *gin.Context) {
	cart, err := h.carts.GetCart(c.Request.Context(), principalFrom(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(cart))
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req addItemRequest
	if !bindJSON(c, &req) {
		return
	}

	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	cart, err := h.carts.AddItem(c.Request.Context(), principalFrom(c).UserID, req.ProductID, quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newCartResponse(cart))
}

func (h *Handler) updateCartItem(c *gin.Context) {
	var req updateItemRequest
	if !bindJSON(c, &req) {
		return
	}

	cart, err := h.carts.UpdateItem(c.Request.Context(), principalFrom(c).UserID, req.ItemID, *req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(cart))
}

func (h *Handler) removeCartItem(c *gin.Context) {
	var req removeItemRequest
	if !bindJSON(c, &req) {
		return
	}

	cart, err := h.carts.RemoveItem(c.Request.Context(), principalFrom(c).UserID, req.ItemID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(cart))
}

func (h *Handler) clearCart(c *gin.Context) {
	cart, err := h.carts.Clear(c.Request.Context(), principalFrom(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(cart))
}
