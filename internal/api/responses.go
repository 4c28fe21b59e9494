package api

import (
	"errors"
	"time"

	"shop-service/internal/apperr"
	"shop-service/internal/models"
	"shop-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func writeError(c *gin.Context, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := apperr.As(err)
	if typed == nil {
		typed = apperr.Wrap(apperr.CodeInternal, err, "unexpected error")
	}
	meta := apperr.MetadataFor(typed.Code())

	msg := meta.PublicMessage
	if typed.Code() != apperr.CodeInternal && typed.Message() != "" {
		msg = typed.Message()
	}

	payload := errorResponse{Error: msg, Code: string(typed.Code())}
	if meta.DetailsAllowed {
		payload.Details = typed.Details()
	}

	if meta.HTTPStatus >= 500 {
		util.GetLogger().Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}

	c.JSON(meta.HTTPStatus, payload)
}

func abortWithError(c *gin.Context, err error) {
	writeError(c, err)
	c.Abort()
}

type cartItemResponse struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	Product   *models.Product `json:"product"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type cartResponse struct {
	ID        int64              `json:"id"`
	Items     []cartItemResponse `json:"items"`
	Total     decimal.Decimal    `json:"total"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func newCartResponse(cart *models.Cart) cartResponse {
	items := make([]cartItemResponse, 0, len(cart.Items))
	for i := range cart.Items {
		item := &cart.Items[i]
		items = append(items, cartItemResponse{
			ID:        item.ID,
			ProductID: item.ProductID,
			Product:   item.Product,
			Quantity:  item.Quantity,
			Subtotal:  item.Subtotal(),
		})
	}
	return cartResponse{
		ID:        cart.ID,
		Items:     items,
		Total:     cart.Total(),
		CreatedAt: cart.CreatedAt,
		UpdatedAt: cart.UpdatedAt,
	}
}

type orderItemResponse struct {
	models.OrderItem
	Subtotal decimal.Decimal `json:"subtotal"`
}

// orderResponse shadows Order.Items to add per-line subtotals.
type orderResponse struct {
	*models.Order
	Items []orderItemResponse `json:"items"`
}

func newOrderResponse(order *models.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for i := range order.Items {
		items = append(items, orderItemResponse{
			OrderItem: order.Items[i],
			Subtotal:  order.Items[i].Subtotal(),
		})
	}
	return orderResponse{Order: order, Items: items}
}

func newOrderListResponse(orders []models.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, newOrderResponse(&orders[i]))
	}
	return out
}
