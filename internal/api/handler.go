package api

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"shop-service/config"
	"shop-service/internal/apperr"
	"shop-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	carts    *service.CartService
	orders   *service.OrderService
	admin    *service.AdminService
	authCfg  config.AuthConfig
	prefix   string
	checkers map[string]Pinger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	carts *service.CartService,
	orders *service.OrderService,
	admin *service.AdminService,
	authCfg config.AuthConfig,
	prefix string,
) *Handler {
	useJSONFieldNames()
	return &Handler{
		carts:    carts,
		orders:   orders,
		admin:    admin,
		authCfg:  authCfg,
		prefix:   prefix,
		checkers: map[string]Pinger{},
	}
}

// AddReadinessCheck registers a dependency reported by /ready.
func (h *Handler) AddReadinessCheck(name string, p Pinger) {
	h.checkers[name] = p
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := router.Group(h.prefix)
	authed.Use(authMiddleware(h.authCfg))
	{
		authed.GET("/cart/", h.getCart)
		authed.POST("/cart/", h.addCartItem)
		authed.PUT("/cart/update_item/", h.updateCartItem)
		authed.DELETE("/cart/remove_item/", h.removeCartItem)
		authed.DELETE("/cart/clear/", h.clearCart)

		authed.GET("/orders/", h.listOrders)
		authed.POST("/orders/", h.createOrder)
		authed.GET("/orders/:id/", h.getOrder)
		authed.POST("/orders/:id/mark_paid/", h.markPaid)
	}

	admin := authed.Group("/admin-panel")
	admin.Use(adminMiddleware())
	{
		admin.GET("/orders/", h.adminListOrders)
		admin.POST("/orders/:id/update_status/", h.updateStatus)
		admin.POST("/orders/:id/update_payment_status/", h.updatePaymentStatus)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.checkers {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// bindJSON reports failed fields by their JSON name and the rule they broke.
func bindJSON(c *gin.Context, req interface{}) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}

	appErr := apperr.Wrap(apperr.CodeValidation, err, "Invalid request body")
	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) {
		fields := make(map[string]string, len(invalid))
		for _, fe := range invalid {
			fields[fe.Field()] = fe.Tag()
		}
		appErr = appErr.WithDetails(map[string]any{"fields": fields})
	}
	writeError(c, appErr)
	return false
}

var fieldNamesOnce sync.Once

func useJSONFieldNames() {
	fieldNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

func orderIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, apperr.Validation("Invalid order ID"))
		return 0, false
	}
	return id, true
}
