package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shop-service/config"
	"shop-service/internal/auth"
	"shop-service/internal/models"
	"shop-service/internal/service"
	"shop-service/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAuth = config.AuthConfig{JWTSecret: "handler-secret", JWTIssuer: "shop-service", TTLMinutes: 10}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	repo   *store.MemoryStore
	h      *Handler
}

func newTestServer(t *testing.T) *testServer {
	gin.SetMode(gin.TestMode)

	repo := store.NewMemoryStore()
	orders := service.NewOrderService(repo, service.NopPublisher{})
	h := NewHandler(
		service.NewCartService(repo),
		orders,
		service.NewAdminService(repo, service.NopPublisher{}),
		testAuth,
		"/api",
	)
	router := gin.New()
	h.SetupRoutes(router)
	return &testServer{t: t, router: router, repo: repo, h: h}
}

func (s *testServer) token(p auth.Principal) string {
	tok, err := auth.MintAccessToken(testAuth, time.Now(), p)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path string, p *auth.Principal, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if p != nil {
		req.Header.Set("Authorization", "Bearer "+s.token(*p))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func (s *testServer) product(name, price string, stock int) models.Product {
	return s.repo.PutProduct(models.Product{
		Name:        name,
		Price:       decimal.RequireFromString(price),
		Stock:       stock,
		IsAvailable: true,
	})
}

var (
	alice = &auth.Principal{UserID: 1}
	bob   = &auth.Principal{UserID: 2}
	staff = &auth.Principal{UserID: 99, IsStaff: true}
)

var shippingBody = map[string]interface{}{
	"shipping_address":     "1 Main St",
	"shipping_city":        "Springfield",
	"shipping_country":     "US",
	"shipping_postal_code": "12345",
	"phone":                "555-0100",
}

type errorBody struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details"`
}

type cartBody struct {
	ID    int64 `json:"id"`
	Items []struct {
		ID        int64           `json:"id"`
		ProductID int64           `json:"product_id"`
		Quantity  int             `json:"quantity"`
		Subtotal  decimal.Decimal `json:"subtotal"`
	} `json:"items"`
	Total decimal.Decimal `json:"total"`
}

type orderBody struct {
	ID            int64           `json:"id"`
	OrderNumber   string          `json:"order_number"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	IsPaid        bool            `json:"is_paid"`
	PaidAt        *time.Time      `json:"paid_at"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	City          string          `json:"shipping_city"`
	PaymentMethod string          `json:"payment_method"`
	Items         []struct {
		ProductID int64           `json:"product_id"`
		Quantity  int             `json:"quantity"`
		Price     decimal.Decimal `json:"price"`
		Subtotal  decimal.Decimal `json:"subtotal"`
	} `json:"items"`
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func TestReadyReportsFailedDependency(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/ready", nil, nil).Code)

	s.h.AddReadinessCheck("redis", failingPinger{})
	w := s.do(http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis")
}

func TestRequiresAuthentication(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/cart/", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var body errorBody
	decode(t, w, &body)
	assert.Equal(t, "UNAUTHORIZED", body.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/cart/", nil)
	req.Header.Set("Authorization", "Bearer nonsense")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRoutesRequireStaff(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/admin-panel/orders/", nil, nil).Code)

	w := s.do(http.MethodGet, "/api/admin-panel/orders/", alice, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	var body errorBody
	decode(t, w, &body)
	assert.Equal(t, "FORBIDDEN", body.Code)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/admin-panel/orders/", staff, nil).Code)
}

func TestCartFlow(t *testing.T) {
	s := newTestServer(t)
	c := s.product("C", "1.50", 10)

	w := s.do(http.MethodPost, "/api/cart/", alice, map[string]interface{}{"product_id": c.ID, "quantity": 4})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = s.do(http.MethodPost, "/api/cart/", alice, map[string]interface{}{"product_id": c.ID, "quantity": 4})
	require.Equal(t, http.StatusCreated, w.Code)

	var cart cartBody
	decode(t, w, &cart)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 8, cart.Items[0].Quantity)
	assert.True(t, decimal.RequireFromString("12").Equal(cart.Items[0].Subtotal))
	assert.True(t, decimal.RequireFromString("12").Equal(cart.Total))

	w = s.do(http.MethodPost, "/api/cart/", alice, map[string]interface{}{"product_id": c.ID, "quantity": 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var errBody errorBody
	decode(t, w, &errBody)
	assert.Equal(t, "INSUFFICIENT_STOCK", errBody.Code)

	w = s.do(http.MethodPut, "/api/cart/update_item/", alice, map[string]interface{}{"item_id": cart.Items[0].ID, "quantity": 0})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &cart)
	assert.Empty(t, cart.Items)
}

func TestAddItemDefaultsQuantity(t *testing.T) {
	s := newTestServer(t)
	p := s.product("A", "1.00", 3)

	w := s.do(http.MethodPost, "/api/cart/", alice, map[string]interface{}{"product_id": p.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	var cart cartBody
	decode(t, w, &cart)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 1, cart.Items[0].Quantity)

	w = s.do(http.MethodPost, "/api/cart/", alice, map[string]interface{}{"product_id": 12345})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/api/cart/", alice, map[string]interface{}{"product_id": p.ID, "quantity": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRemoveAndClear(t *testing.T) {
	s := newTestServer(t)
	p := s.product("A", "1.00", 3)

	w := s.do(http.MethodPost, "/api/cart/", alice, map[string]interface{}{"product_id": p.ID})
	var cart cartBody
	decode(t, w, &cart)
	itemID := cart.Items[0].ID

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/api/cart/remove_item/", bob, map[string]interface{}{"item_id": itemID}).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/api/cart/remove_item/", alice, map[string]interface{}{"item_id": itemID}).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/api/cart/remove_item/", alice, map[string]interface{}{"item_id": itemID}).Code)

	w = s.do(http.MethodDelete, "/api/cart/clear/", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &cart)
	assert.Empty(t, cart.Items)
}

func TestCheckoutEndpoint(t *testing.T) {
	s := newTestServer(t)
	a := s.product("A", "3.00", 5)

	w := s.do(http.MethodPost, "/api/orders/", alice, shippingBody)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var errBody errorBody
	decode(t, w, &errBody)
	assert.Equal(t, "EMPTY_CART", errBody.Code)

	s.do(http.MethodPost, "/api/cart/", alice, map[string]interface{}{"product_id": a.ID, "quantity": 3})

	w = s.do(http.MethodPost, "/api/orders/", alice, map[string]interface{}{"shipping_city": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	decode(t, w, &errBody)
	assert.Equal(t, "VALIDATION_ERROR", errBody.Code)

	w = s.do(http.MethodPost, "/api/orders/", alice, shippingBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var order orderBody
	decode(t, w, &order)
	assert.Equal(t, "pending", order.Status)
	assert.Equal(t, "card", order.PaymentMethod)
	assert.Equal(t, "Springfield", order.City)
	assert.True(t, decimal.RequireFromString("9").Equal(order.TotalAmount))
	require.Len(t, order.Items, 1)
	assert.True(t, decimal.RequireFromString("9").Equal(order.Items[0].Subtotal))

	p, err := s.repo.GetProductByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Stock)

	var cart cartBody
	decode(t, s.do(http.MethodGet, "/api/cart/", alice, nil), &cart)
	assert.Empty(t, cart.Items)
}

func TestCheckoutInsufficientStockEndpoint(t *testing.T) {
	s := newTestServer(t)
	b := s.product("B", "1.00", 10)
	s.do(http.MethodPost, "/api/cart/", alice, map[string]interface{}{"product_id": b.ID, "quantity": 5})
	b.Stock = 2
	s.repo.PutProduct(b)

	w := s.do(http.MethodPost, "/api/orders/", alice, shippingBody)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var errBody errorBody
	decode(t, w, &errBody)
	assert.Equal(t, "INSUFFICIENT_STOCK", errBody.Code)
	assert.Equal(t, "Insufficient stock for B", errBody.Error)
	assert.Equal(t, "B", errBody.Details["product_name"])

	var orders []orderBody
	decode(t, s.do(http.MethodGet, "/api/orders/", alice, nil), &orders)
	assert.Empty(t, orders)
}

func checkout(t *testing.T, s *testServer, p *auth.Principal) orderBody {
	t.Helper()
	prod := s.product(fmt.Sprintf("P-%d", p.UserID), "2.00", 10)
	s.do(http.MethodPost, "/api/cart/", p, map[string]interface{}{"product_id": prod.ID})
	w := s.do(http.MethodPost, "/api/orders/", p, shippingBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var order orderBody
	decode(t, w, &order)
	return order
}

func TestOrderVisibility(t *testing.T) {
	s := newTestServer(t)
	order := checkout(t, s, alice)
	checkout(t, s, bob)

	path := fmt.Sprintf("/api/orders/%d/", order.ID)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, path, alice, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, path, bob, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, path, staff, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/orders/abc/", alice, nil).Code)

	var orders []orderBody
	decode(t, s.do(http.MethodGet, "/api/orders/", alice, nil), &orders)
	assert.Len(t, orders, 1)
	decode(t, s.do(http.MethodGet, "/api/orders/", staff, nil), &orders)
	assert.Len(t, orders, 2)
}

func TestMarkPaidEndpoint(t *testing.T) {
	s := newTestServer(t)
	order := checkout(t, s, alice)
	path := fmt.Sprintf("/api/orders/%d/mark_paid/", order.ID)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, path, bob, nil).Code)

	w := s.do(http.MethodPost, path, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var paid orderBody
	decode(t, w, &paid)
	assert.True(t, paid.IsPaid)
	assert.Equal(t, "paid", paid.PaymentStatus)
	assert.Equal(t, "processing", paid.Status)
	assert.NotNil(t, paid.PaidAt)
}

func TestAdminStatusEndpoints(t *testing.T) {
	s := newTestServer(t)
	order := checkout(t, s, alice)
	statusPath := fmt.Sprintf("/api/admin-panel/orders/%d/update_status/", order.ID)
	paymentPath := fmt.Sprintf("/api/admin-panel/orders/%d/update_payment_status/", order.ID)

	w := s.do(http.MethodPost, statusPath, staff, map[string]interface{}{"status": "archived"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var errBody errorBody
	decode(t, w, &errBody)
	assert.Equal(t, "VALIDATION_ERROR", errBody.Code)
	assert.Equal(t, "Invalid status. Must be one of: pending, processing, shipped, delivered, cancelled", errBody.Error)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, statusPath, alice, map[string]interface{}{"status": "shipped"}).Code)

	w = s.do(http.MethodPost, statusPath, staff, map[string]interface{}{"status": "shipped"})
	require.Equal(t, http.StatusOK, w.Code)
	var updated orderBody
	decode(t, w, &updated)
	assert.Equal(t, "shipped", updated.Status)

	w = s.do(http.MethodPost, paymentPath, staff, map[string]interface{}{"payment_status": "paid"})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &updated)
	assert.True(t, updated.IsPaid)
	assert.Nil(t, updated.PaidAt)

	w = s.do(http.MethodPost, paymentPath, staff, map[string]interface{}{"payment_status": "lost"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/admin-panel/orders/999/update_status/", staff, map[string]interface{}{"status": "shipped"}).Code)

	var orders []orderBody
	decode(t, s.do(http.MethodGet, "/api/admin-panel/orders/?status=shipped", staff, nil), &orders)
	assert.Len(t, orders, 1)
	decode(t, s.do(http.MethodGet, "/api/admin-panel/orders/?status=pending", staff, nil), &orders)
	assert.Empty(t, orders)
}

func TestAdminStatusMissingValue(t *testing.T) {
	s := newTestServer(t)
	order := checkout(t, s, alice)

	w := s.do(http.MethodPost, fmt.Sprintf("/api/admin-panel/orders/%d/update_status/", order.ID), staff, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var statusErr errorBody
	decode(t, w, &statusErr)
	assert.Equal(t, "VALIDATION_ERROR", statusErr.Code)
	assert.Equal(t, "Invalid status. Must be one of: pending, processing, shipped, delivered, cancelled", statusErr.Error)
	assert.NotContains(t, w.Body.String(), "Key:")

	w = s.do(http.MethodPost, fmt.Sprintf("/api/admin-panel/orders/%d/update_payment_status/", order.ID), staff, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var paymentErr errorBody
	decode(t, w, &paymentErr)
	assert.Equal(t, "Invalid payment status. Must be one of: pending, paid, failed, refunded", paymentErr.Error)

	w = s.do(http.MethodPost, "/api/admin-panel/orders/999/update_status/", staff, map[string]interface{}{"status": "archived"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCheckoutValidationNamesFields(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/orders/", alice, map[string]interface{}{"shipping_city": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var errBody errorBody
	decode(t, w, &errBody)
	fields, ok := errBody.Details["fields"].(map[string]interface{})
	require.True(t, ok, w.Body.String())
	assert.Equal(t, "required", fields["shipping_address"])
	assert.Equal(t, "required", fields["phone"])
	assert.NotContains(t, fields, "shipping_city")
	assert.NotContains(t, w.Body.String(), "Key:")
}

func TestAdminTrackingEndpoint(t *testing.T) {
	s := newTestServer(t)
	order := checkout(t, s, alice)
	path := fmt.Sprintf("/api/admin-panel/orders/%d/", order.ID)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPatch, path, alice, map[string]interface{}{"tracking_number": "1Z"}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPatch, path, staff, map[string]interface{}{}).Code)

	w := s.do(http.MethodPatch, path, staff, map[string]interface{}{"tracking_number": "1Z999AA1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated struct {
		TrackingNumber string `json:"tracking_number"`
		Status         string `json:"status"`
	}
	decode(t, w, &updated)
	assert.Equal(t, "1Z999AA1", updated.TrackingNumber)
	assert.Equal(t, "pending", updated.Status)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPatch, "/api/admin-panel/orders/999/", staff, map[string]interface{}{"tracking_number": "1Z"}).Code)
}

func TestAdminListSearchAndDates(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.repo.CreateUser(ctx, &models.User{Username: "alice", Email: "alice@example.com"}))
	order := checkout(t, s, alice)

	var orders []orderBody
	decode(t, s.do(http.MethodGet, "/api/admin-panel/orders/?search=ALICE@example", staff, nil), &orders)
	require.Len(t, orders, 1)
	assert.Equal(t, order.ID, orders[0].ID)

	today := time.Now().UTC()
	query := fmt.Sprintf("/api/admin-panel/orders/?start_date=%s&end_date=%s",
		today.AddDate(0, 0, -1).Format("2006-01-02"), today.AddDate(0, 0, 1).Format("2006-01-02"))
	decode(t, s.do(http.MethodGet, query, staff, nil), &orders)
	assert.Len(t, orders, 1)

	w := s.do(http.MethodGet, "/api/admin-panel/orders/?start_date=yesterday", staff, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
