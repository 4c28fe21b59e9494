package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"shop-service/internal/apperr"
	"shop-service/internal/auth"
	"shop-service/internal/models"
	"shop-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkoutFixture struct {
	repo   *store.MemoryStore
	carts  *CartService
	orders *OrderService
	events *recordingPublisher
}

func newCheckoutFixture() *checkoutFixture {
	m := store.NewMemoryStore()
	events := &recordingPublisher{}
	return &checkoutFixture{
		repo:   m,
		carts:  NewCartService(m),
		orders: NewOrderService(m, events),
		events: events,
	}
}

func TestCheckoutSucceeds(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture()
	a := product(t, f.repo, "A", "4.25", 5)

	_, err := f.carts.AddItem(ctx, 1, a.ID, 3)
	require.NoError(t, err)

	order, err := f.orders.Checkout(ctx, 1, shipping())
	require.NoError(t, err)

	assert.Equal(t, 2, stockOf(t, f.repo, a.ID))
	assert.True(t, decimal.RequireFromString("12.75").Equal(order.TotalAmount))
	assert.True(t, order.ItemsTotal().Equal(order.TotalAmount))
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	assert.False(t, order.IsPaid)
	assert.Nil(t, order.PaidAt)
	assert.Equal(t, "card", order.PaymentMethod)
	assert.Equal(t, "Springfield", order.City)
	assert.Regexp(t, `^ORD-\d{8}-[0-9A-F]{8}$`, order.OrderNumber)

	require.Len(t, order.Items, 1)
	assert.Equal(t, "A", order.Items[0].ProductName)
	assert.Equal(t, 3, order.Items[0].Quantity)

	cart, err := f.carts.GetCart(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	require.Len(t, f.events.created, 1)
	assert.Equal(t, order.ID, f.events.created[0].OrderID)
}

func TestCheckoutPriceIsSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture()
	a := product(t, f.repo, "A", "10.00", 5)

	_, err := f.carts.AddItem(ctx, 1, a.ID, 1)
	require.NoError(t, err)
	order, err := f.orders.Checkout(ctx, 1, shipping())
	require.NoError(t, err)

	a.Price = decimal.RequireFromString("99.00")
	a.Stock = stockOf(t, f.repo, a.ID)
	f.repo.PutProduct(a)

	stored, err := f.orders.GetOrder(ctx, auth.Principal{UserID: 1}, order.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("10").Equal(stored.Items[0].Price))
	assert.True(t, decimal.RequireFromString("10").Equal(stored.TotalAmount))
}

func TestCheckoutInsufficientStockLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture()
	b := product(t, f.repo, "B", "1.00", 10)

	_, err := f.carts.AddItem(ctx, 1, b.ID, 5)
	require.NoError(t, err)
	setStock(f.repo, b, 2)

	_, err = f.orders.Checkout(ctx, 1, shipping())
	requireCode(t, err, apperr.CodeInsufficientStock)
	assert.Contains(t, apperr.As(err).Message(), "B")

	orders, err := f.repo.ListOrders(ctx, models.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Equal(t, 2, stockOf(t, f.repo, b.ID))

	cart, err := f.carts.GetCart(ctx, 1)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
	assert.Empty(t, f.events.created)
}

func TestCheckoutIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture()
	a := product(t, f.repo, "A", "1.00", 10)
	b := product(t, f.repo, "B", "1.00", 10)
	c := product(t, f.repo, "C", "1.00", 10)

	for _, p := range []models.Product{a, b, c} {
		_, err := f.carts.AddItem(ctx, 1, p.ID, 4)
		require.NoError(t, err)
	}
	setStock(f.repo, c, 3)

	_, err := f.orders.Checkout(ctx, 1, shipping())
	requireCode(t, err, apperr.CodeInsufficientStock)

	assert.Equal(t, 10, stockOf(t, f.repo, a.ID))
	assert.Equal(t, 10, stockOf(t, f.repo, b.ID))
	assert.Equal(t, 3, stockOf(t, f.repo, c.ID))

	orders, err := f.repo.ListOrders(ctx, models.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)

	cart, err := f.carts.GetCart(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 3)
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newCheckoutFixture()
	_, err := f.orders.Checkout(context.Background(), 1, shipping())
	requireCode(t, err, apperr.CodeEmptyCart)
}

func TestOrderNumbersAreUnique(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture()
	p := product(t, f.repo, "A", "1.00", 1000)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		userID := int64(i%7 + 1)
		_, err := f.carts.AddItem(ctx, userID, p.ID, 1)
		require.NoError(t, err)
		order, err := f.orders.Checkout(ctx, userID, shipping())
		require.NoError(t, err)
		assert.False(t, seen[order.OrderNumber], "duplicate %s", order.OrderNumber)
		seen[order.OrderNumber] = true
	}
	assert.Equal(t, 900, stockOf(t, f.repo, p.ID))
}

func TestOrderNumberCollisionRetries(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture()
	p := product(t, f.repo, "A", "1.00", 10)

	numbers := []string{"ORD-20240101-AAAAAAAA", "ORD-20240101-AAAAAAAA", "ORD-20240101-BBBBBBBB"}
	calls := 0
	f.orders.newOrderNumber = func(time.Time) string {
		n := numbers[calls]
		calls++
		return n
	}

	for _, want := range []string{"ORD-20240101-AAAAAAAA", "ORD-20240101-BBBBBBBB"} {
		_, err := f.carts.AddItem(ctx, 1, p.ID, 1)
		require.NoError(t, err)
		order, err := f.orders.Checkout(ctx, 1, shipping())
		require.NoError(t, err)
		assert.Equal(t, want, order.OrderNumber)
	}
	assert.Equal(t, 3, calls)
}

func TestOrderNumberGivesUp(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture()
	p := product(t, f.repo, "A", "1.00", 10)
	f.orders.newOrderNumber = func(time.Time) string { return "ORD-20240101-00000000" }

	_, err := f.carts.AddItem(ctx, 1, p.ID, 1)
	require.NoError(t, err)
	_, err = f.orders.Checkout(ctx, 1, shipping())
	require.NoError(t, err)

	_, err = f.carts.AddItem(ctx, 1, p.ID, 1)
	require.NoError(t, err)
	_, err = f.orders.Checkout(ctx, 1, shipping())
	requireCode(t, err, apperr.CodeConflict)
	assert.Equal(t, 9, stockOf(t, f.repo, p.ID))
}

func TestCheckoutIdempotencyKeyReplays(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture()
	guard := newFakeGuard()
	f.orders.UseCheckoutGuard(guard, time.Hour, time.Minute)
	p := product(t, f.repo, "A", "1.00", 10)

	_, err := f.carts.AddItem(ctx, 1, p.ID, 2)
	require.NoError(t, err)

	req := shipping()
	req.IdempotencyKey = "abc"
	first, err := f.orders.Checkout(ctx, 1, req)
	require.NoError(t, err)
	second, err := f.orders.Checkout(ctx, 1, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 8, stockOf(t, f.repo, p.ID))
	assert.Len(t, f.events.created, 1)

	// Same key from another user is a different checkout.
	_, err = f.orders.Checkout(ctx, 2, req)
	requireCode(t, err, apperr.CodeEmptyCart)
	assert.Empty(t, guard.locks)
}

func TestCheckoutRejectsConcurrentAttempt(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture()
	guard := newFakeGuard()
	f.orders.UseCheckoutGuard(guard, time.Hour, time.Minute)
	p := product(t, f.repo, "A", "1.00", 10)

	_, err := f.carts.AddItem(ctx, 1, p.ID, 2)
	require.NoError(t, err)

	_, ok, err := guard.AcquireLock(ctx, fmt.Sprintf("checkout:user:%d", 1), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.orders.Checkout(ctx, 1, shipping())
	requireCode(t, err, apperr.CodeConflict)
	assert.Equal(t, 10, stockOf(t, f.repo, p.ID))
}

func placeOrder(t *testing.T, f *checkoutFixture, userID int64) *models.Order {
	t.Helper()
	ctx := context.Background()
	p := product(t, f.repo, fmt.Sprintf("P%d", userID), "5.00", 10)
	_, err := f.carts.AddItem(ctx, userID, p.ID, 1)
	require.NoError(t, err)
	order, err := f.orders.Checkout(ctx, userID, shipping())
	require.NoError(t, err)
	return order
}

func TestGetOrderVisibility(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture()
	order := placeOrder(t, f, 1)

	got, err := f.orders.GetOrder(ctx, auth.Principal{UserID: 1}, order.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)

	_, err = f.orders.GetOrder(ctx, auth.Principal{UserID: 2}, order.ID)
	requireCode(t, err, apperr.CodeNotFound)

	_, err = f.orders.GetOrder(ctx, auth.Principal{UserID: 2, IsStaff: true}, order.ID)
	require.NoError(t, err)

	_, err = f.orders.GetOrder(ctx, auth.Principal{UserID: 1}, 404)
	requireCode(t, err, apperr.CodeNotFound)
}

func TestListOrdersScopesToCaller(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture()
	placeOrder(t, f, 1)
	placeOrder(t, f, 2)
	placeOrder(t, f, 1)

	own, err := f.orders.ListOrders(ctx, auth.Principal{UserID: 1})
	require.NoError(t, err)
	assert.Len(t, own, 2)
	for _, o := range own {
		assert.Equal(t, int64(1), o.UserID)
		assert.NotEmpty(t, o.Items)
	}

	all, err := f.orders.ListOrders(ctx, auth.Principal{UserID: 9, IsStaff: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMarkPaid(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture()
	paidAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.orders.now = func() time.Time { return paidAt }
	order := placeOrder(t, f, 1)

	paid, err := f.orders.MarkPaid(ctx, auth.Principal{UserID: 1}, order.ID)
	require.NoError(t, err)
	assert.True(t, paid.IsPaid)
	assert.Equal(t, models.PaymentStatusPaid, paid.PaymentStatus)
	assert.Equal(t, models.OrderStatusProcessing, paid.Status)
	require.NotNil(t, paid.PaidAt)
	assert.True(t, paidAt.Equal(*paid.PaidAt))

	stored, err := f.repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsPaid)
	assert.Equal(t, models.OrderStatusProcessing, stored.Status)

	require.Len(t, f.events.paid, 1)
	assert.Equal(t, order.ID, f.events.paid[0].OrderID)
}

func TestMarkPaidKeepsLaterStatus(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture()
	admin := NewAdminService(f.repo, f.events)
	order := placeOrder(t, f, 1)

	_, err := admin.UpdateStatus(ctx, order.ID, "shipped")
	require.NoError(t, err)

	paid, err := f.orders.MarkPaid(ctx, auth.Principal{UserID: 9, IsStaff: true}, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, paid.Status)
	assert.True(t, paid.IsPaid)
}

func TestMarkPaidHidesOtherUsersOrders(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture()
	order := placeOrder(t, f, 1)

	_, err := f.orders.MarkPaid(ctx, auth.Principal{UserID: 2}, order.ID)
	requireCode(t, err, apperr.CodeNotFound)

	_, err = f.orders.MarkPaid(ctx, auth.Principal{UserID: 1}, 12345)
	requireCode(t, err, apperr.CodeNotFound)

	stored, err := f.repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsPaid)
}
