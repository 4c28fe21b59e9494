package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shop-service/internal/apperr"
	"shop-service/internal/auth"
	"shop-service/internal/models"
	"shop-service/internal/store"
	"shop-service/internal/util"

	"go.uber.org/zap"
)

const (
	defaultPaymentMethod   = "card"
	orderNumberMaxAttempts = 5
)

// OrderService handles checkout and the owner-facing order operations
type OrderService struct {
	repo           store.Repository
	events         EventPublisher
	guard          CheckoutGuard
	idempotencyTTL time.Duration
	lockTTL        time.Duration
	now            func() time.Time
	newOrderNumber func(time.Time) string
	logger         *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(repo store.Repository, events EventPublisher) *OrderService {
	if events == nil {
		events = NopPublisher{}
	}
	return &OrderService{
		repo:           repo,
		events:         events,
		now:            time.Now,
		newOrderNumber: models.NewOrderNumber,
		logger:         util.GetLogger(),
	}
}

// UseCheckoutGuard enables Idempotency-Key replay and the per-user
// checkout lock.
func (s *OrderService) UseCheckoutGuard(guard CheckoutGuard, idempotencyTTL, lockTTL time.Duration) {
	s.guard = guard
	s.idempotencyTTL = idempotencyTTL
	s.lockTTL = lockTTL
}

// CheckoutRequest carries the shipping snapshot for a new order
type CheckoutRequest struct {
	models.ShippingInfo
	PaymentMethod  string `json:"payment_method"`
	IdempotencyKey string `json:"-"`
}

// Checkout converts the user's cart into an order. The cart read, order
// insert, stock decrements and cart clear share one transaction, so a
// failing line leaves no order, no items and no stock change behind.
func (s *OrderService) Checkout(ctx context.Context, userID int64, req CheckoutRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Checkout")
	defer span.End()

	if order, ok := s.replayCheckout(ctx, userID, req.IdempotencyKey); ok {
		return order, nil
	}

	release, err := s.lockCheckout(ctx, userID)
	if err != nil {
		util.CheckoutsTotal.WithLabelValues("locked").Inc()
		return nil, err
	}
	defer release()

	start := time.Now()
	order, err := s.checkout(ctx, userID, req)
	util.CheckoutLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.CheckoutsTotal.WithLabelValues(string(apperr.CodeOf(err))).Inc()
		util.RecordError(span, err)
		return nil, err
	}

	util.CheckoutsTotal.WithLabelValues("success").Inc()
	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("user_id", userID))

	s.publishOrderCreated(ctx, order)
	s.rememberCheckout(ctx, userID, req.IdempotencyKey, order.ID)

	return order, nil
}

func (s *OrderService) checkout(ctx context.Context, userID int64, req CheckoutRequest) (*models.Order, error) {
	var order *models.Order

	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		cart, err := lockedCart(ctx, tx, userID)
		if err != nil {
			return err
		}

		cart.Items, err = tx.ListCartItems(ctx, cart.ID)
		if err != nil {
			return fmt.Errorf("failed to list cart items: %w", err)
		}
		if len(cart.Items) == 0 {
			return apperr.New(apperr.CodeEmptyCart, "Cart is empty")
		}

		orderNumber, err := s.uniqueOrderNumber(ctx, tx)
		if err != nil {
			return err
		}

		paymentMethod := req.PaymentMethod
		if paymentMethod == "" {
			paymentMethod = defaultPaymentMethod
		}

		order = &models.Order{
			UserID:        userID,
			OrderNumber:   orderNumber,
			Status:        models.OrderStatusPending,
			PaymentStatus: models.PaymentStatusPending,
			TotalAmount:   cart.Total(),
			ShippingInfo:  req.ShippingInfo,
			PaymentMethod: paymentMethod,
		}
		order.SyncPayment()

		if err := tx.CreateOrder(ctx, order); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperr.Wrap(apperr.CodeConflict, err, "Order number collision, retry checkout")
			}
			return fmt.Errorf("failed to create order: %w", err)
		}

		order.Items = make([]models.OrderItem, 0, len(cart.Items))
		for _, line := range cart.Items {
			product := line.Product
			if product == nil {
				if product, err = tx.GetProductByID(ctx, line.ProductID); err != nil {
					return fmt.Errorf("failed to get product %d: %w", line.ProductID, err)
				}
			}

			ok, err := tx.DecrementStock(ctx, line.ProductID, line.Quantity)
			if err != nil {
				return fmt.Errorf("failed to decrement stock for product %d: %w", line.ProductID, err)
			}
			if !ok {
				return insufficientStock(product, line.Quantity, "checkout")
			}

			item := models.OrderItem{
				OrderID:     order.ID,
				ProductID:   line.ProductID,
				ProductName: product.Name,
				Quantity:    line.Quantity,
				Price:       product.Price,
			}
			if err := tx.CreateOrderItem(ctx, &item); err != nil {
				return fmt.Errorf("failed to create order item: %w", err)
			}
			order.Items = append(order.Items, item)
		}

		if err := tx.ClearCart(ctx, cart.ID); err != nil {
			return fmt.Errorf("failed to clear cart: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// uniqueOrderNumber draws order numbers until one is unused.
func (s *OrderService) uniqueOrderNumber(ctx context.Context, tx store.Repository) (string, error) {
	for attempt := 0; attempt < orderNumberMaxAttempts; attempt++ {
		candidate := s.newOrderNumber(s.now())
		exists, err := tx.OrderNumberExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check order number: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		s.logger.Warn("Order number collision", zap.String("order_number", candidate))
	}
	return "", apperr.New(apperr.CodeConflict, "Could not allocate a unique order number")
}

func (s *OrderService) replayCheckout(ctx context.Context, userID int64, key string) (*models.Order, bool) {
	if s.guard == nil || key == "" {
		return nil, false
	}

	orderID, found, err := s.guard.GetIdempotentOrder(ctx, checkoutKey(userID, key))
	if err != nil {
		s.logger.Warn("Idempotency lookup failed", zap.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}

	order, err := loadOrder(ctx, s.repo, orderID)
	if err != nil {
		s.logger.Warn("Idempotent order missing", zap.Int64("order_id", orderID), zap.Error(err))
		return nil, false
	}

	s.logger.Info("Duplicate checkout request detected",
		zap.String("idempotency_key", key),
		zap.Int64("order_id", orderID))
	util.CheckoutsTotal.WithLabelValues("replayed").Inc()
	return order, true
}

func (s *OrderService) rememberCheckout(ctx context.Context, userID int64, key string, orderID int64) {
	if s.guard == nil || key == "" {
		return
	}
	if err := s.guard.SetIdempotentOrder(ctx, checkoutKey(userID, key), orderID, s.idempotencyTTL); err != nil {
		s.logger.Warn("Failed to store idempotency key", zap.Error(err))
	}
}

func (s *OrderService) lockCheckout(ctx context.Context, userID int64) (func(), error) {
	noop := func() {}
	if s.guard == nil {
		return noop, nil
	}

	key := fmt.Sprintf("checkout:user:%d", userID)
	token, ok, err := s.guard.AcquireLock(ctx, key, s.lockTTL)
	if err != nil {
		// The cart row lock still serialises the transaction.
		s.logger.Warn("Checkout lock unavailable", zap.Error(err))
		return noop, nil
	}
	if !ok {
		return nil, apperr.New(apperr.CodeConflict, "Checkout already in progress")
	}

	return func() {
		if err := s.guard.ReleaseLock(context.Background(), key, token); err != nil {
			s.logger.Warn("Failed to release checkout lock", zap.Error(err))
		}
	}, nil
}

func checkoutKey(userID int64, key string) string {
	return fmt.Sprintf("%d:%s", userID, key)
}

func (s *OrderService) publishOrderCreated(ctx context.Context, order *models.Order) {
	items := make([]models.OrderItemData, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		Items:       items,
	}
	if err := s.events.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

// GetOrder returns one order with its items. Orders the caller may not
// see are reported as not found.
func (s *OrderService) GetOrder(ctx context.Context, caller auth.Principal, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if !canSee(caller, order) {
		return nil, apperr.NotFound("Order not found")
	}
	return order, nil
}

// ListOrders returns the caller's orders, or every order for staff.
func (s *OrderService) ListOrders(ctx context.Context, caller auth.Principal) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	filter := models.OrderFilter{}
	if !caller.IsStaff {
		filter.UserID = &caller.UserID
	}
	return listOrdersWithItems(ctx, s.repo, filter)
}

// MarkPaid records a completed payment for an order the caller can see.
func (s *OrderService) MarkPaid(ctx context.Context, caller auth.Principal, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.MarkPaid")
	defer span.End()

	order, err := s.markPaid(ctx, orderID, func(o *models.Order) bool { return canSee(caller, o) })
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return order, nil
}

// ConfirmPayment is MarkPaid for the payment provider callback.
func (s *OrderService) ConfirmPayment(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ConfirmPayment")
	defer span.End()

	return s.markPaid(ctx, orderID, func(*models.Order) bool { return true })
}

// markPaid sets is_paid, payment_status=paid and paid_at, and moves a
// pending order to processing. Later statuses are kept.
func (s *OrderService) markPaid(ctx context.Context, orderID int64, visible func(*models.Order) bool) (*models.Order, error) {
	var order *models.Order

	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		var err error
		order, err = loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !visible(order) {
			return apperr.NotFound("Order not found")
		}

		paidAt := s.now().UTC()
		order.IsPaid = true
		order.PaymentStatus = models.PaymentStatusPaid
		order.PaidAt = &paidAt
		if order.Status == models.OrderStatusPending {
			order.Status = models.OrderStatusProcessing
		}
		order.SyncPayment()

		return tx.SaveOrderState(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	util.OrdersPaidTotal.Inc()
	s.logger.Info("Order marked paid", zap.Int64("order_id", order.ID))

	event := &models.OrderPaidEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderPaid),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Amount:      order.TotalAmount,
		PaidAt:      *order.PaidAt,
	}
	if err := s.events.PublishOrderPaid(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPaid event", zap.Error(err))
	}

	return order, nil
}

func loadOrder(ctx context.Context, repo store.Repository, orderID int64) (*models.Order, error) {
	order, err := repo.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	order.Items, err = repo.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	return order, nil
}

func listOrdersWithItems(ctx context.Context, repo store.Repository, filter models.OrderFilter) ([]models.Order, error) {
	orders, err := repo.ListOrders(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	for i := range orders {
		orders[i].Items, err = repo.GetOrderItemsByOrderID(ctx, orders[i].ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get order items: %w", err)
		}
	}
	return orders, nil
}

func canSee(caller auth.Principal, order *models.Order) bool {
	return caller.IsStaff || order.UserID == caller.UserID
}
