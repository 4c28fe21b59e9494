package store

import (
	"context"
	"fmt"
	"strings"

	"shop-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// OrderNumberExists reports whether an order number is already taken
func (s *Store) OrderNumberExists(ctx context.Context, orderNumber string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, s.q, &exists,
		"SELECT EXISTS(SELECT 1 FROM orders WHERE order_number = $1)", orderNumber)
	return exists, err
}

// CreateOrder creates a new order
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (
			user_id, order_number, status, payment_status, total_amount,
			shipping_address, shipping_city, shipping_state, shipping_country,
			shipping_postal_code, phone, payment_method, is_paid, paid_at, tracking_number
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at`

	row := s.q.QueryRowxContext(ctx, query,
		order.UserID, order.OrderNumber, order.Status, order.PaymentStatus, order.TotalAmount,
		order.Address, order.City, order.State, order.Country,
		order.PostalCode, order.Phone, order.PaymentMethod, order.IsPaid, order.PaidAt, order.TrackingNumber)
	return mapError(row.Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt))
}

// CreateOrderItem creates a new order item
func (s *Store) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, product_name, quantity, price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return sqlx.GetContext(ctx, s.q, &item.ID, query,
		item.OrderID, item.ProductID, item.ProductName, item.Quantity, item.Price)
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, s.q, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, mapError(err)
	}
	return &order, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := sqlx.SelectContext(ctx, s.q, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// ListOrders retrieves orders matching the filter, newest first
func (s *Store) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	var (
		clauses []string
		args    []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.UserID != nil {
		add("o.user_id = $%d", *filter.UserID)
	}
	if filter.Status != "" {
		add("o.status = $%d", filter.Status)
	}
	if filter.PaymentStatus != "" {
		add("o.payment_status = $%d", filter.PaymentStatus)
	}
	if filter.Search != "" {
		add("(o.order_number ILIKE $%[1]d OR u.email ILIKE $%[1]d)", "%"+escapeLike(filter.Search)+"%")
	}
	if filter.CreatedFrom != nil {
		add("o.created_at >= $%d", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		add("o.created_at < $%d", *filter.CreatedTo)
	}

	query := "SELECT o.* FROM orders o LEFT JOIN users u ON u.id = o.user_id"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY o.created_at DESC, o.id DESC"

	var orders []models.Order
	err := sqlx.SelectContext(ctx, s.q, &orders, query, args...)
	return orders, err
}

// SaveOrderState updates the status, payment and tracking fields
func (s *Store) SaveOrderState(ctx context.Context, order *models.Order) error {
	query := `
		UPDATE orders
		SET status = $1, payment_status = $2, is_paid = $3, paid_at = $4,
			tracking_number = $5, updated_at = NOW()
		WHERE id = $6
		RETURNING updated_at`

	row := s.q.QueryRowxContext(ctx, query,
		order.Status, order.PaymentStatus, order.IsPaid, order.PaidAt, order.TrackingNumber, order.ID)
	return mapError(row.Scan(&order.UpdatedAt))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike quotes the LIKE wildcards so search terms match literally.
func escapeLike(term string) string {
	return likeEscaper.Replace(term)
}
