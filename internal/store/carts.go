package store

import (
	"context"
	"fmt"

	"shop-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetOrCreateCart returns the user's cart, inserting an empty one on first access
func (s *Store) GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO carts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure cart: %w", err)
	}

	var cart models.Cart
	if err := sqlx.GetContext(ctx, s.q, &cart, "SELECT * FROM carts WHERE user_id = $1", userID); err != nil {
		return nil, mapError(err)
	}
	return &cart, nil
}

// LockCart takes a row lock on the cart until the transaction ends
func (s *Store) LockCart(ctx context.Context, cartID int64) error {
	var id int64
	err := sqlx.GetContext(ctx, s.q, &id, "SELECT id FROM carts WHERE id = $1 FOR UPDATE", cartID)
	return mapError(err)
}

// ListCartItems returns the cart's lines with their products attached
func (s *Store) ListCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error) {
	var items []models.CartItem
	err := sqlx.SelectContext(ctx, s.q, &items,
		"SELECT * FROM cart_items WHERE cart_id = $1 ORDER BY id", cartID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return items, nil
	}

	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}
	products, err := s.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart products: %w", err)
	}
	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	for i := range items {
		items[i].Product = byID[items[i].ProductID]
	}
	return items, nil
}

// GetCartItem retrieves an item only if it belongs to the cart
func (s *Store) GetCartItem(ctx context.Context, cartID, itemID int64) (*models.CartItem, error) {
	var item models.CartItem
	err := sqlx.GetContext(ctx, s.q, &item,
		"SELECT * FROM cart_items WHERE id = $1 AND cart_id = $2", itemID, cartID)
	if err != nil {
		return nil, mapError(err)
	}
	return &item, nil
}

// GetCartItemByProduct retrieves the cart's line for a product
func (s *Store) GetCartItemByProduct(ctx context.Context, cartID, productID int64) (*models.CartItem, error) {
	var item models.CartItem
	err := sqlx.GetContext(ctx, s.q, &item,
		"SELECT * FROM cart_items WHERE cart_id = $1 AND product_id = $2", cartID, productID)
	if err != nil {
		return nil, mapError(err)
	}
	return &item, nil
}

// CreateCartItem inserts a new line
func (s *Store) CreateCartItem(ctx context.Context, item *models.CartItem) error {
	query := `
		INSERT INTO cart_items (cart_id, product_id, quantity)
		VALUES ($1, $2, $3)
		RETURNING id`

	err := sqlx.GetContext(ctx, s.q, &item.ID, query, item.CartID, item.ProductID, item.Quantity)
	if err != nil {
		return mapError(err)
	}
	return s.touchCart(ctx, item.CartID)
}

// UpdateCartItemQuantity sets a line's quantity
func (s *Store) UpdateCartItemQuantity(ctx context.Context, itemID int64, quantity int) error {
	res, err := s.q.ExecContext(ctx,
		"UPDATE cart_items SET quantity = $1 WHERE id = $2", quantity, itemID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// DeleteCartItem deletes a line
func (s *Store) DeleteCartItem(ctx context.Context, itemID int64) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM cart_items WHERE id = $1", itemID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ClearCart deletes every line; the cart row is kept
func (s *Store) ClearCart(ctx context.Context, cartID int64) error {
	if _, err := s.q.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID); err != nil {
		return err
	}
	return s.touchCart(ctx, cartID)
}

func (s *Store) touchCart(ctx context.Context, cartID int64) error {
	_, err := s.q.ExecContext(ctx, "UPDATE carts SET updated_at = NOW() WHERE id = $1", cartID)
	return err
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func requireAffected(res rowsAffected) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
