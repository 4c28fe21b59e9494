package store

import (
	"context"
	"errors"

	"shop-service/internal/models"
)

var (
	ErrNotFound = errors.New("store: record not found")
	ErrConflict = errors.New("store: unique constraint violated")
)

// Repository is implemented by the Postgres store and the in-memory store.
// Methods called on the Repository handed to WithTx's callback all run in
// one transaction; returning an error from the callback rolls back every
// write made through it.
type Repository interface {
	WithTx(ctx context.Context, fn func(tx Repository) error) error

	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	// DecrementStock subtracts quantity only when enough stock remains and
	// reports whether the row was updated.
	DecrementStock(ctx context.Context, productID int64, quantity int) (bool, error)

	GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error)
	// LockCart serialises checkouts of the same cart for the rest of the transaction.
	LockCart(ctx context.Context, cartID int64) error
	ListCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error)
	GetCartItem(ctx context.Context, cartID, itemID int64) (*models.CartItem, error)
	GetCartItemByProduct(ctx context.Context, cartID, productID int64) (*models.CartItem, error)
	CreateCartItem(ctx context.Context, item *models.CartItem) error
	UpdateCartItemQuantity(ctx context.Context, itemID int64, quantity int) error
	DeleteCartItem(ctx context.Context, itemID int64) error
	ClearCart(ctx context.Context, cartID int64) error

	OrderNumberExists(ctx context.Context, orderNumber string) (bool, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error)
	// SaveOrderState persists the mutable status, payment and tracking fields.
	SaveOrderState(ctx context.Context, order *models.Order) error

	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}
