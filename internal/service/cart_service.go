package service

import (
	"context"
	"errors"
	"fmt"

	"shop-service/internal/apperr"
	"shop-service/internal/models"
	"shop-service/internal/store"
	"shop-service/internal/util"

	"go.uber.org/zap"
)

// CartService manages the caller's cart. Every mutation runs in one
// transaction so the stock check and the write see the same product row.
type CartService struct {
	repo   store.Repository
	logger *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(repo store.Repository) *CartService {
	return &CartService{
		repo:   repo,
		logger: util.GetLogger(),
	}
}

// GetCart returns the user's cart with its lines, creating an empty cart
// on first access.
func (s *CartService) GetCart(ctx context.Context, userID int64) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetCart")
	defer span.End()

	return loadCart(ctx, s.repo, userID)
}

// AddItem adds quantity of a product to the cart. Repeat adds accumulate
// on the existing line.
func (s *CartService) AddItem(ctx context.Context, userID, productID int64, quantity int) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if quantity < 1 {
		return nil, apperr.Validation("Quantity must be at least 1")
	}

	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		product, err := tx.GetProductByID(ctx, productID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("Product not found")
		}
		if err != nil {
			return fmt.Errorf("failed to get product: %w", err)
		}

		cart, err := lockedCart(ctx, tx, userID)
		if err != nil {
			return err
		}

		existing, err := tx.GetCartItemByProduct(ctx, cart.ID, productID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to get cart item: %w", err)
		}

		if existing == nil {
			if quantity > product.Stock {
				return insufficientStock(product, quantity, "cart")
			}
			err := tx.CreateCartItem(ctx, &models.CartItem{
				CartID:    cart.ID,
				ProductID: productID,
				Quantity:  quantity,
			})
			if errors.Is(err, store.ErrConflict) {
				return apperr.Wrap(apperr.CodeConflict, err, "Cart was modified concurrently, retry")
			}
			return err
		}

		total := existing.Quantity + quantity
		if total > product.Stock {
			return insufficientStock(product, total, "cart")
		}
		return tx.UpdateCartItemQuantity(ctx, existing.ID, total)
	})
	util.CartMutationsTotal.WithLabelValues("add", util.Result(err)).Inc()
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.logger.Debug("Cart item added",
		zap.Int64("user_id", userID),
		zap.Int64("product_id", productID),
		zap.Int("quantity", quantity))

	return loadCart(ctx, s.repo, userID)
}

// UpdateItem sets a line's quantity. A quantity of zero or less removes
// the line.
func (s *CartService) UpdateItem(ctx context.Context, userID, itemID int64, quantity int) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateItem")
	defer span.End()

	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		item, err := s.ownedItem(ctx, tx, userID, itemID)
		if err != nil {
			return err
		}

		if quantity <= 0 {
			return tx.DeleteCartItem(ctx, item.ID)
		}

		product, err := tx.GetProductByID(ctx, item.ProductID)
		if err != nil {
			return fmt.Errorf("failed to get product: %w", err)
		}
		if quantity > product.Stock {
			return insufficientStock(product, quantity, "cart")
		}
		return tx.UpdateCartItemQuantity(ctx, item.ID, quantity)
	})
	util.CartMutationsTotal.WithLabelValues("update", util.Result(err)).Inc()
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	return loadCart(ctx, s.repo, userID)
}

// RemoveItem deletes a line from the caller's cart.
func (s *CartService) RemoveItem(ctx context.Context, userID, itemID int64) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem")
	defer span.End()

	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		item, err := s.ownedItem(ctx, tx, userID, itemID)
		if err != nil {
			return err
		}
		return tx.DeleteCartItem(ctx, item.ID)
	})
	util.CartMutationsTotal.WithLabelValues("remove", util.Result(err)).Inc()
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	return loadCart(ctx, s.repo, userID)
}

// Clear empties the cart. Clearing an empty cart succeeds.
func (s *CartService) Clear(ctx context.Context, userID int64) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Clear")
	defer span.End()

	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		cart, err := lockedCart(ctx, tx, userID)
		if err != nil {
			return err
		}
		return tx.ClearCart(ctx, cart.ID)
	})
	util.CartMutationsTotal.WithLabelValues("clear", util.Result(err)).Inc()
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	return loadCart(ctx, s.repo, userID)
}

func (s *CartService) ownedItem(ctx context.Context, tx store.Repository, userID, itemID int64) (*models.CartItem, error) {
	cart, err := lockedCart(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	item, err := tx.GetCartItem(ctx, cart.ID, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Cart item not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart item: %w", err)
	}
	return item, nil
}

// lockedCart takes the same cart row lock as checkout, so a mutation either
// lands before checkout reads the lines or waits for the cleared cart.
func lockedCart(ctx context.Context, tx store.Repository, userID int64) (*models.Cart, error) {
	cart, err := tx.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	if err := tx.LockCart(ctx, cart.ID); err != nil {
		return nil, fmt.Errorf("failed to lock cart: %w", err)
	}
	return cart, nil
}

func loadCart(ctx context.Context, repo store.Repository, userID int64) (*models.Cart, error) {
	cart, err := repo.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	items, err := repo.ListCartItems(ctx, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart items: %w", err)
	}
	cart.Items = items
	return cart, nil
}

func insufficientStock(product *models.Product, requested int, stage string) error {
	util.StockRejectionsTotal.WithLabelValues(stage).Inc()

	msg := "Insufficient stock"
	if stage == "checkout" {
		msg = fmt.Sprintf("Insufficient stock for %s", product.Name)
	}
	return apperr.New(apperr.CodeInsufficientStock, msg).WithDetails(map[string]any{
		"product_id":   product.ID,
		"product_name": product.Name,
		"available":    product.Stock,
		"requested":    requested,
	})
}
