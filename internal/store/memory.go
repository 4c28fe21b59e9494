package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"shop-service/internal/models"
)

type memData struct {
	users      map[int64]models.User
	products   map[int64]models.Product
	carts      map[int64]models.Cart
	cartItems  map[int64]models.CartItem
	orders     map[int64]models.Order
	orderItems map[int64]models.OrderItem
	events     map[string]models.ProcessedEvent
	seq        map[string]int64
}

func newMemData() *memData {
	return &memData{
		users:      map[int64]models.User{},
		products:   map[int64]models.Product{},
		carts:      map[int64]models.Cart{},
		cartItems:  map[int64]models.CartItem{},
		orders:     map[int64]models.Order{},
		orderItems: map[int64]models.OrderItem{},
		events:     map[string]models.ProcessedEvent{},
		seq:        map[string]int64{},
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.products {
		c.products[k] = v
	}
	for k, v := range d.carts {
		c.carts[k] = v
	}
	for k, v := range d.cartItems {
		c.cartItems[k] = v
	}
	for k, v := range d.orders {
		c.orders[k] = v
	}
	for k, v := range d.orderItems {
		c.orderItems[k] = v
	}
	for k, v := range d.events {
		c.events[k] = v
	}
	for k, v := range d.seq {
		c.seq[k] = v
	}
	return c
}

func (d *memData) next(table string) int64 {
	d.seq[table]++
	return d.seq[table]
}

// MemoryStore is a process-local Repository. Transactions work on a copy
// of the data that replaces the original only on success, and hold the
// store lock for their whole duration.
type MemoryStore struct {
	mu   *sync.Mutex
	data *memData
	inTx bool
	now  func() time.Time
}

var _ Repository = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{mu: &sync.Mutex{}, data: newMemData(), now: time.Now}
}

func (m *MemoryStore) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	if m.inTx {
		return fn(m)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &MemoryStore{mu: m.mu, data: m.data.clone(), inTx: true, now: m.now}
	if err := fn(tx); err != nil {
		return err
	}
	m.data = tx.data
	return nil
}

// PutProduct inserts or replaces a catalog product. Catalog management
// lives outside this service, so this is how products are seeded.
func (m *MemoryStore) PutProduct(p models.Product) models.Product {
	defer m.lock()()

	if p.ID == 0 {
		p.ID = m.data.next("products")
	} else if p.ID > m.data.seq["products"] {
		m.data.seq["products"] = p.ID
	}
	now := m.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.data.products[p.ID] = p
	return p
}

func (m *MemoryStore) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	defer m.lock()()

	p, ok := m.data.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	defer m.lock()()

	products := make([]models.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.data.products[id]; ok {
			products = append(products, p)
		}
	}
	return products, nil
}

func (m *MemoryStore) DecrementStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	defer m.lock()()

	p, ok := m.data.products[productID]
	if !ok || p.Stock < quantity {
		return false, nil
	}
	p.Stock -= quantity
	p.UpdatedAt = m.now()
	m.data.products[productID] = p
	return true, nil
}

func (m *MemoryStore) GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	defer m.lock()()

	for _, c := range m.data.carts {
		if c.UserID == userID {
			return &c, nil
		}
	}
	now := m.now()
	c := models.Cart{ID: m.data.next("carts"), UserID: userID, CreatedAt: now, UpdatedAt: now}
	m.data.carts[c.ID] = c
	return &c, nil
}

func (m *MemoryStore) LockCart(ctx context.Context, cartID int64) error {
	defer m.lock()()

	if _, ok := m.data.carts[cartID]; !ok {
		return ErrNotFound
	}
	return nil
}

func (m *MemoryStore) ListCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error) {
	defer m.lock()()

	items := make([]models.CartItem, 0)
	for _, item := range m.data.cartItems {
		if item.CartID != cartID {
			continue
		}
		if p, ok := m.data.products[item.ProductID]; ok {
			item.Product = &p
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *MemoryStore) GetCartItem(ctx context.Context, cartID, itemID int64) (*models.CartItem, error) {
	defer m.lock()()

	item, ok := m.data.cartItems[itemID]
	if !ok || item.CartID != cartID {
		return nil, ErrNotFound
	}
	return &item, nil
}

func (m *MemoryStore) GetCartItemByProduct(ctx context.Context, cartID, productID int64) (*models.CartItem, error) {
	defer m.lock()()

	for _, item := range m.data.cartItems {
		if item.CartID == cartID && item.ProductID == productID {
			return &item, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) CreateCartItem(ctx context.Context, item *models.CartItem) error {
	defer m.lock()()

	for _, existing := range m.data.cartItems {
		if existing.CartID == item.CartID && existing.ProductID == item.ProductID {
			return fmt.Errorf("%w: cart_items_cart_id_product_id_key", ErrConflict)
		}
	}
	item.ID = m.data.next("cart_items")
	stored := *item
	stored.Product = nil
	m.data.cartItems[item.ID] = stored
	m.touchCart(item.CartID)
	return nil
}

func (m *MemoryStore) UpdateCartItemQuantity(ctx context.Context, itemID int64, quantity int) error {
	defer m.lock()()

	item, ok := m.data.cartItems[itemID]
	if !ok {
		return ErrNotFound
	}
	item.Quantity = quantity
	m.data.cartItems[itemID] = item
	m.touchCart(item.CartID)
	return nil
}

func (m *MemoryStore) DeleteCartItem(ctx context.Context, itemID int64) error {
	defer m.lock()()

	item, ok := m.data.cartItems[itemID]
	if !ok {
		return ErrNotFound
	}
	delete(m.data.cartItems, itemID)
	m.touchCart(item.CartID)
	return nil
}

func (m *MemoryStore) ClearCart(ctx context.Context, cartID int64) error {
	defer m.lock()()

	for id, item := range m.data.cartItems {
		if item.CartID == cartID {
			delete(m.data.cartItems, id)
		}
	}
	m.touchCart(cartID)
	return nil
}

func (m *MemoryStore) touchCart(cartID int64) {
	if c, ok := m.data.carts[cartID]; ok {
		c.UpdatedAt = m.now()
		m.data.carts[cartID] = c
	}
}

func (m *MemoryStore) OrderNumberExists(ctx context.Context, orderNumber string) (bool, error) {
	defer m.lock()()

	for _, o := range m.data.orders {
		if o.OrderNumber == orderNumber {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) CreateOrder(ctx context.Context, order *models.Order) error {
	defer m.lock()()

	for _, o := range m.data.orders {
		if o.OrderNumber == order.OrderNumber {
			return fmt.Errorf("%w: orders_order_number_key", ErrConflict)
		}
	}
	now := m.now()
	order.ID = m.data.next("orders")
	order.CreatedAt = now
	order.UpdatedAt = now
	stored := *order
	stored.Items = nil
	m.data.orders[order.ID] = stored
	return nil
}

func (m *MemoryStore) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	defer m.lock()()

	if _, ok := m.data.orders[item.OrderID]; !ok {
		return fmt.Errorf("order %d: %w", item.OrderID, ErrNotFound)
	}
	item.ID = m.data.next("order_items")
	m.data.orderItems[item.ID] = *item
	return nil
}

func (m *MemoryStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	defer m.lock()()

	o, ok := m.data.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (m *MemoryStore) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	defer m.lock()()

	items := make([]models.OrderItem, 0)
	for _, item := range m.data.orderItems {
		if item.OrderID == orderID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *MemoryStore) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	defer m.lock()()

	orders := make([]models.Order, 0)
	search := strings.ToLower(filter.Search)
	for _, o := range m.data.orders {
		if filter.UserID != nil && o.UserID != *filter.UserID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.PaymentStatus != "" && o.PaymentStatus != filter.PaymentStatus {
			continue
		}
		if search != "" && !m.orderMatches(o, search) {
			continue
		}
		if filter.CreatedFrom != nil && o.CreatedAt.Before(*filter.CreatedFrom) {
			continue
		}
		if filter.CreatedTo != nil && !o.CreatedAt.Before(*filter.CreatedTo) {
			continue
		}
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

func (m *MemoryStore) orderMatches(o models.Order, search string) bool {
	if strings.Contains(strings.ToLower(o.OrderNumber), search) {
		return true
	}
	u, ok := m.data.users[o.UserID]
	return ok && strings.Contains(strings.ToLower(u.Email), search)
}

func (m *MemoryStore) SaveOrderState(ctx context.Context, order *models.Order) error {
	defer m.lock()()

	stored, ok := m.data.orders[order.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Status = order.Status
	stored.PaymentStatus = order.PaymentStatus
	stored.IsPaid = order.IsPaid
	stored.PaidAt = order.PaidAt
	stored.TrackingNumber = order.TrackingNumber
	stored.UpdatedAt = m.now()
	m.data.orders[order.ID] = stored
	order.UpdatedAt = stored.UpdatedAt
	return nil
}

func (m *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	defer m.lock()()

	for _, u := range m.data.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	defer m.lock()()

	for _, u := range m.data.users {
		if u.Username == user.Username || u.Email == user.Email {
			return fmt.Errorf("%w: users_username_key", ErrConflict)
		}
	}
	user.ID = m.data.next("users")
	user.CreatedAt = m.now()
	m.data.users[user.ID] = *user
	return nil
}

func (m *MemoryStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	defer m.lock()()

	_, ok := m.data.events[eventID]
	return ok, nil
}

func (m *MemoryStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	defer m.lock()()

	if _, ok := m.data.events[eventID]; !ok {
		m.data.events[eventID] = models.ProcessedEvent{EventID: eventID, EventType: eventType, ProcessedAt: m.now()}
	}
	return nil
}
