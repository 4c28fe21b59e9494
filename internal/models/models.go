package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is the subset of the account record the service needs.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	IsStaff      bool      `db:"is_staff" json:"is_staff"`
	IsSuperuser  bool      `db:"is_superuser" json:"is_superuser"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Product represents a product in the catalog
type Product struct {
	ID          int64           `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Stock       int             `db:"stock" json:"stock"`
	IsAvailable bool            `db:"is_available" json:"is_available"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Cart is owned by exactly one user and created lazily.
type Cart struct {
	ID        int64      `db:"id" json:"id"`
	UserID    int64      `db:"user_id" json:"user_id"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	Items     []CartItem `db:"-" json:"items"`
}

// Total sums the lines at the products' current prices.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for i := range c.Items {
		total = total.Add(c.Items[i].Subtotal())
	}
	return total
}

// CartItem is one (product, quantity) line. Product is populated on read.
type CartItem struct {
	ID        int64    `db:"id" json:"id"`
	CartID    int64    `db:"cart_id" json:"cart_id"`
	ProductID int64    `db:"product_id" json:"product_id"`
	Quantity  int      `db:"quantity" json:"quantity"`
	Product   *Product `db:"-" json:"product,omitempty"`
}

func (ci *CartItem) Subtotal() decimal.Decimal {
	if ci.Product == nil {
		return decimal.Zero
	}
	return ci.Product.Price.Mul(decimal.NewFromInt(int64(ci.Quantity)))
}

// ShippingInfo is the address snapshot captured at checkout.
type ShippingInfo struct {
	Address    string `db:"shipping_address" json:"shipping_address" binding:"required"`
	City       string `db:"shipping_city" json:"shipping_city" binding:"required"`
	State      string `db:"shipping_state" json:"shipping_state"`
	Country    string `db:"shipping_country" json:"shipping_country" binding:"required"`
	PostalCode string `db:"shipping_postal_code" json:"shipping_postal_code" binding:"required"`
	Phone      string `db:"phone" json:"phone" binding:"required"`
}

// Order represents a customer order
type Order struct {
	ID            int64           `db:"id" json:"id"`
	UserID        int64           `db:"user_id" json:"user_id"`
	OrderNumber   string          `db:"order_number" json:"order_number"`
	Status        OrderStatus     `db:"status" json:"status"`
	PaymentStatus PaymentStatus   `db:"payment_status" json:"payment_status"`
	TotalAmount   decimal.Decimal `db:"total_amount" json:"total_amount"`
	ShippingInfo
	PaymentMethod  string      `db:"payment_method" json:"payment_method"`
	IsPaid         bool        `db:"is_paid" json:"is_paid"`
	PaidAt         *time.Time  `db:"paid_at" json:"paid_at"`
	TrackingNumber string      `db:"tracking_number" json:"tracking_number"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
	Items          []OrderItem `db:"-" json:"items"`
}

// SyncPayment reconciles IsPaid with PaymentStatus before a save. A paid
// flag on a pending order promotes the status to paid; otherwise the
// status wins. PaidAt is left alone.
func (o *Order) SyncPayment() {
	if o.IsPaid && o.PaymentStatus == PaymentStatusPending {
		o.PaymentStatus = PaymentStatusPaid
	}
	o.IsPaid = o.PaymentStatus == PaymentStatusPaid
}

// ItemsTotal sums the captured item prices.
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for i := range o.Items {
		total = total.Add(o.Items[i].Subtotal())
	}
	return total
}

// OrderItem represents items in an order. Price is a snapshot taken at checkout.
type OrderItem struct {
	ID          int64           `db:"id" json:"id"`
	OrderID     int64           `db:"order_id" json:"order_id"`
	ProductID   int64           `db:"product_id" json:"product_id"`
	ProductName string          `db:"product_name" json:"product_name"`
	Quantity    int             `db:"quantity" json:"quantity"`
	Price       decimal.Decimal `db:"price" json:"price"`
}

func (oi *OrderItem) Subtotal() decimal.Decimal {
	return oi.Price.Mul(decimal.NewFromInt(int64(oi.Quantity)))
}

// OrderFilter narrows order listings. Zero values match everything.
type OrderFilter struct {
	UserID        *int64
	Status        OrderStatus
	PaymentStatus PaymentStatus
	// Search matches a substring of the order number or the owner's email.
	Search string
	// CreatedFrom is inclusive, CreatedTo exclusive.
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
