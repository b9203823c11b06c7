package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog
type Product struct {
	ID            string          `db:"id" json:"id"`
	Name          string          `db:"name" json:"name"`
	Description   string          `db:"description" json:"description"`
	Price         decimal.Decimal `db:"price" json:"price"`
	ImageURL      string          `db:"image_url" json:"image_url"`
	InStock       bool            `db:"in_stock" json:"in_stock"`
	StockQuantity int             `db:"stock_quantity" json:"stock_quantity"`
	Category      string          `db:"category" json:"category"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Profile is the public part of a user account
type Profile struct {
	ID        string    `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Phone     string    `db:"phone" json:"phone"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CartProduct is the product snapshot joined onto a cart row for display.
type CartProduct struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	ImageURL string          `json:"image_url"`
	InStock  bool            `json:"in_stock"`
}

// CartItem is one persisted (user, product, quantity) line
type CartItem struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	ProductID string       `json:"product_id"`
	Quantity  int          `json:"quantity"`
	CreatedAt time.Time    `json:"created_at"`
	Product   *CartProduct `json:"product,omitempty"`
}

// UnitPrice returns the joined product price, or zero when the product is unresolved.
func (c CartItem) UnitPrice() decimal.Decimal {
	if c.Product == nil {
		return decimal.Zero
	}
	return c.Product.Price
}

// ShippingAddress is the address snapshot stored with an order
type ShippingAddress struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// Value stores the address as JSONB
func (a ShippingAddress) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan reads the address from a JSONB column
func (a *ShippingAddress) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = ShippingAddress{}
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("unsupported shipping address type %T", src)
	}
}

// Order represents a customer order
type Order struct {
	ID              string          `db:"id" json:"id"`
	UserID          string          `db:"user_id" json:"user_id"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`
	Status          string          `db:"status" json:"status"`
	PaymentID       *string         `db:"payment_id" json:"payment_id"`
	ShippingAddress ShippingAddress `db:"shipping_address" json:"shipping_address"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`

	Items []OrderItem `db:"-" json:"order_items"`
}

// ItemProduct is the product snapshot joined onto an order item
type ItemProduct struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	ImageURL      string          `json:"image_url"`
	StockQuantity int             `json:"stock_quantity"`
}

// OrderItem represents items in an order. Price is captured at order time.
type OrderItem struct {
	ID        string          `db:"id" json:"id"`
	OrderID   string          `db:"order_id" json:"order_id"`
	ProductID string          `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	Price     decimal.Decimal `db:"price" json:"price"`

	Product *ItemProduct `db:"-" json:"product,omitempty"`
}

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

// PaymentCashOnDelivery is the payment reference stored for cash-on-delivery orders
const PaymentCashOnDelivery = "cash_on_delivery"

// Payment methods accepted at checkout
const (
	PaymentMethodCOD    = "cod"
	PaymentMethodOnline = "online"
)

// IsTerminal reports whether an order in this status can no longer be cancelled.
func IsTerminal(status string) bool {
	return status == OrderStatusCancelled || status == OrderStatusDelivered
}
