package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced    = "ORDER_PLACED"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published after checkout commits
type OrderPlacedEvent struct {
	BaseEvent
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentMethod string          `json:"payment_method"`
	Items         []OrderItemData `json:"items"`
}

// OrderCancelledEvent published when a customer cancels an order and its stock is restored
type OrderCancelledEvent struct {
	BaseEvent
	OrderID  string          `json:"order_id"`
	UserID   string          `json:"user_id"`
	Restored []OrderItemData `json:"restored"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
