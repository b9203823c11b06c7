package service

import (
	"context"
	"time"

	"village-store/internal/models"
	"village-store/internal/store"
)

// CartStore is the persistence the cart layer needs; *store.Store satisfies it
type CartStore interface {
	GetCartItems(ctx context.Context, userID string) ([]models.CartItem, error)
	FindCartItem(ctx context.Context, userID, productID string) (*models.CartItem, error)
	InsertCartItem(ctx context.Context, userID, productID string, quantity int) (*models.CartItem, error)
	UpdateCartItemQuantity(ctx context.Context, userID, itemID string, quantity int) error
	DeleteCartItem(ctx context.Context, userID, itemID string) error
	ClearCart(ctx context.Context, userID string) error
}

// OrderStore is the persistence for orders
type OrderStore interface {
	PlaceOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error)
	GetOrderForUser(ctx context.Context, orderID, userID string) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID string, items []models.OrderItem) ([]store.StockRestore, error)
}

// CatalogStore is the persistence for products
type CatalogStore interface {
	GetProductByID(ctx context.Context, id string) (*models.Product, error)
	ListProducts(ctx context.Context, filter store.ProductFilter) ([]models.Product, error)
}

// CartCache caches the joined cart view per user. SetCart must refuse to write
// when the cart was invalidated after version was read.
type CartCache interface {
	GetCart(ctx context.Context, userID string) ([]models.CartItem, error)
	CartVersion(ctx context.Context, userID string) (int64, error)
	SetCart(ctx context.Context, userID string, version int64, items []models.CartItem) error
	InvalidateCart(ctx context.Context, userID string) error
}

// CatalogCache caches in-stock product samples
type CatalogCache interface {
	GetInStockProducts(ctx context.Context, limit int) ([]models.Product, error)
	SetInStockProducts(ctx context.Context, limit int, products []models.Product) error
}

// IdempotencyStore remembers which order a checkout key produced.
// A key is reserved before the order is written so concurrent retries wait for one result.
type IdempotencyStore interface {
	ReserveIdempotencyKey(ctx context.Context, userID, key string, ttl time.Duration) (bool, error)
	ReleaseIdempotencyKey(ctx context.Context, userID, key string) error
	GetIdempotencyKey(ctx context.Context, userID, key string) (string, error)
	SetIdempotencyKey(ctx context.Context, userID, key, orderID string, ttl time.Duration) error
}

// EventPublisher publishes order lifecycle events
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
}
