// Package storetest provides an in-memory store for service and handler tests.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"village-store/internal/models"
	"village-store/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemStore is an in-memory stand-in for *store.Store with switchable failures
type MemStore struct {
	mu       sync.Mutex
	products map[string]*models.Product
	cart     []models.CartItem
	orders   []*models.Order
	clock    time.Time

	calls int

	// PlaceDelay is slept before PlaceOrder takes the lock
	PlaceDelay time.Duration

	FailGetCart error
	FailFind    error
	FailInsert  error
	FailUpdate  error
	FailDelete  error
	FailClear   error
	FailPlace   error
	FailList    error
	FailCancel  error
}

func NewMemStore() *MemStore {
	return &MemStore{
		products: make(map[string]*models.Product),
		clock:    time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (m *MemStore) tick() time.Time {
	m.clock = m.clock.Add(time.Minute)
	return m.clock
}

// AddProduct seeds a product; newer products sort first in listings
func (m *MemStore) AddProduct(id, name, price string, stock int) *models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &models.Product{
		ID:            id,
		Name:          name,
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
		InStock:       stock > 0,
		Category:      "grocery",
		CreatedAt:     m.tick(),
	}
	m.products[id] = p
	return p
}

// Product returns a copy of a seeded product
func (m *MemStore) Product(id string) models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.products[id]
}

func (m *MemStore) join(item models.CartItem) models.CartItem {
	if p, ok := m.products[item.ProductID]; ok {
		item.Product = &models.CartProduct{Name: p.Name, Price: p.Price, ImageURL: p.ImageURL, InStock: p.InStock}
	}
	return item
}

func (m *MemStore) GetCartItems(ctx context.Context, userID string) ([]models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.FailGetCart != nil {
		return nil, m.FailGetCart
	}
	items := []models.CartItem{}
	for _, row := range m.cart {
		if row.UserID == userID {
			items = append(items, m.join(row))
		}
	}
	return items, nil
}

func (m *MemStore) FindCartItem(ctx context.Context, userID, productID string) (*models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.FailFind != nil {
		return nil, m.FailFind
	}
	for _, row := range m.cart {
		if row.UserID == userID && row.ProductID == productID {
			r := row
			return &r, nil
		}
	}
	return nil, nil
}

func (m *MemStore) InsertCartItem(ctx context.Context, userID, productID string, quantity int) (*models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.FailInsert != nil {
		return nil, m.FailInsert
	}
	row := models.CartItem{ID: uuid.New().String(), UserID: userID, ProductID: productID, Quantity: quantity, CreatedAt: m.tick()}
	m.cart = append(m.cart, row)
	return &row, nil
}

func (m *MemStore) UpdateCartItemQuantity(ctx context.Context, userID, itemID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.FailUpdate != nil {
		return m.FailUpdate
	}
	for i := range m.cart {
		if m.cart[i].ID == itemID && m.cart[i].UserID == userID {
			m.cart[i].Quantity = quantity
			return nil
		}
	}
	return fmt.Errorf("cart item %s: %w", itemID, store.ErrNotFound)
}

func (m *MemStore) DeleteCartItem(ctx context.Context, userID, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.FailDelete != nil {
		return m.FailDelete
	}
	for i := range m.cart {
		if m.cart[i].ID == itemID && m.cart[i].UserID == userID {
			m.cart = append(m.cart[:i], m.cart[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("cart item %s: %w", itemID, store.ErrNotFound)
}

func (m *MemStore) ClearCart(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.FailClear != nil {
		return m.FailClear
	}
	kept := m.cart[:0]
	for _, row := range m.cart {
		if row.UserID != userID {
			kept = append(kept, row)
		}
	}
	m.cart = kept
	return nil
}

// CartRows returns the raw cart rows of a user
func (m *MemStore) CartRows(userID string) []models.CartItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []models.CartItem
	for _, row := range m.cart {
		if row.UserID == userID {
			rows = append(rows, row)
		}
	}
	return rows
}

func (m *MemStore) PlaceOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	if m.PlaceDelay > 0 {
		time.Sleep(m.PlaceDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.FailPlace != nil {
		return m.FailPlace
	}
	for _, item := range items {
		p, ok := m.products[item.ProductID]
		if !ok || p.StockQuantity < item.Quantity {
			return fmt.Errorf("product %s: %w", item.ProductID, store.ErrInsufficientStock)
		}
	}
	for _, item := range items {
		p := m.products[item.ProductID]
		p.StockQuantity -= item.Quantity
		p.InStock = p.StockQuantity > 0
	}

	order.CreatedAt = m.tick()
	order.UpdatedAt = order.CreatedAt
	for i := range items {
		items[i].ID = uuid.New().String()
		items[i].OrderID = order.ID
	}
	order.Items = items

	stored := *order
	stored.Items = append([]models.OrderItem(nil), items...)
	m.orders = append(m.orders, &stored)
	return nil
}

func (m *MemStore) withProducts(o models.Order) models.Order {
	items := make([]models.OrderItem, len(o.Items))
	for i, item := range o.Items {
		if p, ok := m.products[item.ProductID]; ok {
			item.Product = &models.ItemProduct{ID: p.ID, Name: p.Name, Price: p.Price, StockQuantity: p.StockQuantity}
		}
		items[i] = item
	}
	o.Items = items
	return o
}

func (m *MemStore) GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.FailList != nil {
		return nil, m.FailList
	}
	orders := []models.Order{}
	for _, o := range m.orders {
		if o.UserID == userID {
			orders = append(orders, m.withProducts(*o))
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

func (m *MemStore) GetOrderForUser(ctx context.Context, orderID, userID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	for _, o := range m.orders {
		if o.ID == orderID && o.UserID == userID {
			order := m.withProducts(*o)
			return &order, nil
		}
	}
	return nil, fmt.Errorf("order %s: %w", orderID, store.ErrNotFound)
}

func (m *MemStore) CancelOrder(ctx context.Context, orderID string, items []models.OrderItem) ([]store.StockRestore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.FailCancel != nil {
		return nil, m.FailCancel
	}
	var order *models.Order
	for _, o := range m.orders {
		if o.ID == orderID {
			order = o
		}
	}
	if order == nil || models.IsTerminal(order.Status) {
		return nil, store.ErrOrderNotCancellable
	}
	order.Status = models.OrderStatusCancelled

	var restored []store.StockRestore
	for _, item := range items {
		p, ok := m.products[item.ProductID]
		if item.Product == nil || !ok {
			continue
		}
		p.StockQuantity += item.Quantity
		p.InStock = p.StockQuantity > 0
		restored = append(restored, store.StockRestore{
			ProductID:     p.ID,
			Quantity:      item.Quantity,
			StockQuantity: p.StockQuantity,
			InStock:       p.InStock,
		})
	}
	return restored, nil
}

// OrderCount returns how many orders have been persisted
func (m *MemStore) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// SetOrderStatus forces an order into a status
func (m *MemStore) SetOrderStatus(orderID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ID == orderID {
			o.Status = status
		}
	}
}

func (m *MemStore) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, store.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *MemStore) ListProducts(ctx context.Context, filter store.ProductFilter) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.FailList != nil {
		return nil, m.FailList
	}
	products := []models.Product{}
	for _, p := range m.products {
		if filter.InStockOnly && !p.InStock {
			continue
		}
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		products = append(products, *p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].CreatedAt.After(products[j].CreatedAt) })
	if filter.Limit > 0 && len(products) > filter.Limit {
		products = products[:filter.Limit]
	}
	return products, nil
}

// CallCount is the number of store methods invoked so far
func (m *MemStore) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
