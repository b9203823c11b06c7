package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"village-store/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

var (
	// ErrOrderNotCancellable is returned when the order reached a terminal status before the cancel committed
	ErrOrderNotCancellable = errors.New("order can no longer be cancelled")
	// ErrInsufficientStock is returned when a product has fewer units than an order asks for
	ErrInsufficientStock = errors.New("insufficient stock")
)

const orderColumns = "id, user_id, total_amount, status, payment_id, shipping_address, created_at, updated_at"

type orderItemRow struct {
	ID                   string              `db:"id"`
	OrderID              string              `db:"order_id"`
	ProductID            string              `db:"product_id"`
	Quantity             int                 `db:"quantity"`
	Price                decimal.Decimal     `db:"price"`
	ProductName          sql.NullString      `db:"product_name"`
	ProductPrice         decimal.NullDecimal `db:"product_price"`
	ProductImage         sql.NullString      `db:"product_image_url"`
	ProductStockQuantity sql.NullInt64       `db:"product_stock_quantity"`
}

func (r orderItemRow) toModel() models.OrderItem {
	item := models.OrderItem{
		ID:        r.ID,
		OrderID:   r.OrderID,
		ProductID: r.ProductID,
		Quantity:  r.Quantity,
		Price:     r.Price,
	}
	if r.ProductName.Valid {
		item.Product = &models.ItemProduct{
			ID:            r.ProductID,
			Name:          r.ProductName.String,
			Price:         r.ProductPrice.Decimal,
			ImageURL:      r.ProductImage.String,
			StockQuantity: int(r.ProductStockQuantity.Int64),
		}
	}
	return item
}

const orderItemsQuery = `
	SELECT oi.id, oi.order_id, oi.product_id, oi.quantity, oi.price,
	       p.name AS product_name, p.price AS product_price,
	       p.image_url AS product_image_url, p.stock_quantity AS product_stock_quantity
	FROM order_items oi
	LEFT JOIN products p ON p.id = oi.product_id`

// PlaceOrder inserts the order header and all of its items and takes their units out of stock, in one transaction.
// A product short of stock rolls the whole order back with ErrInsufficientStock.
// IDs are assigned here; created_at/updated_at come back from the database.
func (s *Store) PlaceOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if order.ID == "" {
		order.ID = uuid.New().String()
	}

	query := `
		INSERT INTO orders (id, user_id, total_amount, status, payment_id, shipping_address)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		order.ID, order.UserID, order.TotalAmount, order.Status, order.PaymentID, order.ShippingAddress,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	if len(items) > 0 {
		for i := range items {
			items[i].OrderID = order.ID
			if items[i].ID == "" {
				items[i].ID = uuid.New().String()
			}
		}

		_, err = tx.NamedExecContext(ctx,
			`INSERT INTO order_items (id, order_id, product_id, quantity, price)
			 VALUES (:id, :order_id, :product_id, :quantity, :price)`, items)
		if err != nil {
			return fmt.Errorf("failed to insert order items: %w", err)
		}
	}

	for _, item := range items {
		res, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock_quantity = stock_quantity - $1,
			    in_stock = (stock_quantity - $1) > 0
			WHERE id = $2 AND stock_quantity >= $1`,
			item.Quantity, item.ProductID)
		if err != nil {
			return fmt.Errorf("failed to reserve stock for product %s: %w", item.ProductID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("product %s: %w", item.ProductID, ErrInsufficientStock)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order: %w", err)
	}

	order.Items = items
	return nil
}

// GetOrdersByUserID retrieves a user's orders, newest first, with their items and product snapshots
func (s *Store) GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		orders[i].Items = []models.OrderItem{}
	}

	query, args, err := sqlx.In(orderItemsQuery+" WHERE oi.order_id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var rows []orderItemRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	index := make(map[string]int, len(orders))
	for i := range orders {
		index[orders[i].ID] = i
	}
	for _, r := range rows {
		if i, ok := index[r.OrderID]; ok {
			orders[i].Items = append(orders[i].Items, r.toModel())
		}
	}

	return orders, nil
}

// GetOrderForUser retrieves one order with its items, scoped to the owning user
func (s *Store) GetOrderForUser(ctx context.Context, orderID, userID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 AND user_id = $2", orderID, userID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, notFound(err, "order", orderID)
	}

	var rows []orderItemRow
	if err := s.db.SelectContext(ctx, &rows, orderItemsQuery+" WHERE oi.order_id = $1", orderID); err != nil {
		return nil, err
	}

	order.Items = make([]models.OrderItem, 0, len(rows))
	for _, r := range rows {
		order.Items = append(order.Items, r.toModel())
	}
	return &order, nil
}

// StockRestore reports a product's stock after a cancellation gave units back
type StockRestore struct {
	ProductID     string `db:"id"`
	Quantity      int    `db:"-"`
	StockQuantity int    `db:"stock_quantity"`
	InStock       bool   `db:"in_stock"`
}

// CancelOrder marks the order cancelled and restores the stock of every item in one transaction.
// Items whose product no longer exists are skipped.
func (s *Store) CancelOrder(ctx context.Context, orderID string, items []models.OrderItem) ([]StockRestore, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status NOT IN ($3, $4)",
		models.OrderStatusCancelled, orderID, models.OrderStatusCancelled, models.OrderStatusDelivered)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrOrderNotCancellable
	}

	restored := make([]StockRestore, 0, len(items))
	for _, item := range items {
		if item.Product == nil {
			continue
		}

		var r StockRestore
		err := tx.QueryRowxContext(ctx, `
			UPDATE products
			SET stock_quantity = stock_quantity + $1,
			    in_stock = (stock_quantity + $1) > 0
			WHERE id = $2
			RETURNING id, stock_quantity, in_stock`,
			item.Quantity, item.ProductID).StructScan(&r)
		if err != nil {
			return nil, fmt.Errorf("failed to restore stock for product %s: %w", item.ProductID, err)
		}
		r.Quantity = item.Quantity
		restored = append(restored, r)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}
	return restored, nil
}
