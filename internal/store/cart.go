package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"village-store/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// cartRow is a cart line left-joined with its product; product columns are NULL when the product is gone.
type cartRow struct {
	ID           string              `db:"id"`
	UserID       string              `db:"user_id"`
	ProductID    string              `db:"product_id"`
	Quantity     int                 `db:"quantity"`
	CreatedAt    time.Time           `db:"created_at"`
	ProductName  sql.NullString      `db:"product_name"`
	ProductPrice decimal.NullDecimal `db:"product_price"`
	ProductImage sql.NullString      `db:"product_image_url"`
	ProductStock sql.NullBool        `db:"product_in_stock"`
}

func (r cartRow) toModel() models.CartItem {
	item := models.CartItem{
		ID:        r.ID,
		UserID:    r.UserID,
		ProductID: r.ProductID,
		Quantity:  r.Quantity,
		CreatedAt: r.CreatedAt,
	}
	if r.ProductName.Valid {
		item.Product = &models.CartProduct{
			Name:     r.ProductName.String,
			Price:    r.ProductPrice.Decimal,
			ImageURL: r.ProductImage.String,
			InStock:  r.ProductStock.Bool,
		}
	}
	return item
}

// GetCartItems retrieves the user's cart rows joined with product name, price, image and stock flag
func (s *Store) GetCartItems(ctx context.Context, userID string) ([]models.CartItem, error) {
	query := `
		SELECT c.id, c.user_id, c.product_id, c.quantity, c.created_at,
		       p.name AS product_name, p.price AS product_price,
		       p.image_url AS product_image_url, p.in_stock AS product_in_stock
		FROM cart c
		LEFT JOIN products p ON p.id = c.product_id
		WHERE c.user_id = $1
		ORDER BY c.created_at`

	var rows []cartRow
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, err
	}

	items := make([]models.CartItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.toModel())
	}
	return items, nil
}

// FindCartItem returns the user's row for a product, or nil when there is none
func (s *Store) FindCartItem(ctx context.Context, userID, productID string) (*models.CartItem, error) {
	var item models.CartItem
	err := s.db.QueryRowxContext(ctx,
		"SELECT id, user_id, product_id, quantity, created_at FROM cart WHERE user_id = $1 AND product_id = $2",
		userID, productID).Scan(&item.ID, &item.UserID, &item.ProductID, &item.Quantity, &item.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, notFound(err, "product", productID)
	}
	return &item, nil
}

// InsertCartItem creates a new cart row
func (s *Store) InsertCartItem(ctx context.Context, userID, productID string, quantity int) (*models.CartItem, error) {
	item := &models.CartItem{
		ID:        uuid.New().String(),
		UserID:    userID,
		ProductID: productID,
		Quantity:  quantity,
	}

	query := `
		INSERT INTO cart (id, user_id, product_id, quantity)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	err := s.db.QueryRowxContext(ctx, query, item.ID, userID, productID, quantity).Scan(&item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert cart item: %w", notFound(err, "product", productID))
	}
	return item, nil
}

// UpdateCartItemQuantity overwrites the quantity of one of the user's rows
func (s *Store) UpdateCartItemQuantity(ctx context.Context, userID, itemID string, quantity int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE cart SET quantity = $1 WHERE id = $2 AND user_id = $3",
		quantity, itemID, userID)
	if err != nil {
		return notFound(err, "cart item", itemID)
	}
	return expectRow(res, "cart item", itemID)
}

// DeleteCartItem deletes one of the user's rows
func (s *Store) DeleteCartItem(ctx context.Context, userID, itemID string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM cart WHERE id = $1 AND user_id = $2", itemID, userID)
	if err != nil {
		return notFound(err, "cart item", itemID)
	}
	return expectRow(res, "cart item", itemID)
}

// ClearCart deletes all of the user's rows
func (s *Store) ClearCart(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cart WHERE user_id = $1", userID)
	return err
}

func expectRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}
