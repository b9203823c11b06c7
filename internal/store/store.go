package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"village-store/internal/models"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a row scoped to the caller does not exist
var ErrNotFound = errors.New("not found")

const (
	pqInvalidText         pq.ErrorCode = "22P02"
	pqForeignKeyViolation pq.ErrorCode = "23503"
)

// notFound turns lookups by a malformed id, or inserts against a missing row, into ErrNotFound
func notFound(err error, what, id string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqInvalidText, pqForeignKeyViolation:
			return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
		}
	}
	return err
}

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an existing connection
func NewStoreFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema migrations
func (s *Store) Migrate() (uint, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("failed to open migration source: %w", err)
	}

	driver, err := postgres.WithInstance(s.db.DB, &postgres.Config{})
	if err != nil {
		return 0, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, err
	}
	if dirty {
		return version, fmt.Errorf("database schema is dirty at version %d", version)
	}
	return version, nil
}

// ProductFilter narrows a product listing
type ProductFilter struct {
	Category    string
	InStockOnly bool
	Limit       int
}

const productColumns = "id, name, description, price, image_url, in_stock, stock_quantity, category, created_at"

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		"SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, notFound(err, "product", id)
	}
	return &product, nil
}

// ListProducts retrieves products matching the filter, newest first
func (s *Store) ListProducts(ctx context.Context, filter ProductFilter) ([]models.Product, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.InStockOnly {
		where = append(where, "in_stock = TRUE")
	}

	query := "SELECT " + productColumns + " FROM products"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	products := []models.Product{}
	err := s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// GetProfile retrieves a user's profile
func (s *Store) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var profile models.Profile
	err := s.db.GetContext(ctx, &profile,
		"SELECT id, full_name, phone, created_at FROM profiles WHERE id = $1", userID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, notFound(err, "profile", userID)
	}
	return &profile, nil
}
