package service

import (
	"context"
	"errors"

	"village-store/internal/models"
	"village-store/internal/redisclient"
	"village-store/internal/store"
	"village-store/internal/util"

	"go.uber.org/zap"
)

// CatalogService serves the product catalog
type CatalogService struct {
	store  CatalogStore
	cache  CatalogCache
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(store CatalogStore, cache CatalogCache) *CatalogService {
	return &CatalogService{
		store:  store,
		cache:  cache,
		logger: util.Named("catalog"),
	}
}

// ListProducts returns products matching the filter, newest first
func (s *CatalogService) ListProducts(ctx context.Context, filter store.ProductFilter) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListProducts")
	defer span.End()

	if filter.Limit < 0 {
		return nil, validationError("limit must not be negative")
	}

	products, err := s.store.ListProducts(ctx, filter)
	if err != nil {
		util.SpanError(span, err)
		s.logger.Error("Failed to list products", zap.Error(err))
		return nil, storeError("list products", err)
	}
	return products, nil
}

// GetProduct returns one product
func (s *CatalogService) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.GetProduct")
	defer span.End()

	product, err := s.store.GetProductByID(ctx, id)
	if err != nil {
		util.SpanError(span, err)
		return nil, storeError("get product", err)
	}
	return product, nil
}

// InStockProducts returns up to limit in-stock products, served from the cache when possible
func (s *CatalogService) InStockProducts(ctx context.Context, limit int) ([]models.Product, error) {
	products, err := s.cache.GetInStockProducts(ctx, limit)
	if err == nil {
		return products, nil
	}
	if !errors.Is(err, redisclient.ErrCacheMiss) {
		s.logger.Warn("Catalog cache read failed", zap.Error(err))
	}

	products, err = s.ListProducts(ctx, store.ProductFilter{InStockOnly: true, Limit: limit})
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetInStockProducts(ctx, limit, products); err != nil {
		s.logger.Warn("Failed to cache products", zap.Error(err))
	}
	return products, nil
}
