package worker

import (
	"context"

	"village-store/internal/broker"
	"village-store/internal/models"
	"village-store/internal/util"

	"go.uber.org/zap"
)

// CacheInvalidator drops cached views that order events make stale
type CacheInvalidator interface {
	InvalidateCatalog(ctx context.Context) (int, error)
	InvalidateCart(ctx context.Context, userID string) error
}

// MessageSource is the consumer side of the event stream
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// CatalogWorker keeps the product cache consistent with stock changes
type CatalogWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	cache        CacheInvalidator
	logger       *zap.Logger
}

// NewCatalogWorker creates a new catalog worker
func NewCatalogWorker(consumer MessageSource, cache CacheInvalidator) *CatalogWorker {
	w := &CatalogWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		cache:        cache,
		logger:       util.Named("worker.catalog"),
	}

	w.eventHandler.OnOrderPlaced(w.handleOrderPlaced)
	w.eventHandler.OnOrderCancelled(w.handleOrderCancelled)

	return w
}

// Start starts the worker
func (w *CatalogWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting catalog worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CatalogWorker) Stop() error {
	w.logger.Info("Stopping catalog worker")
	return w.consumer.Close()
}

// Handler exposes the event router, mainly for tests
func (w *CatalogWorker) Handler() *broker.EventHandler {
	return w.eventHandler
}

func (w *CatalogWorker) handleOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	// placement reserves stock in the database, so cached samples are stale
	if err := w.invalidateCatalog(ctx, event.OrderID); err != nil {
		return err
	}

	if err := w.cache.InvalidateCart(ctx, event.UserID); err != nil {
		w.logger.Warn("Failed to invalidate cart cache",
			zap.String("user_id", event.UserID),
			zap.Error(err))
	}
	return nil
}

func (w *CatalogWorker) handleOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	if len(event.Restored) == 0 {
		return nil
	}
	return w.invalidateCatalog(ctx, event.OrderID)
}

func (w *CatalogWorker) invalidateCatalog(ctx context.Context, orderID string) error {
	removed, err := w.cache.InvalidateCatalog(ctx)
	if err != nil {
		w.logger.Error("Failed to invalidate catalog cache",
			zap.String("order_id", orderID),
			zap.Error(err))
		return err
	}

	util.CatalogInvalidationsTotal.Inc()
	w.logger.Debug("Catalog cache invalidated",
		zap.String("order_id", orderID),
		zap.Int("keys", removed))
	return nil
}
