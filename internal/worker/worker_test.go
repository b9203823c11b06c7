package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"village-store/internal/broker"
	"village-store/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	catalogCalls int
	carts        []string
	catalogErr   error
}

func (f *fakeCache) InvalidateCatalog(ctx context.Context) (int, error) {
	f.catalogCalls++
	return 2, f.catalogErr
}

func (f *fakeCache) InvalidateCart(ctx context.Context, userID string) error {
	f.carts = append(f.carts, userID)
	return nil
}

type idleSource struct{}

func (idleSource) StartConsuming(ctx context.Context, handler broker.MessageHandler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (idleSource) Close() error { return nil }

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	b, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: b}
}

func TestOrderPlacedInvalidatesCatalogAndCart(t *testing.T) {
	cache := &fakeCache{}
	w := NewCatalogWorker(idleSource{}, cache)

	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypeOrderPlaced},
		OrderID:   "o1",
		UserID:    "user-1",
	}

	require.NoError(t, w.Handler().HandleMessage(context.Background(), message(t, event)))
	assert.Equal(t, 1, cache.catalogCalls)
	assert.Equal(t, []string{"user-1"}, cache.carts)
}

func TestOrderCancelledWithoutRestoreIsIgnored(t *testing.T) {
	cache := &fakeCache{}
	w := NewCatalogWorker(idleSource{}, cache)

	event := &models.OrderCancelledEvent{
		BaseEvent: models.BaseEvent{EventID: "e2", EventType: models.EventTypeOrderCancelled},
		OrderID:   "o1",
	}

	require.NoError(t, w.Handler().HandleMessage(context.Background(), message(t, event)))
	assert.Zero(t, cache.catalogCalls)
}

func TestOrderCancelledInvalidationFailureIsReturned(t *testing.T) {
	cache := &fakeCache{catalogErr: errors.New("redis down")}
	w := NewCatalogWorker(idleSource{}, cache)

	event := &models.OrderCancelledEvent{
		BaseEvent: models.BaseEvent{EventID: "e3", EventType: models.EventTypeOrderCancelled},
		OrderID:   "o1",
		Restored:  []models.OrderItemData{{ProductID: "p1", Quantity: 2}},
	}

	err := w.Handler().HandleMessage(context.Background(), message(t, event))
	assert.Error(t, err)
	assert.Equal(t, 1, cache.catalogCalls)
}

func TestUnknownEventIsSkipped(t *testing.T) {
	cache := &fakeCache{}
	w := NewCatalogWorker(idleSource{}, cache)

	msg := message(t, models.BaseEvent{EventID: "e4", EventType: "SOMETHING_ELSE"})
	require.NoError(t, w.Handler().HandleMessage(context.Background(), msg))
	assert.Zero(t, cache.catalogCalls)
}

func TestStartStopsWithContext(t *testing.T) {
	w := NewCatalogWorker(idleSource{}, &fakeCache{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, w.Start(ctx), context.Canceled)
	assert.NoError(t, w.Stop())
}
