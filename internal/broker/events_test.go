package broker

import (
	"context"
	"encoding/json"
	"testing"

	"village-store/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	keys   []string
	events []interface{}
}

func (c *captureWriter) PublishEvent(ctx context.Context, key string, event interface{}) error {
	c.keys = append(c.keys, key)
	c.events = append(c.events, event)
	return nil
}

func TestPublisherKeysByOrder(t *testing.T) {
	w := &captureWriter{}
	p := NewEventPublisher(w)
	ctx := context.Background()

	require.NoError(t, p.PublishOrderPlaced(ctx, &models.OrderPlacedEvent{OrderID: "abc"}))
	require.NoError(t, p.PublishOrderCancelled(ctx, &models.OrderCancelledEvent{OrderID: "abc"}))

	assert.Equal(t, []string{"order-abc", "order-abc"}, w.keys)
}

func TestHandleMessageRoutesByType(t *testing.T) {
	h := NewEventHandler()

	var placed *models.OrderPlacedEvent
	h.OnOrderPlaced(func(ctx context.Context, e *models.OrderPlacedEvent) error {
		placed = e
		return nil
	})

	body, err := json.Marshal(models.OrderPlacedEvent{
		BaseEvent:   models.BaseEvent{EventID: "e1", EventType: models.EventTypeOrderPlaced},
		OrderID:     "o1",
		TotalAmount: decimal.RequireFromString("640.00"),
	})
	require.NoError(t, err)

	require.NoError(t, h.HandleMessage(context.Background(), kafka.Message{Value: body}))
	require.NotNil(t, placed)
	assert.Equal(t, "o1", placed.OrderID)
	assert.True(t, decimal.RequireFromString("640").Equal(placed.TotalAmount))
}

func TestHandleMessageRejectsGarbage(t *testing.T) {
	h := NewEventHandler()
	err := h.HandleMessage(context.Background(), kafka.Message{Value: []byte("{")})
	assert.ErrorContains(t, err, "unmarshal")
}
