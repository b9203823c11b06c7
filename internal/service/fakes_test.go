package service

import (
	"context"
	"sync"
	"testing"

	"village-store/internal/models"
	"village-store/internal/redisclient"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu        sync.Mutex
	placed    []*models.OrderPlacedEvent
	cancelled []*models.OrderCancelledEvent
	err       error
}

func (p *recordingPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, event)
	return p.err
}

func (p *recordingPublisher) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, event)
	return p.err
}

func newTestCache(t *testing.T) (*redisclient.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return redisclient.NewFromRedis(rdb), mr
}

func requireNotice(t *testing.T, n *Notice, title, description string) {
	t.Helper()
	require.NotNil(t, n)
	require.Equal(t, title, n.Title)
	require.Equal(t, description, n.Description)
}
