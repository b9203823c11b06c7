package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"village-store/internal/models"
	"village-store/internal/store"
	"village-store/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrderService serves a customer's order history and cancellations
type OrderService struct {
	store          OrderStore
	eventPublisher EventPublisher
	logger         *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(store OrderStore, eventPublisher EventPublisher) *OrderService {
	return &OrderService{
		store:          store,
		eventPublisher: eventPublisher,
		logger:         util.Named("orders"),
	}
}

// Badge is the display label and colour of an order status
type Badge struct {
	Label string `json:"label"`
	Color string `json:"color"`
	Class string `json:"class"`
}

// StatusBadge maps an order status to its badge; unknown statuses are gray
func StatusBadge(status string) Badge {
	color := "gray"
	switch status {
	case models.OrderStatusPending:
		color = "yellow"
	case models.OrderStatusConfirmed:
		color = "blue"
	case models.OrderStatusDelivered:
		color = "green"
	case models.OrderStatusCancelled:
		color = "red"
	}
	return Badge{
		Label: strings.ToUpper(status),
		Color: color,
		Class: "bg-" + color + "-100 text-" + color + "-800",
	}
}

// OrderView is an order as the history page renders it
type OrderView struct {
	models.Order
	Badge Badge `json:"badge"`
}

// OrderHistory is the result of ListOrders
type OrderHistory struct {
	Orders []OrderView `json:"orders"`
	Notice *Notice     `json:"notice,omitempty"`
}

// ListOrders returns the user's orders newest first with their items
func (s *OrderService) ListOrders(ctx context.Context, userID string) (*OrderHistory, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders", attribute.String("user_id", userID))
	defer span.End()

	if userID == "" {
		return &OrderHistory{Orders: []OrderView{}}, ErrAuthRequired
	}

	orders, err := s.store.GetOrdersByUserID(ctx, userID)
	if err != nil {
		util.SpanError(span, err)
		s.logger.Error("Failed to fetch orders", zap.String("user_id", userID), zap.Error(err))
		return &OrderHistory{Orders: []OrderView{}, Notice: failureNotice("Failed to fetch orders")},
			storeError("list orders", err)
	}

	views := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, OrderView{Order: o, Badge: StatusBadge(o.Status)})
	}
	return &OrderHistory{Orders: views}, nil
}

// Orders returns the raw order list for a user
func (s *OrderService) Orders(ctx context.Context, userID string) ([]models.Order, error) {
	orders, err := s.store.GetOrdersByUserID(ctx, userID)
	if err != nil {
		return nil, storeError("list orders", err)
	}
	return orders, nil
}

// CancelResult describes a successful cancellation
type CancelResult struct {
	OrderID  string               `json:"order_id"`
	Restored []store.StockRestore `json:"restored"`
}

// CancelOrder cancels one of the user's orders and gives its stock back.
// Cancelled and delivered orders are rejected without any write.
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID string) (*CancelResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder",
		attribute.String("user_id", userID),
		attribute.String("order_id", orderID))
	defer span.End()

	if userID == "" {
		return nil, ErrAuthRequired
	}

	order, err := s.store.GetOrderForUser(ctx, orderID, userID)
	if err != nil {
		util.SpanError(span, err)
		return nil, storeError("load order", err)
	}

	if models.IsTerminal(order.Status) {
		return nil, terminalStatusError(order.Status)
	}

	restored, err := s.store.CancelOrder(ctx, order.ID, order.Items)
	if errors.Is(err, store.ErrOrderNotCancellable) {
		// lost a race with another status change; report what the order is now
		return nil, s.terminalError(ctx, orderID, userID)
	}
	if err != nil {
		util.SpanError(span, err)
		s.logger.Error("Failed to cancel order", zap.String("order_id", orderID), zap.Error(err))
		return nil, storeError("cancel order", err)
	}

	units := 0
	data := make([]models.OrderItemData, 0, len(restored))
	for _, r := range restored {
		units += r.Quantity
		data = append(data, models.OrderItemData{ProductID: r.ProductID, Quantity: r.Quantity})
	}
	util.OrdersCancelledTotal.Inc()
	util.StockRestoredUnits.Add(float64(units))

	s.logger.Info("Order cancelled",
		zap.String("order_id", orderID),
		zap.String("user_id", userID),
		zap.Int("restored_units", units))

	event := &models.OrderCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCancelled,
			Timestamp: time.Now(),
		},
		OrderID:  orderID,
		UserID:   userID,
		Restored: data,
	}
	if err := s.eventPublisher.PublishOrderCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCancelled event", zap.String("order_id", orderID), zap.Error(err))
	}

	return &CancelResult{OrderID: orderID, Restored: restored}, nil
}

func (s *OrderService) terminalError(ctx context.Context, orderID, userID string) error {
	order, err := s.store.GetOrderForUser(ctx, orderID, userID)
	if err != nil {
		return ErrOrderAlreadyCancelled
	}
	return terminalStatusError(order.Status)
}

func terminalStatusError(status string) error {
	if status == models.OrderStatusDelivered {
		return ErrOrderDelivered
	}
	return ErrOrderAlreadyCancelled
}
