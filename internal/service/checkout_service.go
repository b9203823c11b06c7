package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"village-store/internal/cart"
	"village-store/internal/models"
	"village-store/internal/redisclient"
	"village-store/internal/store"
	"village-store/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	// idempotencyLease bounds how long a crashed checkout can hold its key
	idempotencyLease = time.Minute
	idempotencyPoll  = 25 * time.Millisecond
)

// CheckoutService turns a session's cart into a cash-on-delivery order
type CheckoutService struct {
	orders          OrderStore
	carts           *CartService
	idempotency     IdempotencyStore
	eventPublisher  EventPublisher
	idempotencyTTL  time.Duration
	idempotencyWait time.Duration
	logger          *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	orders OrderStore,
	carts *CartService,
	idempotency IdempotencyStore,
	eventPublisher EventPublisher,
	idempotencyTTL time.Duration,
) *CheckoutService {
	return &CheckoutService{
		orders:          orders,
		carts:           carts,
		idempotency:     idempotency,
		eventPublisher:  eventPublisher,
		idempotencyTTL:  idempotencyTTL,
		idempotencyWait: 5 * time.Second,
		logger:          util.Named("checkout"),
	}
}

// PlaceOrderRequest is the shipping form submitted at checkout
type PlaceOrderRequest struct {
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	Address        string `json:"address"`
	PaymentMethod  string `json:"payment_method"`
	IdempotencyKey string `json:"-"`
}

// PlaceOrderResponse is the outcome of a checkout
type PlaceOrderResponse struct {
	Order     *models.Order `json:"order,omitempty"`
	Duplicate bool          `json:"duplicate,omitempty"`
	Notice    *Notice       `json:"notice,omitempty"`
}

func missingFields(req *PlaceOrderRequest) []string {
	var missing []string
	if strings.TrimSpace(req.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(req.Phone) == "" {
		missing = append(missing, "phone")
	}
	if strings.TrimSpace(req.Address) == "" {
		missing = append(missing, "address")
	}
	return missing
}

// PlaceOrder validates the form, writes the order with its items, clears the cart and announces the order
func (s *CheckoutService) PlaceOrder(ctx context.Context, state *cart.State, req *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.PlaceOrder")
	defer span.End()

	userID := state.UserID()
	if userID == "" {
		util.OrdersFailedTotal.WithLabelValues("unauthenticated").Inc()
		return &PlaceOrderResponse{Notice: loginRequiredNotice("Please login to proceed with checkout")}, ErrAuthRequired
	}
	span.SetAttributes(attribute.String("user_id", userID))

	var placed bool
	if key := req.IdempotencyKey; key != "" {
		resp, reserved, err := s.claim(ctx, userID, key)
		if err != nil {
			util.OrdersFailedTotal.WithLabelValues("in_progress").Inc()
			return &PlaceOrderResponse{Notice: failureNotice("Your order is still being placed. Please wait a moment.")}, err
		}
		if resp != nil {
			return resp, nil
		}
		if reserved {
			defer func() {
				if !placed {
					s.release(ctx, userID, key)
				}
			}()
		}
	}

	if len(state.Snapshot().Items) == 0 {
		util.OrdersFailedTotal.WithLabelValues("empty_cart").Inc()
		return &PlaceOrderResponse{Notice: failureNotice("Your cart is empty")}, ErrEmptyCart
	}

	if missing := missingFields(req); len(missing) > 0 {
		util.OrdersFailedTotal.WithLabelValues("missing_fields").Inc()
		return &PlaceOrderResponse{
			Notice: &Notice{Title: "Missing Information", Description: "Please fill in all required fields", Variant: variantDestructive},
		}, validationError("missing required fields: " + strings.Join(missing, ", "))
	}

	if req.PaymentMethod == "" {
		req.PaymentMethod = models.PaymentMethodCOD
	}
	if req.PaymentMethod != models.PaymentMethodCOD {
		util.OrdersFailedTotal.WithLabelValues("payment_method").Inc()
		return &PlaceOrderResponse{Notice: failureNotice("Online payment is not available yet")},
			validationError("online payment is not available yet")
	}

	// another tab may have changed the rows since this session last loaded them
	if err := s.carts.Refresh(ctx, state); err != nil {
		util.SpanError(span, err)
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return &PlaceOrderResponse{Notice: failureNotice("Failed to place order. Please try again.")}, err
	}
	snapshot := state.Snapshot()
	if len(snapshot.Items) == 0 {
		util.OrdersFailedTotal.WithLabelValues("empty_cart").Inc()
		return &PlaceOrderResponse{Notice: failureNotice("Your cart is empty")}, ErrEmptyCart
	}

	paymentID := models.PaymentCashOnDelivery
	order := &models.Order{
		ID:          uuid.New().String(),
		UserID:      userID,
		TotalAmount: snapshot.Total,
		Status:      models.OrderStatusPending,
		PaymentID:   &paymentID,
		ShippingAddress: models.ShippingAddress{
			Name:    strings.TrimSpace(req.Name),
			Phone:   strings.TrimSpace(req.Phone),
			Address: strings.TrimSpace(req.Address),
		},
	}

	items := make([]models.OrderItem, 0, len(snapshot.Items))
	for _, line := range snapshot.Items {
		items = append(items, models.OrderItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Price:     line.UnitPrice(),
		})
	}

	if err := s.orders.PlaceOrder(ctx, order, items); err != nil {
		util.SpanError(span, err)
		if errors.Is(err, store.ErrInsufficientStock) {
			util.OrdersFailedTotal.WithLabelValues("out_of_stock").Inc()
			s.logger.Warn("Order rejected for stock", zap.String("user_id", userID), zap.Error(err))
			return &PlaceOrderResponse{Notice: failureNotice("Some items in your cart are no longer in stock")},
				fmt.Errorf("place order: %w", ErrOutOfStock)
		}
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		s.logger.Error("Failed to place order", zap.String("user_id", userID), zap.Error(err))
		return &PlaceOrderResponse{Notice: failureNotice("Failed to place order. Please try again.")},
			storeError("place order", err)
	}

	placed = true
	util.OrdersPlacedTotal.Inc()
	s.logger.Info("Order placed",
		zap.String("order_id", order.ID),
		zap.String("user_id", userID),
		zap.String("total", order.TotalAmount.StringFixed(2)))

	if req.IdempotencyKey != "" {
		if err := s.idempotency.SetIdempotencyKey(ctx, userID, req.IdempotencyKey, order.ID, s.idempotencyTTL); err != nil {
			s.logger.Warn("Failed to record idempotency key", zap.String("order_id", order.ID), zap.Error(err))
		}
	}

	s.carts.Clear(ctx, state)
	s.publishPlaced(ctx, order, req.PaymentMethod)

	return &PlaceOrderResponse{
		Order:  order,
		Notice: &Notice{Title: "Order Placed Successfully!", Description: "Your order has been placed with Cash on Delivery"},
	}, nil
}

// claim reserves the idempotency key for this request. When another request holds it,
// claim waits for that request's order and returns it as a replay.
// Redis failures degrade to a checkout without duplicate protection.
func (s *CheckoutService) claim(ctx context.Context, userID, key string) (*PlaceOrderResponse, bool, error) {
	deadline := time.Now().Add(s.idempotencyWait)
	for {
		reserved, err := s.idempotency.ReserveIdempotencyKey(ctx, userID, key, idempotencyLease)
		if err != nil {
			s.logger.Warn("Idempotency reservation failed", zap.String("key", key), zap.Error(err))
			return nil, false, nil
		}
		if reserved {
			return nil, true, nil
		}

		orderID, err := s.idempotency.GetIdempotencyKey(ctx, userID, key)
		switch {
		case errors.Is(err, redisclient.ErrCacheMiss):
			// released or expired in between; reserve again
		case err != nil:
			s.logger.Warn("Idempotency lookup failed", zap.String("key", key), zap.Error(err))
			return nil, false, nil
		case orderID != redisclient.IdempotencyPending:
			resp, _ := s.replay(ctx, userID, key, orderID)
			return resp, false, nil
		}

		if time.Now().After(deadline) {
			return nil, false, ErrCheckoutInProgress
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(idempotencyPoll):
		}
	}
}

func (s *CheckoutService) release(ctx context.Context, userID, key string) {
	if err := s.idempotency.ReleaseIdempotencyKey(context.WithoutCancel(ctx), userID, key); err != nil {
		s.logger.Warn("Failed to release idempotency key", zap.String("key", key), zap.Error(err))
	}
}

// replay returns the order an earlier request with the same key produced
func (s *CheckoutService) replay(ctx context.Context, userID, key, orderID string) (*PlaceOrderResponse, bool) {
	order, err := s.orders.GetOrderForUser(ctx, orderID, userID)
	if err != nil {
		s.logger.Warn("Idempotent order could not be loaded",
			zap.String("order_id", orderID),
			zap.Error(err))
		return nil, false
	}

	s.logger.Info("Duplicate checkout detected",
		zap.String("idempotency_key", key),
		zap.String("order_id", orderID))

	return &PlaceOrderResponse{
		Order:     order,
		Duplicate: true,
		Notice:    &Notice{Title: "Order Placed Successfully!", Description: "Your order has been placed with Cash on Delivery"},
	}, true
}

func (s *CheckoutService) publishPlaced(ctx context.Context, order *models.Order, paymentMethod string) {
	items := make([]models.OrderItemData, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		})
	}

	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: time.Now(),
		},
		OrderID:       order.ID,
		UserID:        order.UserID,
		TotalAmount:   order.TotalAmount,
		PaymentMethod: paymentMethod,
		Items:         items,
	}

	if err := s.eventPublisher.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.String("order_id", order.ID), zap.Error(err))
	}
}
