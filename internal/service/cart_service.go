package service

import (
	"context"
	"errors"

	"village-store/internal/cart"
	"village-store/internal/models"
	"village-store/internal/redisclient"
	"village-store/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CartService keeps a session's cart state in step with the persisted cart rows
type CartService struct {
	store  CartStore
	cache  CartCache
	logger *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(store CartStore, cache CartCache) *CartService {
	return &CartService{
		store:  store,
		cache:  cache,
		logger: util.Named("cart"),
	}
}

// CartResult carries the cart after an operation and the notice to show for it
type CartResult struct {
	Cart   cart.Snapshot `json:"cart"`
	Notice *Notice       `json:"notice,omitempty"`
}

func result(state *cart.State, notice *Notice) *CartResult {
	return &CartResult{Cart: state.Snapshot(), Notice: notice}
}

// OnIdentityChange reloads the cart whenever the session's identity changes
func (s *CartService) OnIdentityChange(ctx context.Context, userID string, state *cart.State) {
	_, _ = s.load(ctx, userID, state)
}

// Load refreshes the state from the cache or the store for the identity it already holds
func (s *CartService) Load(ctx context.Context, state *cart.State) (*CartResult, error) {
	return s.load(ctx, state.UserID(), state)
}

func (s *CartService) load(ctx context.Context, userID string, state *cart.State) (*CartResult, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Load", attribute.String("user_id", userID))
	defer span.End()

	if userID == "" {
		state.Load("", nil)
		return result(state, nil), nil
	}

	state.SetLoading(true)
	defer state.SetLoading(false)

	items, err := s.fetch(ctx, userID)
	if err != nil {
		util.SpanError(span, err)
		s.logger.Error("Failed to fetch cart", zap.String("user_id", userID), zap.Error(err))
		// a different identity must never see the previous owner's rows
		if state.UserID() != userID {
			state.Load(userID, nil)
		}
		return result(state, failureNotice("Failed to fetch cart items")), storeError("fetch cart", err)
	}

	state.Load(userID, items)
	return result(state, nil), nil
}

func (s *CartService) fetch(ctx context.Context, userID string) ([]models.CartItem, error) {
	items, err := s.cache.GetCart(ctx, userID)
	switch {
	case err == nil:
		util.CartCacheLookups.WithLabelValues("hit").Inc()
		return items, nil
	case errors.Is(err, redisclient.ErrCacheMiss):
		util.CartCacheLookups.WithLabelValues("miss").Inc()
	default:
		util.CartCacheLookups.WithLabelValues("error").Inc()
		s.logger.Warn("Cart cache read failed", zap.String("user_id", userID), zap.Error(err))
	}

	// the version is taken before the read so a concurrent invalidation voids the write below
	version, verErr := s.cache.CartVersion(ctx, userID)

	items, err = s.store.GetCartItems(ctx, userID)
	if err != nil {
		return nil, err
	}

	if verErr != nil {
		s.logger.Warn("Cart cache version read failed", zap.String("user_id", userID), zap.Error(verErr))
		return items, nil
	}
	err = s.cache.SetCart(ctx, userID, version, items)
	switch {
	case errors.Is(err, redisclient.ErrStaleCart):
		s.logger.Debug("Skipped stale cart cache write", zap.String("user_id", userID))
	case err != nil:
		s.logger.Warn("Failed to cache cart", zap.String("user_id", userID), zap.Error(err))
	}
	return items, nil
}

// Refresh reloads the state straight from the store, bypassing the cache
func (s *CartService) Refresh(ctx context.Context, state *cart.State) error {
	userID := state.UserID()
	ctx, span := util.StartSpan(ctx, "CartService.Refresh", attribute.String("user_id", userID))
	defer span.End()

	if userID == "" {
		return ErrAuthRequired
	}

	items, err := s.store.GetCartItems(ctx, userID)
	if err != nil {
		util.SpanError(span, err)
		s.logger.Error("Failed to refresh cart", zap.String("user_id", userID), zap.Error(err))
		return storeError("refresh cart", err)
	}
	state.Load(userID, items)
	return nil
}

// AddToCart adds quantity units of a product. A product already in the cart has its row updated.
func (s *CartService) AddToCart(ctx context.Context, state *cart.State, productID string, quantity int) (*CartResult, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddToCart", attribute.String("product_id", productID))
	defer span.End()

	userID := state.UserID()
	if userID == "" {
		util.CartMutationsTotal.WithLabelValues("add", "unauthenticated").Inc()
		return result(state, loginRequiredNotice("Please login to add items to cart")), ErrAuthRequired
	}
	if quantity < 1 {
		quantity = 1
	}

	existing, err := s.store.FindCartItem(ctx, userID, productID)
	if err != nil {
		return s.addFailed(span, userID, err, state)
	}
	if existing != nil {
		return s.SetQuantity(ctx, state, existing.ID, existing.Quantity+quantity)
	}

	if _, err := s.store.InsertCartItem(ctx, userID, productID, quantity); err != nil {
		return s.addFailed(span, userID, err, state)
	}
	s.invalidate(ctx, userID)
	util.CartMutationsTotal.WithLabelValues("add", "success").Inc()

	// the joined product view only exists in the store, so read the cart back
	if _, err := s.load(ctx, userID, state); err != nil {
		s.logger.Warn("Reload after add failed", zap.String("user_id", userID), zap.Error(err))
	}

	s.logger.Info("Item added to cart",
		zap.String("user_id", userID),
		zap.String("product_id", productID),
		zap.Int("quantity", quantity))

	return result(state, &Notice{Title: "Added to Cart", Description: "Item added to cart successfully"}), nil
}

func (s *CartService) addFailed(span trace.Span, userID string, err error, state *cart.State) (*CartResult, error) {
	util.SpanError(span, err)
	util.CartMutationsTotal.WithLabelValues("add", "error").Inc()
	s.logger.Error("Failed to add item to cart", zap.String("user_id", userID), zap.Error(err))
	return result(state, failureNotice("Failed to add item to cart")), storeError("add to cart", err)
}

// SetQuantity overwrites the quantity of a cart row; quantity <= 0 removes the row
func (s *CartService) SetQuantity(ctx context.Context, state *cart.State, itemID string, quantity int) (*CartResult, error) {
	if quantity <= 0 {
		return s.Remove(ctx, state, itemID)
	}

	ctx, span := util.StartSpan(ctx, "CartService.SetQuantity", attribute.String("item_id", itemID))
	defer span.End()

	userID := state.UserID()
	if userID == "" {
		return result(state, nil), ErrAuthRequired
	}

	if err := s.store.UpdateCartItemQuantity(ctx, userID, itemID, quantity); err != nil {
		util.SpanError(span, err)
		util.CartMutationsTotal.WithLabelValues("set_quantity", "error").Inc()
		s.logger.Error("Failed to update quantity",
			zap.String("user_id", userID),
			zap.String("item_id", itemID),
			zap.Error(err))
		return result(state, failureNotice("Failed to update quantity")), storeError("update quantity", err)
	}

	s.invalidate(ctx, userID)
	util.CartMutationsTotal.WithLabelValues("set_quantity", "success").Inc()

	if _, ok := state.Find(itemID); ok {
		state.SetQuantity(itemID, quantity)
	} else {
		// the row exists in the store but this session has not seen it yet
		if _, err := s.load(ctx, userID, state); err != nil {
			s.logger.Warn("Reload after update failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return result(state, nil), nil
}

// Remove deletes a cart row
func (s *CartService) Remove(ctx context.Context, state *cart.State, itemID string) (*CartResult, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Remove", attribute.String("item_id", itemID))
	defer span.End()

	userID := state.UserID()
	if userID == "" {
		return result(state, nil), ErrAuthRequired
	}

	if err := s.store.DeleteCartItem(ctx, userID, itemID); err != nil {
		util.SpanError(span, err)
		util.CartMutationsTotal.WithLabelValues("remove", "error").Inc()
		s.logger.Error("Failed to remove item",
			zap.String("user_id", userID),
			zap.String("item_id", itemID),
			zap.Error(err))
		return result(state, failureNotice("Failed to remove item")), storeError("remove item", err)
	}

	s.invalidate(ctx, userID)
	util.CartMutationsTotal.WithLabelValues("remove", "success").Inc()
	state.Remove(itemID)

	return result(state, &Notice{Title: "Item Removed", Description: "Item removed from cart"}), nil
}

// Clear deletes every row of the user's cart. Failures are logged and leave the state as it was.
func (s *CartService) Clear(ctx context.Context, state *cart.State) *CartResult {
	ctx, span := util.StartSpan(ctx, "CartService.Clear")
	defer span.End()

	userID := state.UserID()
	if userID == "" {
		return result(state, nil)
	}

	if err := s.store.ClearCart(ctx, userID); err != nil {
		util.SpanError(span, err)
		util.CartMutationsTotal.WithLabelValues("clear", "error").Inc()
		s.logger.Error("Failed to clear cart", zap.String("user_id", userID), zap.Error(err))
		return result(state, nil)
	}

	s.invalidate(ctx, userID)
	util.CartMutationsTotal.WithLabelValues("clear", "success").Inc()
	state.Clear()
	return result(state, nil)
}

func (s *CartService) invalidate(ctx context.Context, userID string) {
	if err := s.cache.InvalidateCart(ctx, userID); err != nil {
		s.logger.Warn("Failed to invalidate cart cache", zap.String("user_id", userID), zap.Error(err))
	}
}
