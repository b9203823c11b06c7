package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"village-store/internal/cart"
	"village-store/internal/models"
	"village-store/internal/redisclient"
	"village-store/internal/store/storetest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkoutFixture struct {
	checkout  *CheckoutService
	carts     *CartService
	store     *storetest.MemStore
	cache     *redisclient.Client
	publisher *recordingPublisher
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	st := storetest.NewMemStore()
	cache, _ := newTestCache(t)
	carts := NewCartService(st, cache)
	pub := &recordingPublisher{}
	return &checkoutFixture{
		checkout:  NewCheckoutService(st, carts, cache, pub, time.Hour),
		carts:     carts,
		store:     st,
		cache:     cache,
		publisher: pub,
	}
}

func validForm() *PlaceOrderRequest {
	return &PlaceOrderRequest{Name: "Asha", Phone: "9800000000", Address: "12 Temple Road, Hampi"}
}

func (f *checkoutFixture) cartWithHoney(t *testing.T) *cart.State {
	t.Helper()
	f.store.AddProduct("p1", "Forest Honey", "100", 5)
	state := loggedIn(t, f.carts, "user-1")
	_, err := f.carts.AddToCart(context.Background(), state, "p1", 2)
	require.NoError(t, err)
	return state
}

func TestPlaceOrderWritesOrderAndClearsCart(t *testing.T) {
	f := newCheckoutFixture(t)
	state := f.cartWithHoney(t)

	resp, err := f.checkout.PlaceOrder(context.Background(), state, validForm())
	require.NoError(t, err)
	requireNotice(t, resp.Notice, "Order Placed Successfully!", "Your order has been placed with Cash on Delivery")

	order := resp.Order
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.True(t, decimal.NewFromInt(200).Equal(order.TotalAmount))
	require.NotNil(t, order.PaymentID)
	assert.Equal(t, models.PaymentCashOnDelivery, *order.PaymentID)
	assert.Equal(t, "Asha", order.ShippingAddress.Name)

	require.Len(t, order.Items, 1)
	assert.Equal(t, 2, order.Items[0].Quantity)
	assert.True(t, decimal.NewFromInt(100).Equal(order.Items[0].Price))

	sum := decimal.Zero
	for _, item := range order.Items {
		sum = sum.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	assert.True(t, sum.Equal(order.TotalAmount), "item prices add up to the order total")

	assert.Empty(t, state.Snapshot().Items)
	assert.Empty(t, f.store.CartRows("user-1"))

	require.Len(t, f.publisher.placed, 1)
	assert.Equal(t, order.ID, f.publisher.placed[0].OrderID)
	assert.Equal(t, models.EventTypeOrderPlaced, f.publisher.placed[0].EventType)
}

func TestPlaceOrderRequiresLogin(t *testing.T) {
	f := newCheckoutFixture(t)

	resp, err := f.checkout.PlaceOrder(context.Background(), cart.NewState(), validForm())
	assert.ErrorIs(t, err, ErrAuthRequired)
	requireNotice(t, resp.Notice, "Login Required", "Please login to proceed with checkout")
}

func TestPlaceOrderEmptyCart(t *testing.T) {
	f := newCheckoutFixture(t)
	state := loggedIn(t, f.carts, "user-1")

	_, err := f.checkout.PlaceOrder(context.Background(), state, validForm())
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPlaceOrderMissingFieldsWritesNothing(t *testing.T) {
	f := newCheckoutFixture(t)
	state := f.cartWithHoney(t)
	before := f.store.CallCount()

	req := validForm()
	req.Phone = "   "
	resp, err := f.checkout.PlaceOrder(context.Background(), state, req)

	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "phone")
	requireNotice(t, resp.Notice, "Missing Information", "Please fill in all required fields")
	assert.Equal(t, before, f.store.CallCount(), "rejected before any store call")
	assert.Len(t, f.store.CartRows("user-1"), 1)
	assert.Len(t, state.Snapshot().Items, 1)
}

func TestPlaceOrderRejectsOnlinePayment(t *testing.T) {
	f := newCheckoutFixture(t)
	state := f.cartWithHoney(t)

	req := validForm()
	req.PaymentMethod = models.PaymentMethodOnline
	_, err := f.checkout.PlaceOrder(context.Background(), state, req)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, f.publisher.placed)
}

func TestPlaceOrderStoreFailureKeepsCart(t *testing.T) {
	f := newCheckoutFixture(t)
	state := f.cartWithHoney(t)
	f.store.FailPlace = errors.New("deadlock detected")

	resp, err := f.checkout.PlaceOrder(context.Background(), state, validForm())
	assert.ErrorIs(t, err, ErrStore)
	requireNotice(t, resp.Notice, "Error", "Failed to place order. Please try again.")
	assert.Len(t, state.Snapshot().Items, 1)
	assert.Len(t, f.store.CartRows("user-1"), 1)
	assert.Empty(t, f.publisher.placed)
}

func TestPlaceOrderPublishFailureIsNotSurfaced(t *testing.T) {
	f := newCheckoutFixture(t)
	state := f.cartWithHoney(t)
	f.publisher.err = errors.New("broker unavailable")

	resp, err := f.checkout.PlaceOrder(context.Background(), state, validForm())
	require.NoError(t, err)
	assert.NotNil(t, resp.Order)
}

func TestPlaceOrderIdempotencyKeyReplays(t *testing.T) {
	f := newCheckoutFixture(t)
	state := f.cartWithHoney(t)
	ctx := context.Background()

	req := validForm()
	req.IdempotencyKey = "checkout-1"
	first, err := f.checkout.PlaceOrder(ctx, state, req)
	require.NoError(t, err)

	second, err := f.checkout.PlaceOrder(ctx, state, req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Order.ID, second.Order.ID)

	orders, err := f.store.GetOrdersByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	assert.Len(t, f.publisher.placed, 1)
}

func TestPlaceOrderUsesRowsWrittenFromAnotherTab(t *testing.T) {
	f := newCheckoutFixture(t)
	f.store.AddProduct("p1", "Forest Honey", "100", 5)
	f.store.AddProduct("p2", "Desi Ghee", "250", 5)
	ctx := context.Background()

	reg := cart.NewRegistry()
	reg.Subscribe(f.carts)
	tab1 := reg.Bind(ctx, "tab-1", "user-1")
	tab2 := reg.Bind(ctx, "tab-2", "user-1")

	_, err := f.carts.AddToCart(ctx, tab1, "p1", 2)
	require.NoError(t, err)
	_, err = f.carts.AddToCart(ctx, tab2, "p2", 1)
	require.NoError(t, err)
	require.Len(t, tab1.Snapshot().Items, 1, "tab-1 has not seen the ghee")

	resp, err := f.checkout.PlaceOrder(ctx, tab1, validForm())
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(450).Equal(resp.Order.TotalAmount))
	assert.Len(t, resp.Order.Items, 2)
	assert.Empty(t, f.store.CartRows("user-1"), "no row survives the checkout unpaid")
}

func TestPlaceOrderRefreshFailure(t *testing.T) {
	f := newCheckoutFixture(t)
	state := f.cartWithHoney(t)
	f.store.FailGetCart = errors.New("db down")

	resp, err := f.checkout.PlaceOrder(context.Background(), state, validForm())
	assert.ErrorIs(t, err, ErrStore)
	requireNotice(t, resp.Notice, "Error", "Failed to place order. Please try again.")
	assert.Zero(t, f.store.OrderCount())
}

func TestPlaceOrderOutOfStock(t *testing.T) {
	f := newCheckoutFixture(t)
	state := f.cartWithHoney(t)
	f.store.AddProduct("p1", "Forest Honey", "100", 1)

	resp, err := f.checkout.PlaceOrder(context.Background(), state, validForm())
	assert.ErrorIs(t, err, ErrOutOfStock)
	assert.ErrorIs(t, err, ErrConflict)
	requireNotice(t, resp.Notice, "Error", "Some items in your cart are no longer in stock")
	assert.Zero(t, f.store.OrderCount())
	assert.Len(t, f.store.CartRows("user-1"), 1)
	assert.Equal(t, 1, f.store.Product("p1").StockQuantity)
	assert.Empty(t, f.publisher.placed)
}

func TestPlaceOrderConcurrentRetriesShareOneOrder(t *testing.T) {
	f := newCheckoutFixture(t)
	f.store.AddProduct("p1", "Forest Honey", "100", 5)
	f.store.PlaceDelay = 100 * time.Millisecond
	ctx := context.Background()

	reg := cart.NewRegistry()
	reg.Subscribe(f.carts)
	tab1 := reg.Bind(ctx, "tab-1", "user-1")
	_, err := f.carts.AddToCart(ctx, tab1, "p1", 2)
	require.NoError(t, err)
	tab2 := reg.Bind(ctx, "tab-2", "user-1")

	var (
		wg    sync.WaitGroup
		resps [2]*PlaceOrderResponse
		errs  [2]error
	)
	for i, state := range []*cart.State{tab1, tab2} {
		wg.Add(1)
		go func(i int, state *cart.State) {
			defer wg.Done()
			req := validForm()
			req.IdempotencyKey = "double-click"
			resps[i], errs[i] = f.checkout.PlaceOrder(ctx, state, req)
		}(i, state)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, resps[0].Order.ID, resps[1].Order.ID)
	assert.True(t, resps[0].Duplicate != resps[1].Duplicate, "exactly one response is a replay")
	assert.Equal(t, 1, f.store.OrderCount())
	assert.Len(t, f.publisher.placed, 1)
	assert.Equal(t, 3, f.store.Product("p1").StockQuantity)
}

func TestPlaceOrderWaitsForInFlightKey(t *testing.T) {
	f := newCheckoutFixture(t)
	state := f.cartWithHoney(t)
	f.checkout.idempotencyWait = 50 * time.Millisecond
	ctx := context.Background()

	reserved, err := f.cache.ReserveIdempotencyKey(ctx, "user-1", "k-1", time.Minute)
	require.NoError(t, err)
	require.True(t, reserved)

	req := validForm()
	req.IdempotencyKey = "k-1"
	resp, err := f.checkout.PlaceOrder(ctx, state, req)
	assert.ErrorIs(t, err, ErrCheckoutInProgress)
	assert.ErrorIs(t, err, ErrConflict)
	require.NotNil(t, resp.Notice)
	assert.Zero(t, f.store.OrderCount())
}

func TestPlaceOrderFailureReleasesKey(t *testing.T) {
	f := newCheckoutFixture(t)
	state := f.cartWithHoney(t)
	ctx := context.Background()
	f.store.FailPlace = errors.New("deadlock detected")

	req := validForm()
	req.IdempotencyKey = "k-1"
	_, err := f.checkout.PlaceOrder(ctx, state, req)
	require.ErrorIs(t, err, ErrStore)

	_, err = f.cache.GetIdempotencyKey(ctx, "user-1", "k-1")
	assert.ErrorIs(t, err, redisclient.ErrCacheMiss)

	f.store.FailPlace = nil
	resp, err := f.checkout.PlaceOrder(ctx, state, req)
	require.NoError(t, err)
	assert.False(t, resp.Duplicate)

	orderID, err := f.cache.GetIdempotencyKey(ctx, "user-1", "k-1")
	require.NoError(t, err)
	assert.Equal(t, resp.Order.ID, orderID)
}

func TestPlaceOrderCartEmptiedFromAnotherTab(t *testing.T) {
	f := newCheckoutFixture(t)
	state := f.cartWithHoney(t)
	require.NoError(t, f.store.ClearCart(context.Background(), "user-1"))

	_, err := f.checkout.PlaceOrder(context.Background(), state, validForm())
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Empty(t, state.Snapshot().Items)
	assert.Zero(t, f.store.OrderCount())
}
