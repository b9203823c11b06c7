package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"village-store/internal/assistant"
	"village-store/internal/cart"
	"village-store/internal/gemini"
	"village-store/internal/models"
	"village-store/internal/redisclient"
	"village-store/internal/service"
	"village-store/internal/store/storetest"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopPublisher struct{}

func (nopPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return nil
}

func (nopPublisher) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	return nil
}

type fakeLLM struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeLLM) Generate(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	f.prompt = systemPrompt
	return f.reply, f.err
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("connection refused") }

type testServer struct {
	router *gin.Engine
	store  *storetest.MemStore
	llm    *fakeLLM
	redis  *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	cache := redisclient.NewFromRedis(rdb)

	st := storetest.NewMemStore()
	carts := service.NewCartService(st, cache)
	orders := service.NewOrderService(st, nopPublisher{})
	catalog := service.NewCatalogService(st, cache)
	llm := &fakeLLM{reply: "Namaste! How can I help?"}

	sessions := cart.NewRegistry()
	sessions.Subscribe(carts)

	h := NewHandler(Deps{
		Sessions:  sessions,
		Carts:     carts,
		Checkout:  service.NewCheckoutService(st, carts, cache, nopPublisher{}, time.Hour),
		Orders:    orders,
		Catalog:   catalog,
		Assistant: assistant.NewGateway(orders, catalog, llm, assistant.Config{}),
		Readiness: map[string]Pinger{"redis": cache},
	})
	router := gin.New()
	h.SetupRoutes(router)

	return &testServer{router: router, store: st, llm: llm, redis: mr}
}

func (s *testServer) do(method, path, userID string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(headerUserID, userID)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst))
}

type cartBody struct {
	Cart   cart.Snapshot   `json:"cart"`
	Notice *service.Notice `json:"notice"`
	Error  string          `json:"error"`
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestReadinessReportsFailingDependency(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(Deps{Readiness: map[string]Pinger{"postgres": failingPinger{}}})
	router := gin.New()
	h.SetupRoutes(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestCartFlow(t *testing.T) {
	s := newTestServer(t)
	s.store.AddProduct("p1", "Forest Honey", "100", 5)

	w := s.do(http.MethodPost, "/api/v1/cart/items", "user-1", gin.H{"product_id": "p1", "quantity": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var added cartBody
	decode(t, w, &added)
	require.Len(t, added.Cart.Items, 1)
	assert.True(t, decimal.NewFromInt(200).Equal(added.Cart.Total))
	assert.Equal(t, "Added to Cart", added.Notice.Title)

	itemID := added.Cart.Items[0].ID
	w = s.do(http.MethodPut, "/api/v1/cart/items/"+itemID, "user-1", gin.H{"quantity": 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/api/v1/cart", "user-1", nil)
	var loaded cartBody
	decode(t, w, &loaded)
	require.Len(t, loaded.Cart.Items, 1)
	assert.Equal(t, 3, loaded.Cart.Items[0].Quantity)
	assert.True(t, decimal.NewFromInt(300).Equal(loaded.Cart.Total))

	w = s.do(http.MethodDelete, "/api/v1/cart/items/"+itemID, "user-1", nil)
	var removed cartBody
	decode(t, w, &removed)
	assert.Equal(t, "Item Removed", removed.Notice.Title)
	assert.Empty(t, removed.Cart.Items)
}

func TestAddToCartWithoutLogin(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/v1/cart/items", "", gin.H{"product_id": "p1"}, headerSessionID, "guest-1")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var body cartBody
	decode(t, w, &body)
	require.NotNil(t, body.Notice)
	assert.Equal(t, "Login Required", body.Notice.Title)
	assert.Equal(t, "destructive", body.Notice.Variant)
}

func TestAddToCartRejectsMissingProduct(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/v1/cart/items", "user-1", gin.H{"quantity": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGuestSessionKeepsCartAfterLogin(t *testing.T) {
	s := newTestServer(t)
	s.store.AddProduct("p1", "Forest Honey", "100", 5)
	_, err := s.store.InsertCartItem(context.Background(), "user-1", "p1", 1)
	require.NoError(t, err)

	w := s.do(http.MethodGet, "/api/v1/cart", "", nil, headerSessionID, "tab-1")
	var guest cartBody
	decode(t, w, &guest)
	assert.Empty(t, guest.Cart.Items)

	w = s.do(http.MethodGet, "/api/v1/cart", "user-1", nil, headerSessionID, "tab-1")
	var member cartBody
	decode(t, w, &member)
	require.Len(t, member.Cart.Items, 1)
	assert.Equal(t, "user-1", member.Cart.UserID)
}

func TestCheckoutAndOrderHistory(t *testing.T) {
	s := newTestServer(t)
	s.store.AddProduct("p1", "Forest Honey", "100", 5)

	w := s.do(http.MethodPost, "/api/v1/cart/items", "user-1", gin.H{"product_id": "p1", "quantity": 2})
	require.Equal(t, http.StatusOK, w.Code)

	form := gin.H{"name": "Asha", "phone": "9800000000", "address": "12 Temple Road"}
	w = s.do(http.MethodPost, "/api/v1/checkout", "user-1", form, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var placed service.PlaceOrderResponse
	decode(t, w, &placed)
	require.NotNil(t, placed.Order)
	assert.True(t, decimal.NewFromInt(200).Equal(placed.Order.TotalAmount))
	assert.Equal(t, "Order Placed Successfully!", placed.Notice.Title)

	w = s.do(http.MethodPost, "/api/v1/checkout", "user-1", form, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, w.Code, "replay answers 200")
	var replay service.PlaceOrderResponse
	decode(t, w, &replay)
	assert.True(t, replay.Duplicate)
	assert.Equal(t, placed.Order.ID, replay.Order.ID)

	w = s.do(http.MethodGet, "/api/v1/orders", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Orders []struct {
			ID    string        `json:"id"`
			Badge service.Badge `json:"badge"`
		} `json:"orders"`
	}
	decode(t, w, &history)
	require.Len(t, history.Orders, 1)
	assert.Equal(t, placed.Order.ID, history.Orders[0].ID)
	assert.Equal(t, "yellow", history.Orders[0].Badge.Color)
}

func TestCheckoutMissingFields(t *testing.T) {
	s := newTestServer(t)
	s.store.AddProduct("p1", "Forest Honey", "100", 5)
	s.do(http.MethodPost, "/api/v1/cart/items", "user-1", gin.H{"product_id": "p1"})

	w := s.do(http.MethodPost, "/api/v1/checkout", "user-1", gin.H{"name": "Asha"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Missing Information")
}

func TestCheckoutOutOfStockIsConflict(t *testing.T) {
	s := newTestServer(t)
	s.store.AddProduct("p1", "Forest Honey", "100", 1)
	s.do(http.MethodPost, "/api/v1/cart/items", "user-1", gin.H{"product_id": "p1", "quantity": 3})

	form := gin.H{"name": "Asha", "phone": "9800000000", "address": "12 Temple Road"}
	w := s.do(http.MethodPost, "/api/v1/checkout", "user-1", form)
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "no longer in stock")
	assert.Zero(t, s.store.OrderCount())
}

func TestOrdersRequireLogin(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/v1/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListProducts(t *testing.T) {
	s := newTestServer(t)
	s.store.AddProduct("p1", "Forest Honey", "100", 5)
	s.store.AddProduct("p2", "Millet Flour", "80", 0)

	w := s.do(http.MethodGet, "/api/v1/products?in_stock=true", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Products []models.Product `json:"products"`
	}
	decode(t, w, &body)
	require.Len(t, body.Products, 1)
	assert.Equal(t, "Forest Honey", body.Products[0].Name)

	w = s.do(http.MethodGet, "/api/v1/products?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/v1/products/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatReply(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/functions/v1/chat-with-gemini", "", gin.H{"message": "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "Namaste! How can I help?", body["response"])
}

func TestChatHeaderIdentityWinsOverBody(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/v1/chat", "user-1",
		gin.H{"message": "show my orders", "userId": "someone-else", "isAuthenticated": false})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "You don't have any orders yet. Would you like to browse our products?", body["response"])
	assert.Empty(t, s.llm.prompt, "commands never reach the model")
}

func TestChatErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    gin.H
		llmErr  error
		wantErr string
	}{
		{"empty message", gin.H{"message": "  "}, nil, "Message is required"},
		{"missing key", gin.H{"message": "hi"}, gemini.ErrMissingAPIKey, "GEMINI_API_KEY is not set"},
		{"upstream status", gin.H{"message": "hi"}, &gemini.StatusError{Code: 429}, "Gemini API error: 429"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.llm.err = tt.llmErr

			w := s.do(http.MethodPost, "/api/v1/chat", "", tt.body)
			assert.Equal(t, http.StatusInternalServerError, w.Code)
			assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

			var body map[string]string
			decode(t, w, &body)
			assert.Equal(t, tt.wantErr, body["error"])
		})
	}
}

func TestChatPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/chat", nil)
	req.Header.Set("Origin", "https://shop.example")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "authorization, x-client-info, apikey, content-type", w.Header().Get("Access-Control-Allow-Headers"))
}

func TestCORSRestrictsOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware([]string{"https://shop.example"}))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://shop.example")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "https://shop.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, statusFor(service.ErrAuthRequired))
	assert.Equal(t, http.StatusBadRequest, statusFor(service.ErrEmptyCart))
	assert.Equal(t, http.StatusNotFound, statusFor(service.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(service.ErrOutOfStock))
	assert.Equal(t, http.StatusConflict, statusFor(service.ErrCheckoutInProgress))
	assert.Equal(t, http.StatusInternalServerError, statusFor(service.ErrStore))
}
