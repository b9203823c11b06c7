package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"village-store/internal/assistant"
	"village-store/internal/cart"
	"village-store/internal/service"
	"village-store/internal/store"
	"village-store/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	chatPath       = "/api/v1/chat"
	legacyChatPath = "/functions/v1/chat-with-gemini"
)

// Pinger is a dependency checked by the readiness endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the HTTP layer serves
type Deps struct {
	Sessions    *cart.Registry
	Carts       *service.CartService
	Checkout    *service.CheckoutService
	Orders      *service.OrderService
	Catalog     *service.CatalogService
	Assistant   *assistant.Gateway
	Readiness   map[string]Pinger
	CORSOrigins []string
}

// Handler contains HTTP handlers
type Handler struct {
	Deps
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps) *Handler {
	if len(deps.CORSOrigins) == 0 {
		deps.CORSOrigins = []string{"*"}
	}
	return &Handler{Deps: deps, logger: util.Named("http")}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())
	router.Use(corsMiddleware(h.CORSOrigins, chatPath, legacyChatPath))
	router.Use(identityMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)

		v1.GET("/cart", h.getCart)
		v1.DELETE("/cart", h.clearCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.PUT("/cart/items/:id", h.updateCartItem)
		v1.DELETE("/cart/items/:id", h.removeCartItem)

		v1.POST("/checkout", h.checkout)
		v1.GET("/orders", h.listOrders)
	}

	for _, path := range []string{chatPath, legacyChatPath} {
		router.POST(path, h.chat)
		router.OPTIONS(path, h.chatPreflight)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, p := range h.Readiness {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not ready"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrAuthRequired):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) string {
	if statusFor(err) == http.StatusInternalServerError {
		return "Internal server error"
	}
	return err.Error()
}

func userID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

// cartState returns the session's cart, binding the current identity to it
func (h *Handler) cartState(c *gin.Context) *cart.State {
	sessionID := c.GetString(ctxSessionID)
	if sessionID == "" {
		return cart.NewState()
	}
	return h.Sessions.Bind(c.Request.Context(), sessionID, userID(c))
}

// listProducts handles catalog listing
func (h *Handler) listProducts(c *gin.Context) {
	filter := store.ProductFilter{Category: c.Query("category")}

	if v := c.Query("in_stock"); v != "" {
		inStock, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid in_stock value"})
			return
		}
		filter.InStockOnly = inStock
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		filter.Limit = limit
	}

	products, err := h.Catalog.ListProducts(c.Request.Context(), filter)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": errorBody(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

// getProduct handles product detail
func (h *Handler) getProduct(c *gin.Context) {
	product, err := h.Catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		if statusFor(err) == http.StatusNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
			return
		}
		c.JSON(statusFor(err), gin.H{"error": errorBody(err)})
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) writeCart(c *gin.Context, okStatus int, res *service.CartResult, err error) {
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error":  errorBody(err),
			"cart":   res.Cart,
			"notice": res.Notice,
		})
		return
	}
	c.JSON(okStatus, res)
}

// getCart loads the session's cart
func (h *Handler) getCart(c *gin.Context) {
	state := h.cartState(c)
	res, err := h.Carts.Load(c.Request.Context(), state)
	h.writeCart(c, http.StatusOK, res, err)
}

type addItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity"`
}

// addCartItem handles add to cart
func (h *Handler) addCartItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	state := h.cartState(c)
	res, err := h.Carts.AddToCart(c.Request.Context(), state, req.ProductID, req.Quantity)
	h.writeCart(c, http.StatusOK, res, err)
}

type updateItemRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

// updateCartItem handles quantity changes; zero or less removes the item
func (h *Handler) updateCartItem(c *gin.Context) {
	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	state := h.cartState(c)
	res, err := h.Carts.SetQuantity(c.Request.Context(), state, c.Param("id"), *req.Quantity)
	h.writeCart(c, http.StatusOK, res, err)
}

// removeCartItem handles item removal
func (h *Handler) removeCartItem(c *gin.Context) {
	state := h.cartState(c)
	res, err := h.Carts.Remove(c.Request.Context(), state, c.Param("id"))
	h.writeCart(c, http.StatusOK, res, err)
}

// clearCart empties the cart; failures are not reported to the caller
func (h *Handler) clearCart(c *gin.Context) {
	state := h.cartState(c)
	if state.UserID() == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": service.ErrAuthRequired.Error()})
		return
	}
	c.JSON(http.StatusOK, h.Carts.Clear(c.Request.Context(), state))
}

// checkout places an order from the session's cart
func (h *Handler) checkout(c *gin.Context) {
	var req service.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	state := h.cartState(c)
	resp, err := h.Checkout.PlaceOrder(c.Request.Context(), state, &req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error":  errorBody(err),
			"notice": resp.Notice,
		})
		return
	}

	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

// listOrders returns the caller's order history
func (h *Handler) listOrders(c *gin.Context) {
	history, err := h.Orders.ListOrders(c.Request.Context(), userID(c))
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error":  errorBody(err),
			"notice": history.Notice,
		})
		return
	}
	c.JSON(http.StatusOK, history)
}

// chatPreflight answers the browser preflight for the chat endpoint
func (h *Handler) chatPreflight(c *gin.Context) {
	chatCORS(c)
	c.Status(http.StatusOK)
}

// chat answers one assistant message. Every failure is a 500 carrying {"error": ...}.
func (h *Handler) chat(c *gin.Context) {
	chatCORS(c)

	var req assistant.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid request body"})
		return
	}

	// the proxy-asserted identity wins over whatever the body claims
	if id := userID(c); id != "" {
		req.UserID = id
		req.IsAuthenticated = true
	}

	reply, err := h.Assistant.Handle(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("Error in chat handler", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": assistant.PublicError(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": reply})
}
