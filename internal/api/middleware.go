package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"village-store/internal/util"

	"github.com/gin-gonic/gin"
)

const (
	headerUserID    = "X-User-Id"
	headerSessionID = "X-Session-Id"

	ctxUserID    = "user_id"
	ctxSessionID = "session_id"
)

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

// identityMiddleware reads the caller identity set by the auth proxy.
// The session defaults to the user id so a logged-in caller without a session header still keeps one cart.
func identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(headerUserID))
		sessionID := strings.TrimSpace(c.GetHeader(headerSessionID))
		if sessionID == "" {
			sessionID = userID
		}
		c.Set(ctxUserID, userID)
		c.Set(ctxSessionID, sessionID)
		c.Next()
	}
}

// corsMiddleware answers preflights and reflects allowed origins. Paths in skip set their own headers.
func corsMiddleware(allowOrigins []string, skip ...string) gin.HandlerFunc {
	allowAll := len(allowOrigins) == 1 && allowOrigins[0] == "*"
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}

	return func(c *gin.Context) {
		if skipped[c.Request.URL.Path] {
			c.Next()
			return
		}

		writeCORSHeaders(c.Writer.Header(), c.GetHeader("Origin"), allowOrigins, allowAll)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func writeCORSHeaders(h http.Header, origin string, allowOrigins []string, allowAll bool) {
	if origin == "" {
		return
	}
	if !allowAll && !originAllowed(origin, allowOrigins) {
		return
	}

	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Vary", "Origin")
	h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key, X-User-Id, X-Session-Id")
}

func originAllowed(origin string, allow []string) bool {
	for _, a := range allow {
		if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(origin)) {
			return true
		}
	}
	return false
}

// chatCORS is the permissive header set the browser chat widget expects on every chat response
func chatCORS(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
}
