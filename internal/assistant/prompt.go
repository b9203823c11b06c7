package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	personaPrompt = "You are a helpful AI assistant for a village products e-commerce store. " +
		"You can help with general questions about products and shopping."

	capabilitiesPrompt = ` The user is logged in with ID: %s. You can help them with:
      1. Track their orders - say "show my orders" or "track order"
      2. Cancel orders - say "cancel order [order_id]"
      3. View products - ask about available products
      4. View order history

      When they ask about orders, you have access to their real order data. For order operations, provide clear instructions and confirmations.`

	anonymousPrompt = " The user is not logged in. For order-related queries, " +
		"politely inform them they need to login first to access order features."
)

// buildPrompt assembles the system prompt. Context that cannot be fetched is left out.
func (g *Gateway) buildPrompt(ctx context.Context, req Request) string {
	var b strings.Builder
	b.WriteString(personaPrompt)

	if !req.IsAuthenticated || req.UserID == "" {
		b.WriteString(anonymousPrompt)
		return b.String()
	}

	fmt.Fprintf(&b, capabilitiesPrompt, req.UserID)
	if name := g.customerName(ctx, req.UserID); name != "" {
		fmt.Fprintf(&b, "\n\nThe customer's name is %s.", name)
	}

	orders, err := g.orders.Orders(ctx, req.UserID)
	if err != nil {
		g.logger.Warn("Failed to fetch orders for prompt", zap.String("user_id", req.UserID), zap.Error(err))
	} else if len(orders) > 0 {
		appendJSON(&b, "\n\nUser's Recent Orders:\n", orders)
	}

	products, err := g.catalog.InStockProducts(ctx, g.cfg.PromptProductLimit)
	if err != nil {
		g.logger.Warn("Failed to fetch products for prompt", zap.Error(err))
	} else if len(products) > 0 {
		appendJSON(&b, "\n\nAvailable Products:\n", products)
	}

	return b.String()
}

func (g *Gateway) customerName(ctx context.Context, userID string) string {
	if g.profiles == nil {
		return ""
	}
	profile, err := g.profiles.GetProfile(ctx, userID)
	if err != nil {
		g.logger.Debug("No profile for prompt", zap.String("user_id", userID), zap.Error(err))
		return ""
	}
	return strings.TrimSpace(profile.FullName)
}

func appendJSON(b *strings.Builder, heading string, v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	b.WriteString(heading)
	b.Write(data)
}
