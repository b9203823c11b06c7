package assistant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"village-store/internal/models"
	"village-store/internal/service"

	"go.uber.org/zap"
)

const (
	msgNoOrders          = "You don't have any orders yet. Would you like to browse our products?"
	msgOrdersUnavailable = "Sorry, I couldn't fetch your orders right now. Please try again."
	msgCancelHint        = `To cancel an order, just say "cancel order" followed by the order ID.`
	msgMissingOrderID    = "Please specify the order ID you want to cancel. You can find it in your order list."
	msgOrderNotFound     = "Order not found or you don't have permission to cancel this order."
	msgAlreadyCancelled  = "This order is already cancelled."
	msgDelivered         = "Sorry, delivered orders cannot be cancelled."
	msgCancelFailed      = "Sorry, I couldn't cancel your order right now. Please try again."
	msgCancelled         = "✅ Order #%s has been successfully cancelled and stock has been restored. You should receive a refund within 3-5 business days."
	msgNoProducts        = "Sorry, no products are available right now."
	msgProductsHeader    = "🛒 Here are our available products:\n\n"
	msgProductsFooter    = "To place an order, please visit our main website and add items to your cart!"
)

var orderIDPattern = regexp.MustCompile(`(?i)[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}`)

func (g *Gateway) listOrders(ctx context.Context, userID string) string {
	orders, err := g.orders.Orders(ctx, userID)
	if err != nil {
		g.logger.Error("Failed to fetch orders for chat", zap.String("user_id", userID), zap.Error(err))
		return msgOrdersUnavailable
	}
	if len(orders) == 0 {
		return msgNoOrders
	}
	return formatOrders(orders)
}

func formatOrders(orders []models.Order) string {
	var b strings.Builder
	b.WriteString("Here are your recent orders:\n\n")
	for i, o := range orders {
		fmt.Fprintf(&b, "%d. Order #%s\n", i+1, shortID(o.ID))
		fmt.Fprintf(&b, "   Status: %s\n", o.Status)
		fmt.Fprintf(&b, "   Total: ₹%s\n", o.TotalAmount.String())
		fmt.Fprintf(&b, "   Date: %s\n", o.CreatedAt.Format("2006-01-02"))
		if len(o.Items) > 0 {
			b.WriteString("   Items:\n")
			for _, item := range o.Items {
				name := "Unknown product"
				if item.Product != nil {
					name = item.Product.Name
				}
				fmt.Fprintf(&b, "   - %s (Qty: %d) - ₹%s\n", name, item.Quantity, item.Price.String())
			}
		}
		b.WriteString("\n")
	}
	b.WriteString(msgCancelHint)
	return b.String()
}

func (g *Gateway) cancelOrder(ctx context.Context, userID, message string) string {
	orderID := orderIDPattern.FindString(message)
	if orderID == "" {
		return msgMissingOrderID
	}
	orderID = strings.ToLower(orderID)

	_, err := g.orders.CancelOrder(ctx, userID, orderID)
	switch {
	case err == nil:
		return fmt.Sprintf(msgCancelled, shortID(orderID))
	case errors.Is(err, service.ErrNotFound):
		return msgOrderNotFound
	case errors.Is(err, service.ErrOrderAlreadyCancelled):
		return msgAlreadyCancelled
	case errors.Is(err, service.ErrOrderDelivered):
		return msgDelivered
	default:
		g.logger.Error("Failed to cancel order from chat",
			zap.String("user_id", userID),
			zap.String("order_id", orderID),
			zap.Error(err))
		return msgCancelFailed
	}
}

func (g *Gateway) listProducts(ctx context.Context) string {
	products, err := g.catalog.InStockProducts(ctx, g.cfg.CommandProductLimit)
	if err != nil {
		g.logger.Error("Failed to fetch products for chat", zap.Error(err))
		return msgNoProducts
	}
	if len(products) == 0 {
		return msgNoProducts
	}
	return formatProducts(products)
}

func formatProducts(products []models.Product) string {
	var b strings.Builder
	b.WriteString(msgProductsHeader)
	for i, p := range products {
		fmt.Fprintf(&b, "%d. %s\n", i+1, p.Name)
		fmt.Fprintf(&b, "   Price: ₹%s\n", p.Price.String())
		fmt.Fprintf(&b, "   Category: %s\n", p.Category)
		fmt.Fprintf(&b, "   Stock: %d units\n", p.StockQuantity)
		if p.Description != "" {
			fmt.Fprintf(&b, "   %s...\n", truncateRunes(p.Description, 60))
		}
		b.WriteString("\n")
	}
	b.WriteString(msgProductsFooter)
	return b.String()
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
