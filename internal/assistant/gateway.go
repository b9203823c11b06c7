package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"village-store/internal/gemini"
	"village-store/internal/models"
	"village-store/internal/service"
	"village-store/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ErrMessageRequired is returned for a blank chat message
var ErrMessageRequired = fmt.Errorf("message is required: %w", service.ErrValidation)

// OrderBook is the order access the assistant needs
type OrderBook interface {
	Orders(ctx context.Context, userID string) ([]models.Order, error)
	CancelOrder(ctx context.Context, userID, orderID string) (*service.CancelResult, error)
}

// Catalog provides in-stock product samples
type Catalog interface {
	InStockProducts(ctx context.Context, limit int) ([]models.Product, error)
}

// Generator produces a free-text reply from a system prompt and a user message
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// Profiles looks up the account name used to greet the customer
type Profiles interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

// Config bounds how many products the assistant shows
type Config struct {
	CommandProductLimit int
	PromptProductLimit  int
}

// Request is one chat turn
type Request struct {
	Message         string `json:"message"`
	UserID          string `json:"userId,omitempty"`
	IsAuthenticated bool   `json:"isAuthenticated,omitempty"`
}

// Gateway answers chat messages, running store commands directly and sending everything else to the model
type Gateway struct {
	orders   OrderBook
	catalog  Catalog
	llm      Generator
	profiles Profiles
	cfg      Config
	logger   *zap.Logger
}

// NewGateway creates a new assistant gateway
func NewGateway(orders OrderBook, catalog Catalog, llm Generator, cfg Config) *Gateway {
	if cfg.CommandProductLimit <= 0 {
		cfg.CommandProductLimit = 8
	}
	if cfg.PromptProductLimit <= 0 {
		cfg.PromptProductLimit = 10
	}
	return &Gateway{
		orders:  orders,
		catalog: catalog,
		llm:     llm,
		cfg:     cfg,
		logger:  util.Named("assistant"),
	}
}

// WithProfiles lets the prompt address logged-in customers by name
func (g *Gateway) WithProfiles(p Profiles) *Gateway {
	g.profiles = p
	return g
}

// Handle returns the reply text for one message
func (g *Gateway) Handle(ctx context.Context, req Request) (string, error) {
	ctx, span := util.StartSpan(ctx, "Assistant.Handle", attribute.Bool("authenticated", req.IsAuthenticated))
	defer span.End()

	if strings.TrimSpace(req.Message) == "" {
		return "", ErrMessageRequired
	}

	g.logger.Debug("Processing chat message", zap.String("user_id", req.UserID))

	if req.UserID != "" {
		intent := Classify(req.Message)
		if intent != IntentNone {
			util.AssistantRequestsTotal.WithLabelValues(intent.String()).Inc()
			span.SetAttributes(attribute.String("intent", intent.String()))
			return g.runCommand(ctx, intent, req), nil
		}
	}

	util.AssistantRequestsTotal.WithLabelValues("llm").Inc()
	prompt := g.buildPrompt(ctx, req)

	reply, err := g.llm.Generate(ctx, prompt, req.Message)
	if err != nil {
		util.SpanError(span, err)
		g.logger.Error("Failed to generate reply", zap.Error(err))
		return "", fmt.Errorf("generate reply: %w: %w", service.ErrUpstream, err)
	}
	return reply, nil
}

func (g *Gateway) runCommand(ctx context.Context, intent Intent, req Request) string {
	switch intent {
	case IntentListOrders:
		return g.listOrders(ctx, req.UserID)
	case IntentCancelOrder:
		return g.cancelOrder(ctx, req.UserID, req.Message)
	default:
		return g.listProducts(ctx)
	}
}

// PublicError is the text shown to the chat client for a failed request
func PublicError(err error) string {
	var statusErr *gemini.StatusError
	switch {
	case errors.Is(err, ErrMessageRequired):
		return "Message is required"
	case errors.Is(err, gemini.ErrMissingAPIKey):
		return "GEMINI_API_KEY is not set"
	case errors.Is(err, gemini.ErrNoCandidates):
		return "No response from Gemini API"
	case errors.As(err, &statusErr):
		return statusErr.Error()
	default:
		return "Sorry, something went wrong. Please try again."
	}
}
