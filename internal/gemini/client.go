package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"village-store/internal/util"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var (
	// ErrNoCandidates is returned when the model answers without any text
	ErrNoCandidates = errors.New("no response from model")
	// ErrMissingAPIKey is returned when the client was built without credentials
	ErrMissingAPIKey = errors.New("gemini api key not configured")
)

// Config holds the settings for the generative-language endpoint
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type Client struct {
	baseURL *url.URL
	apiKey  string
	model   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[string]
	logger  *zap.Logger
}

// NewClient creates a client for the generateContent endpoint
func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gemini base url %q: %w", cfg.BaseURL, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	logger := util.Named("gemini")
	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "gemini",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		baseURL: u,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  logger,
	}, nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Generate sends the system prompt and the user message as one turn and returns the first candidate text
func (c *Client) Generate(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	if c.apiKey == "" {
		util.LLMFailuresTotal.WithLabelValues("config").Inc()
		return "", ErrMissingAPIKey
	}

	ctx, span := util.StartSpan(ctx, "Gemini.Generate")
	defer span.End()

	start := time.Now()
	text, err := c.breaker.Execute(func() (string, error) {
		return c.generate(ctx, systemPrompt, userMessage)
	})
	util.LLMRequestLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		util.SpanError(span, err)
		util.LLMFailuresTotal.WithLabelValues(failureReason(err)).Inc()
		return "", err
	}
	return text, nil
}

func (c *Client) generate(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{
			Parts: []part{{Text: systemPrompt + "\n\nUser message: " + userMessage}},
		}},
		GenerationConfig: generationConfig{
			Temperature:     0.7,
			TopK:            40,
			TopP:            0.95,
			MaxOutputTokens: 1024,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read gemini response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Gemini API error",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", truncate(raw, 512)))
		return "", &StatusError{Code: resp.StatusCode}
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("failed to decode gemini response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", ErrNoCandidates
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}

func (c *Client) endpoint() string {
	rel := &url.URL{
		Path:     fmt.Sprintf("/v1beta/models/%s:generateContent", c.model),
		RawQuery: url.Values{"key": []string{c.apiKey}}.Encode(),
	}
	return c.baseURL.ResolveReference(rel).String()
}

// StatusError reports a non-200 answer from the endpoint
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Gemini API error: %d", e.Code)
}

func failureReason(err error) string {
	var statusErr *StatusError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.Is(err, ErrNoCandidates):
		return "empty"
	case errors.As(err, &statusErr):
		return "status"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
