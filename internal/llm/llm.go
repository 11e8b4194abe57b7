// Package llm abstracts the text-generation providers behind a single
// Generate call. Implementations hide client initialization, request
// shaping, and provider-specific error classification.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries one generation call. Messages are ordered and end with
// the turn the model should answer.
type Request struct {
	System      string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Response is the generated text plus the provider-reported usage.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// TotalTokens is the provider-reported usage for the whole call.
func (r Response) TotalTokens() int { return r.InputTokens + r.OutputTokens }

// Provider is a text-generation backend.
type Provider interface {
	Name() string
	Model() string
	Generate(ctx context.Context, req Request) (Response, error)
}

// Config selects and parameterizes a provider.
type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	// Timeout bounds each Generate call at the HTTP layer. Zero
	// leaves only the caller's context as the bound.
	Timeout time.Duration
	Pricing Pricing
}

// New builds a Provider from config. The provider name decides the
// implementation; unknown names are an error, not a silent default.
func New(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm provider %q: api key is required", cfg.Provider)
	}
	switch strings.ToLower(cfg.Provider) {
	case "openai", "":
		return newOpenAI(cfg), nil
	case "anthropic", "claude":
		return newAnthropic(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// Pricing holds per-1K-token prices for a model, used for cost metrics.
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// Cost converts token usage to an approximate spend in USD.
func (p Pricing) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*p.InputPer1K + float64(outputTokens)/1000*p.OutputPer1K
}
