package cmd

import (
	"os"
	"time"

	"github.com/joescharf/verdict/internal/config"
	"github.com/joescharf/verdict/internal/llm"
)

// newLLMClient creates a reviewer client from config/env, or returns nil if no API key is configured.
var newLLMClient = func(cfg *config.Config, model string) *llm.Client {
	apiKey := cfg.Anthropic.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil
	}
	timeout := time.Duration(cfg.Anthropic.TimeoutSeconds) * time.Second
	return llm.NewClient(apiKey, model, cfg.Anthropic.MaxTokens, timeout)
}
