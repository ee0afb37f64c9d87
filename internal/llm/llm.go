package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/verdict/internal/normalize"
)

// Request describes one reviewer call.
type Request struct {
	Reviewer     string
	Perspective  string
	Instructions string
	Input        string
}

// Result is the raw outcome of a reviewer call. Failures are encoded in Raw so
// the normalizer can classify them.
type Result struct {
	Raw            string
	Model          string
	RuntimeSeconds float64
	Err            error
}

// Client wraps the Anthropic API as a one-shot reviewer.
type Client struct {
	api       *anthropic.Client
	model     anthropic.Model
	maxTokens int64
	timeout   time.Duration
}

// NewClient creates a reviewer client. A non-positive timeout disables the deadline.
func NewClient(apiKey, model string, maxTokens int, timeout time.Duration, opts ...option.RequestOption) *Client {
	if apiKey != "" {
		opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:       &client,
		model:     anthropic.Model(model),
		maxTokens: int64(maxTokens),
		timeout:   timeout,
	}
}

// buildPrompt constructs the system and user prompts for one reviewer.
func buildPrompt(req Request) (system string, user string) {
	perspective := req.Perspective
	if perspective == "" {
		perspective = "general code quality"
	}

	system = fmt.Sprintf(`You are %q, an independent code reviewer focused on %s.
Return your verdict as a single JSON object inside a `+"```json"+` fenced block with these fields:
- "reviewer": %q
- "perspective": %q
- "verdict": one of "PASS", "WARN", "FAIL", "SKIP"
- "confidence": number between 0 and 1
- "summary": one or two sentences
- "findings": array of {"severity": "critical"|"major"|"minor"|"info", "category", "file", "line" (integer), "title", "description", "suggestion", "evidence"}
- "stats": {"files_reviewed", "files_with_issues", "critical", "major", "minor", "info"}

Rules:
- Report only issues you can point to in the change under review
- FAIL requires at least one critical or two major findings
- Do not claim a dependency, version or language feature does not exist; your knowledge may be out of date`,
		req.Reviewer, perspective, req.Reviewer, perspective)

	var sb strings.Builder
	if req.Instructions != "" {
		sb.WriteString(req.Instructions)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Review this change:\n\n")
	sb.WriteString(req.Input)
	user = sb.String()
	return
}

// Review runs one reviewer call. It never returns an error: API failures and
// deadline expiry are rendered as marker text for the normalizer.
func (c *Client) Review(ctx context.Context, req Request) Result {
	systemPrompt, userPrompt := buildPrompt(req)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	elapsed := time.Since(start).Seconds()
	if err != nil {
		return Result{Raw: failureText(err, elapsed), Model: string(c.model), RuntimeSeconds: elapsed, Err: err}
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	model := string(msg.Model)
	if model == "" {
		model = string(c.model)
	}
	return Result{Raw: sb.String(), Model: model, RuntimeSeconds: elapsed}
}

// failureText renders a failed call in the form the normalizer classifies.
func failureText(err error, elapsed float64) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s elapsed=%.1f\nreviewer call exceeded its deadline", normalize.TimeoutMarker, elapsed)
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("%s HTTP %d %s", normalize.APIErrorPrefix, apiErr.StatusCode, strings.TrimSpace(apiErr.Error()))
	}
	return fmt.Sprintf("%s %s", normalize.APIErrorPrefix, err.Error())
}
