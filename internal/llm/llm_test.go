package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/verdict/internal/models"
	"github.com/joescharf/verdict/internal/normalize"
)

func TestBuildPrompt(t *testing.T) {
	t.Run("with perspective and instructions", func(t *testing.T) {
		system, user := buildPrompt(Request{
			Reviewer:     "security",
			Perspective:  "injection and auth flaws",
			Instructions: "Focus on the handlers.",
			Input:        "diff --git a/x.go b/x.go",
		})

		assert.Contains(t, system, `"security"`)
		assert.Contains(t, system, "injection and auth flaws")
		assert.Contains(t, system, `"verdict"`)
		assert.Contains(t, system, `"stats"`)
		assert.Contains(t, user, "Focus on the handlers.")
		assert.Contains(t, user, "diff --git")
	})

	t.Run("default perspective", func(t *testing.T) {
		system, user := buildPrompt(Request{Reviewer: "r", Input: "x"})
		assert.Contains(t, system, "general code quality")
		assert.True(t, strings.HasPrefix(user, "Review this change"))
	})
}

func TestFailureText(t *testing.T) {
	raw := failureText(fmt.Errorf("post: %w", context.DeadlineExceeded), 12.34)
	assert.True(t, strings.HasPrefix(raw, "REVIEW_TIMEOUT elapsed=12.3"))

	raw = failureText(errors.New("dial tcp: connection refused"), 1)
	assert.Equal(t, "API_ERROR: dial tcp: connection refused", raw)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", "claude-test", 1024, timeout,
		option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
}

func TestReview_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test-20260101",
			"content":[{"type":"text","text":"{\"verdict\":\"PASS\"}"}],
			"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}`)
	}, time.Minute)

	res := c.Review(context.Background(), Request{Reviewer: "style", Input: "x"})
	require.NoError(t, res.Err)
	assert.Equal(t, `{"verdict":"PASS"}`, res.Raw)
	assert.Equal(t, "claude-test-20260101", res.Model)
}

func TestReview_AuthErrorBecomesKeyInvalid(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}, time.Minute)

	res := c.Review(context.Background(), Request{Reviewer: "style", Input: "x"})
	require.Error(t, res.Err)
	assert.True(t, strings.HasPrefix(res.Raw, "API_ERROR: HTTP 401"))

	review := normalize.Normalize(normalize.Input{Raw: res.Raw, Reviewer: "style"})
	assert.Equal(t, models.VerdictSkip, review.Verdict)
	require.NotNil(t, review.Normalization)
	assert.Equal(t, string(normalize.APIErrorKeyInvalid), review.Normalization.APIErrorClass)
}

func TestReview_DeadlineBecomesTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, 50*time.Millisecond)

	res := c.Review(context.Background(), Request{Reviewer: "slow", Input: "x"})
	require.Error(t, res.Err)

	review := normalize.Normalize(normalize.Input{Raw: res.Raw, Reviewer: "slow"})
	assert.Equal(t, models.VerdictSkip, review.Verdict)
	assert.True(t, review.IsTimeout())
}
