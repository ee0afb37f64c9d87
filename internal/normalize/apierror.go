package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/joescharf/verdict/internal/models"
)

// APIErrorPrefix marks raw output that reports a provider API failure.
const APIErrorPrefix = "API_ERROR:"

// APIErrorClass groups provider failures by the remediation they need.
type APIErrorClass string

const (
	APIErrorKeyInvalid         APIErrorClass = "KEY_INVALID"
	APIErrorCreditsDepleted    APIErrorClass = "CREDITS_DEPLETED"
	APIErrorRateLimit          APIErrorClass = "RATE_LIMIT"
	APIErrorServiceUnavailable APIErrorClass = "SERVICE_UNAVAILABLE"
	APIErrorGeneric            APIErrorClass = "API_ERROR"
)

var remediation = map[APIErrorClass]string{
	APIErrorKeyInvalid:         "Check that the provider API key is set, valid and not revoked.",
	APIErrorCreditsDepleted:    "Top up provider credits or raise the billing quota for this key.",
	APIErrorRateLimit:          "Retry later, lower reviewer concurrency, or request a higher rate limit.",
	APIErrorServiceUnavailable: "The provider is degraded; retry later or configure a fallback model.",
	APIErrorGeneric:            "Inspect the diagnostic text and the provider status page.",
}

var (
	apiErrorHeuristic = regexp.MustCompile(`(?i)(?:\bHTTP(?:/\d(?:\.\d)?)?\s+|\bstatus(?:\s*code)?\s*[:=]?\s*|\berror\s*[:(]?\s*)(?:401|402|403|429|500|502|503|504|529)\b` +
		`|\binvalid[ _-]?(?:api|x-api)[ _-]?key\b|\bauthentication_error\b|\binsufficient[ _-]?(?:credits|quota|funds)\b` +
		`|\bcredit balance is too low\b|\bquota exceeded\b|\brate[ _-]?limit(?:ed|_error|\s+exceeded)\b|\btoo many requests\b` +
		`|\boverloaded_error\b|\bservice unavailable\b`)

	keyInvalidRe  = regexp.MustCompile(`(?i)\b(?:401|403)\b|invalid[ _-]?(?:api|x-api)[ _-]?key|authentication|unauthori[sz]ed|permission_error|forbidden`)
	creditsRe     = regexp.MustCompile(`(?i)\b402\b|credit|insufficient[ _-]?(?:quota|funds)|quota exceeded|billing|payment required`)
	rateLimitRe   = regexp.MustCompile(`(?i)\b429\b|rate[ _-]?limit|too many requests`)
	unavailableRe = regexp.MustCompile(`(?i)\b(?:500|502|503|504|529)\b|overloaded|unavailable|internal server error|bad gateway`)
)

// detectAPIError returns the error class and diagnostic text when raw reports a provider failure.
// The heuristic only applies when the output does not carry a verdict object.
func detectAPIError(raw string) (APIErrorClass, string, bool) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, APIErrorPrefix) {
		detail := strings.TrimSpace(strings.TrimPrefix(trimmed, APIErrorPrefix))
		return ClassifyAPIError(detail), detail, true
	}
	if apiErrorHeuristic.MatchString(trimmed) && !hasVerdictJSON(trimmed) {
		return ClassifyAPIError(trimmed), trimmed, true
	}
	return "", "", false
}

// ClassifyAPIError maps diagnostic text onto an APIErrorClass.
func ClassifyAPIError(detail string) APIErrorClass {
	switch {
	case keyInvalidRe.MatchString(detail):
		return APIErrorKeyInvalid
	case creditsRe.MatchString(detail):
		return APIErrorCreditsDepleted
	case rateLimitRe.MatchString(detail):
		return APIErrorRateLimit
	case unavailableRe.MatchString(detail):
		return APIErrorServiceUnavailable
	default:
		return APIErrorGeneric
	}
}

// Remediation returns the operator hint for a class.
func Remediation(class APIErrorClass) string {
	if hint, ok := remediation[class]; ok {
		return hint
	}
	return remediation[APIErrorGeneric]
}

func apiErrorReview(in Input, class APIErrorClass, detail string) models.Review {
	if detail == "" {
		detail = "provider returned an error without details"
	}
	r := diagnosticReview(in, models.VerdictSkip, 0,
		fmt.Sprintf("Reviewer API error (%s)", class),
		models.Finding{
			Severity:    models.SeverityInfo,
			Category:    models.SkipCauseAPIError,
			Title:       fmt.Sprintf("Provider API error: %s", class),
			Description: truncate(detail, EvidenceBudget),
			Suggestion:  Remediation(class),
		})
	r.Normalization = &models.Normalization{
		SkipCause:     models.SkipCauseAPIError,
		APIErrorClass: string(class),
	}
	return r
}
