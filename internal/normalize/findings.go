package normalize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/joescharf/verdict/internal/models"
)

// EvidenceBudget caps evidence blobs, in bytes.
const EvidenceBudget = 2000

const truncatedSuffix = "\n...[truncated]"

// normalizeEvidence unwraps one fenced code block, strips pasted diff markers and truncates.
func normalizeEvidence(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	s = unwrapFence(s)
	s = stripDiffMarkers(s)
	return truncate(s, EvidenceBudget)
}

func unwrapFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") || !strings.HasSuffix(t, "```") || len(t) < 6 {
		return s
	}
	nl := strings.Index(t, "\n")
	if nl < 0 {
		return s
	}
	body := t[nl+1 : len(t)-3]
	return strings.TrimRight(body, "\r\n")
}

// stripDiffMarkers removes the leading +/-/space from every line when the text is a pasted diff:
// every non-empty line starts with one of them and at least one starts with + or -.
func stripDiffMarkers(s string) string {
	lines := strings.Split(s, "\n")
	sawChange := false
	for _, l := range lines {
		if l == "" {
			continue
		}
		switch l[0] {
		case '+', '-':
			sawChange = true
		case ' ':
		default:
			return s
		}
	}
	if !sawChange {
		return s
	}
	for i, l := range lines {
		if l != "" {
			lines[i] = l[1:]
		}
	}
	return strings.Join(lines, "\n")
}

// truncate cuts s to at most budget bytes on a rune boundary.
func truncate(s string, budget int) string {
	if len(s) <= budget {
		return s
	}
	cut := budget - len(truncatedSuffix)
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncatedSuffix
}

var (
	staleClaim = regexp.MustCompile(`(?i)\b(?:does not exist|doesn't exist|do not exist|don't exist|is not (?:yet )?released|isn't (?:yet )?released|has not (?:yet )?been released|hasn't (?:yet )?been released|not yet released|no such version|is not a valid version|unreleased version)\b`)

	versionPattern = regexp.MustCompile(`\bv?\d+\.\d+(?:\.\d+)?\b`)

	// Names long and specific enough that a mention alone identifies an ecosystem.
	ecosystemName = regexp.MustCompile(`(?i)\b(?:golang|python|typescript|javascript|node\.?js|kotlin|django|flask|fastapi|react|angular|svelte|kubernetes|terraform|postgres(?:ql)?|pytorch|tensorflow|numpy|pandas|rails|laravel|spring\s?boot|dotnet|elixir|erlang|haskell|clojure|webpack|nextjs|next\.js|ubuntu|debian|alpine)\b`)

	// Short tokens such as "go" or "node" only count next to a version number.
	shortEcosystemVersion = regexp.MustCompile(`(?i)\b(?:go|node|java|ruby|rust|php|perl|deno|bun|npm|pip|jdk|gcc|lua|dart|zig|swift|scala)\s*v?\d+\b`)
)

// isStaleKnowledgeClaim reports a "does not exist / not released" claim tied to an ecosystem or version.
func isStaleKnowledgeClaim(f models.Finding) bool {
	text := f.Title + "\n" + f.Description
	if !staleClaim.MatchString(text) {
		return false
	}
	return versionPattern.MatchString(text) ||
		ecosystemName.MatchString(text) ||
		shortEcosystemVersion.MatchString(text)
}

// demoteStaleKnowledge demotes stale-knowledge claims to info in place and returns how many changed.
func demoteStaleKnowledge(findings []models.Finding) int {
	n := 0
	for i := range findings {
		f := &findings[i]
		if f.Severity == models.SeverityInfo || !isStaleKnowledgeClaim(*f) {
			continue
		}
		f.OriginalSeverity = f.Severity
		f.Severity = models.SeverityInfo
		f.StaleKnowledge = true
		n++
	}
	return n
}
