package override

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/joescharf/verdict/internal/models"
)

// MinSHALength is the shortest sha prefix an override may name.
const MinSHALength = 7

// UnknownActor is used when a candidate does not name its author.
const UnknownActor = "unknown"

// Candidate is one raw override request, usually a PR comment.
// Explicit SHA/Reason take precedence over values parsed from Body.
type Candidate struct {
	Actor  string `json:"actor"`
	SHA    string `json:"sha,omitempty"`
	Reason string `json:"reason,omitempty"`
	Body   string `json:"body,omitempty"`
}

// Context holds the facts an override is checked against.
type Context struct {
	// HeadSHA is the commit under evaluation; empty when unknown.
	HeadSHA  string
	PRAuthor string
	// Permissions maps actor login to repo permission (read, triage, write, maintain, admin).
	Permissions map[string]string
}

// Decision is the outcome of candidate selection.
type Decision struct {
	Override *models.Override          `json:"override"`
	Policy   models.Policy             `json:"policy"`
	Rejected []models.RejectedOverride `json:"rejected,omitempty"`
}

var (
	shaToken   = regexp.MustCompile(`(?i)\bsha\s*=\s*(\S+)`)
	reasonLine = regexp.MustCompile(`(?im)^\s*reason\s*[:=]\s*(.+?)\s*$`)
)

// ParseCandidates accepts either one comment object or an ordered array of them.
func ParseCandidates(data []byte) ([]Candidate, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var list []Candidate
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("parse override candidates: %w", err)
		}
		return list, nil
	}
	var one Candidate
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, fmt.Errorf("parse override candidate: %w", err)
	}
	return []Candidate{one}, nil
}

// Resolve fills SHA, Reason and Actor from the body where the explicit fields are empty.
func (c Candidate) Resolve() models.Override {
	o := models.Override{
		Actor:  strings.TrimSpace(c.Actor),
		SHA:    strings.TrimSpace(c.SHA),
		Reason: strings.TrimSpace(c.Reason),
	}
	if o.Actor == "" {
		o.Actor = UnknownActor
	}
	if c.Body == "" || (o.SHA != "" && o.Reason != "") {
		return o
	}

	bodySHA, bodyReason := parseBody(c.Body)
	if o.SHA == "" {
		o.SHA = bodySHA
	}
	if o.Reason == "" {
		o.Reason = bodyReason
	}
	return o
}

// parseBody extracts a sha=<hash> token and the reason that follows it.
func parseBody(body string) (sha, reason string) {
	if m := reasonLine.FindStringSubmatch(body); m != nil {
		reason = m[1]
	}

	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	for i, line := range lines {
		loc := shaToken.FindStringSubmatchIndex(line)
		if loc == nil {
			continue
		}
		sha = line[loc[2]:loc[3]]
		if reason != "" {
			return sha, reason
		}
		for _, next := range lines[i+1:] {
			if t := strings.TrimSpace(next); t != "" {
				return sha, t
			}
		}
		return sha, strings.TrimSpace(line[loc[1]:])
	}
	return "", reason
}

// WellFormed checks the sha and reason of a resolved override.
func WellFormed(o models.Override, headSHA string) error {
	if len(o.SHA) < MinSHALength {
		return fmt.Errorf("sha %q is shorter than %d characters", o.SHA, MinSHALength)
	}
	if headSHA != "" && !strings.HasPrefix(headSHA, o.SHA) {
		return fmt.Errorf("sha %s does not match evaluated commit %s", o.SHA, headSHA)
	}
	if o.Reason == "" {
		return fmt.Errorf("reason is empty")
	}
	return nil
}

// Authorize reports whether actor passes policy.
func Authorize(actor string, policy models.Policy, ctx Context) error {
	switch policy {
	case models.PolicyPRAuthor:
		if ctx.PRAuthor == "" || !strings.EqualFold(actor, ctx.PRAuthor) {
			return fmt.Errorf("%s is not the PR author", actor)
		}
		return nil
	case models.PolicyWriteAccess:
		return requirePermission(actor, ctx, "write", "maintain", "admin")
	case models.PolicyMaintainersOnly:
		return requirePermission(actor, ctx, "maintain", "admin")
	default:
		return fmt.Errorf("unknown override policy %q", policy)
	}
}

func requirePermission(actor string, ctx Context, allowed ...string) error {
	perm := lookupPermission(ctx.Permissions, actor)
	for _, a := range allowed {
		if perm == a {
			return nil
		}
	}
	if perm == "" {
		perm = "none"
	}
	return fmt.Errorf("%s has %s permission, needs one of %s", actor, perm, strings.Join(allowed, "/"))
}

func lookupPermission(perms map[string]string, actor string) string {
	if p, ok := perms[actor]; ok {
		return strings.ToLower(strings.TrimSpace(p))
	}
	for k, p := range perms {
		if strings.EqualFold(k, actor) {
			return strings.ToLower(strings.TrimSpace(p))
		}
	}
	return ""
}

// Select accepts the first well-formed candidate whose actor passes policy.
// Candidates are considered in the order given; every rejection is recorded.
func Select(candidates []Candidate, policy models.Policy, ctx Context) Decision {
	d := Decision{Policy: policy}
	for _, c := range candidates {
		o := c.Resolve()
		if err := WellFormed(o, ctx.HeadSHA); err != nil {
			d.Rejected = append(d.Rejected, models.RejectedOverride{Actor: o.Actor, SHA: o.SHA, Reason: err.Error()})
			continue
		}
		if err := Authorize(o.Actor, policy, ctx); err != nil {
			d.Rejected = append(d.Rejected, models.RejectedOverride{Actor: o.Actor, SHA: o.SHA, Reason: err.Error()})
			continue
		}
		accepted := o
		d.Override = &accepted
		return d
	}
	return d
}

// EffectivePolicy is the strictest policy guarding any failing review, falling back
// to global for reviewers without their own policy. Reviewer ids match case-insensitively.
func EffectivePolicy(failing []models.Review, perReviewer map[string]models.Policy, global models.Policy) models.Policy {
	if len(failing) == 0 {
		return global
	}
	folded := make(map[string]models.Policy, len(perReviewer))
	for id, p := range perReviewer {
		folded[models.FoldKey(id)] = p
	}
	var eff models.Policy
	for i, r := range failing {
		p, ok := folded[models.FoldKey(r.Reviewer)]
		if !ok || p == "" {
			p = global
		}
		if i == 0 {
			eff = p
			continue
		}
		eff = eff.Stricter(p)
	}
	return eff
}
