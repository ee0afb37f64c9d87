package models

import "strings"

// Severity ranks a finding. The zero value is not a valid severity.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
	SeverityInfo     Severity = "info"
)

// Severities lists every severity from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityMajor, SeverityMinor, SeverityInfo}

// ParseSeverity accepts any casing and surrounding whitespace.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityCritical:
		return SeverityCritical, true
	case SeverityMajor:
		return SeverityMajor, true
	case SeverityMinor:
		return SeverityMinor, true
	case SeverityInfo:
		return SeverityInfo, true
	default:
		return "", false
	}
}

// Rank orders severities for sorting and tie-breaks: critical=4 ... info=1, unknown=0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityMajor:
		return 3
	case SeverityMinor:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Verdict is the outcome of one reviewer or of the whole council.
type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictWarn Verdict = "WARN"
	VerdictFail Verdict = "FAIL"
	VerdictSkip Verdict = "SKIP"
)

// ParseVerdict is strict about casing: artifacts must carry the upper-case taxonomy value.
func ParseVerdict(s string) (Verdict, bool) {
	switch Verdict(s) {
	case VerdictPass, VerdictWarn, VerdictFail, VerdictSkip:
		return Verdict(s), true
	default:
		return "", false
	}
}

// Valid reports whether v is one of the four taxonomy values.
func (v Verdict) Valid() bool {
	_, ok := ParseVerdict(string(v))
	return ok
}

// Policy controls who may override a failing council.
type Policy string

const (
	PolicyPRAuthor        Policy = "pr_author"
	PolicyWriteAccess     Policy = "write_access"
	PolicyMaintainersOnly Policy = "maintainers_only"
)

// ParsePolicy returns false for unrecognized names.
func ParsePolicy(s string) (Policy, bool) {
	switch Policy(strings.TrimSpace(s)) {
	case PolicyPRAuthor:
		return PolicyPRAuthor, true
	case PolicyWriteAccess:
		return PolicyWriteAccess, true
	case PolicyMaintainersOnly:
		return PolicyMaintainersOnly, true
	default:
		return "", false
	}
}

// Strictness orders policies. Unknown policies are stricter than every known one
// because they reject every actor.
func (p Policy) Strictness() int {
	switch p {
	case PolicyPRAuthor:
		return 1
	case PolicyWriteAccess:
		return 2
	case PolicyMaintainersOnly:
		return 3
	default:
		return 4
	}
}

// Stricter returns whichever of p and q is stricter.
func (p Policy) Stricter(q Policy) Policy {
	if q.Strictness() > p.Strictness() {
		return q
	}
	return p
}

// ParseFailurePolicy decides how a council treats a FAIL produced by unparseable reviewer output.
type ParseFailurePolicy string

const (
	ParseFailureSkip ParseFailurePolicy = "skip"
	ParseFailureWarn ParseFailurePolicy = "warn"
	ParseFailureFail ParseFailurePolicy = "fail"
)

// ParseParseFailurePolicy returns false for unrecognized names.
func ParseParseFailurePolicy(s string) (ParseFailurePolicy, bool) {
	switch ParseFailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case ParseFailureSkip:
		return ParseFailureSkip, true
	case ParseFailureWarn:
		return ParseFailureWarn, true
	case ParseFailureFail:
		return ParseFailureFail, true
	default:
		return "", false
	}
}

// FoldKey is the canonical form of a configured map key (reviewer id, wave, tier).
// Viper lowercases map keys on load, so every lookup goes through FoldKey.
func FoldKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
