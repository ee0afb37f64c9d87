package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/verdict/internal/models"
)

func input(raw string) Input {
	return Input{Raw: raw, Reviewer: "security", Perspective: "security"}
}

// requireConsistent checks the invariants every normalized review must hold.
func requireConsistent(t *testing.T, r models.Review) {
	t.Helper()
	assert.True(t, r.Verdict.Valid(), "verdict %q", r.Verdict)
	assert.GreaterOrEqual(t, r.Confidence, 0.0)
	assert.LessOrEqual(t, r.Confidence, 1.0)
	require.NotNil(t, r.Stats)
	want := models.ComputeStats(r.Findings, r.Stats.FilesReviewed)
	assert.Equal(t, want, *r.Stats)
}

const validReview = `{
  "reviewer": "security",
  "perspective": "security",
  "verdict": "PASS",
  "confidence": 0.9,
  "summary": "Looks fine",
  "findings": [],
  "stats": {"files_reviewed": 3, "files_with_issues": 0, "critical": 0, "major": 0, "minor": 0, "info": 0}
}`

func TestNormalize_ValidPass(t *testing.T) {
	r := Normalize(input(validReview))
	requireConsistent(t, r)
	assert.Equal(t, models.VerdictPass, r.Verdict)
	assert.Equal(t, 0.9, r.Confidence)
	assert.Equal(t, 3, r.Stats.FilesReviewed)
	assert.Empty(t, r.Normalization.StatsDiscrepancy)
	assert.Empty(t, r.Normalization.VerdictCorrectedFrom)
}

func TestNormalize_LastFencedBlockWins(t *testing.T) {
	raw := "Draft:\n```json\n{\"verdict\": \"FAIL\"}\n```\nFinal answer:\n```json\n" + validReview + "\n```\n"
	r := Normalize(input(raw))
	requireConsistent(t, r)
	assert.Equal(t, models.VerdictPass, r.Verdict)
	assert.Equal(t, "Looks fine", r.Summary)
}

func TestNormalize_BackfillsReviewerAndPerspective(t *testing.T) {
	raw := `{"verdict":"PASS","confidence":0.8,"summary":"ok","findings":[],"stats":{}}`
	r := Normalize(Input{Raw: raw, Reviewer: "perf", Perspective: "performance"})
	requireConsistent(t, r)
	assert.Equal(t, "perf", r.Reviewer)
	assert.Equal(t, "performance", r.Perspective)
	assert.Equal(t, models.VerdictPass, r.Verdict)
}

func TestNormalize_Timeout(t *testing.T) {
	r := Normalize(input("REVIEW_TIMEOUT elapsed=600s model=gpt-x stage=analysis\n{\"verdict\":\"PASS\"}"))
	requireConsistent(t, r)
	assert.Equal(t, models.VerdictSkip, r.Verdict)
	assert.Equal(t, 0.0, r.Confidence)
	require.Len(t, r.Findings, 1)
	assert.Equal(t, models.SeverityInfo, r.Findings[0].Severity)
	assert.Equal(t, "timeout", r.Findings[0].Category)
	assert.Contains(t, r.Findings[0].Description, "600")
	assert.Contains(t, r.Findings[0].Description, "model=gpt-x")
	require.NotNil(t, r.RuntimeSeconds)
	assert.Equal(t, 600.0, *r.RuntimeSeconds)
	assert.True(t, r.IsTimeout())
}

func TestNormalize_APIErrorPrefix(t *testing.T) {
	tests := []struct {
		detail string
		class  APIErrorClass
	}{
		{"401 invalid x-api-key", APIErrorKeyInvalid},
		{"Your credit balance is too low to access the API", APIErrorCreditsDepleted},
		{"429 Too Many Requests", APIErrorRateLimit},
		{"529 overloaded_error", APIErrorServiceUnavailable},
		{"something strange happened", APIErrorGeneric},
	}
	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			r := Normalize(input(APIErrorPrefix + " " + tt.detail))
			requireConsistent(t, r)
			assert.Equal(t, models.VerdictSkip, r.Verdict)
			require.Len(t, r.Findings, 1)
			assert.Equal(t, models.SeverityInfo, r.Findings[0].Severity)
			assert.Equal(t, Remediation(tt.class), r.Findings[0].Suggestion)
			assert.Equal(t, string(tt.class), r.Normalization.APIErrorClass)
			assert.Contains(t, r.Findings[0].Description, tt.detail)
		})
	}
}

func TestNormalize_APIErrorHeuristic(t *testing.T) {
	r := Normalize(input(`Error: HTTP 429 - rate limit exceeded, please slow down`))
	assert.Equal(t, models.VerdictSkip, r.Verdict)
	assert.Equal(t, string(APIErrorRateLimit), r.Normalization.APIErrorClass)
}

func TestNormalize_APIErrorHeuristicIgnoresVerdictJSON(t *testing.T) {
	raw := `{"reviewer":"security","perspective":"security","verdict":"WARN","confidence":0.9,
"summary":"handler returns status code 500 on bad input","findings":[
{"severity":"major","category":"errors","file":"api.go","line":12,"title":"500 on bad input","description":"should be 400"}],
"stats":{"major":1}}`
	r := Normalize(input(raw))
	requireConsistent(t, r)
	assert.Equal(t, models.VerdictWarn, r.Verdict)
	assert.Empty(t, r.Normalization.APIErrorClass)
}

func TestNormalize_InvalidJSONShort(t *testing.T) {
	r := Normalize(input("```json\n{not json\n```"))
	requireConsistent(t, r)
	assert.Equal(t, models.VerdictSkip, r.Verdict)
	assert.Equal(t, 0.0, r.Confidence)
	assert.Contains(t, r.Summary, models.ParseFailureMarker)
	assert.True(t, r.IsParseFailure())
	assert.NotEmpty(t, r.Normalization.ParseError)
}

func TestNormalize_EmptyOutput(t *testing.T) {
	r := Normalize(input(""))
	requireConsistent(t, r)
	assert.Equal(t, models.VerdictSkip, r.Verdict)
	assert.Equal(t, models.SkipCauseUnparseable, r.Normalization.SkipCause)
}

func TestNormalize_Scratchpad(t *testing.T) {
	raw := "## Analysis\nLooked at the handler.\n## Findings\nMaybe an issue."
	in := input(raw)
	in.RawOutputPath = "/tmp/raw/security.txt"
	r := Normalize(in)
	requireConsistent(t, r)
	assert.Equal(t, models.VerdictSkip, r.Verdict)
	assert.Equal(t, 0.3, r.Confidence)
	assert.Contains(t, r.Summary, "/tmp/raw/security.txt")
	assert.Equal(t, raw, r.RawReview)
}

func TestNormalize_LongProseWarns(t *testing.T) {
	raw := strings.Repeat("The change looks mostly reasonable but I am unsure. ", 20)
	r := Normalize(input(raw))
	requireConsistent(t, r)
	assert.Equal(t, models.VerdictWarn, r.Verdict)
	assert.Equal(t, 0.3, r.Confidence)
	assert.Equal(t, models.SkipCauseUnstructured, r.Normalization.SkipCause)
}

func TestNormalize_MissingRequiredFieldFallsThrough(t *testing.T) {
	r := Normalize(input(`{"verdict":"PASS","confidence":0.9,"findings":[],"stats":{}}`))
	assert.Equal(t, models.VerdictSkip, r.Verdict)
	assert.Contains(t, r.Normalization.ParseError, "summary")
}

func TestNormalize_ConfidenceOutOfRange(t *testing.T) {
	r := Normalize(input(`{"verdict":"PASS","confidence":85,"summary":"ok","findings":[],"stats":{}}`))
	assert.Equal(t, models.VerdictSkip, r.Verdict)
	assert.Contains(t, r.Normalization.ParseError, "confidence")
}

func TestNormalize_UnknownVerdictFallsThrough(t *testing.T) {
	r := Normalize(input(`{"verdict":"MAYBE","confidence":0.9,"summary":"ok","findings":[],"stats":{}}`))
	assert.Equal(t, models.VerdictSkip, r.Verdict)
}

func TestNormalize_StatsCorrected(t *testing.T) {
	raw := `{"verdict":"WARN","confidence":0.9,"summary":"s","findings":[
{"severity":"minor","category":"style","file":"a.go","line":1,"title":"t","description":"d"},
{"severity":"minor","category":"naming","file":"b.go","line":"7","title":"t","description":"d"}],
"stats":{"files_reviewed":1,"files_with_issues":5,"critical":3,"minor":2}}`
	r := Normalize(input(raw))
	requireConsistent(t, r)
	assert.Equal(t, 2, r.Stats.Minor)
	assert.Equal(t, 0, r.Stats.Critical)
	assert.Equal(t, 2, r.Stats.FilesWithIssues)
	assert.Equal(t, 2, r.Stats.FilesReviewed)
	assert.Equal(t, models.StatDiscrepancy{Reported: 3, Actual: 0}, r.Normalization.StatsDiscrepancy["critical"])
	assert.Equal(t, models.StatDiscrepancy{Reported: 5, Actual: 2}, r.Normalization.StatsDiscrepancy["files_with_issues"])
	assert.NotContains(t, r.Normalization.StatsDiscrepancy, "minor")
	assert.Equal(t, 7, r.Findings[1].Line)
	assert.Equal(t, "", r.Findings[0].Suggestion)
}

func TestNormalize_DropsInvalidFindings(t *testing.T) {
	raw := `{"verdict":"FAIL","confidence":0.9,"summary":"s","findings":[
{"severity":"critical","category":"sec","file":"a.go","line":"near the top","title":"t","description":"d"},
{"severity":"blocker","category":"sec","file":"a.go","line":3,"title":"t","description":"d"},
{"severity":"minor","category":"sec","file":"a.go","line":4.0,"title":"t","description":"d"},
"not an object"],
"stats":{}}`
	r := Normalize(input(raw))
	requireConsistent(t, r)
	require.Len(t, r.Findings, 1)
	assert.Equal(t, 4, r.Findings[0].Line)
	require.Len(t, r.Normalization.DroppedFindings, 3)
	assert.Equal(t, 0, r.Normalization.DroppedFindings[0].Index)
	assert.Contains(t, r.Normalization.DroppedFindings[0].Reason, "line")
	assert.Contains(t, r.Normalization.DroppedFindings[1].Reason, "severity")
	// The only surviving finding is minor, so the self-reported FAIL is corrected.
	assert.Equal(t, models.VerdictPass, r.Verdict)
	assert.Equal(t, models.VerdictFail, r.Normalization.VerdictCorrectedFrom)
}

func TestNormalize_VerdictConsistency(t *testing.T) {
	finding := func(sev, cat string) string {
		return `{"severity":"` + sev + `","category":"` + cat + `","file":"x.go","line":1,"title":"t","description":"d"}`
	}
	build := func(verdict string, conf string, findings ...string) string {
		return `{"verdict":"` + verdict + `","confidence":` + conf + `,"summary":"s","findings":[` +
			strings.Join(findings, ",") + `],"stats":{}}`
	}

	tests := []struct {
		name string
		raw  string
		want models.Verdict
	}{
		{"critical fails", build("PASS", "0.9", finding("critical", "sec")), models.VerdictFail},
		{"two majors fail", build("WARN", "0.9", finding("major", "a"), finding("major", "b")), models.VerdictFail},
		{"one major warns", build("PASS", "0.9", finding("major", "a")), models.VerdictWarn},
		{"five minors warn", build("PASS", "0.9", finding("minor", "a"), finding("minor", "b"), finding("minor", "c"), finding("minor", "d"), finding("minor", "e")), models.VerdictWarn},
		{"three minors same category warn", build("PASS", "0.9", finding("minor", "Style"), finding("minor", "style"), finding("minor", "style ")), models.VerdictWarn},
		{"three minors mixed categories pass", build("WARN", "0.9", finding("minor", "a"), finding("minor", "b"), finding("minor", "c")), models.VerdictPass},
		{"info only passes", build("FAIL", "0.9", finding("info", "a")), models.VerdictPass},
		{"low confidence ignores critical", build("FAIL", "0.5", finding("critical", "sec")), models.VerdictPass},
		{"skip is kept", build("SKIP", "0.9", finding("critical", "sec")), models.VerdictSkip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Normalize(input(tt.raw))
			requireConsistent(t, r)
			assert.Equal(t, tt.want, r.Verdict)
		})
	}
}

func TestNormalize_LowConfidenceKeepsFindingsForDisplay(t *testing.T) {
	raw := `{"verdict":"FAIL","confidence":0.4,"summary":"s","findings":[
{"severity":"critical","category":"sec","file":"a.go","line":1,"title":"t","description":"d"}],"stats":{}}`
	r := Normalize(input(raw))
	assert.Equal(t, models.VerdictPass, r.Verdict)
	require.Len(t, r.Findings, 1)
	assert.Equal(t, 1, r.Stats.Critical)
}

func TestNormalize_StaleKnowledgeDemotion(t *testing.T) {
	raw := `{"verdict":"FAIL","confidence":0.9,"summary":"s","findings":[
{"severity":"critical","category":"deps","file":"go.mod","line":3,"title":"Go 1.24 does not exist","description":"The go directive names a version that is not yet released."},
{"severity":"major","category":"bug","file":"main.go","line":9,"title":"Handler does not exist","description":"The route references a handler that does not exist in go code."}],
"stats":{"critical":1,"major":1}}`
	r := Normalize(input(raw))
	requireConsistent(t, r)
	assert.Equal(t, 1, r.Normalization.StaleDemotions)

	var demoted, kept *models.Finding
	for i := range r.Findings {
		if r.Findings[i].StaleKnowledge {
			demoted = &r.Findings[i]
		} else {
			kept = &r.Findings[i]
		}
	}
	require.NotNil(t, demoted)
	require.NotNil(t, kept)
	assert.Equal(t, models.SeverityInfo, demoted.Severity)
	assert.Equal(t, models.SeverityCritical, demoted.OriginalSeverity)
	assert.Equal(t, models.SeverityMajor, kept.Severity)
	assert.Equal(t, 0, r.Stats.Critical)
	assert.Equal(t, 1, r.Stats.Info)
	assert.Equal(t, models.VerdictWarn, r.Verdict)
}

func TestNormalize_FindingsSortedBySeverity(t *testing.T) {
	raw := `{"verdict":"FAIL","confidence":0.9,"summary":"s","findings":[
{"severity":"info","category":"a","file":"a.go","line":1,"title":"i","description":"d"},
{"severity":"critical","category":"a","file":"a.go","line":2,"title":"c","description":"d"},
{"severity":"minor","category":"a","file":"a.go","line":3,"title":"m","description":"d"}],"stats":{}}`
	r := Normalize(input(raw))
	require.Len(t, r.Findings, 3)
	assert.Equal(t, models.SeverityCritical, r.Findings[0].Severity)
	assert.Equal(t, models.SeverityMinor, r.Findings[1].Severity)
	assert.Equal(t, models.SeverityInfo, r.Findings[2].Severity)
}

func TestNormalize_ModelMetadata(t *testing.T) {
	raw := `{"verdict":"PASS","confidence":0.9,"summary":"s","findings":[],"stats":{},
"model_used":"fallback-model","primary_model":"primary-model","fallback_used":true,"model_wave":"wave2","runtime_seconds":42.5}`
	r := Normalize(input(raw))
	assert.Equal(t, "fallback-model", r.ModelUsed)
	assert.Equal(t, "primary-model", r.PrimaryModel)
	assert.True(t, r.FallbackUsed)
	assert.Equal(t, "wave2", r.ModelWave)
	require.NotNil(t, r.RuntimeSeconds)
	assert.Equal(t, 42.5, *r.RuntimeSeconds)
}
