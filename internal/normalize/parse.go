package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/joescharf/verdict/internal/models"
)

var fencedJSON = regexp.MustCompile("(?s)```json[ \\t]*\\r?\\n(.*?)```")

// extractJSON returns the last fenced json block, or the whole text when it is a JSON object.
func extractJSON(raw string) (string, bool) {
	if blocks := fencedJSON.FindAllStringSubmatch(raw, -1); len(blocks) > 0 {
		return strings.TrimSpace(blocks[len(blocks)-1][1]), true
	}
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") {
		if _, err := decodeObject(trimmed); err == nil {
			return trimmed, true
		}
	}
	return "", false
}

func decodeObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("JSON is not an object")
	}
	return obj, nil
}

// hasVerdictJSON reports whether any JSON candidate in raw is an object carrying a verdict.
func hasVerdictJSON(raw string) bool {
	candidates := []string{strings.TrimSpace(raw)}
	for _, m := range fencedJSON.FindAllStringSubmatch(raw, -1) {
		candidates = append(candidates, m[1])
	}
	for _, c := range candidates {
		if obj, err := decodeObject(c); err == nil {
			if _, ok := obj["verdict"]; ok {
				return true
			}
		}
	}
	return false
}

// parseReview validates a decoded reviewer object and derives every trusted field.
func parseReview(candidate string, in Input) (models.Review, error) {
	obj, err := decodeObject(candidate)
	if err != nil {
		return models.Review{}, err
	}

	r := models.Review{Normalization: &models.Normalization{}}

	r.Reviewer, err = optionalString(obj, "reviewer")
	if err != nil {
		return r, err
	}
	if r.Reviewer == "" {
		r.Reviewer = in.Reviewer
	}
	r.Perspective, err = optionalString(obj, "perspective")
	if err != nil {
		return r, err
	}
	if r.Perspective == "" {
		r.Perspective = in.Perspective
	}
	if r.Reviewer == "" {
		return r, fmt.Errorf("missing field: reviewer")
	}
	if r.Perspective == "" {
		return r, fmt.Errorf("missing field: perspective")
	}

	vs, err := requiredString(obj, "verdict")
	if err != nil {
		return r, err
	}
	v, ok := models.ParseVerdict(strings.ToUpper(strings.TrimSpace(vs)))
	if !ok {
		return r, fmt.Errorf("verdict %q is not one of PASS, WARN, FAIL, SKIP", vs)
	}
	r.Verdict = v

	conf, err := requiredNumber(obj, "confidence")
	if err != nil {
		return r, err
	}
	if math.IsNaN(conf) || conf < 0 || conf > 1 {
		return r, fmt.Errorf("confidence %v outside [0,1]", conf)
	}
	r.Confidence = conf

	if r.Summary, err = requiredString(obj, "summary"); err != nil {
		return r, err
	}

	rawFindings, ok := obj["findings"]
	if !ok {
		return r, fmt.Errorf("missing field: findings")
	}
	list, ok := rawFindings.([]any)
	if !ok {
		return r, fmt.Errorf("findings must be an array")
	}

	rawStats, ok := obj["stats"]
	if !ok {
		return r, fmt.Errorf("missing field: stats")
	}
	statsObj, ok := rawStats.(map[string]any)
	if !ok {
		return r, fmt.Errorf("stats must be an object")
	}
	reported := reportedStats(statsObj)

	r.Findings = make([]models.Finding, 0, len(list))
	for i, item := range list {
		f, err := parseFinding(item)
		if err != nil {
			r.Normalization.DroppedFindings = append(r.Normalization.DroppedFindings,
				models.DroppedFinding{Index: i, Reason: err.Error()})
			continue
		}
		r.Findings = append(r.Findings, f)
	}

	r.ModelUsed, _ = optionalString(obj, "model_used")
	r.PrimaryModel, _ = optionalString(obj, "primary_model")
	r.ModelWave, _ = optionalString(obj, "model_wave")
	if b, ok := obj["fallback_used"].(bool); ok {
		r.FallbackUsed = b
	}
	if n, err := requiredNumber(obj, "runtime_seconds"); err == nil && n >= 0 {
		r.RuntimeSeconds = &n
	}

	finalize(&r, reported)
	return r, nil
}

func parseFinding(item any) (models.Finding, error) {
	obj, ok := item.(map[string]any)
	if !ok {
		return models.Finding{}, fmt.Errorf("finding is not an object")
	}

	var f models.Finding
	sev, err := requiredString(obj, "severity")
	if err != nil {
		return f, err
	}
	if f.Severity, ok = models.ParseSeverity(sev); !ok {
		return f, fmt.Errorf("unknown severity %q", sev)
	}
	if f.Category, err = requiredString(obj, "category"); err != nil {
		return f, err
	}
	if f.File, err = requiredString(obj, "file"); err != nil {
		return f, err
	}
	rawLine, ok := obj["line"]
	if !ok {
		return f, fmt.Errorf("missing field: line")
	}
	if f.Line, err = coerceInt(rawLine); err != nil {
		return f, fmt.Errorf("line: %w", err)
	}
	if f.Title, err = requiredString(obj, "title"); err != nil {
		return f, err
	}
	if f.Description, err = requiredString(obj, "description"); err != nil {
		return f, err
	}
	f.Suggestion, _ = optionalString(obj, "suggestion")

	switch ev := obj["evidence"].(type) {
	case nil:
	case string:
		f.Evidence = ev
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(ev); err == nil {
			f.Evidence = strings.TrimSpace(buf.String())
		}
	}
	return f, nil
}

func reportedStats(obj map[string]any) models.Stats {
	get := func(k string) int {
		if v, ok := obj[k]; ok {
			if n, err := coerceInt(v); err == nil {
				return n
			}
		}
		return 0
	}
	return models.Stats{
		FilesReviewed:   get("files_reviewed"),
		FilesWithIssues: get("files_with_issues"),
		Critical:        get("critical"),
		Major:           get("major"),
		Minor:           get("minor"),
		Info:            get("info"),
	}
}

func requiredString(obj map[string]any, key string) (string, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return "", fmt.Errorf("missing field: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}

func optionalString(obj map[string]any, key string) (string, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return strings.TrimSpace(s), nil
}

func requiredNumber(obj map[string]any, key string) (float64, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing field: %s", key)
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("%s must be a number", key)
	}
	return n.Float64()
}

// coerceInt accepts integral JSON numbers and numeric strings.
func coerceInt(v any) (int, error) {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i), nil
		}
		f, err := t.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, fmt.Errorf("%v is not an integer", t)
		}
		return int(f), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", t)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
