package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/joescharf/verdict/internal/models"
)

// DefaultMaxBytes is the default per-artifact size cap.
const DefaultMaxBytes int64 = 1 << 20

const reviewSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["verdict", "confidence", "summary"],
  "properties": {
    "reviewer": { "type": "string" },
    "perspective": { "type": "string" },
    "verdict": { "type": "string", "enum": ["PASS", "WARN", "FAIL", "SKIP"] },
    "confidence": { "type": "number", "minimum": 0, "maximum": 1 },
    "summary": { "type": "string" },
    "findings": { "type": ["array", "null"], "items": { "type": "object" } },
    "stats": { "type": ["object", "null"] }
  }
}`

var reviewSchemaLoader = gojsonschema.NewStringLoader(reviewSchemaJSON)

// Loaded is an artifact that passed the validation gate.
type Loaded struct {
	File   string
	Review models.Review
}

// Loader applies the validation gate to artifact files.
type Loader struct {
	MaxBytes int64
}

// NewLoader returns a Loader; a non-positive maxBytes selects DefaultMaxBytes.
func NewLoader(maxBytes int64) *Loader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Loader{MaxBytes: maxBytes}
}

// LoadAll validates every file independently. Failures are returned as skipped
// artifacts and never abort the batch.
func (l *Loader) LoadAll(files []string) ([]Loaded, []models.SkippedArtifact) {
	var loaded []Loaded
	var skipped []models.SkippedArtifact
	for _, f := range files {
		r, err := l.Load(f)
		if err != nil {
			skipped = append(skipped, models.SkippedArtifact{File: f, Reason: err.Error()})
			continue
		}
		loaded = append(loaded, Loaded{File: f, Review: r})
	}
	return loaded, skipped
}

// Load reads and validates one artifact file.
func (l *Loader) Load(path string) (models.Review, error) {
	var r models.Review

	fh, err := os.Open(path)
	if err != nil {
		return r, fmt.Errorf("open: %w", err)
	}
	defer fh.Close()

	info, err := fh.Stat()
	if err != nil {
		return r, fmt.Errorf("stat: %w", err)
	}
	if info.Size() > l.MaxBytes {
		return r, fmt.Errorf("file is %d bytes, exceeds limit of %d", info.Size(), l.MaxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(fh, l.MaxBytes+1))
	if err != nil {
		return r, fmt.Errorf("read: %w", err)
	}
	if int64(len(data)) > l.MaxBytes {
		return r, fmt.Errorf("file exceeds limit of %d bytes", l.MaxBytes)
	}

	return Validate(data)
}

// Validate applies the gate to raw artifact bytes.
func Validate(data []byte) (models.Review, error) {
	var r models.Review

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return r, fmt.Errorf("not a JSON object")
	}

	result, err := gojsonschema.Validate(reviewSchemaLoader, gojsonschema.NewGoLoader(obj))
	if err != nil {
		return r, fmt.Errorf("schema validation: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
		}
		sort.Strings(msgs)
		return r, fmt.Errorf("invalid artifact: %s", strings.Join(msgs, "; "))
	}

	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decode: %w", err)
	}
	if !hasStatsBreakdown(obj["stats"]) {
		r.Stats = nil
	}
	return r, nil
}

// hasStatsBreakdown reports whether stats carries at least one numeric severity count.
func hasStatsBreakdown(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	for _, sev := range models.Severities {
		if _, ok := m[string(sev)].(float64); ok {
			return true
		}
	}
	return false
}

// Discover returns every non-hidden *.json file under root, sorted for deterministic
// aggregation. Hidden files include in-flight temp files of atomic writes.
func Discover(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && !strings.HasPrefix(d.Name(), ".") && strings.EqualFold(filepath.Ext(path), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover artifacts in %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// WriteJSON replaces path atomically with the indented JSON encoding of v.
func WriteJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return WriteFile(path, buf.Bytes())
}

// WriteFile writes data to a temp file in the target directory and renames it over path,
// so readers never observe a partial document.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
