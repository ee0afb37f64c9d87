package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/verdict/internal/models"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Valid(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.json", `{"reviewer":"a","verdict":"FAIL","confidence":0.8,"summary":"s","findings":[],"stats":{"critical":1}}`)

	r, err := NewLoader(0).Load(path)
	require.NoError(t, err)
	assert.Equal(t, models.VerdictFail, r.Verdict)
	require.NotNil(t, r.Stats)
	assert.Equal(t, 1, r.Stats.Critical)
}

func TestLoad_StatsWithoutBreakdownIsNil(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.json", `{"verdict":"FAIL","confidence":0.8,"summary":"s","stats":{"files_reviewed":2}}`)

	r, err := NewLoader(0).Load(path)
	require.NoError(t, err)
	assert.Nil(t, r.Stats)
}

func TestLoad_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		content string
		reason  string
	}{
		{"not json", `{oops`, "not a JSON object"},
		{"array", `[1,2]`, "not a JSON object"},
		{"missing summary", `{"verdict":"PASS","confidence":0.9}`, "summary"},
		{"missing verdict", `{"summary":"s","confidence":0.9}`, "verdict"},
		{"bad verdict", `{"verdict":"pass","confidence":0.9,"summary":"s"}`, "verdict"},
		{"confidence out of range", `{"verdict":"PASS","confidence":1.5,"summary":"s"}`, "confidence"},
		{"confidence wrong type", `{"verdict":"PASS","confidence":"high","summary":"s"}`, "confidence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "a.json", tt.content)
			_, err := NewLoader(0).Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestLoad_Oversized(t *testing.T) {
	dir := t.TempDir()
	content := `{"verdict":"PASS","confidence":0.9,"summary":"` + strings.Repeat("x", 200) + `"}`
	path := writeFile(t, dir, "big.json", content)

	_, err := NewLoader(100).Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestLoadAll_IsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.json", `{"verdict":"PASS","confidence":0.9,"summary":"s"}`)
	bad := writeFile(t, dir, "bad.json", `garbage`)
	missing := filepath.Join(dir, "missing.json")

	loaded, skipped := NewLoader(0).LoadAll([]string{good, bad, missing})
	require.Len(t, loaded, 1)
	assert.Equal(t, good, loaded[0].File)
	require.Len(t, skipped, 2)
	assert.Equal(t, bad, skipped[0].File)
	assert.Equal(t, missing, skipped[1].File)
	assert.Contains(t, skipped[1].Reason, "open")
}

func TestDiscover_RecursiveSorted(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "wave2/b.json", "{}")
	writeFile(t, dir, "wave1/a.json", "{}")
	writeFile(t, dir, "wave1/notes.txt", "x")

	files, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "wave1", "a.json"),
		filepath.Join(dir, "wave2", "b.json"),
	}, files)
}

func TestDiscover_SkipsHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", "{}")
	writeFile(t, dir, ".a.json", "{}")
	writeFile(t, dir, ".b.json.1234.tmp", "{}")

	files, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.json")}, files)
}

func TestDiscover_MissingDir(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestWriteJSON_AtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "council.json")

	require.NoError(t, WriteJSON(path, map[string]string{"verdict": "FAIL"}))
	require.NoError(t, WriteJSON(path, map[string]string{"verdict": "PASS"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]string
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "PASS", got["verdict"])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files should not be left behind")
}
