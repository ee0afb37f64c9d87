package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/verdict/internal/models"
)

func normalizeEnv(t *testing.T) (string, *bytes.Buffer) {
	t.Helper()
	dir, out := cmdEnv(t)
	normalizeReviewer = "security"
	normalizePerspective = ""
	normalizeInput = "-"
	normalizeOut = ""
	normalizeRawOut = ""
	return dir, out
}

func TestNormalizeRun_StdinToFile(t *testing.T) {
	dir, _ := normalizeEnv(t)
	normalizeOut = filepath.Join(dir, "artifacts", "security.json")
	normalizeRawOut = filepath.Join(dir, "raw", "security.txt")

	require.NoError(t, normalizeRun(strings.NewReader("```json\n"+failArtifact+"\n```")))

	data, err := os.ReadFile(normalizeOut)
	require.NoError(t, err)
	var review models.Review
	require.NoError(t, json.Unmarshal(data, &review))
	assert.Equal(t, models.VerdictFail, review.Verdict)
	require.NotNil(t, review.Stats)
	assert.Equal(t, 1, review.Stats.Critical)

	raw, err := os.ReadFile(normalizeRawOut)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "SQL injection")
}

func TestNormalizeRun_GarbageBecomesDiagnostic(t *testing.T) {
	_, out := normalizeEnv(t)

	require.NoError(t, normalizeRun(strings.NewReader("I could not finish the review")))

	var review models.Review
	require.NoError(t, json.Unmarshal(out.Bytes(), &review))
	assert.Equal(t, models.VerdictSkip, review.Verdict)
	assert.Equal(t, "security", review.Reviewer)
}

func TestNormalizeRun_ConfiguredPerspective(t *testing.T) {
	_, out := normalizeEnv(t)
	testSetConfig(t, "reviewers", map[string]any{"security": map[string]any{"perspective": "injection flaws"}})

	require.NoError(t, normalizeRun(strings.NewReader(passArtifact)))

	var review models.Review
	require.NoError(t, json.Unmarshal(out.Bytes(), &review))
	assert.Equal(t, "injection flaws", review.Perspective)
}

func TestReadInput_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	got, err := readInput(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	_, err = readInput(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)
}

func TestNormalizeRun_FlagPerspectiveWins(t *testing.T) {
	_, out := normalizeEnv(t)
	testSetConfig(t, "reviewers", map[string]any{"security": map[string]any{"perspective": "injection flaws"}})
	normalizePerspective = "secrets handling"

	require.NoError(t, normalizeRun(strings.NewReader(passArtifact)))

	var review models.Review
	require.NoError(t, json.Unmarshal(out.Bytes(), &review))
	assert.Equal(t, "secrets handling", review.Perspective)
}
