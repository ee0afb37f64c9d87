package wave

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/verdict/internal/models"
)

func testConfig() models.WaveConfig {
	return models.WaveConfig{
		Enabled: true,
		Order:   []string{"wave1", "wave2", "wave3"},
		Reviewers: map[string][]string{
			"wave1": {"security", "style"},
			"wave2": {"architecture"},
			"wave3": {"deep"},
		},
		MaxDepth: map[string]int{"low": 1, "medium": 2, "high": 0},
		Gate:     models.GateRule{BlockOnCritical: true, BlockOnMajor: true, BlockOnSkip: true, SkipTolerance: 1},
	}
}

func writeWaveArtifact(t *testing.T, root, wave, reviewer, content string) string {
	t.Helper()
	dir := filepath.Join(root, wave)
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, reviewer+".json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const passArtifact = `{"verdict":"PASS","confidence":0.9,"summary":"ok","findings":[],"stats":{"critical":0,"major":0,"minor":0,"info":0}}`

func TestEvaluate_MajorFindingBlocks(t *testing.T) {
	root := t.TempDir()
	f := writeWaveArtifact(t, root, "wave1", "style",
		`{"verdict":"WARN","confidence":0.9,"summary":"one major","findings":[],"stats":{"critical":0,"major":1,"minor":0,"info":0}}`)

	cfg := testConfig()
	cfg.Gate = models.GateRule{BlockOnMajor: true}
	res, err := NewGate(cfg, nil).Evaluate("wave1", "high", []string{f})
	require.NoError(t, err)

	assert.False(t, res.Escalate)
	assert.True(t, res.Blocking)
	assert.Contains(t, res.Reason, ReasonMajor)
	assert.Equal(t, 1, res.Stats.Major)
	assert.Equal(t, 1, res.Stats.Warn)
}

func TestEvaluate_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	res, err := NewGate(cfg, nil).Evaluate("nonexistent", "low", nil)
	require.NoError(t, err)
	assert.False(t, res.Escalate)
	assert.Equal(t, ReasonDisabled, res.Reason)
}

func TestEvaluate_UnknownWaveIsConfigError(t *testing.T) {
	_, err := NewGate(testConfig(), nil).Evaluate("wave9", "low", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownWave))
}

func TestEvaluate_CollectsAllReasons(t *testing.T) {
	root := t.TempDir()
	files := []string{
		writeWaveArtifact(t, root, "wave1", "security",
			`{"verdict":"FAIL","confidence":0.9,"summary":"bad","stats":{"critical":1,"major":1}}`),
		writeWaveArtifact(t, root, "wave1", "broken", `{"verdict":`),
		writeWaveArtifact(t, root, "wave1", "s1", `{"verdict":"SKIP","confidence":0,"summary":"timeout"}`),
		writeWaveArtifact(t, root, "wave1", "s2", `{"verdict":"SKIP","confidence":0,"summary":"timeout"}`),
	}

	res, err := NewGate(testConfig(), nil).Evaluate("wave1", "high", files)
	require.NoError(t, err)
	assert.True(t, res.Blocking)
	assert.False(t, res.Escalate)
	assert.Equal(t, "malformed_artifacts,critical_findings,major_findings,skip_tolerance_exceeded", res.Reason)
	assert.Equal(t, 3, res.Stats.Total)
	assert.Equal(t, 1, res.Stats.Malformed)
	require.Len(t, res.SkippedArtifacts, 1)
}

func TestEvaluate_NoValidVerdicts(t *testing.T) {
	res, err := NewGate(testConfig(), nil).Evaluate("wave1", "high", nil)
	require.NoError(t, err)
	assert.True(t, res.Blocking)
	assert.Equal(t, ReasonNoValid, res.Reason)
}

func TestEvaluate_LowConfidenceFindingsIgnored(t *testing.T) {
	root := t.TempDir()
	f := writeWaveArtifact(t, root, "wave1", "unsure",
		`{"verdict":"PASS","confidence":0.5,"summary":"maybe","stats":{"critical":2}}`)

	res, err := NewGate(testConfig(), nil).Evaluate("wave1", "high", []string{f})
	require.NoError(t, err)
	assert.False(t, res.Blocking)
	assert.Zero(t, res.Stats.Critical)
}

func TestEvaluate_Depth(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		wave     string
		tier     string
		escalate bool
		next     string
		reason   string
	}{
		{"wave1", "low", false, "", ReasonMaxWaveReached},
		{"wave1", "medium", true, "wave2", ReasonEscalate},
		{"wave2", "medium", false, "", ReasonMaxWaveReached},
		{"wave2", "high", true, "wave3", ReasonEscalate},
		{"wave3", "high", false, "", ReasonMaxWaveReached},
		{"wave1", "unlisted", true, "wave2", ReasonEscalate},
	}
	for _, tt := range tests {
		t.Run(tt.wave+"/"+tt.tier, func(t *testing.T) {
			f := writeWaveArtifact(t, root, tt.wave, "ok", passArtifact)
			res, err := NewGate(testConfig(), nil).Evaluate(tt.wave, tt.tier, []string{f})
			require.NoError(t, err)
			assert.False(t, res.Blocking)
			assert.Equal(t, tt.escalate, res.Escalate)
			assert.Equal(t, tt.next, res.NextWave)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestFiles_MissingWaveDir(t *testing.T) {
	files, err := Files(t.TempDir(), "wave2")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFiles_ListsWaveOnly(t *testing.T) {
	root := t.TempDir()
	a := writeWaveArtifact(t, root, "wave1", "a", passArtifact)
	writeWaveArtifact(t, root, "wave2", "b", passArtifact)

	files, err := Files(root, "wave1")
	require.NoError(t, err)
	assert.Equal(t, []string{a}, files)
}

func TestEvaluate_MissingReviewers(t *testing.T) {
	root := t.TempDir()
	f := writeWaveArtifact(t, root, "wave1", "security", passArtifact)

	res, err := NewGate(testConfig(), nil).Evaluate("wave1", "high", []string{f})
	require.NoError(t, err)
	assert.True(t, res.Escalate)
	assert.Equal(t, []string{"style"}, res.MissingReviewers)
}

func TestEvaluate_WaveAndTierCaseFolded(t *testing.T) {
	cfg := testConfig()
	cfg.Order = []string{"Wave1", "Wave2", "Wave3"}
	cfg.MaxDepth = map[string]int{"standard": 1}
	root := t.TempDir()
	f := writeWaveArtifact(t, root, "Wave1", "ok", passArtifact)

	res, err := NewGate(cfg, nil).Evaluate("Wave1", "Standard", []string{f})
	require.NoError(t, err)
	assert.False(t, res.Escalate)
	assert.Equal(t, ReasonMaxWaveReached, res.Reason)
}

func TestFiles_SkipsHidden(t *testing.T) {
	root := t.TempDir()
	a := writeWaveArtifact(t, root, "wave1", "a", passArtifact)
	writeWaveArtifact(t, root, "wave1", ".stale", `{"verdict":"FAIL","confidence":1,"summary":"x","stats":{"critical":1}}`)

	files, err := Files(root, "wave1")
	require.NoError(t, err)
	assert.Equal(t, []string{a}, files)
}
