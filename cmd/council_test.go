package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/verdict/internal/council"
	"github.com/joescharf/verdict/internal/git"
	"github.com/joescharf/verdict/internal/models"
	"github.com/joescharf/verdict/internal/override"
	"github.com/joescharf/verdict/internal/store"
)

// councilEnv resets council flags and points them at a fresh artifacts dir.
func councilEnv(t *testing.T) (artifacts, outDir string) {
	t.Helper()
	dir, _ := cmdEnv(t)
	artifacts = filepath.Join(dir, "artifacts")
	outDir = filepath.Join(dir, "council")

	councilArtifacts = artifacts
	councilOut = ""
	councilOverrideFile = ""
	councilHeadSHA = ""
	councilPRAuthor = ""
	councilRepo = ""
	councilPR = 0
	councilPermissions = nil
	councilRecord = false
	councilWatch = false
	councilJSON = false
	councilStrict = false
	return artifacts, outDir
}

func readCouncilVerdict(t *testing.T, outDir string) models.CouncilVerdict {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(outDir, councilVerdictFile))
	require.NoError(t, err)
	var cv models.CouncilVerdict
	require.NoError(t, json.Unmarshal(data, &cv))
	return cv
}

func TestCouncilRun_WritesOutputs(t *testing.T) {
	artifacts, outDir := councilEnv(t)
	writeArtifactFile(t, filepath.Join(artifacts, "style.json"), passArtifact)

	require.NoError(t, councilRun(context.Background()))

	cv := readCouncilVerdict(t, outDir)
	assert.Equal(t, models.VerdictPass, cv.Verdict)
	assert.Equal(t, 1, cv.Stats.Total)

	data, err := os.ReadFile(filepath.Join(outDir, qualityReportFile))
	require.NoError(t, err)
	var rep council.QualityReport
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Equal(t, "o/r", rep.Meta.Repo)
	assert.Equal(t, testHeadSHA, rep.Meta.HeadSHA)
}

func TestCouncilRun_MissingArtifactsDirIsSkip(t *testing.T) {
	_, outDir := councilEnv(t)

	require.NoError(t, councilRun(context.Background()))
	assert.Equal(t, models.VerdictSkip, readCouncilVerdict(t, outDir).Verdict)
}

func TestCouncilRun_Strict(t *testing.T) {
	artifacts, _ := councilEnv(t)
	writeArtifactFile(t, filepath.Join(artifacts, "security.json"), failArtifact)
	councilStrict = true

	err := councilRun(context.Background())
	assert.True(t, errors.Is(err, errCouncilFailed))
}

func TestCouncilRun_OverrideFile(t *testing.T) {
	artifacts, outDir := councilEnv(t)
	writeArtifactFile(t, filepath.Join(artifacts, "security.json"), failArtifact)

	overrides := filepath.Join(t.TempDir(), "override.json")
	writeArtifactFile(t, overrides, `{"actor":"bob","sha":"0123456","reason":"false positive"}`)
	councilOverrideFile = overrides
	councilPermissions = map[string]string{"bob": "maintain"}

	require.NoError(t, councilRun(context.Background()))

	cv := readCouncilVerdict(t, outDir)
	assert.Equal(t, models.VerdictPass, cv.Verdict)
	assert.True(t, cv.Override.Used)
	assert.Equal(t, "bob", cv.Override.Actor)
	assert.Equal(t, models.PolicyWriteAccess, cv.Override.Policy)
}

func TestCouncilRun_GitHubPR(t *testing.T) {
	artifacts, outDir := councilEnv(t)
	writeArtifactFile(t, filepath.Join(artifacts, "security.json"), failArtifact)
	gitClient = stubGit{remote: "git@github.com:o/r.git"}

	newGitHubClient = func(string) git.GitHubClient {
		return stubGitHub{pc: &git.PRContext{
			Author:  "alice",
			HeadSHA: testHeadSHA,
			Candidates: []override.Candidate{
				{Actor: "eve", Body: "/override sha=0123456 trust me"},
				{Actor: "carol", Body: "/override sha=0123456789\nreason: flaky scanner"},
			},
			Permissions: map[string]string{"eve": "read", "carol": "admin"},
		}}
	}
	councilPR = 7

	require.NoError(t, councilRun(context.Background()))

	cv := readCouncilVerdict(t, outDir)
	assert.True(t, cv.Override.Used)
	assert.Equal(t, "carol", cv.Override.Actor)
	assert.Equal(t, "flaky scanner", cv.Override.Reason)
	require.Len(t, cv.Override.Rejected, 1)
	assert.Equal(t, "eve", cv.Override.Rejected[0].Actor)
}

func TestCouncilRun_GitHubErrorFallsBackToNoOverride(t *testing.T) {
	artifacts, outDir := councilEnv(t)
	writeArtifactFile(t, filepath.Join(artifacts, "security.json"), failArtifact)
	newGitHubClient = func(string) git.GitHubClient {
		return stubGitHub{err: errors.New("rate limited")}
	}
	councilPR = 7

	require.NoError(t, councilRun(context.Background()))
	assert.Equal(t, models.VerdictFail, readCouncilVerdict(t, outDir).Verdict)
}

func TestCouncilRun_GitHubPRNeedsRepo(t *testing.T) {
	councilEnv(t)
	gitClient = stubGit{}
	councilPR = 7

	err := councilRun(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--repo")
}

func TestCouncilRun_InvalidConfigIsFatal(t *testing.T) {
	councilEnv(t)
	councilArtifacts = t.TempDir()
	testSetConfig(t, "override.policy", "everyone")

	err := councilRun(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "override.policy")
}

func TestCouncilRun_Record(t *testing.T) {
	artifacts, _ := councilEnv(t)
	writeArtifactFile(t, filepath.Join(artifacts, "style.json"), passArtifact)
	councilRecord = true

	require.NoError(t, councilRun(context.Background()))

	s, err := getStore()
	require.NoError(t, err)
	runs, err := s.ListCouncilRuns(context.Background(), store.RunListFilter{Repo: "o/r"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.VerdictPass, runs[0].Verdict)
	assert.Equal(t, testHeadSHA, runs[0].HeadSHA)
}

func TestCouncilRun_DryRunWritesNothing(t *testing.T) {
	artifacts, outDir := councilEnv(t)
	writeArtifactFile(t, filepath.Join(artifacts, "style.json"), passArtifact)
	dryRun = true
	ui.DryRun = true
	t.Cleanup(func() { dryRun = false })

	require.NoError(t, councilRun(context.Background()))

	_, err := os.Stat(filepath.Join(outDir, councilVerdictFile))
	assert.True(t, os.IsNotExist(err))
}

func TestCouncilFiles_ExcludesOutputDir(t *testing.T) {
	root := t.TempDir()
	writeArtifactFile(t, filepath.Join(root, "wave1", "style.json"), passArtifact)
	writeArtifactFile(t, filepath.Join(root, "council", councilVerdictFile), "{}")
	writeArtifactFile(t, filepath.Join(root, "notes.md"), "x")

	files, err := councilFiles(root, filepath.Join(root, "council"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "wave1", "style.json")}, files)
}
