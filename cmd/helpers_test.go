package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/verdict/internal/git"
)

const testHeadSHA = "0123456789abcdef0123456789abcdef01234567"

const (
	passArtifact = `{"reviewer":"style","verdict":"PASS","confidence":0.9,"summary":"ok","findings":[],"stats":{"critical":0,"major":0,"minor":0,"info":0}}`
	failArtifact = `{"reviewer":"security","verdict":"FAIL","confidence":0.9,"summary":"sql injection",
		"findings":[{"severity":"critical","category":"security","file":"db.go","line":10,"title":"SQL injection","description":"query built from input"}],
		"stats":{"critical":1,"major":0,"minor":0,"info":0}}`
)

// stubGit is a git.Client that never shells out.
type stubGit struct {
	head   string
	remote string
	diff   string
}

func (s stubGit) RepoRoot(string) (string, error) { return "/repo", nil }
func (s stubGit) HeadSHA(string) (string, error) {
	if s.head == "" {
		return "", errors.New("not a git repository")
	}
	return s.head, nil
}
func (s stubGit) RemoteURL(string) (string, error)            { return s.remote, nil }
func (s stubGit) Diff(string, string, string) (string, error) { return s.diff, nil }
func (s stubGit) DiffNameOnly(string, string, string) ([]string, error) {
	return []string{"db.go"}, nil
}

// stubGitHub returns a fixed PR context.
type stubGitHub struct {
	pc  *git.PRContext
	err error
}

func (s stubGitHub) PRContext(_ context.Context, owner, repo string, number int, _ string) (*git.PRContext, error) {
	if s.err != nil {
		return nil, s.err
	}
	pc := *s.pc
	pc.Owner, pc.Repo, pc.Number = owner, repo, number
	return &pc, nil
}

// cmdEnv extends testEnv with captured output and stubbed git.
func cmdEnv(t *testing.T) (dir string, out *bytes.Buffer) {
	t.Helper()
	dir = testEnv(t)

	out = &bytes.Buffer{}
	ui.Out = out
	ui.ErrOut = &bytes.Buffer{}

	origGit, origGH := gitClient, newGitHubClient
	gitClient = stubGit{head: testHeadSHA, remote: "git@github.com:o/r.git"}
	t.Cleanup(func() {
		gitClient = origGit
		newGitHubClient = origGH
	})
	return dir, out
}

func writeArtifactFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// testSetConfig overrides one config key for the current test.
func testSetConfig(t *testing.T, key string, value any) {
	t.Helper()
	viper.Set(key, value)
}
