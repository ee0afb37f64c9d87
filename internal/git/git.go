package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// Client defines the local git operations verdict needs.
type Client interface {
	RepoRoot(path string) (string, error)
	HeadSHA(path string) (string, error)
	RemoteURL(path string) (string, error)
	Diff(path, base, head string) (string, error)
	DiffNameOnly(path, base, head string) ([]string, error)
}

// RealClient implements Client using real git commands.
type RealClient struct{}

// NewClient returns a new RealClient.
func NewClient() *RealClient {
	return &RealClient{}
}

func gitCmd(path string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.Command("git", fullArgs...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *RealClient) RepoRoot(path string) (string, error) {
	return gitCmd(path, "rev-parse", "--show-toplevel")
}

// HeadSHA returns the full sha of HEAD, the commit overrides are checked against.
func (c *RealClient) HeadSHA(path string) (string, error) {
	return gitCmd(path, "rev-parse", "HEAD")
}

func (c *RealClient) RemoteURL(path string) (string, error) {
	out, err := gitCmd(path, "remote", "get-url", "origin")
	if err != nil {
		return "", nil // no remote is not an error
	}
	return out, nil
}

// Diff returns the three-dot diff between base and head, the change set a reviewer sees.
func (c *RealClient) Diff(path, base, head string) (string, error) {
	return gitCmd(path, "diff", base+"..."+head)
}

func (c *RealClient) DiffNameOnly(path, base, head string) ([]string, error) {
	out, err := gitCmd(path, "diff", "--name-only", base+"..."+head)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// ExtractOwnerRepo parses a GitHub remote URL and returns owner/repo.
func ExtractOwnerRepo(remoteURL string) (owner, repo string, err error) {
	// Handle SSH: git@github.com:owner/repo.git
	if strings.HasPrefix(remoteURL, "git@") {
		parts := strings.SplitN(remoteURL, ":", 2)
		if len(parts) != 2 {
			return "", "", fmt.Errorf("cannot parse SSH remote: %s", remoteURL)
		}
		path := strings.TrimSuffix(parts[1], ".git")
		segments := strings.SplitN(path, "/", 2)
		if len(segments) != 2 {
			return "", "", fmt.Errorf("cannot parse owner/repo from: %s", remoteURL)
		}
		return segments[0], segments[1], nil
	}

	// Handle HTTPS: https://github.com/owner/repo.git
	trimmed := strings.TrimSuffix(remoteURL, ".git")
	trimmed = strings.TrimPrefix(trimmed, "https://github.com/")
	trimmed = strings.TrimPrefix(trimmed, "http://github.com/")
	segments := strings.SplitN(trimmed, "/", 2)
	if len(segments) != 2 || segments[0] == "" || segments[1] == "" {
		return "", "", fmt.Errorf("cannot parse owner/repo from: %s", remoteURL)
	}
	return segments[0], segments[1], nil
}

// RepoSlug returns "owner/repo" for the origin remote of path, or "" when it cannot be derived.
func RepoSlug(c Client, path string) string {
	url, err := c.RemoteURL(path)
	if err != nil || url == "" {
		return ""
	}
	owner, repo, err := ExtractOwnerRepo(url)
	if err != nil {
		return ""
	}
	return owner + "/" + repo
}
