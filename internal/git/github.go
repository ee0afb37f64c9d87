package git

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v69/github"

	"github.com/joescharf/verdict/internal/override"
)

// PRContext is everything override authorization needs to know about a pull request.
type PRContext struct {
	Owner      string
	Repo       string
	Number     int
	Author     string
	HeadSHA    string
	Candidates []override.Candidate
	// Permissions maps each candidate actor to their repo role.
	Permissions map[string]string
}

// OverrideContext converts the PR facts into the authorizer's input.
func (p *PRContext) OverrideContext() override.Context {
	return override.Context{HeadSHA: p.HeadSHA, PRAuthor: p.Author, Permissions: p.Permissions}
}

// GitHubClient fetches override candidates and PR facts.
type GitHubClient interface {
	PRContext(ctx context.Context, owner, repo string, number int, trigger string) (*PRContext, error)
}

// RealGitHubClient implements GitHubClient with the GitHub REST API.
type RealGitHubClient struct {
	client *github.Client
}

// NewGitHubClient returns a client authenticated with token; an empty token is anonymous.
func NewGitHubClient(token string) *RealGitHubClient {
	c := github.NewClient(nil)
	if token != "" {
		c = c.WithAuthToken(token)
	}
	return &RealGitHubClient{client: c}
}

// NewGitHubClientWithBaseURL points the client at another API root (GitHub Enterprise, tests).
func NewGitHubClientWithBaseURL(token, baseURL string) (*RealGitHubClient, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse GitHub base URL: %w", err)
	}
	c := NewGitHubClient(token)
	c.client.BaseURL = u
	return c, nil
}

// PRContext loads the PR author and head, every comment carrying trigger in
// chronological order, and the repo role of each commenter.
func (c *RealGitHubClient) PRContext(ctx context.Context, owner, repo string, number int, trigger string) (*PRContext, error) {
	pr, _, err := c.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("get pull request %s/%s#%d: %w", owner, repo, number, err)
	}

	out := &PRContext{
		Owner:       owner,
		Repo:        repo,
		Number:      number,
		Author:      pr.GetUser().GetLogin(),
		HeadSHA:     pr.GetHead().GetSHA(),
		Permissions: make(map[string]string),
	}

	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		comments, resp, err := c.client.Issues.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("list comments on %s/%s#%d: %w", owner, repo, number, err)
		}
		for _, cm := range comments {
			if !HasTrigger(cm.GetBody(), trigger) {
				continue
			}
			out.Candidates = append(out.Candidates, override.Candidate{
				Actor: cm.GetUser().GetLogin(),
				Body:  cm.GetBody(),
			})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	for _, cand := range out.Candidates {
		if cand.Actor == "" {
			continue
		}
		if _, done := out.Permissions[cand.Actor]; done {
			continue
		}
		level, _, err := c.client.Repositories.GetPermissionLevel(ctx, owner, repo, cand.Actor)
		if err != nil {
			// Unknown permission; the authorizer treats it as none.
			out.Permissions[cand.Actor] = ""
			continue
		}
		out.Permissions[cand.Actor] = permissionRole(level)
	}
	return out, nil
}

// permissionRole prefers the fine-grained role (maintain, triage) over the legacy permission.
func permissionRole(level *github.RepositoryPermissionLevel) string {
	if role := level.GetRoleName(); role != "" {
		return role
	}
	return level.GetPermission()
}

// HasTrigger reports whether any line of body starts with trigger.
func HasTrigger(body, trigger string) bool {
	if trigger == "" {
		return false
	}
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), trigger) {
			return true
		}
	}
	return false
}
