package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/verdict/internal/artifact"
	"github.com/joescharf/verdict/internal/config"
	"github.com/joescharf/verdict/internal/council"
	"github.com/joescharf/verdict/internal/normalize"
	"github.com/joescharf/verdict/internal/override"
	"github.com/joescharf/verdict/internal/store"
	"github.com/joescharf/verdict/internal/wave"
)

// Server exposes the verdict engine as MCP tools.
type Server struct {
	store   store.Store
	cfg     *config.Config
	version string
	log     *slog.Logger
}

// NewServer creates the MCP server wrapper. The store may be nil, in which case
// recording and history are unavailable.
func NewServer(s store.Store, cfg *config.Config, version string) *Server {
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Server{
		store:   s,
		cfg:     cfg,
		version: version,
		log:     slog.Default().With("component", "mcp"),
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("verdict", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.normalizeTool())
	srv.AddTool(s.councilTool())
	srv.AddTool(s.gateTool())
	srv.AddTool(s.historyTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// verdict_normalize
func (s *Server) normalizeTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("verdict_normalize",
		mcp.WithDescription("Normalize one reviewer's raw output into a validated verdict artifact. Returns the artifact JSON; optionally writes it to a file."),
		mcp.WithString("raw", mcp.Required(), mcp.Description("Raw reviewer output")),
		mcp.WithString("reviewer", mcp.Required(), mcp.Description("Reviewer id")),
		mcp.WithString("perspective", mcp.Description("Reviewer perspective; defaults to the configured one")),
		mcp.WithString("out", mcp.Description("Path to write the artifact to")),
	)
	return tool, s.handleNormalize
}

func (s *Server) handleNormalize(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString("raw")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: raw"), nil
	}
	reviewer, err := request.RequireString("reviewer")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: reviewer"), nil
	}
	perspective := request.GetString("perspective", "")
	if perspective == "" {
		perspective = s.cfg.Perspective(reviewer, "")
	}

	review := normalize.Normalize(normalize.Input{
		Raw:         raw,
		Reviewer:    reviewer,
		Perspective: perspective,
	})

	if out := request.GetString("out", ""); out != "" {
		if err := artifact.WriteJSON(out, review); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to write artifact: %v", err)), nil
		}
	}
	return jsonResult(review)
}

// verdict_council
func (s *Server) councilTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("verdict_council",
		mcp.WithDescription("Aggregate every reviewer artifact under a directory into one council verdict, applying at most one authorized override."),
		mcp.WithString("artifacts", mcp.Required(), mcp.Description("Artifacts directory")),
		mcp.WithString("overrides", mcp.Description("JSON comment object or ordered array of {actor, sha?, reason?, body?}")),
		mcp.WithString("head_sha", mcp.Description("Commit under evaluation")),
		mcp.WithString("pr_author", mcp.Description("Pull request author login")),
		mcp.WithString("permissions", mcp.Description("JSON object mapping login to repo permission")),
		mcp.WithString("repo", mcp.Description("owner/repo recorded with the run")),
		mcp.WithNumber("pr_number", mcp.Description("Pull request number recorded with the run")),
		mcp.WithBoolean("record", mcp.Description("Record the run in the history database")),
	)
	return tool, s.handleCouncil
}

func (s *Server) handleCouncil(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dir, err := request.RequireString("artifacts")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: artifacts"), nil
	}

	files, err := artifact.Discover(dir)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read artifacts: %v", err)), nil
	}

	var candidates []override.Candidate
	if raw := request.GetString("overrides", ""); raw != "" {
		candidates, err = override.ParseCandidates([]byte(raw))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	var perms map[string]string
	if raw := request.GetString("permissions", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &perms); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid permissions: %v", err)), nil
		}
	}

	headSHA := request.GetString("head_sha", "")
	cv := s.cfg.Evaluator().Evaluate(council.Request{
		Files:      files,
		Candidates: candidates,
		Context: override.Context{
			HeadSHA:     headSHA,
			PRAuthor:    request.GetString("pr_author", ""),
			Permissions: perms,
		},
	})

	if request.GetBool("record", false) {
		if s.store == nil {
			return mcp.NewToolResultError("history database is not available"), nil
		}
		rep := council.BuildReport(council.ReportMeta{
			Repo:        request.GetString("repo", ""),
			PRNumber:    request.GetInt("pr_number", 0),
			HeadSHA:     headSHA,
			GeneratedAt: time.Now().UTC(),
		}, cv)
		run, reviewers, err := store.NewCouncilRun(cv, rep)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to build run record: %v", err)), nil
		}
		if err := s.store.RecordCouncilRun(ctx, run, reviewers); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to record run: %v", err)), nil
		}
		s.log.Info("council run recorded", "id", run.ID, "verdict", cv.Verdict)
	}

	return jsonResult(cv)
}

// verdict_gate
func (s *Server) gateTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("verdict_gate",
		mcp.WithDescription("Decide whether another wave of reviewers should run after the given wave."),
		mcp.WithString("wave", mcp.Required(), mcp.Description("Wave name from the configured order")),
		mcp.WithString("artifacts", mcp.Required(), mcp.Description("Artifacts root containing one directory per wave")),
		mcp.WithString("tier", mcp.Description("Cost tier bounding escalation depth")),
	)
	return tool, s.handleGate
}

func (s *Server) handleGate(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("wave")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: wave"), nil
	}
	root, err := request.RequireString("artifacts")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: artifacts"), nil
	}

	files, err := wave.Files(root, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read wave artifacts: %v", err)), nil
	}
	res, err := s.cfg.Gate().Evaluate(name, request.GetString("tier", ""), files)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

// verdict_history
func (s *Server) historyTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("verdict_history",
		mcp.WithDescription("List recorded council runs, or per-model quality when models=true."),
		mcp.WithString("repo", mcp.Description("Filter by owner/repo")),
		mcp.WithString("head_sha", mcp.Description("Filter by commit")),
		mcp.WithNumber("limit", mcp.Description("Maximum runs to return (default 20)")),
		mcp.WithBoolean("models", mcp.Description("Aggregate per model instead of listing runs")),
	)
	return tool, s.handleHistory
}

func (s *Server) handleHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("history database is not available"), nil
	}
	repo := request.GetString("repo", "")

	if request.GetBool("models", false) {
		stats, err := s.store.ModelStats(ctx, repo)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to aggregate models: %v", err)), nil
		}
		return jsonResult(stats)
	}

	runs, err := s.store.ListCouncilRuns(ctx, store.RunListFilter{
		Repo:    repo,
		HeadSHA: request.GetString("head_sha", ""),
		Limit:   request.GetInt("limit", 20),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}
	return jsonResult(runs)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
