// Package mcp provides an MCP (Model Context Protocol) server for reposcope.
// This allows AI agents to index, search and question repositories as
// native tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alpkeskin/gotoon"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/reposcope/reposcope/domain"
	"github.com/reposcope/reposcope/engine"
)

// Service is the subset of the engine exposed as tools.
type Service interface {
	ListRepositories() []domain.Repository
	IndexRepositories(ctx context.Context, repoDirs []string) ([]engine.IndexResult, error)
	Search(ctx context.Context, targets []string, text string, k int) (*engine.SearchResponse, error)
	Chat(ctx context.Context, targets []string, question, analysis string) (*engine.ChatResponse, error)
	RemoveRepository(ctx context.Context, target string) error
}

// Server wraps the MCP server with reposcope functionality.
type Server struct {
	mcpServer *server.MCPServer
	svc       Service
}

// SearchResultCompact is a minimal search hit for compact output (no content field).
type SearchResultCompact struct {
	RepoID    string  `json:"repo_id"`
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float32 `json:"score"`
	Rank      int     `json:"rank"`
}

type compactSearchResponse struct {
	Mode          string                `json:"mode"`
	ReposSearched int                   `json:"repos_searched"`
	RepoIDs       []string              `json:"repo_ids"`
	Results       []SearchResultCompact `json:"results"`
	Reason        string                `json:"reason,omitempty"`
}

// encodeOutput encodes data in the specified format (json or toon).
func encodeOutput(data any, format string) (string, error) {
	switch format {
	case "toon":
		return gotoon.Encode(data)
	default: // "json"
		jsonBytes, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", err
		}
		return string(jsonBytes), nil
	}
}

// splitList parses a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// NewServer creates a new MCP server over svc.
func NewServer(svc Service, version string) *Server {
	s := &Server{svc: svc}
	s.mcpServer = server.NewMCPServer(
		"reposcope",
		version,
		server.WithToolCapabilities(false),
	)
	s.registerTools()
	return s
}

func formatParam() mcp.ToolOption {
	return mcp.WithString("format",
		mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
	)
}

func reposParam() mcp.ToolOption {
	return mcp.WithString("repos",
		mcp.Required(),
		mcp.Description("Comma-separated repository ids or directories"),
	)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("reposcope_list",
		mcp.WithDescription("List indexed repositories with their ids, directories, chunk counts and index generations."),
		formatParam(),
	), s.handleList)

	s.mcpServer.AddTool(mcp.NewTool("reposcope_index",
		mcp.WithDescription("Index or re-index repositories. Each directory gets its own status; one failure never affects the others."),
		mcp.WithString("repo_dirs",
			mcp.Required(),
			mcp.Description("Comma-separated repository directories"),
		),
		formatParam(),
	), s.handleIndex)

	s.mcpServer.AddTool(mcp.NewTool("reposcope_search",
		mcp.WithDescription("Semantic code search across one or more indexed repositories. Returns ranked code chunks with repository ids, file paths, line ranges and scores."),
		reposParam(),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language search query (e.g., 'invoice total calculation')"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results to return (default: configured k)"),
		),
		mcp.WithBoolean("compact",
			mcp.Description("Return minimal output without content (default: false)"),
		),
		formatParam(),
	), s.handleSearch)

	s.mcpServer.AddTool(mcp.NewTool("reposcope_chat",
		mcp.WithDescription("Answer a question about one or more indexed repositories, grounded in cited code excerpts."),
		reposParam(),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Question about the code"),
		),
		mcp.WithString("analysis_type",
			mcp.Description("Focus: general (default), explain, architecture, security, performance or bugs"),
		),
		formatParam(),
	), s.handleChat)

	s.mcpServer.AddTool(mcp.NewTool("reposcope_remove",
		mcp.WithDescription("Remove a repository from the index."),
		mcp.WithString("repo",
			mcp.Required(),
			mcp.Description("Repository id or directory"),
		),
	), s.handleRemove)
}

func requestFormat(request mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	format := request.GetString("format", "json")
	if format != "json" && format != "toon" {
		return "", mcp.NewToolResultError("format must be 'json' or 'toon'")
	}
	return format, nil
}

func encodeResult(data any, format string) (*mcp.CallToolResult, error) {
	output, err := encodeOutput(data, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode results: %v", err)), nil
	}
	return mcp.NewToolResultText(output), nil
}

func errorResult(op string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s failed (%s): %v", op, domain.Kind(err), err))
}

func (s *Server) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, bad := requestFormat(request)
	if bad != nil {
		return bad, nil
	}
	repos := s.svc.ListRepositories()
	if repos == nil {
		repos = []domain.Repository{}
	}
	return encodeResult(repos, format)
}

func (s *Server) handleIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dirs, err := request.RequireString("repo_dirs")
	if err != nil {
		return mcp.NewToolResultError("repo_dirs parameter is required"), nil
	}
	format, bad := requestFormat(request)
	if bad != nil {
		return bad, nil
	}

	results, err := s.svc.IndexRepositories(ctx, splitList(dirs))
	if err != nil {
		return errorResult("index", err), nil
	}
	return encodeResult(results, format)
}

func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repos, err := request.RequireString("repos")
	if err != nil {
		return mcp.NewToolResultError("repos parameter is required"), nil
	}
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query parameter is required"), nil
	}
	limit := request.GetInt("limit", 0)
	if limit < 0 {
		limit = 0
	}
	compact := request.GetBool("compact", false)
	format, bad := requestFormat(request)
	if bad != nil {
		return bad, nil
	}

	resp, err := s.svc.Search(ctx, splitList(repos), query, limit)
	if err != nil {
		return errorResult("search", err), nil
	}

	var data any = *resp
	if compact {
		c := compactSearchResponse{
			Mode:          resp.Mode,
			ReposSearched: resp.ReposSearched,
			RepoIDs:       resp.RepoIDs,
			Results:       make([]SearchResultCompact, len(resp.Results)),
			Reason:        resp.Reason,
		}
		for i, r := range resp.Results {
			c.Results[i] = SearchResultCompact{
				RepoID:    r.RepoID,
				FilePath:  r.FilePath,
				StartLine: r.StartLine,
				EndLine:   r.EndLine,
				Score:     r.Score,
				Rank:      r.Rank,
			}
		}
		data = c
	}
	return encodeResult(data, format)
}

func (s *Server) handleChat(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repos, err := request.RequireString("repos")
	if err != nil {
		return mcp.NewToolResultError("repos parameter is required"), nil
	}
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("question parameter is required"), nil
	}
	format, bad := requestFormat(request)
	if bad != nil {
		return bad, nil
	}

	resp, err := s.svc.Chat(ctx, splitList(repos), question, request.GetString("analysis_type", ""))
	if err != nil {
		return errorResult("chat", err), nil
	}
	return encodeResult(*resp, format)
}

func (s *Server) handleRemove(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repo, err := request.RequireString("repo")
	if err != nil {
		return mcp.NewToolResultError("repo parameter is required"), nil
	}
	if err := s.svc.RemoveRepository(ctx, repo); err != nil {
		return errorResult("remove", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("removed %s", repo)), nil
}

// Serve starts the MCP server using stdio transport.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}
