// Package mcpserver exposes the navigator cache to LLM clients as MCP
// (Model Context Protocol) tools, over stdio or streamable HTTP.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/navigator/internal/apperr"
	"github.com/starford/navigator/internal/explorer"
)

const defaultListLimit = 200

// Server wraps the MCP server with navigator tools.
type Server struct {
	mcp *server.MCPServer
	svc *explorer.Service
}

// New creates a new MCP server with all navigator tools registered.
func New(svc *explorer.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Navigator",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_file",
		mcp.WithDescription("Get the cached tags, preview, feature image and frontmatter metadata of one vault file."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative path (e.g. folder/note.md)")),
	), s.getFile)

	s.mcp.AddTool(mcp.NewTool("list_files",
		mcp.WithDescription("List files in a folder, optionally filtered by tag and sorted."),
		mcp.WithString("folder", mcp.Description("Optional folder to list (empty for the whole vault)")),
		mcp.WithString("tag", mcp.Description("Optional tag; nested tags match their parents")),
		mcp.WithString("sort", mcp.Description("Optional sort mode"),
			mcp.Enum("modified-desc", "modified-asc", "created-desc", "created-asc", "title-asc", "title-desc")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of files (default 200)")),
	), s.listFiles)

	s.mcp.AddTool(mcp.NewTool("files_with_tag",
		mcp.WithDescription("Return the paths of every file tagged with the tag or one of its nested tags."),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Tag without the leading #")),
	), s.filesWithTag)

	s.mcp.AddTool(mcp.NewTool("get_preview",
		mcp.WithDescription("Return the plain-text preview of a file."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative path")),
	), s.getPreview)

	s.mcp.AddTool(mcp.NewTool("vault_stats",
		mcp.WithDescription("Return vault statistics: file and tag counts, pending work, frontmatter failure ratio."),
	), s.vaultStats)

	s.mcp.AddTool(mcp.NewTool("property_values",
		mcp.WithDescription("Return how many files carry each value of a frontmatter property."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Property name")),
	), s.propertyValues)

	s.mcp.AddResource(
		mcp.NewResource("navigator://appearance", "Appearance",
			mcp.WithResourceDescription("Folder, tag and file colors and icons, pinned files and sort overrides."),
			mcp.WithMIMEType("application/json"),
		),
		s.readAppearance,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// HTTPHandler returns a streamable HTTP transport for mounting on a router.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func errorResult(path string, err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path))
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) getFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	detail, err := s.svc.GetFile(ctx, path)
	if err != nil {
		return errorResult(path, err), nil
	}
	return jsonResult(detail)
}

func (s *Server) listFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := explorer.ListQuery{
		Prefix: req.GetString("folder", ""),
		Tag:    req.GetString("tag", ""),
		Sort:   req.GetString("sort", ""),
		Limit:  req.GetInt("limit", defaultListLimit),
	}
	items, total, err := s.svc.ListFiles(ctx, q)
	if err != nil {
		return errorResult(q.Prefix, err), nil
	}
	return jsonResult(map[string]any{"files": items, "total": total})
}

func (s *Server) filesWithTag(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tag, err := req.RequireString("tag")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	paths := s.svc.Cache().FilesWithTag(tag)
	if paths == nil {
		paths = []string{}
	}
	return jsonResult(paths)
}

func (s *Server) getPreview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := s.svc.Preview(ctx, path)
	if err != nil {
		return errorResult(path, err), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) vaultStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Stats(ctx))
}

func (s *Server) propertyValues(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.svc.PropertyValues(ctx, key))
}

func (s *Server) readAppearance(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	out, err := json.MarshalIndent(s.svc.Appearance().Settings(), "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(out),
		},
	}, nil
}
