package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/navigator/internal/explorer/explorertest"
)

func testServer(t *testing.T) (*Server, *explorertest.Env) {
	t.Helper()
	env := explorertest.New(t)
	return New(env.Service, "test"), env
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so handlers are called directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "get_file":
		result, err = srv.getFile(ctx, req)
	case "list_files":
		result, err = srv.listFiles(ctx, req)
	case "files_with_tag":
		result, err = srv.filesWithTag(ctx, req)
	case "get_preview":
		result, err = srv.getPreview(ctx, req)
	case "vault_stats":
		result, err = srv.vaultStats(ctx, req)
	case "property_values":
		result, err = srv.propertyValues(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestGetFileAndPreview(t *testing.T) {
	srv, env := testServer(t)
	env.Write("notes/a.md", "#work\n\nHello")

	r := callTool(t, srv, "get_file", map[string]interface{}{"path": "notes/a.md"})
	if r.IsError {
		t.Fatalf("get_file error: %s", resultText(r))
	}
	var detail struct {
		Path    string   `json:"path"`
		Tags    []string `json:"tags"`
		Preview string   `json:"preview"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &detail); err != nil {
		t.Fatal(err)
	}
	if detail.Preview != "Hello" || len(detail.Tags) != 1 {
		t.Errorf("detail = %+v", detail)
	}

	r = callTool(t, srv, "get_preview", map[string]interface{}{"path": "notes/a.md"})
	if resultText(r) != "Hello" {
		t.Errorf("preview = %q", resultText(r))
	}
}

func TestGetFileMissing(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "get_file", map[string]interface{}{"path": "ghost.md"})
	if !r.IsError || !strings.Contains(resultText(r), "not found") {
		t.Errorf("expected not found error, got %q", resultText(r))
	}
	r = callTool(t, srv, "get_file", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error for missing path argument")
	}
}

func TestListFilesAndTags(t *testing.T) {
	srv, env := testServer(t)
	env.Write("a/one.md", "#proj/x one")
	env.Write("a/two.md", "two")
	env.Write("b/three.md", "#proj three")

	r := callTool(t, srv, "list_files", map[string]interface{}{"folder": "a"})
	var list struct {
		Total int `json:"total"`
	}
	_ = json.Unmarshal([]byte(resultText(r)), &list)
	if list.Total != 2 {
		t.Errorf("folder total = %d", list.Total)
	}

	r = callTool(t, srv, "files_with_tag", map[string]interface{}{"tag": "proj"})
	var paths []string
	_ = json.Unmarshal([]byte(resultText(r)), &paths)
	if len(paths) != 2 {
		t.Errorf("tagged = %v", paths)
	}

	r = callTool(t, srv, "list_files", map[string]interface{}{"sort": "upside-down"})
	if !r.IsError {
		t.Error("expected error for unknown sort")
	}
}

func TestVaultStatsAndProperties(t *testing.T) {
	srv, env := testServer(t)
	env.Write("a.md", "---\nstatus: done\n---\n#x")

	r := callTool(t, srv, "vault_stats", nil)
	var st struct {
		Files     int            `json:"files"`
		TagCounts map[string]int `json:"tag_counts"`
	}
	_ = json.Unmarshal([]byte(resultText(r)), &st)
	if st.Files != 1 || st.TagCounts["x"] != 1 {
		t.Errorf("stats = %+v", st)
	}

	r = callTool(t, srv, "property_values", map[string]interface{}{"key": "status"})
	if !strings.Contains(resultText(r), `"done": 1`) {
		t.Errorf("property values = %q", resultText(r))
	}
}
