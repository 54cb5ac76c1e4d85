package api

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/margin/store"
)

var testImpl = &mcp.Implementation{Name: "margin-test", Version: "0.1.0"}

// mcpSession creates a Service over a fresh store, registers the MCP tools,
// and returns a connected client session that can call tools end-to-end.
func mcpSession(t *testing.T) (*store.Store, *mcp.ClientSession) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "annotations.json"))
	if err != nil {
		t.Fatal(err)
	}

	srv := mcp.NewServer(testImpl, nil)
	NewService(st).RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()

	go func() {
		_ = srv.Run(ctx, serverT)
	}()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })

	return st, session
}

// callTool invokes a tool and returns the JSON text from the first TextContent.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if result.IsError {
		t.Fatalf("CallTool(%s) tool error: %v", name, result.Content)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return tc.Text
}

func TestMCP_ListAnnotations(t *testing.T) {
	st, session := mcpSession(t)
	st.CreateAnnotation(context.Background(), store.Annotation{
		PageURL: "http://x/p", Note: "check grammar", SelectedText: "teh",
	})
	st.CreateAnnotation(context.Background(), store.Annotation{
		PageURL: "http://x/other", Note: "elsewhere",
	})

	text := callTool(t, session, "margin_list_annotations", map[string]any{
		"page": "http://x/p",
	})

	var anns []store.Annotation
	if err := json.Unmarshal([]byte(text), &anns); err != nil {
		t.Fatal(err)
	}
	if len(anns) != 1 {
		t.Fatalf("annotations: got %d", len(anns))
	}
	if anns[0].Note != "check grammar" {
		t.Fatalf("note: got %q", anns[0].Note)
	}
}

func TestMCP_Reply(t *testing.T) {
	st, session := mcpSession(t)
	a, _ := st.CreateAnnotation(context.Background(), store.Annotation{
		PageURL: "http://x/p", Note: "fix this",
	})

	text := callTool(t, session, "margin_reply", map[string]any{
		"id":      a.ID,
		"message": "fixed in commit abc123",
	})

	var updated store.Annotation
	if err := json.Unmarshal([]byte(text), &updated); err != nil {
		t.Fatal(err)
	}
	if len(updated.Replies) != 1 || updated.Replies[0].Message != "fixed in commit abc123" {
		t.Fatalf("replies: %+v", updated.Replies)
	}
}

func TestMCP_Reply_UnknownIDIsToolError(t *testing.T) {
	_, session := mcpSession(t)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "margin_reply",
		Arguments: map[string]any{"id": "nonexistent-id-12345", "message": "x"},
	})
	if err != nil {
		t.Fatalf("protocol error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for unknown id")
	}
	if len(result.Content) == 0 {
		t.Fatal("tool error with empty content")
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	if !strings.Contains(tc.Text, "not found") {
		t.Fatalf("tool error: %q", tc.Text)
	}
}

func TestMCP_SetStatus(t *testing.T) {
	st, session := mcpSession(t)
	a, _ := st.CreateAnnotation(context.Background(), store.Annotation{
		PageURL: "http://x/p", Note: "fix this",
	})

	text := callTool(t, session, "margin_set_status", map[string]any{
		"id":     a.ID,
		"status": store.StatusAddressed,
	})

	var updated store.Annotation
	if err := json.Unmarshal([]byte(text), &updated); err != nil {
		t.Fatal(err)
	}
	if updated.Status != store.StatusAddressed {
		t.Fatalf("status: got %q", updated.Status)
	}
	if updated.AddressedAt == "" {
		t.Fatal("addressedAt not stamped")
	}
}

func TestMCP_Export(t *testing.T) {
	st, session := mcpSession(t)
	st.CreateAnnotation(context.Background(), store.Annotation{
		PageURL: "http://x/p", SelectedText: "quick brown fox", Note: "citation needed",
	})

	text := callTool(t, session, "margin_export", map[string]any{})

	var out map[string]string
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatal(err)
	}
	md := out["markdown"]
	if !strings.HasPrefix(md, "# Review Annotations") {
		t.Fatalf("export header missing:\n%s", md)
	}
	if !strings.Contains(md, `**"quick brown fox"**`) {
		t.Fatalf("annotation missing:\n%s", md)
	}
}
