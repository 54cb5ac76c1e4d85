package api

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/margin/kit"
)

// RegisterMCP registers the agent-facing tools on an MCP server. Coding
// agents triage annotations, reply, mark them addressed, and pull the
// Markdown export through these.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerListAnnotations(srv)
	s.registerReply(srv)
	s.registerSetStatus(srv)
	s.registerExport(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (s *Service) registerListAnnotations(srv *mcp.Server) {
	type req struct {
		Page string `json:"page"`
	}

	tool := &mcp.Tool{
		Name:        "margin_list_annotations",
		Description: "List review annotations, optionally filtered by page URL",
		InputSchema: inputSchema(map[string]any{
			"page": map[string]any{"type": "string", "description": "Page URL filter; empty lists everything"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return s.store.ListAnnotations(ctx, p.Page), nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if len(r.Params.Arguments) > 0 {
			if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (s *Service) registerReply(srv *mcp.Server) {
	type req struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	}

	tool := &mcp.Tool{
		Name:        "margin_reply",
		Description: "Append an agent reply to an annotation",
		InputSchema: inputSchema(map[string]any{
			"id":      map[string]any{"type": "string", "description": "Annotation ID"},
			"message": map[string]any{"type": "string", "description": "Reply text"},
		}, []string{"id", "message"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return s.store.AppendReply(ctx, p.ID, p.Message)
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (s *Service) registerSetStatus(srv *mcp.Server) {
	type req struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}

	tool := &mcp.Tool{
		Name:        "margin_set_status",
		Description: "Set an annotation's lifecycle status (e.g. addressed)",
		InputSchema: inputSchema(map[string]any{
			"id":     map[string]any{"type": "string", "description": "Annotation ID"},
			"status": map[string]any{"type": "string", "description": "New status; empty clears it"},
		}, []string{"id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return s.store.SetStatus(ctx, p.ID, p.Status)
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (s *Service) registerExport(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "margin_export",
		Description: "Render the full annotation store as a Markdown review document",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		return map[string]string{"markdown": s.store.Export()}, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: struct{}{}}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
