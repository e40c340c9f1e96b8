// Package mcp exposes the memory operations as MCP tools over stdio, so
// agent frameworks can read and write long-term memory without the HTTP
// ingress.
package mcp

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mneme/pkg/model"
	"github.com/m-mizutani/mneme/pkg/server"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server is the MCP stdio server backed by the memory pipeline.
type Server struct {
	pipeline server.Pipeline
	mcp      *mcp.Server
}

// New creates the server and registers the memory tools.
func New(pipeline server.Pipeline, version string) *Server {
	s := &Server{pipeline: pipeline}

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "mneme",
		Version: version,
	}, nil)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_add",
		Description: "Store information about a user in long-term memory. Facts are extracted, deduplicated and reconciled with existing memories.",
	}, s.memoryAdd)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_search",
		Description: "Search a user's memories by semantic similarity.",
	}, s.memorySearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_get",
		Description: "Fetch a single memory record with its revision history.",
	}, s.memoryGet)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_list",
		Description: "List a user's memories, newest first.",
	}, s.memoryList)

	return s
}

// Run serves MCP over stdio until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "mcp server failed")
	}
	return nil
}

type addParams struct {
	OwnerID string `json:"owner_id" jsonschema:"The user the memory belongs to"`
	Text    string `json:"text" jsonschema:"The text to remember"`
	Infer   *bool  `json:"infer,omitempty" jsonschema:"Extract facts before storing (default true); false stores the text verbatim"`
}

func (s *Server) memoryAdd(ctx context.Context, req *mcp.CallToolRequest, params *addParams) (*mcp.CallToolResult, any, error) {
	if params.OwnerID == "" {
		return nil, nil, goerr.Wrap(model.ErrInvalidInput, "owner_id is required")
	}

	sub := &model.Submission{
		ID:      uuid.New().String(),
		OwnerID: model.OwnerID(params.OwnerID),
		Text:    params.Text,
		App:     "mcp",
		Infer:   params.Infer == nil || *params.Infer,
	}

	report, err := s.pipeline.Add(ctx, sub)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(report)
}

type searchParams struct {
	OwnerID string `json:"owner_id" jsonschema:"The user whose memories to search"`
	Query   string `json:"query" jsonschema:"Natural language search query"`
	Limit   int    `json:"limit,omitempty" jsonschema:"Maximum number of results"`
}

func (s *Server) memorySearch(ctx context.Context, req *mcp.CallToolRequest, params *searchParams) (*mcp.CallToolResult, any, error) {
	results, err := s.pipeline.Search(ctx, model.OwnerID(params.OwnerID), params.Query, params.Limit)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(map[string]any{"results": results})
}

type getParams struct {
	OwnerID  string `json:"owner_id" jsonschema:"The user the memory belongs to"`
	MemoryID string `json:"memory_id" jsonschema:"The id of the memory record"`
}

func (s *Server) memoryGet(ctx context.Context, req *mcp.CallToolRequest, params *getParams) (*mcp.CallToolResult, any, error) {
	record, err := s.pipeline.Get(ctx, model.OwnerID(params.OwnerID), model.MemoryID(params.MemoryID))
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(record)
}

type listParams struct {
	OwnerID string `json:"owner_id" jsonschema:"The user whose memories to list"`
	Status  string `json:"status,omitempty" jsonschema:"Filter by status: ACTIVE, SUPERSEDED or ARCHIVED (default ACTIVE)"`
}

func (s *Server) memoryList(ctx context.Context, req *mcp.CallToolRequest, params *listParams) (*mcp.CallToolResult, any, error) {
	var statuses []model.Status
	if params.Status != "" {
		status := model.Status(params.Status)
		if err := status.Validate(); err != nil {
			return nil, nil, err
		}
		statuses = append(statuses, status)
	}

	records, err := s.pipeline.List(ctx, model.OwnerID(params.OwnerID), statuses...)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(map[string]any{"memories": records})
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to encode tool result")
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}
