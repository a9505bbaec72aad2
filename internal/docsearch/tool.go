package docsearch

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolName is the name the search tool is advertised under.
const ToolName = "search_documents"

const toolDescription = `Search through documents using hybrid search combining semantic understanding and keyword matching.

Searches document text and page image descriptions:
- Semantic search on document text
- Keyword matching on titles
- Vector search on image descriptions

Returns relevant text excerpts and image references (Image Path or Image URL) with their descriptions.`

// searcher is the part of *Searcher the tool needs.
type searcher interface {
	Search(ctx context.Context, question string, opts Options) ([]Result, error)
}

// ToolDefinition returns the JSON Schema for the search tool's arguments.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{
				"type":        "string",
				"description": "The question or search query",
			},
			"top_k": map[string]any{
				"type":        "number",
				"description": "Number of results to return (default: 10)",
				"default":     DefaultTopK,
			},
			"min_score": map[string]any{
				"type":        "number",
				"description": "Minimum relevance score threshold (default: 0.5)",
				"default":     DefaultMinScore,
			},
		},
		"required": []string{"question"},
	}
}

// ToolHandler returns a handler with the tools.Tool signature.
func ToolHandler(s searcher) func(ctx context.Context, args map[string]any) (string, error) {
	return func(ctx context.Context, args map[string]any) (string, error) {
		question, _ := args["question"].(string)
		if question == "" {
			return "", fmt.Errorf("%s: question is required", ToolName)
		}

		opts := Options{TopK: DefaultTopK, MinScore: DefaultMinScore}
		if v, ok := args["top_k"].(float64); ok && v > 0 {
			opts.TopK = int(v)
		}
		if v, ok := args["min_score"].(float64); ok && v >= 0 {
			opts.MinScore = v
		}

		results, err := s.Search(ctx, question, opts)
		if err != nil {
			return "", fmt.Errorf("error performing search: %w", err)
		}
		return Format(results), nil
	}
}

// Register adds the search tool to an MCP server.
func Register(server *sdk.Server, s searcher) {
	handler := ToolHandler(s)
	server.AddTool(&sdk.Tool{
		Name:        ToolName,
		Description: toolDescription,
		InputSchema: ToolDefinition(),
	}, func(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
		args := map[string]any{}
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}
		text, err := handler(ctx, args)
		if err != nil {
			return errorResult(err), nil
		}
		return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: text}}}, nil
	})
}

func errorResult(err error) *sdk.CallToolResult {
	return &sdk.CallToolResult{
		IsError: true,
		Content: []sdk.Content{&sdk.TextContent{Text: err.Error()}},
	}
}
