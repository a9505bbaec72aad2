package vision

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolName is the name the analysis tool is advertised under.
const ToolName = "analyze_images"

const toolDescription = "Analyze one or more images using a vision LLM. Accepts a list of image file paths or URLs and a question to ask about the images."

// ToolDefinition returns the JSON Schema for the analysis tool's arguments.
func ToolDefinition(defaults Config) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"images": map[string]any{
				"type":        "array",
				"description": "List of image file paths or URLs (in order)",
				"items":       map[string]any{"type": "string"},
			},
			"question": map[string]any{
				"type":        "string",
				"description": "Question to ask about the image(s)",
			},
			"max_tokens": map[string]any{
				"type":        "integer",
				"description": fmt.Sprintf("Maximum tokens in the response (default: %d)", defaults.MaxTokens),
				"default":     defaults.MaxTokens,
			},
			"temperature": map[string]any{
				"type":        "number",
				"description": fmt.Sprintf("Temperature for response generation (default: %g)", defaults.Temperature),
				"default":     defaults.Temperature,
			},
		},
		"required": []string{"images", "question"},
	}
}

// ToolHandler returns a handler with the tools.Tool signature.
// Missing max_tokens and temperature fall back to defaults.
func ToolHandler(d Describer, defaults Config) func(ctx context.Context, args map[string]any) (string, error) {
	return func(ctx context.Context, args map[string]any) (string, error) {
		req := Request{
			MaxTokens:   defaults.MaxTokens,
			Temperature: defaults.Temperature,
		}
		req.Question, _ = args["question"].(string)
		if list, ok := args["images"].([]any); ok {
			for _, v := range list {
				if s, ok := v.(string); ok && s != "" {
					req.Images = append(req.Images, s)
				}
			}
		}
		if v, ok := args["max_tokens"].(float64); ok && v > 0 {
			req.MaxTokens = int(v)
		}
		if v, ok := args["temperature"].(float64); ok && v >= 0 {
			req.Temperature = v
		}

		if err := req.Validate(); err != nil {
			return "", fmt.Errorf("%s: %w", ToolName, err)
		}

		out, err := d.Describe(ctx, req)
		if err != nil {
			return "", fmt.Errorf("error analyzing images: %w", err)
		}
		return out, nil
	}
}

// Register adds the analysis tool to an MCP server.
func Register(server *sdk.Server, d Describer, defaults Config) {
	handler := ToolHandler(d, defaults)
	server.AddTool(&sdk.Tool{
		Name:        ToolName,
		Description: toolDescription,
		InputSchema: ToolDefinition(defaults),
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
