package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/packsearch/internal/searcher"
)

// searchImagesTool returns the tool definition for search_images
func searchImagesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_images",
		Description: "Find images in the enabled resource packs whose file name labels match a natural language query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "What the image should show, e.g. 'happy cat'",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of images to return (1-100)",
					"default":     searcher.DefaultTopK,
					"minimum":     1,
					"maximum":     searcher.MaxTopK,
				},
			},
			Required: []string{"query"},
		},
	}
}

// buildCacheTool returns the tool definition for build_cache
func buildCacheTool() mcp.Tool {
	return mcp.Tool{
		Name:        "build_cache",
		Description: "Embed new images of the enabled resource packs for the active model. Incremental and resumable.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"pack_id": map[string]interface{}{
					"type":        "string",
					"description": "Build only this pack, enabled or not. Omit to build every enabled pack.",
				},
			},
		},
	}
}

// listPacksTool returns the tool definition for list_packs
func listPacksTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_packs",
		Description: "List discovered resource packs with their enabled and cache state",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

func packIDSchema(action string) map[string]interface{} {
	return map[string]interface{}{
		"pack_id": map[string]interface{}{
			"type":        "string",
			"description": "Id of the pack to " + action + ", e.g. pack_memes",
		},
	}
}

// enablePackTool returns the tool definition for enable_pack
func enablePackTool() mcp.Tool {
	return mcp.Tool{
		Name:        "enable_pack",
		Description: "Enable a resource pack so its cached images are searched",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: packIDSchema("enable"),
			Required:   []string{"pack_id"},
		},
	}
}

// disablePackTool returns the tool definition for disable_pack
func disablePackTool() mcp.Tool {
	return mcp.Tool{
		Name:        "disable_pack",
		Description: "Disable a resource pack and remove its images from search results",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: packIDSchema("disable"),
			Required:   []string{"pack_id"},
		},
	}
}

// setModeTool returns the tool definition for set_mode
func setModeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "set_mode",
		Description: "Switch between the remote embedding API and a local model. Caches are kept per model.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"mode": map[string]interface{}{
					"type": "string",
					"enum": []string{"remote", "local"},
				},
				"model": map[string]interface{}{
					"type":        "string",
					"description": "Remote model or local model name. Omit to keep the configured one.",
				},
			},
			Required: []string{"mode"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report the embedding mode, index size and resource pack state",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
