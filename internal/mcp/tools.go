package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/packsearch/internal/app"
	"github.com/dshills/packsearch/internal/builder"
	"github.com/dshills/packsearch/internal/embedder"
	"github.com/dshills/packsearch/internal/searcher"
	"github.com/dshills/packsearch/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams    = -32602 // Invalid method parameters
	ErrorCodeInternalError    = -32603 // Internal JSON-RPC error
	ErrorCodePackNotFound     = -32001 // No pack with the given id
	ErrorCodeBuildInProgress  = -32002 // Another cache build is already running
	ErrorCodeNoEnabledPacks   = -32003 // Nothing to build
	ErrorCodeEmptyQuery       = -32004 // Query parameter is empty
	ErrorCodeEmbeddingFailed  = -32005 // Query could not be embedded
	ErrorCodeModelUnavailable = -32006 // Local model not downloaded or not loadable
)

// handleSearchImages handles the search_images tool invocation
func (s *Server) handleSearchImages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	topK := getIntDefault(args, "top_k", 0)
	if topK < 0 || topK > searcher.MaxTopK {
		return nil, newMCPError(ErrorCodeInvalidParams, "top_k must be between 1 and 100", map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	resp, err := s.app.Search(ctx, searcher.Request{Query: query, TopK: topK})
	if err != nil {
		return nil, toMCPError("search failed", err)
	}

	results := make([]map[string]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, map[string]interface{}{
			"rank":    r.Rank,
			"path":    r.Path,
			"label":   r.Label,
			"pack_id": r.PackID,
			"score":   r.Score,
		})
	}

	response := map[string]interface{}{
		"query":       query,
		"results":     results,
		"candidates":  resp.Candidates,
		"missing":     resp.Missing,
		"duplicates":  resp.Duplicates,
		"model":       resp.ModelKey,
		"duration_ms": resp.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleBuildCache handles the build_cache tool invocation
func (s *Server) handleBuildCache(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	if packID := getStringDefault(args, "pack_id", ""); packID != "" {
		result, err := s.app.BuildPack(ctx, packID, func(done, total int) {
			slog.Debug("build progress", slog.String("pack", packID), slog.Int("done", done), slog.Int("total", total))
		})
		if err != nil {
			return nil, toMCPError("build failed", err)
		}
		response := map[string]interface{}{
			"built": []map[string]interface{}{resultJSON(result)},
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}

	summary, err := s.app.BuildAll(ctx, func(i, n int, pack *types.ResourcePack, done, total int) {
		slog.Debug("build progress",
			slog.String("pack", pack.ID),
			slog.Int("pack_index", i+1),
			slog.Int("packs", n),
			slog.Int("done", done),
			slog.Int("total", total))
	})
	if err != nil {
		return nil, toMCPError("build failed", err)
	}

	built := make([]map[string]interface{}, 0, len(summary.Results))
	for _, r := range summary.Results {
		built = append(built, resultJSON(r))
	}
	failed := make([]map[string]interface{}, 0, len(summary.Failures))
	for _, f := range summary.Failures {
		failed = append(failed, map[string]interface{}{
			"pack_id": f.PackID,
			"name":    f.Name,
			"error":   f.Err.Error(),
		})
	}
	response := map[string]interface{}{
		"message": summary.Message(),
		"built":   built,
		"failed":  failed,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

func resultJSON(r *builder.Result) map[string]interface{} {
	out := map[string]interface{}{
		"pack_id":     r.PackID,
		"new_files":   r.NewFiles,
		"embedded":    r.Success,
		"skipped":     r.Skipped,
		"missing":     r.Missing,
		"dropped":     r.Dropped,
		"entries":     r.Total,
		"duration_ms": r.Duration.Milliseconds(),
	}
	if r.Partial() {
		// Include first few errors
		errs := make([]string, 0, 5)
		for i, e := range r.Errors {
			if i == 5 {
				break
			}
			errs = append(errs, e.Error())
		}
		out["errors"] = errs
		out["error_count"] = len(r.Errors)
	}
	return out
}

// handleListPacks handles the list_packs tool invocation
func (s *Server) handleListPacks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := s.app.Status()
	response := map[string]interface{}{
		"packs": st.Packs,
		"model": st.ModelKey,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleEnablePack handles the enable_pack tool invocation
func (s *Server) handleEnablePack(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.togglePack(ctx, request, true)
}

// handleDisablePack handles the disable_pack tool invocation
func (s *Server) handleDisablePack(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.togglePack(ctx, request, false)
}

func (s *Server) togglePack(ctx context.Context, request mcp.CallToolRequest, enable bool) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	packID, ok := args["pack_id"].(string)
	if !ok || packID == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "pack_id parameter is required", map[string]interface{}{
			"param":  "pack_id",
			"reason": "missing or empty",
		})
	}

	toggle := s.app.DisablePack
	if enable {
		toggle = s.app.EnablePack
	}
	changed, err := toggle(ctx, packID)
	if err != nil {
		return nil, toMCPError("failed to update pack", err)
	}

	st := s.app.Status()
	response := map[string]interface{}{
		"pack_id": packID,
		"enabled": enable,
		"changed": changed,
		"entries": st.Entries,
	}
	if enable && !packCached(st.Packs, packID) {
		response["message"] = "Pack has no cache for the active model. Use build_cache to make it searchable."
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

func packCached(packs []app.PackStatus, packID string) bool {
	for _, p := range packs {
		if p.ID == packID {
			return p.CacheGenerated
		}
	}
	return false
}

// handleSetMode handles the set_mode tool invocation
func (s *Server) handleSetMode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	mode, ok := args["mode"].(string)
	if !ok || mode == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "mode parameter is required", map[string]interface{}{
			"param":   "mode",
			"allowed": []string{"remote", "local"},
		})
	}
	model := getStringDefault(args, "model", "")

	if err := s.app.SetMode(ctx, mode, model); err != nil {
		return nil, toMCPError("failed to switch mode", err)
	}

	st := s.app.Status()
	response := map[string]interface{}{
		"mode":    st.Mode,
		"model":   st.ModelKey,
		"entries": st.Entries,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(formatJSON(s.app.Status())), nil
}

// Helper functions

// arguments returns the call arguments, empty when the client sent none
func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

// toMCPError maps domain errors to MCP error codes
func toMCPError(message string, err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, builder.ErrBuildInProgress):
		return newMCPError(ErrorCodeBuildInProgress, "a cache build is already running", data)
	case errors.Is(err, types.ErrPackNotFound):
		return newMCPError(ErrorCodePackNotFound, "resource pack not found", data)
	case errors.Is(err, types.ErrNoEnabledPacks):
		return newMCPError(ErrorCodeNoEnabledPacks, "no enabled resource packs, use enable_pack first", data)
	case errors.Is(err, types.ErrModelUnavailable):
		return newMCPError(ErrorCodeModelUnavailable, "local model unavailable, download it first", data)
	case errors.Is(err, types.ErrQueryEmbedding):
		return newMCPError(ErrorCodeEmbeddingFailed, "query embedding failed", data)
	case errors.Is(err, embedder.ErrUnknownMode):
		return newMCPError(ErrorCodeInvalidParams, "mode must be remote or local", data)
	default:
		return newMCPError(ErrorCodeInternalError, message, data)
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
