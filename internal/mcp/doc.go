// Package mcp implements the Model Context Protocol (MCP) server for packsearch.
//
// The MCP server exposes the image retrieval engine to AI assistants:
//   - search_images: Find images whose labels match a natural language query
//   - build_cache: Embed new images of the enabled packs for the active model
//   - list_packs: List discovered resource packs
//   - enable_pack / disable_pack: Toggle which packs are searched
//   - set_mode: Switch between the remote embedding API and a local model
//   - get_status: Report mode, index size and pack state
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout carries protocol messages only. Logs go to stderr.
//
// # Basic Usage
//
// The MCP server is started via the serve command:
//
//	packsearch serve
//
// # Tool: search_images
//
//	Request:
//	{
//	  "name": "search_images",
//	  "arguments": {"query": "happy cat", "top_k": 3}
//	}
//
//	Response:
//	{
//	  "query": "happy cat",
//	  "results": [
//	    {
//	      "rank": 1,
//	      "path": "/data/resource_packs/memes/images/happy-cat.png",
//	      "label": "happy",
//	      "pack_id": "pack_memes",
//	      "score": 0.93
//	    }
//	  ],
//	  "candidates": 15,
//	  "missing": 0,
//	  "duplicates": 2,
//	  "model": "remote:text-embedding-3-small",
//	  "duration_ms": 41
//	}
//
// An empty index returns an empty result list, not an error.
//
// # Tool: build_cache
//
// Without arguments every enabled pack is built. With pack_id only that
// pack is built, even when it is disabled. Builds are incremental: images
// already in the cache of the active model are skipped, and an interrupted
// build resumes from its last checkpoint.
//
//	Response:
//	{
//	  "message": "built 1/1 resource packs\n  pack_memes: 12 new files, 30 embedded, 30 entries",
//	  "built": [{"pack_id": "pack_memes", "new_files": 12, "embedded": 30, "entries": 30}],
//	  "failed": []
//	}
//
// # Error Handling
//
// Errors are returned as MCPError values with JSON-RPC codes:
//
//	-32602  Invalid parameters
//	-32603  Internal error
//	-32001  Pack not found
//	-32002  Build in progress
//	-32003  No enabled packs
//	-32004  Empty query
//	-32005  Query embedding failed
//	-32006  Local model unavailable
package mcp
