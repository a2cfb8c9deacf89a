// Package app wires the packsearch components together.
//
// An App owns one config file, pack registry, rate limiter, embedding
// service, cache builder, index holder and searcher. The MCP server and the
// CLI both drive the system through it. Operations that change which
// entries are searchable (builds, pack toggles, mode switches) finish by
// publishing a fresh index snapshot.
package app
