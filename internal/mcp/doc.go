// Package mcp exposes the memory manager over the Model Context Protocol.
//
// This implementation uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and registers tools for recording observations, assembling prompt context,
// verifying the audit chain, and inspecting run state. Every tool goes through
// the manager's single write path, so MCP clients get the same sanitization
// and audit guarantees as library callers.
package mcp
