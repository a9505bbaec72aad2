// Package mcp implements the client side of MCP (Model Context
// Protocol) tool sessions. Each session owns one tool-provider
// subprocess and speaks newline-delimited JSON-RPC 2.0 over its
// stdin/stdout.
//
// A session performs the initialize handshake, discovers tools via
// tools/list and invokes them via tools/call. Sessions satisfy
// tools.Provider so their tools can be merged into a registry.
package mcp
