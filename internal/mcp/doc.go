// Package mcp exposes the prompt tools over the Model Context Protocol.
//
// Every tool in the tool registry becomes an MCP tool with the same JSON
// schema. Tool failures are reported as error results carrying the
// structured {"error": {"kind", "message"}} payload rather than as
// protocol errors, so agents can read and act on them. Built-in catalog
// prompts are also published as MCP prompts.
package mcp
