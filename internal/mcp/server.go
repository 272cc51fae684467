package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"strings"
	"sync"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nugget/shippopotamus/internal/buildinfo"
	"github.com/nugget/shippopotamus/internal/catalog"
	"github.com/nugget/shippopotamus/internal/prompts"
	"github.com/nugget/shippopotamus/internal/resolver"
	"github.com/nugget/shippopotamus/internal/tools"
)

// Config configures a Server. Catalog and Resolver are optional; without
// them no MCP prompts are published.
type Config struct {
	Tools    *tools.Registry
	Catalog  *catalog.Catalog
	Resolver *resolver.Resolver
	Logger   *slog.Logger
}

// Server is an MCP server backed by the tool registry.
type Server struct {
	mcp      *server.MCPServer
	tools    *tools.Registry
	catalog  *catalog.Catalog
	resolver *resolver.Resolver
	logger   *slog.Logger

	mu        sync.Mutex
	published map[string]bool // prompt names currently offered
}

// NewServer creates a Server with every registered tool attached.
func NewServer(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		tools:    cfg.Tools,
		catalog:  cfg.Catalog,
		resolver: cfg.Resolver,
		logger:   logger,
	}
	s.mcp = server.NewMCPServer(
		buildinfo.Name,
		buildinfo.Version,
		server.WithToolCapabilities(false),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	for _, t := range cfg.Tools.List() {
		schema, err := json.Marshal(t.Parameters)
		if err != nil {
			return nil, fmt.Errorf("encode schema for %s: %w", t.Name, err)
		}
		s.mcp.AddTool(mcpgo.NewToolWithRawSchema(t.Name, t.Description, schema), s.toolHandler(t.Name))
	}

	if s.catalog != nil && s.resolver != nil {
		s.SyncPrompts()
	}

	logger.Debug("mcp server ready", "tools", len(cfg.Tools.List()))
	return s, nil
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// SyncPrompts publishes every built-in catalog prompt as an MCP prompt
// and withdraws prompts that left the catalog since the last sync.
func (s *Server) SyncPrompts() {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]bool)
	for _, p := range s.catalog.All() {
		current[p.Name] = true
		prompt := mcpgo.NewPrompt(p.Name, mcpgo.WithPromptDescription(p.Description))
		s.mcp.AddPrompt(prompt, s.promptHandler(p.Name))
	}

	var gone []string
	for name := range s.published {
		if !current[name] {
			gone = append(gone, name)
		}
	}
	if len(gone) > 0 {
		s.mcp.DeletePrompts(gone...)
		s.logger.Debug("withdrew mcp prompts", "prompts", gone)
	}
	s.published = current
}

func (s *Server) toolHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		out, err := s.tools.ExecuteArgs(ctx, name, req.GetArguments())
		if err != nil {
			s.logger.Info("tool call failed", "tool", name, "kind", prompts.KindOf(err), "error", err)
			return mcpgo.NewToolResultError(tools.ErrorJSON(err)), nil
		}
		s.logger.Debug("tool call", "tool", name, "bytes", len(out))
		return mcpgo.NewToolResultText(out), nil
	}
}

func (s *Server) promptHandler(name string) server.PromptHandlerFunc {
	return func(ctx context.Context, _ mcpgo.GetPromptRequest) (*mcpgo.GetPromptResult, error) {
		res, err := s.resolver.Resolve(ctx, prompts.PrefixBuiltin+name)
		if err != nil {
			return nil, err
		}
		return mcpgo.NewGetPromptResult(res.Prompt.Description, []mcpgo.PromptMessage{
			mcpgo.NewPromptMessage(mcpgo.RoleUser, mcpgo.NewTextContent(res.Prompt.Content)),
		}), nil
	}
}

// Serve speaks MCP over in and out until ctx is cancelled or in closes.
// Protocol diagnostics go to the structured logger; out carries only
// protocol messages.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(slogWriter{s.logger}, "", 0))
	s.logger.Info("serving mcp over stdio", "version", buildinfo.Version)
	return stdio.Listen(ctx, in, out)
}

// slogWriter adapts the standard logger used by the stdio transport.
type slogWriter struct{ logger *slog.Logger }

func (w slogWriter) Write(p []byte) (int, error) {
	w.logger.Warn("mcp transport", "detail", strings.TrimSpace(string(p)))
	return len(p), nil
}

const instructions = `Prompt library server. Start a session with bootstrap_session.
Use discover_prompts or compose_smart to find prompts for a task,
compose_prompts to combine prompts without repetition, and save_prompt
to keep patterns for later. References: name, custom:<name>,
shippopotamus:<name>, file:<path>.`
