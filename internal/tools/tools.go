// Package tools defines the prompt tools exposed to agents.
//
// Every tool declares a JSON schema for its arguments. [Registry.Execute]
// validates arguments against that schema before the handler runs, and
// [Registry.Call] renders any failure as a structured error payload so
// callers always receive JSON.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/nugget/shippopotamus/internal/composer"
	"github.com/nugget/shippopotamus/internal/discovery"
	"github.com/nugget/shippopotamus/internal/index"
	"github.com/nugget/shippopotamus/internal/prompts"
	"github.com/nugget/shippopotamus/internal/registry"
	"github.com/nugget/shippopotamus/internal/resolver"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                     `json:"name"`
	Description string                                                     `json:"description"`
	Parameters  map[string]any                                             `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (any, error) `json:"-"`

	schema *gojsonschema.Schema
}

// Deps are the components the prompt tools operate on. Index may be nil
// when no embedding provider is configured.
type Deps struct {
	Registry  *registry.Registry
	Resolver  *resolver.Resolver
	Composer  *composer.Composer
	Index     *index.Index
	Discovery *discovery.Engine

	SearchTopK          int
	SearchMinSimilarity float32
	BootstrapRefs       []string

	Logger *slog.Logger
}

// Registry holds available tools.
type Registry struct {
	tools  map[string]*Tool
	deps   Deps
	logger *slog.Logger
}

// NewRegistry creates a registry with every prompt tool registered.
func NewRegistry(deps Deps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.SearchTopK <= 0 {
		deps.SearchTopK = index.DefaultTopK
	}
	if len(deps.BootstrapRefs) == 0 {
		deps.BootstrapRefs = DefaultBootstrapRefs
	}
	r := &Registry{
		tools:  make(map[string]*Tool),
		deps:   deps,
		logger: logger,
	}
	r.registerPromptTools()
	r.registerDiscoveryTools()
	r.registerUsageReport()
	return r
}

// Register adds a tool to the registry. It panics if the tool's
// parameter schema does not compile, which is a programming error.
func (r *Registry) Register(t *Tool) {
	params := t.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
		t.Parameters = params
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(params))
	if err != nil {
		panic(fmt.Sprintf("tool %s: invalid parameter schema: %v", t.Name, err))
	}
	t.schema = schema
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns all tools sorted by name.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs a tool by name with JSON-encoded arguments and returns the
// handler's JSON-encoded result.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}

	args := map[string]any{}
	if strings.TrimSpace(argsJSON) != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", prompts.Validationf("invalid arguments: %v", err)
		}
		if args == nil {
			args = map[string]any{}
		}
	}
	return r.ExecuteArgs(ctx, name, args)
}

// ExecuteArgs is Execute for already-decoded arguments.
func (r *Registry) ExecuteArgs(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}
	if args == nil {
		args = map[string]any{}
	}

	if err := validateArgs(tool, args); err != nil {
		return "", err
	}

	result, err := tool.Handler(ctx, args)
	if err != nil {
		r.logger.Debug("tool failed", "tool", name, "kind", prompts.KindOf(err), "error", err)
		return "", err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", prompts.Internal("encode result", err)
	}
	return string(out), nil
}

// Call executes a tool and always returns JSON: the result on success,
// or {"error": {"kind", "message"}} on failure. The boolean reports
// whether the call failed.
func (r *Registry) Call(ctx context.Context, name string, argsJSON string) (string, bool) {
	out, err := r.Execute(ctx, name, argsJSON)
	if err == nil {
		return out, false
	}
	return ErrorJSON(err), true
}

// ErrorJSON renders err as the structured error payload.
func ErrorJSON(err error) string {
	payload := prompts.PayloadOf(err)
	var unavailable *ErrToolUnavailable
	if errors.As(err, &unavailable) {
		payload.Kind = prompts.KindNotFound
	}
	out, _ := json.Marshal(map[string]any{"error": payload})
	return string(out)
}

func validateArgs(t *Tool, args map[string]any) error {
	res, err := t.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return prompts.Validationf("validate arguments: %v", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return prompts.Validationf("invalid arguments for %s: %s", t.Name, strings.Join(msgs, "; "))
}

// Argument helpers. The schema has already checked types, so these only
// pick values out and apply defaults.

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string, def int) int {
	if f, ok := args[key].(float64); ok {
		return int(f)
	}
	return def
}

func floatArg(args map[string]any, key string, def float64) float64 {
	if f, ok := args[key].(float64); ok {
		return f
	}
	return def
}

func boolArg(args map[string]any, key string, def bool) bool {
	if b, ok := args[key].(bool); ok {
		return b
	}
	return def
}

func stringsArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Schema helpers.

func object(required []string, props map[string]any) map[string]any {
	s := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

func stringList(description string, minItems int) map[string]any {
	s := map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": description,
	}
	if minItems > 0 {
		s["minItems"] = minItems
	}
	return s
}
