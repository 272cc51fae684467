// Shippopotamus is a prompt library server for coding agents.
//
// It stores custom prompts alongside a built-in catalog, composes them
// into deduplicated context blocks, and recommends prompts for a task by
// semantic or keyword search. The tools are served over MCP on stdio
// and can also be invoked one at a time from the command line.
// Configuration is loaded from a YAML file discovered automatically
// (see [config.DefaultSearchPaths]); without one, offline defaults apply.
//
// Usage:
//
//	shippopotamus serve                  Serve MCP over stdin/stdout
//	shippopotamus call <tool> [json]     Invoke one tool and print its JSON result
//	shippopotamus index                  Build or refresh the embedding index
//	shippopotamus list                   List available prompts
//	shippopotamus init [dir]             Write an example config.yaml
//	shippopotamus version                Print version and build information
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/nugget/shippopotamus/internal/buildinfo"
	"github.com/nugget/shippopotamus/internal/config"
)

// main constructs the OS-level environment and delegates to [run], so
// the whole command lifecycle can be driven from tests.
func main() {
	// A .env file is optional and never overrides the real environment.
	_ = godotenv.Load()

	ctx := context.Background()
	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// errToolFailed is returned by call when the tool reported an error. The
// payload has already been written to stdout.
var errToolFailed = errors.New("tool call failed")

// run is the real entry point. stdout carries command output (and MCP
// traffic in serve mode); logs always go to stderr. Arguments are parsed
// by hand to keep the flag package's global state out of tests.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case command != "":
			cmdArgs = append(cmdArgs, args[i])
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdin, stdout, stderr, configPath)
	case "call":
		if len(cmdArgs) == 0 || len(cmdArgs) > 2 {
			return fmt.Errorf("usage: shippopotamus call <tool> [json-arguments]")
		}
		argsJSON := "{}"
		if len(cmdArgs) == 2 {
			argsJSON = cmdArgs[1]
		}
		return runCall(ctx, stdout, stderr, configPath, cmdArgs[0], argsJSON)
	case "index":
		return runIndex(ctx, stdout, stderr, configPath, outputFmt)
	case "list":
		return runList(ctx, stdout, stderr, configPath, outputFmt)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Shippopotamus - prompt library server for coding agents")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: shippopotamus [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                Serve MCP over stdin/stdout")
	fmt.Fprintln(w, "  call <tool> [json]   Invoke one tool and print its JSON result")
	fmt.Fprintln(w, "  index                Build or refresh the embedding index")
	fmt.Fprintln(w, "  list                 List available prompts")
	fmt.Fprintln(w, "  init [dir]           Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  version              Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintf(w, "  %s\n", strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// loadConfig locates and parses the configuration. An explicit path
// must exist; when none is given and no file is found in the search
// path, offline defaults are used. Returns the config and the path it
// came from ("" for defaults).
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// setup loads config and builds the configured logger on stderr.
func setup(stderr io.Writer, configPath string) (*config.Config, *slog.Logger, error) {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := config.NewLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	if cfgPath == "" {
		logger.Debug("no config file found, using defaults")
	} else {
		logger.Debug("config loaded", "path", cfgPath)
	}
	return cfg, logger, nil
}
