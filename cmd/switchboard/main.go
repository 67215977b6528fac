// Copyright 2026 © The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Command switchboard runs the orchestration engine as an HTTP service, an
// MCP server over stdio, or one-shot from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jllopis/switchboard/pkg/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type globalFlags struct {
	ConfigArgs []string
	ConfigPath string
	Profile    string
	Timeout    time.Duration
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	cmd := args[0]
	switch cmd {
	case "help":
		printUsage()
		return
	case "version":
		printVersion()
		return
	}

	cfg, err := config.LoadWithCLI(global.ConfigArgs)
	if err != nil {
		fatal(WrapConfigError(err, global.ConfigPath))
	}

	switch cmd {
	case "serve":
		err = runServe(ctx, global, cfg, args[1:])
	case "mcp":
		err = runMCP(ctx, global, cfg, args[1:])
	case "ask":
		err = runAsk(ctx, global, cfg, args[1:])
	case "invoke":
		err = runInvoke(ctx, global, cfg, args[1:])
	case "capabilities":
		err = runCapabilities(ctx, global, cfg, args[1:])
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		if cliErr, ok := err.(*CLIError); ok {
			cliErr.PrintError(global.JSON)
			os.Exit(1)
		}
		fatal(err)
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	flags := globalFlags{Timeout: 2 * time.Minute}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		name, value, hasValue := strings.Cut(arg, "=")
		needValue := func() (string, error) {
			if hasValue {
				return value, nil
			}
			if i+1 >= len(args) {
				return "", fmt.Errorf("missing value for %s", name)
			}
			i++
			return args[i], nil
		}
		switch name {
		case "-h", "--help":
			flags.Help = true
			return flags, nil, nil
		case "--json":
			flags.JSON = true
		case "--config", "--profile", "--env", "--set":
			v, err := needValue()
			if err != nil {
				return flags, nil, err
			}
			flags.ConfigArgs = append(flags.ConfigArgs, name, v)
			switch name {
			case "--config":
				flags.ConfigPath = v
			case "--profile", "--env":
				flags.Profile = v
			}
		case "--timeout":
			v, err := needValue()
			if err != nil {
				return flags, nil, err
			}
			d, err := time.ParseDuration(v)
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = d
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func printVersion() {
	fmt.Println(version)
}

func printUsage() {
	fmt.Println(`Switchboard: multi-agent request orchestration

Usage:
  switchboard [global flags] <command> [args]

Global flags:
  --config <path>      YAML config file
  --profile <name>     Merge <config>.<name>.yaml on top of --config
  --set key=value      Override config (repeatable)
  --timeout <dur>      Deadline for one-shot commands (default 2m)
  --json               JSON output

Commands:
  serve [--addr a] [--watch]       Serve the HTTP API (default http.addr)
  mcp [--caller id]                Serve agent actions as MCP tools over stdio
  ask [--caller id] [--session s] <message>
                                   Run one natural-language request
  invoke [--caller id] [--params json] <agent> <action>
                                   Invoke one agent action directly
  capabilities                     List agents and their actions
  version                          Print the version

Environment:
  SWITCHBOARD_* variables override config keys, e.g. SWITCHBOARD_LLM_API_KEY.`)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
