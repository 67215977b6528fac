package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jllopis/switchboard/pkg/api"
	"github.com/jllopis/switchboard/pkg/config"
	"github.com/jllopis/switchboard/pkg/core"
	"github.com/jllopis/switchboard/pkg/errors"
	"github.com/jllopis/switchboard/pkg/mcp"
	"github.com/jllopis/switchboard/pkg/synth"
	"github.com/jllopis/switchboard/pkg/telemetry"
)

func runServe(ctx context.Context, global globalFlags, cfg *config.Config, args []string) error {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := cmd.String("addr", cfg.HTTP.Addr, "HTTP listen address")
	watch := cmd.Bool("watch", false, "Reload the log level when the config file changes")
	if err := cmd.Parse(args); err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(telemetry.ParseLogLevel(cfg.Log.Level))
	logger := telemetry.NewLeveledLogger(os.Stderr, level, cfg.Log.Format)
	slog.SetDefault(logger)

	shutdown, err := initTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(sctx)
	}()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return WrapEngineError(err)
	}
	defer a.Close()

	if *watch && global.ConfigPath != "" {
		w, err := config.NewWatcher(global.ConfigPath, global.Profile, config.WithWatchLogger(logger))
		if err != nil {
			logger.Warn("config.watch.disabled", "error", err)
		} else {
			w.OnChange(func(next *config.Config) {
				level.Set(telemetry.ParseLogLevel(next.Log.Level))
				logger.Info("config.reloaded", "log_level", next.Log.Level)
			})
			w.Start(ctx)
			defer w.Stop()
		}
	}

	srv := &http.Server{
		Addr: *addr,
		Handler: api.NewRouter(&api.Handlers{
			Engine: a.engine,
			Health: a.health,
			Logger: logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Engine.RunTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http.listen", "addr", *addr, "agents", len(a.engine.ListCapabilities()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("http.shutdown")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

func runMCP(ctx context.Context, _ globalFlags, cfg *config.Config, args []string) error {
	cmd := flag.NewFlagSet("mcp", flag.ContinueOnError)
	callerID := cmd.String("caller", "mcp", "Caller ID attached to every tool call")
	if err := cmd.Parse(args); err != nil {
		return err
	}

	// stdout carries the protocol; everything else goes to stderr.
	logger := telemetry.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	tcfg := cfg.Telemetry
	if tcfg.Exporter == "stdout" {
		tcfg.Enabled = false
	}
	shutdown, err := initTelemetry(ctx, tcfg)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return WrapEngineError(err)
	}
	defer a.Close()

	srv := mcp.NewServer("switchboard", version, a.engine,
		mcp.WithCaller(core.CallerContext{ID: *callerID}),
		mcp.WithServerLogger(logger),
	)
	return srv.ServeStdio()
}

func runAsk(ctx context.Context, global globalFlags, cfg *config.Config, args []string) error {
	cmd := flag.NewFlagSet("ask", flag.ContinueOnError)
	callerID := cmd.String("caller", "cli", "Caller ID")
	session := cmd.String("session", "", "Session ID for conversation history")
	location := cmd.String("location", "", "Caller location")
	if err := cmd.Parse(args); err != nil {
		return err
	}
	message := strings.TrimSpace(strings.Join(cmd.Args(), " "))
	if message == "" {
		return fmt.Errorf("usage: switchboard ask [--caller id] [--session id] <message>")
	}

	a, err := buildApp(ctx, cfg, cliLogger(cfg))
	if err != nil {
		return WrapEngineError(err)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(ctx, global.Timeout)
	defer cancel()

	caller := core.CallerContext{ID: *callerID, SessionID: *session, Location: *location}
	resp, err := a.engine.ProcessRequest(ctx, message, caller, nil)
	if err != nil {
		if !stderrors.Is(err, errors.ErrSynthesis) || resp == nil {
			return WrapEngineError(err)
		}
		resp.Reply = synth.FallbackReply
	}

	if global.JSON {
		printJSON(resp)
		return nil
	}
	fmt.Println(resp.Reply)
	if resp.Plan != nil && len(resp.Plan.Tasks) > 0 {
		fmt.Fprintln(os.Stderr)
		printTasks(resp.Plan.Tasks)
	}
	return nil
}

func runInvoke(ctx context.Context, global globalFlags, cfg *config.Config, args []string) error {
	cmd := flag.NewFlagSet("invoke", flag.ContinueOnError)
	callerID := cmd.String("caller", "cli", "Caller ID")
	rawParams := cmd.String("params", "{}", "Action parameters as a JSON object")
	if err := cmd.Parse(args); err != nil {
		return err
	}
	if cmd.NArg() != 2 {
		return fmt.Errorf("usage: switchboard invoke [--params json] <agent> <action>")
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(*rawParams), &params); err != nil {
		return NewCLIError(errors.New(errors.CodeInvalidInput, "--params is not a JSON object", err),
			`Pass parameters as JSON, e.g. --params '{"id": 42}'`)
	}

	a, err := buildApp(ctx, cfg, cliLogger(cfg))
	if err != nil {
		return WrapEngineError(err)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(ctx, global.Timeout)
	defer cancel()

	task, err := a.engine.InvokeDirect(ctx, cmd.Arg(0), cmd.Arg(1), params, core.CallerContext{ID: *callerID})
	if err != nil {
		return WrapEngineError(err)
	}
	if global.JSON {
		printJSON(task)
		return nil
	}
	printTasks([]*core.Task{task})
	if task.Result != nil {
		printJSON(task.Result.Value)
	}
	return nil
}

func runCapabilities(ctx context.Context, global globalFlags, cfg *config.Config, _ []string) error {
	a, err := buildApp(ctx, cfg, cliLogger(cfg))
	if err != nil {
		return WrapEngineError(err)
	}
	defer a.Close()

	caps := a.engine.ListCapabilities()
	if global.JSON {
		printJSON(caps)
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tACTION\tPARAMS\tDESCRIPTION")
	for _, c := range caps {
		for _, act := range c.Actions {
			names := make([]string, 0, len(act.Params))
			for _, p := range act.Params {
				name := p.Name
				if p.Required {
					name += "*"
				}
				names = append(names, name)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Key, act.Name, strings.Join(names, ","), act.Description)
		}
	}
	return w.Flush()
}

func printTasks(tasks []*core.Task) {
	w := tabwriter.NewWriter(os.Stderr, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tAGENT\tACTION\tSTATUS\tERROR")
	for _, t := range tasks {
		msg := ""
		if t.Error != nil {
			msg = t.Error.Message
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.AgentKey, t.Action, t.Status, msg)
	}
	_ = w.Flush()
}

// cliLogger keeps one-shot commands quiet unless debug logging is asked for.
func cliLogger(cfg *config.Config) *slog.Logger {
	level := cfg.Log.Level
	if level == "" || strings.EqualFold(level, "info") {
		level = "warn"
	}
	return telemetry.NewLogger(os.Stderr, level, cfg.Log.Format)
}

func initTelemetry(ctx context.Context, cfg config.TelemetryConfig) (telemetry.ShutdownFunc, error) {
	exporter := "none"
	if cfg.Enabled {
		exporter = cfg.Exporter
	}
	return telemetry.Init(ctx, "switchboard", version, telemetry.Config{
		Exporter:     exporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
	})
}
