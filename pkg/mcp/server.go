package mcp

import (
	"context"
	stderrors "errors"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/switchboard/pkg/core"
	"github.com/jllopis/switchboard/pkg/engine"
	"github.com/jllopis/switchboard/pkg/errors"
	"github.com/jllopis/switchboard/pkg/registry"
	"github.com/jllopis/switchboard/pkg/synth"
)

// AskTool is the tool that wraps natural-language requests.
const AskTool = "ask"

const rephraseMessage = "I couldn't work out what to do with that request. Could you rephrase it or be more specific?"

// Engine is the subset of the orchestration engine the server needs.
type Engine interface {
	ListCapabilities() []registry.Capability
	ProcessRequest(ctx context.Context, message string, caller core.CallerContext, situation *core.Situation) (*engine.Response, error)
	InvokeDirect(ctx context.Context, agentKey, action string, params map[string]any, caller core.CallerContext) (*core.Task, error)
}

// Server exposes agent actions and the ask flow as MCP tools.
type Server struct {
	mcpServer *mcpserver.MCPServer
	engine    Engine
	caller    core.CallerContext
	logger    *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithCaller sets the caller identity used for every tool call.
func WithCaller(c core.CallerContext) ServerOption {
	return func(s *Server) { s.caller = c }
}

// WithServerLogger sets the server logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates an MCP server with one tool per agent action plus ask.
func NewServer(name, version string, eng Engine, opts ...ServerOption) *Server {
	s := &Server{
		mcpServer: mcpserver.NewMCPServer(name, version, mcpserver.WithToolCapabilities(false)),
		engine:    eng,
		caller:    core.CallerContext{ID: "mcp"},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio serves the tools over stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	tools := []mcpserver.ServerTool{s.askTool()}
	for _, c := range s.engine.ListCapabilities() {
		for _, action := range c.Actions {
			tools = append(tools, mcpserver.ServerTool{
				Tool:    ActionTool(c, action),
				Handler: s.actionHandler(c.Key, action.Name),
			})
		}
	}
	s.mcpServer.AddTools(tools...)
}

func (s *Server) askTool() mcpserver.ServerTool {
	tool := mcplib.NewTool(AskTool,
		mcplib.WithDescription("Send a natural-language request to the orchestrator"),
		mcplib.WithString("message",
			mcplib.Required(),
			mcplib.Description("What you want done"),
		),
		mcplib.WithString("session_id",
			mcplib.Description("Conversation session for follow-up requests"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleAsk}
}

func (s *Server) handleAsk(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	message, _ := args["message"].(string)
	if message == "" {
		return mcplib.NewToolResultError("message is required"), nil
	}
	caller := s.caller
	if session, _ := args["session_id"].(string); session != "" {
		caller.SessionID = session
	}
	s.logger.InfoContext(ctx, "mcp.tool.call", "tool", AskTool, "caller_id", caller.ID)

	resp, err := s.engine.ProcessRequest(ctx, message, caller, nil)
	switch {
	case err == nil:
	case stderrors.Is(err, errors.ErrSynthesis):
		return mcplib.NewToolResultText(synth.FallbackReply), nil
	case stderrors.Is(err, errors.ErrClassification), stderrors.Is(err, errors.ErrPlanning):
		return mcplib.NewToolResultError(rephraseMessage), nil
	default:
		return mcplib.NewToolResultErrorFromErr("request failed", err), nil
	}
	if resp.NeedsClarification {
		return mcplib.NewToolResultText(rephraseMessage), nil
	}
	return mcplib.NewToolResultText(resp.Reply), nil
}

func (s *Server) actionHandler(agentKey, action string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		s.logger.InfoContext(ctx, "mcp.tool.call", "tool", ToolName(agentKey, action), "caller_id", s.caller.ID)
		task, err := s.engine.InvokeDirect(ctx, agentKey, action, req.GetArguments(), s.caller)
		if err != nil {
			return mcplib.NewToolResultErrorFromErr("invoke "+ToolName(agentKey, action), err), nil
		}
		return TaskResult(task), nil
	}
}
