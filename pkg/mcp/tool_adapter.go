package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/switchboard/pkg/core"
	"github.com/jllopis/switchboard/pkg/errors"
	"github.com/jllopis/switchboard/pkg/registry"
)

// ToolSeparator joins agent key and action in exposed tool names.
const ToolSeparator = "__"

// ToolName returns the exposed tool name for an agent action.
func ToolName(agentKey, action string) string {
	return agentKey + ToolSeparator + action
}

// SplitToolName is the inverse of ToolName.
func SplitToolName(name string) (agentKey, action string, ok bool) {
	agentKey, action, ok = strings.Cut(name, ToolSeparator)
	return agentKey, action, ok && agentKey != "" && action != ""
}

// ActionTool describes an agent action as an MCP tool whose input schema
// follows the declared params.
func ActionTool(c registry.Capability, action registry.ActionSpec) mcp.Tool {
	props := make(map[string]any, len(action.Params))
	var required []string
	for _, p := range action.Params {
		prop := map[string]any{}
		if t := schemaType(p.Type); t != "" {
			prop["type"] = t
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, _ := json.Marshal(schema)

	desc := action.Description
	if desc == "" {
		desc = fmt.Sprintf("%s: %s", c.Name, action.Name)
	}
	return mcp.NewToolWithRawSchema(ToolName(c.Key, action.Name), desc, raw)
}

func schemaType(t registry.ParamType) string {
	switch t {
	case registry.TypeString, registry.TypeNumber, registry.TypeInteger,
		registry.TypeBoolean, registry.TypeObject, registry.TypeArray:
		return string(t)
	}
	return ""
}

// ActionSpecs derives action declarations from remote tools.
func ActionSpecs(tools []mcp.Tool) []registry.ActionSpec {
	out := make([]registry.ActionSpec, 0, len(tools))
	for _, tool := range tools {
		spec := registry.ActionSpec{Name: tool.Name, Description: tool.Description}
		required := make(map[string]bool, len(tool.InputSchema.Required))
		for _, r := range tool.InputSchema.Required {
			required[r] = true
		}
		for name, raw := range tool.InputSchema.Properties {
			p := registry.ParamSpec{Name: name, Required: required[name]}
			if prop, ok := raw.(map[string]any); ok {
				if t, ok := prop["type"].(string); ok && schemaType(registry.ParamType(t)) != "" {
					p.Type = registry.ParamType(t)
				}
				p.Description, _ = prop["description"].(string)
			}
			spec.Params = append(spec.Params, p)
		}
		slices.SortFunc(spec.Params, func(a, b registry.ParamSpec) int { return strings.Compare(a.Name, b.Name) })
		out = append(out, spec)
	}
	return out
}

// ToolCaller abstracts MCP tool execution.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// ToolExecutor is a registry.Executor that runs each action as a tool on a
// remote MCP server. Actions map to tool names one to one unless renamed.
type ToolExecutor struct {
	caller ToolCaller
	rename map[string]string
}

// NewToolExecutor creates a ToolExecutor. rename maps action names to tool
// names where they differ.
func NewToolExecutor(caller ToolCaller, rename map[string]string) (*ToolExecutor, error) {
	if caller == nil {
		return nil, errors.New(errors.CodeInvalidInput, "tool caller is required", nil)
	}
	return &ToolExecutor{caller: caller, rename: rename}, nil
}

// Execute implements registry.Executor.
func (t *ToolExecutor) Execute(ctx context.Context, action string, params map[string]any, _ core.CallerContext) (any, error) {
	name := action
	if mapped, ok := t.rename[action]; ok && mapped != "" {
		name = mapped
	}
	result, err := t.caller.CallTool(ctx, name, params)
	if err != nil {
		return nil, errors.New(errors.CodeExecution, fmt.Sprintf("mcp tool %q", name), err)
	}
	return ResultValue(result)
}

// ResultValue turns a tool result into a task result: structured content
// when present, otherwise the joined text. IsError results are errors.
func ResultValue(result *mcp.CallToolResult) (any, error) {
	if result == nil {
		return nil, errors.New(errors.CodeExecution, "mcp tool result is nil", nil)
	}
	if result.IsError {
		return nil, errors.New(errors.CodeExecution, "mcp tool returned error: "+textContent(result.Content), nil)
	}
	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}
	return textContent(result.Content), nil
}

// TaskResult renders a settled task as a tool result.
func TaskResult(task *core.Task) *mcp.CallToolResult {
	if task.Error != nil {
		return mcp.NewToolResultError(task.Error.Error())
	}
	var value any
	if task.Result != nil {
		value = task.Result.Value
	}
	if s, ok := value.(string); ok {
		return mcp.NewToolResultText(s)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("encode result", err)
	}
	res := mcp.NewToolResultText(string(data))
	if m, ok := value.(map[string]any); ok {
		res.StructuredContent = m
	}
	return res
}

func textContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
