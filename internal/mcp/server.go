// Package mcp exposes the gateway over the Model Context Protocol on stdio,
// so an AI agent can invoke whitelisted operations as tools. The adapter is
// envelope-preserving: tool outputs mirror the HTTP response fields.
package mcp

import (
	"context"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opgate/opgate/internal/dispatch"
	"github.com/opgate/opgate/internal/model"
)

// Server wraps the MCP SDK server around the dispatcher.
type Server struct {
	mcpServer  *mcpsdk.Server
	dispatcher *dispatch.Dispatcher
	version    string
}

// New creates an MCP server exposing the execute/check/operations tools.
func New(d *dispatch.Dispatcher, version string) *Server {
	s := &Server{dispatcher: d, version: version}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "opgate",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "opgate_execute",
		Description: "Invoke a whitelisted operation. Mutating operations refuse the first attempt with need_confirm; resend with confirm=true to proceed.",
	}, s.handleExecute)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "opgate_check",
		Description: "Validate an operation request without executing it (dry-run through policy, schema, path and confirmation checks).",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "opgate_operations",
		Description: "List the operations this gateway allows, with their argument names and confirmation requirements.",
	}, s.handleOperations)
}

// ExecuteInput defines parameters for opgate_execute and opgate_check.
type ExecuteInput struct {
	Operation string         `json:"operation" jsonschema:"operation name from opgate_operations"`
	Arguments map[string]any `json:"arguments,omitempty" jsonschema:"operation arguments"`
	Confirm   bool           `json:"confirm,omitempty" jsonschema:"explicit confirmation for mutating operations"`
}

// ExecuteOutput mirrors the response envelope.
type ExecuteOutput struct {
	OK          bool           `json:"ok"`
	Summary     string         `json:"summary"`
	NeedConfirm bool           `json:"need_confirm,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Stdout      string         `json:"stdout,omitempty"`
	Stderr      string         `json:"stderr,omitempty"`
	ErrorKind   string         `json:"error_kind,omitempty"`
	Error       string         `json:"error,omitempty"`
	ElapsedMs   int64          `json:"elapsed_ms"`
	ExitCode    int            `json:"exit_code"`
}

// OperationsInput is empty.
type OperationsInput struct{}

// OperationsOutput lists the callable operations.
type OperationsOutput struct {
	Operations []dispatch.OperationInfo `json:"operations"`
}

func (s *Server) handleExecute(ctx context.Context, req *mcpsdk.CallToolRequest, input ExecuteInput) (*mcpsdk.CallToolResult, ExecuteOutput, error) {
	resp := s.dispatcher.Dispatch(ctx, toRequest(input))
	return callResult(resp), toOutput(resp), nil
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input ExecuteInput) (*mcpsdk.CallToolResult, ExecuteOutput, error) {
	resp := s.dispatcher.Check(ctx, toRequest(input))
	return callResult(resp), toOutput(resp), nil
}

func (s *Server) handleOperations(ctx context.Context, req *mcpsdk.CallToolRequest, input OperationsInput) (*mcpsdk.CallToolResult, OperationsOutput, error) {
	return nil, OperationsOutput{Operations: s.dispatcher.Operations()}, nil
}

func toRequest(input ExecuteInput) model.Request {
	return model.Request{
		ID:        uuid.NewString(),
		Operation: input.Operation,
		Arguments: input.Arguments,
		Confirm:   input.Confirm,
	}
}

func toOutput(resp model.Response) ExecuteOutput {
	out := ExecuteOutput{
		OK:          resp.OK,
		Summary:     resp.Summary,
		NeedConfirm: resp.NeedConfirm,
		Data:        resp.Data,
		Stdout:      resp.Stdout,
		Stderr:      resp.Stderr,
		ElapsedMs:   resp.Metrics.ElapsedMs,
		ExitCode:    resp.Metrics.ExitCode,
	}
	if resp.Error != nil {
		out.ErrorKind = string(resp.Error.Kind)
		out.Error = resp.Error.Message
	}
	return out
}

// callResult marks failed envelopes as tool errors while keeping the full
// envelope in the structured output. A needConfirm refusal is not an error:
// the agent is expected to ask the user and retry.
func callResult(resp model.Response) *mcpsdk.CallToolResult {
	if resp.OK || resp.NeedConfirm {
		return nil
	}
	return &mcpsdk.CallToolResult{IsError: true}
}
