package mcpserver

import (
	"context"
	"encoding/json"
	"hirewire/app/service/conversation"
	"log"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/samber/do"
	"github.com/samber/oops"
)

var Version = "dev"

const instructions = `hirewire guides a hiring manager from a job intent to a finalized job description
and ten screening questions. Call "converse" with the same conversation_id for every user message
and relay the returned text verbatim. Use "conversation_state" to inspect progress.`

type Server struct {
	conversations *conversation.Service
	mcp           *server.MCPServer
}

func New(di *do.Injector) (*Server, error) {
	return NewServer(do.MustInvoke[*conversation.Service](di)), nil
}

func NewServer(conversations *conversation.Service) *Server {
	s := &Server{conversations: conversations}

	s.mcp = server.NewMCPServer(
		"hirewire",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	s.mcp.AddTool(mcp.NewTool("converse",
		mcp.WithDescription("Send one user message to a hiring conversation and get the agent reply."),
		mcp.WithString("conversation_id",
			mcp.Required(),
			mcp.Description("Conversation identifier. A new id starts a new conversation."),
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("The user's message, verbatim."),
		),
	), s.handleConverse)

	s.mcp.AddTool(mcp.NewTool("conversation_state",
		mcp.WithDescription("Return the persisted state of a hiring conversation as JSON."),
		mcp.WithString("conversation_id",
			mcp.Required(),
			mcp.Description("Conversation identifier."),
		),
	), s.handleState)

	return s
}

// Run serves the stdio transport until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(os.Stderr, "mcp: ", log.LstdFlags))

	slog.Info("MCP server listening on stdio")

	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return oops.In("mcpserver").Wrapf(err, "stdio server failed")
	}

	return nil
}

func (s *Server) handleConverse(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("conversation_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	reply, err := s.conversations.RunTurn(ctx, id, message)
	if err != nil {
		slog.WarnContext(ctx, "Turn failed", "conversation_id", id, "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(reply.Message), nil
}

func (s *Server) handleState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("conversation_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	conv, err := s.conversations.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return nil, oops.In("mcpserver").Wrapf(err, "failed to encode conversation")
	}

	return mcp.NewToolResultText(string(data)), nil
}
