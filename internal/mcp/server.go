// Package mcp exposes the CTG decision-support pipeline as Model Context
// Protocol tools over stdio.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/ctgenie-cds-server/internal/app"
)

// Server represents the CTGenie MCP server
type Server struct {
	app       *app.App
	mcpServer *mcp.Server
	logger    *logrus.Logger
}

// NewServer creates a new MCP server instance and registers its tools
func NewServer(a *app.App) (*Server, error) {
	serverInfo := &mcp.Implementation{
		Name:    a.Config.MCP.ServerName,
		Version: a.Config.MCP.ServerVersion,
	}
	if serverInfo.Name == "" {
		serverInfo.Name = "ctgenie"
	}

	server := &Server{
		app:       a,
		mcpServer: mcp.NewServer(serverInfo, nil),
		logger:    a.Logger,
	}

	if err := server.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return server, nil
}

// Start runs the server on stdio until ctx is cancelled or the client disconnects
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting CTGenie MCP server on stdio")

	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// registerTools registers the prediction, similar-case, recommendation and
// explanation tools
func (s *Server) registerTools() error {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolPredict,
		Description: "Classify a CTG tracing (Normal/Suspect/Pathological) and return recommendations, similar cases, guidelines and ranked feature evidence.",
	}, s.handlePredict)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolSimilarCases,
		Description: "Find historical CTG cases similar to a feature vector, with outcomes and an aggregate summary.",
	}, s.handleSimilarCases)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolRecommend,
		Description: "List clinical action statements for a severity tier, CTG features and optional patient context.",
	}, s.handleRecommend)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolExplain,
		Description: "Generate a caregiver explanation and a clinician explanation for an evidence structure, optionally grounded in a reference index.",
	}, s.handleExplain)

	s.logger.WithField("tool_count", 4).Info("Registered MCP tools")
	return nil
}
