package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Clearhold tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("clearhold", "1.0.0")
	client := NewClearholdClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolCreateEscrow, h.HandleCreateEscrow)
	s.AddTool(ToolLockFunds, h.HandleLockFunds)
	s.AddTool(ToolConfirmDelivery, h.HandleConfirmDelivery)
	s.AddTool(ToolApproveRelease, h.HandleApproveRelease)
	s.AddTool(ToolOpenDispute, h.HandleOpenDispute)
	s.AddTool(ToolSubmitEvidence, h.HandleSubmitEvidence)
	s.AddTool(ToolCastVote, h.HandleCastVote)
	s.AddTool(ToolSignRelease, h.HandleSignRelease)
	s.AddTool(ToolActivateTimeLock, h.HandleActivateTimeLock)
	s.AddTool(ToolReleaseTimeLock, h.HandleReleaseTimeLock)
	s.AddTool(ToolEscrowStatus, h.HandleEscrowStatus)
	s.AddTool(ToolListEscrows, h.HandleListEscrows)
	s.AddTool(ToolGetReputation, h.HandleGetReputation)

	return s
}
