package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *ClearholdClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *ClearholdClient) *Handlers {
	return &Handlers{client: client}
}

// HandleCreateEscrow opens a new escrow with the caller as payer.
func (h *Handlers) HandleCreateEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payee := req.GetString("payee", "")
	if payee == "" {
		return mcp.NewToolResultError("payee is required"), nil
	}
	amt := req.GetString("amount", "")
	if amt == "" {
		return mcp.NewToolResultError("amount is required"), nil
	}
	asset := req.GetString("asset", "")

	raw, err := h.client.CreateEscrow(ctx, payee, amt, asset)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create escrow: %v", err)), nil
	}

	e, err := parseEscrow(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Escrow created.\n")
	fmt.Fprintf(&sb, "Escrow ID: %s\n", e.ID)
	fmt.Fprintf(&sb, "Payee: %s\n", e.Payee)
	fmt.Fprintf(&sb, "Amount: %s (fee %s)\n", e.Amount, e.FeeAmount)
	if e.RequiresMultiSig {
		fmt.Fprintf(&sb, "High-value: release needs %d signatures\n", e.MultiSigThreshold)
	}
	sb.WriteString("\nNext step: lock_funds to move the amount plus fee into custody.")
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleLockFunds puts the escrow amount plus fee into custody.
func (h *Handlers) HandleLockFunds(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.escrowAction(ctx, req, "Funds locked in custody.",
		func(ctx context.Context, id string) (json.RawMessage, error) {
			return h.client.LockFunds(ctx, id)
		})
}

// HandleConfirmDelivery marks the trade as delivered.
func (h *Handlers) HandleConfirmDelivery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}
	deliveryInfo := req.GetString("delivery_info", "")

	raw, err := h.client.ConfirmDelivery(ctx, escrowID, deliveryInfo)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to confirm delivery: %v", err)), nil
	}
	return escrowResult("Delivery confirmed. The payer can now approve the release, "+
		"or either side can open a dispute or arm the time lock.", raw), nil
}

// HandleApproveRelease approves the release as payer.
func (h *Handlers) HandleApproveRelease(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.escrowAction(ctx, req, "Release approved.",
		func(ctx context.Context, id string) (json.RawMessage, error) {
			return h.client.ApproveRelease(ctx, id)
		})
}

// HandleOpenDispute opens a dispute on a delivery-confirmed escrow.
func (h *Handlers) HandleOpenDispute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}
	reason := req.GetString("reason", "")
	if reason == "" {
		return mcp.NewToolResultError("reason is required"), nil
	}
	bond := req.GetString("bond", "")

	raw, err := h.client.OpenDispute(ctx, escrowID, reason, bond)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to open dispute: %v", err)), nil
	}
	return escrowResult("Dispute opened. The community settles it by reputation-weighted voting.", raw), nil
}

// HandleSubmitEvidence attaches evidence to an open dispute.
func (h *Handlers) HandleSubmitEvidence(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}
	reference := req.GetString("reference", "")
	if reference == "" {
		return mcp.NewToolResultError("reference is required"), nil
	}

	raw, err := h.client.SubmitEvidence(ctx, escrowID, reference)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to submit evidence: %v", err)), nil
	}
	return escrowResult("Evidence submitted.", raw), nil
}

// HandleCastVote votes on an open dispute.
func (h *Handlers) HandleCastVote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}
	forPayer := req.GetBool("for_payer", false)

	raw, err := h.client.CastVote(ctx, escrowID, forPayer)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to cast vote: %v", err)), nil
	}

	e, err := parseEscrow(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("Vote cast.\n")
	fmt.Fprintf(&sb, "Tally: %d for payer, %d for payee\n", e.VotesForPayer, e.VotesForPayee)
	if e.Outcome != "" {
		fmt.Fprintf(&sb, "Decisive! Dispute resolved: %s\n", e.Outcome)
	} else {
		sb.WriteString("No decisive majority yet.\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleSignRelease adds a multi-sig signature.
func (h *Handlers) HandleSignRelease(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}

	raw, err := h.client.SignRelease(ctx, escrowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to sign release: %v", err)), nil
	}

	e, err := parseEscrow(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("Signature recorded.\n")
	fmt.Fprintf(&sb, "Signatures: %d of %d\n", len(e.Signers), e.MultiSigThreshold)
	if e.Outcome != "" {
		fmt.Fprintf(&sb, "Quorum reached, funds released: %s\n", e.Outcome)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleActivateTimeLock arms the time-lock fallback.
func (h *Handlers) HandleActivateTimeLock(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.escrowAction(ctx, req, "Time lock armed. After it expires, anyone can release the funds to the payee.",
		func(ctx context.Context, id string) (json.RawMessage, error) {
			return h.client.ActivateTimeLock(ctx, id)
		})
}

// HandleReleaseTimeLock executes an expired time lock.
func (h *Handlers) HandleReleaseTimeLock(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.escrowAction(ctx, req, "Time lock executed, funds released to the payee.",
		func(ctx context.Context, id string) (json.RawMessage, error) {
			return h.client.ReleaseTimeLock(ctx, id)
		})
}

// HandleEscrowStatus fetches one escrow's full state.
func (h *Handlers) HandleEscrowStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}

	raw, err := h.client.GetEscrow(ctx, escrowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get escrow: %v", err)), nil
	}

	e, err := parseEscrow(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}
	return mcp.NewToolResultText(formatEscrow(e)), nil
}

// HandleListEscrows lists the caller's escrows.
func (h *Handlers) HandleListEscrows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListEscrows(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list escrows: %v", err)), nil
	}

	text, err := formatEscrowList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrows: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetReputation returns the reputation score for an identity.
func (h *Handlers) HandleGetReputation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}

	raw, err := h.client.GetReputation(ctx, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get reputation: %v", err)), nil
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse reputation: %v", err)), nil
	}
	score, _ := m["score"].(float64)
	return mcp.NewToolResultText(fmt.Sprintf("Identity: %s\nReputation (voting weight): %.0f", address, score)), nil
}

// escrowAction runs a simple escrow_id-only action and formats the result.
func (h *Handlers) escrowAction(ctx context.Context, req mcp.CallToolRequest, headline string,
	op func(ctx context.Context, id string) (json.RawMessage, error)) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}
	raw, err := op(ctx, escrowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Action failed: %v", err)), nil
	}
	return escrowResult(headline, raw), nil
}

// --- Formatting helpers ---

// escrowView is the subset of the escrow JSON the MCP surface reports.
type escrowView struct {
	ID                string   `json:"id"`
	Payer             string   `json:"payer"`
	Payee             string   `json:"payee"`
	Asset             string   `json:"asset"`
	Amount            string   `json:"amount"`
	FeeAmount         string   `json:"feeAmount"`
	Status            string   `json:"status"`
	RequiresMultiSig  bool     `json:"requiresMultiSig"`
	MultiSigThreshold int      `json:"multiSigThreshold"`
	Signers           []string `json:"signers"`
	TimeLockExpiry    string   `json:"timeLockExpiry"`
	DisputeReason     string   `json:"disputeReason"`
	VotesForPayer     uint64   `json:"votesForPayer"`
	VotesForPayee     uint64   `json:"votesForPayee"`
	Outcome           string   `json:"outcome"`
	ResolutionPath    string   `json:"resolutionPath"`
	CreatedAt         string   `json:"createdAt"`
	ResolvedAt        string   `json:"resolvedAt"`
}

func parseEscrow(raw json.RawMessage) (*escrowView, error) {
	var e escrowView
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	if e.ID == "" {
		return nil, fmt.Errorf("no escrow in response: %s", string(raw))
	}
	return &e, nil
}

func escrowResult(headline string, raw json.RawMessage) *mcp.CallToolResult {
	e, err := parseEscrow(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err))
	}
	return mcp.NewToolResultText(headline + "\n\n" + formatEscrow(e))
}

func formatEscrow(e *escrowView) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Escrow %s\n", e.ID)
	fmt.Fprintf(&sb, "  Status: %s\n", e.Status)
	fmt.Fprintf(&sb, "  Payer: %s\n", e.Payer)
	fmt.Fprintf(&sb, "  Payee: %s\n", e.Payee)
	fmt.Fprintf(&sb, "  Amount: %s %s (fee %s)\n", e.Amount, e.Asset, e.FeeAmount)
	if e.RequiresMultiSig {
		fmt.Fprintf(&sb, "  Multi-sig: %d of %d signatures\n", len(e.Signers), e.MultiSigThreshold)
	}
	if e.TimeLockExpiry != "" {
		fmt.Fprintf(&sb, "  Time lock expires: %s\n", e.TimeLockExpiry)
	}
	if e.DisputeReason != "" {
		fmt.Fprintf(&sb, "  Dispute: %s\n", e.DisputeReason)
		fmt.Fprintf(&sb, "  Votes: %d for payer, %d for payee\n", e.VotesForPayer, e.VotesForPayee)
	}
	if e.Outcome != "" {
		fmt.Fprintf(&sb, "  Resolved: %s via %s at %s\n", e.Outcome, e.ResolutionPath, e.ResolvedAt)
	}
	return sb.String()
}

func formatEscrowList(raw json.RawMessage) (string, error) {
	var resp struct {
		Escrows []escrowView `json:"escrows"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected escrows response format")
	}
	if len(resp.Escrows) == 0 {
		return "No escrows found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d escrow(s):\n\n", len(resp.Escrows))
	for i, e := range resp.Escrows {
		fmt.Fprintf(&sb, "%d. %s [%s]\n", i+1, e.ID, e.Status)
		fmt.Fprintf(&sb, "   %s -> %s, %s %s\n", e.Payer, e.Payee, e.Amount, e.Asset)
		if e.Outcome != "" {
			fmt.Fprintf(&sb, "   Resolved: %s via %s\n", e.Outcome, e.ResolutionPath)
		}
	}
	return sb.String(), nil
}
