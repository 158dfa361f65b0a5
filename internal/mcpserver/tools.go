package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Clearhold MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolCreateEscrow = mcp.NewTool("create_escrow",
	mcp.WithDescription(
		"Open a new escrow for a trade, with you as the payer. "+
			"Funds are not moved yet; call lock_funds to put the amount plus platform fee into custody. "+
			"High-value escrows automatically require multi-signature release."),
	mcp.WithString("payee",
		mcp.Required(),
		mcp.Description("Counterparty address that receives the funds on release (e.g. '0x1234...')")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Escrow amount as a decimal string (e.g. '25.50')")),
	mcp.WithString("asset",
		mcp.Description("Asset to escrow (defaults to 'native')")),
)

var ToolLockFunds = mcp.NewTool("lock_funds",
	mcp.WithDescription(
		"Lock the escrow amount plus platform fee into custody. Payer only. "+
			"After this the escrow can no longer be canceled, only resolved."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID from create_escrow")),
)

var ToolConfirmDelivery = mcp.NewTool("confirm_delivery",
	mcp.WithDescription(
		"Declare that you delivered the goods or service. Payee only. "+
			"This opens the release phase: the payer can approve, either side can dispute, "+
			"and the time-lock fallback becomes available."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID")),
	mcp.WithString("delivery_info",
		mcp.Description("Optional free-text delivery details (tracking number, URL, etc.)")),
)

var ToolApproveRelease = mcp.NewTool("approve_release",
	mcp.WithDescription(
		"Approve the release of escrowed funds to the payee. Payer only. "+
			"For normal escrows this pays out immediately; high-value escrows "+
			"need the multi-sig quorum via sign_release instead."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID")),
)

var ToolOpenDispute = mcp.NewTool("open_dispute",
	mcp.WithDescription(
		"Dispute a delivery-confirmed escrow. Either party may open. "+
			"The dispute is settled by reputation-weighted voting; a bond may be "+
			"required, which rides on the outcome. Opening a dispute suspends any armed time lock."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID")),
	mcp.WithString("reason",
		mcp.Required(),
		mcp.Description("Why you are disputing (non-delivery, wrong goods, etc.)")),
	mcp.WithString("bond",
		mcp.Description("Dispute bond amount as a decimal string. Required when bonds are enabled.")),
)

var ToolSubmitEvidence = mcp.NewTool("submit_evidence",
	mcp.WithDescription(
		"Attach an evidence reference (URL, hash, document ID) to an open dispute. "+
			"Either party, any number of times."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID")),
	mcp.WithString("reference",
		mcp.Required(),
		mcp.Description("Opaque evidence reference, e.g. a URL or content hash")),
)

var ToolCastVote = mcp.NewTool("cast_vote",
	mcp.WithDescription(
		"Vote on an open dispute with your full reputation weight. One vote per identity. "+
			"When one side holds a decisive majority of total reputation, the dispute "+
			"resolves immediately in that side's favor."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID of the disputed trade")),
	mcp.WithBoolean("for_payer",
		mcp.Required(),
		mcp.Description("true to vote for refunding the payer, false to vote for paying the payee")),
)

var ToolSignRelease = mcp.NewTool("sign_release",
	mcp.WithDescription(
		"Add your signature to a high-value escrow's multi-sig release. "+
			"Eligible signers are the payer, the payee, and the platform arbitrator. "+
			"Funds release to the payee when the signature quorum is reached."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID")),
)

var ToolActivateTimeLock = mcp.NewTool("activate_timelock",
	mcp.WithDescription(
		"Arm the time-lock fallback on a delivery-confirmed escrow. Either party. "+
			"After the time-lock duration passes, anyone can release the funds "+
			"to the payee with release_timelock. Disputes suspend the lock."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID")),
)

var ToolReleaseTimeLock = mcp.NewTool("release_timelock",
	mcp.WithDescription(
		"Execute an expired time lock, releasing the escrowed funds to the payee."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID")),
)

var ToolEscrowStatus = mcp.NewTool("escrow_status",
	mcp.WithDescription(
		"Get the full state of one escrow: status, amounts, votes, signatures, "+
			"time lock, and resolution if settled."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID")),
)

var ToolListEscrows = mcp.NewTool("list_escrows",
	mcp.WithDescription(
		"List escrows where you are the payer or the payee, newest first."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of escrows to return (default 20)")),
)

var ToolGetReputation = mcp.NewTool("get_reputation",
	mcp.WithDescription(
		"Get the reputation score for any identity on Clearhold. "+
			"Reputation is the voting weight used to settle disputes."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("The identity's address (e.g. '0x1234...')")),
)
