package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// New builds the MCP server with the escrow toolset bound to an API client.
func New(client *Client, version string) *server.MCPServer {
	s := server.NewMCPServer("clearhold", version,
		server.WithToolCapabilities(false),
	)

	s.AddTool(mcp.NewTool("escrow_create",
		mcp.WithDescription("Create an escrow for an order. You become the payer; the full amount moves from your balance into custody."),
		mcp.WithString("order_id", mcp.Required(), mcp.Description("Unique order identifier; one escrow per order, ever")),
		mcp.WithString("payee", mcp.Required(), mcp.Description("Principal that receives the net amount on release")),
		mcp.WithString("asset", mcp.Required(), mcp.Description("Asset symbol, e.g. USDC")),
		mcp.WithString("amount", mcp.Required(), mcp.Description("Decimal amount, e.g. \"25.50\"")),
		mcp.WithString("release_delay", mcp.Description("Optional auto-release delay as a Go duration, e.g. \"72h\"")),
	), handleCreate(client))

	s.AddTool(mcp.NewTool("escrow_lookup",
		mcp.WithDescription("Look up an escrow by its id or by the order id it was created for."),
		mcp.WithString("escrow_id", mcp.Description("Escrow identifier (esc_...)")),
		mcp.WithString("order_id", mcp.Description("Order identifier, used when escrow_id is not given")),
	), handleLookup(client))

	s.AddTool(mcp.NewTool("escrow_list",
		mcp.WithDescription("List escrows, optionally filtered by status or participant."),
		mcp.WithString("status", mcp.Description("funded, released, refunded, disputed, or resolved")),
		mcp.WithString("participant", mcp.Description("Only escrows where this principal is payer or payee")),
	), handleList(client))

	s.AddTool(mcp.NewTool("escrow_events",
		mcp.WithDescription("Fetch the recorded event history of one escrow."),
		mcp.WithString("escrow_id", mcp.Required(), mcp.Description("Escrow identifier")),
	), handleEvents(client))

	s.AddTool(mcp.NewTool("escrow_release",
		mcp.WithDescription("Release a funded escrow to the payee. Payer only; fee goes to the platform collector."),
		mcp.WithString("escrow_id", mcp.Required(), mcp.Description("Escrow identifier")),
	), handleRelease(client))

	s.AddTool(mcp.NewTool("escrow_refund",
		mcp.WithDescription("Refund a funded escrow to the payer in full. Payee only; no fee."),
		mcp.WithString("escrow_id", mcp.Required(), mcp.Description("Escrow identifier")),
	), handleRefund(client))

	s.AddTool(mcp.NewTool("escrow_dispute",
		mcp.WithDescription("Raise a dispute on a funded escrow, freezing it until the arbitrator resolves it. Payer or payee only."),
		mcp.WithString("escrow_id", mcp.Required(), mcp.Description("Escrow identifier")),
		mcp.WithString("reason", mcp.Required(), mcp.Description("What went wrong; recorded verbatim")),
	), handleDispute(client))

	s.AddTool(mcp.NewTool("escrow_resolve",
		mcp.WithDescription("Resolve a disputed escrow for the payer or the payee. Arbitrator only."),
		mcp.WithString("escrow_id", mcp.Required(), mcp.Description("Escrow identifier")),
		mcp.WithString("winner", mcp.Required(), mcp.Description("Principal the funds go to; must be the payer or the payee")),
	), handleResolve(client))

	s.AddTool(mcp.NewTool("escrow_stats",
		mcp.WithDescription("Platform-wide aggregates: escrow counts by status, total volume, current fee settings."),
	), handleStats(client))

	return s
}

// ServeStdio runs the MCP server over stdin/stdout until EOF.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func result(raw json.RawMessage, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func handleCreate(c *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		orderID, err := req.RequireString("order_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		payee, err := req.RequireString("payee")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		assetSym, err := req.RequireString("asset")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		amt, err := req.RequireString("amount")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		body := map[string]interface{}{
			"orderId": orderID,
			"payee":   payee,
			"asset":   assetSym,
			"amount":  amt,
		}
		if delay := req.GetString("release_delay", ""); delay != "" {
			body["releaseDelay"] = delay
		}
		return result(c.CreateEscrow(ctx, body))
	}
}

func handleLookup(c *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if id := req.GetString("escrow_id", ""); id != "" {
			return result(c.GetEscrow(ctx, id))
		}
		if orderID := req.GetString("order_id", ""); orderID != "" {
			return result(c.GetEscrowByOrder(ctx, orderID))
		}
		return mcp.NewToolResultError("provide escrow_id or order_id"), nil
	}
}

func handleList(c *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return result(c.ListEscrows(ctx, req.GetString("status", ""), req.GetString("participant", "")))
	}
}

func handleEvents(c *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("escrow_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return result(c.GetEvents(ctx, id))
	}
}

func handleRelease(c *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("escrow_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return result(c.Release(ctx, id))
	}
}

func handleRefund(c *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("escrow_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return result(c.Refund(ctx, id))
	}
}

func handleDispute(c *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("escrow_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		reason, err := req.RequireString("reason")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return result(c.Dispute(ctx, id, reason))
	}
}

func handleResolve(c *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("escrow_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		winner, err := req.RequireString("winner")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return result(c.Resolve(ctx, id, winner))
	}
}

func handleStats(c *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return result(c.GetStats(ctx))
	}
}
