package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ornabmomin/poem-api/client"
)

func handleGetEpisodes(c *client.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		episodes, err := c.Episodes(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to fetch episodes: %v", err)), nil
		}

		if request.GetString("format", "text") == "json" {
			data, err := json.MarshalIndent(episodes, "", "  ")
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("failed to encode episodes: %v", err)), nil
			}
			return mcp.NewToolResultText(string(data)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Found %d episode(s)\n", len(episodes))
		for _, ep := range episodes {
			sb.WriteString("\n## " + ep.Type + "\n")
			if ep.Title != nil {
				sb.WriteString("Title: " + *ep.Title + "\n")
			}
			if ep.Date != nil {
				sb.WriteString("Date: " + *ep.Date + "\n")
			}
			if ep.Description != nil {
				sb.WriteString("Description: " + *ep.Description + "\n")
			}
			sb.WriteString("Audio: " + ep.AudioSrc + "\n")
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleClearCache(c *client.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := c.ClearCache(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to clear cache: %v", err)), nil
		}
		return mcp.NewToolResultText(res.Message), nil
	}
}

func handleGetStats(c *client.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		health, err := c.Health(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to fetch health: %v", err)), nil
		}
		cache, err := c.CacheStats(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to fetch cache stats: %v", err)), nil
		}

		p := health.BrowserPool
		var sb strings.Builder
		fmt.Fprintf(&sb, "Status: %s (version %s, up %s)\n", health.Status, health.Version, health.Uptime)
		fmt.Fprintf(&sb, "Browser pool: %d/%d sessions, %d in use, %d available, %d waiting\n",
			p.Total, p.MaxCapacity, p.InUse, p.Available, p.Waiting)
		fmt.Fprintf(&sb, "Cache: enabled=%t, %d valid, %d expired\n", cache.Enabled, cache.Valid, cache.Expired)
		return mcp.NewToolResultText(sb.String()), nil
	}
}
