package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ornabmomin/poem-api/client"
)

func main() {
	apiURL := os.Getenv("POEM_API_URL")
	if apiURL == "" {
		apiURL = client.DefaultURL
	}
	// Only needed when the server protects cache clearing.
	apiKey := os.Getenv("POEM_API_KEY")

	s := newServer(client.New(apiURL, apiKey, nil))
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func newServer(c *client.Client) *server.MCPServer {
	s := server.NewMCPServer(
		"poem-api",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.AddTool(mcp.NewTool("get_poetry_episodes",
		mcp.WithDescription("Fetch today's Poetry Foundation episodes that have audio: the Poem of the Day and the Audio Poem of the Day, with title, description, date and audio URL. Served from cache when fresh; a cold fetch renders the pages in a headless browser and can take several seconds."),
		mcp.WithString("format",
			mcp.Description("Output format: 'text' (default, readable summary) or 'json'"),
			mcp.Enum("text", "json"),
		),
	), handleGetEpisodes(c))

	s.AddTool(mcp.NewTool("clear_cache",
		mcp.WithDescription("Drop the cached episodes so the next fetch scrapes the site again."),
	), handleClearCache(c))

	s.AddTool(mcp.NewTool("get_stats",
		mcp.WithDescription("Report server health, browser pool occupancy and cache statistics."),
	), handleGetStats(c))

	return s
}
