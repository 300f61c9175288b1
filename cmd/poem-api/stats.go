package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ornabmomin/poem-api/client"
)

func newStatsCommand() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show pool and cache statistics of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(server, "", nil)
			ctx := cmd.Context()

			health, err := c.Health(ctx)
			if err != nil {
				return fmt.Errorf("health: %w", err)
			}
			cache, err := c.CacheStats(ctx)
			if err != nil {
				return fmt.Errorf("cache stats: %w", err)
			}

			pool := health.BrowserPool
			rows := [][]string{
				{"status", health.Status},
				{"version", health.Version},
				{"uptime", health.Uptime},
				{"pool.total", strconv.Itoa(pool.Total)},
				{"pool.available", strconv.Itoa(pool.Available)},
				{"pool.in_use", strconv.Itoa(pool.InUse)},
				{"pool.waiting", strconv.Itoa(pool.Waiting)},
				{"pool.max", strconv.Itoa(pool.MaxCapacity)},
				{"cache.enabled", strconv.FormatBool(cache.Enabled)},
				{"cache.valid", strconv.Itoa(cache.Valid)},
				{"cache.expired", strconv.Itoa(cache.Expired)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", envOrDefault("POEM_API_URL", client.DefaultURL), "Base URL of the running server")
	return cmd
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
