package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ornabmomin/poem-api/models"
)

func newEpisodesCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "episodes",
		Short: "Scrape the configured targets once and print the episodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			// Logs go to stderr so stdout stays machine readable.
			logger := newLogger(cfg.Log, os.Stderr)

			a := newApp(cfg, logger, false)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := a.close(ctx); err != nil {
					logger.Warn("error closing session pool", "error", err)
				}
			}()

			episodes, err := a.orch.GetEpisodes(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), episodes)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderEpisodes(episodes))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func renderEpisodes(episodes []models.Episode) string {
	rows := make([][]string, 0, len(episodes))
	for _, ep := range episodes {
		rows = append(rows, []string{ep.Type, deref(ep.Title), deref(ep.Date), ep.AudioSrc})
	}
	return renderTable([]string{"Type", "Title", "Date", "Audio"}, rows, nil)
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

// writeJSON encodes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
