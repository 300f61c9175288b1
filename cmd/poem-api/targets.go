package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newTargetsCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Print the configured scrape targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), cfg.Scraper.Targets)
			}

			rows := make([][]string, 0, len(cfg.Scraper.Targets))
			for _, t := range cfg.Scraper.Targets {
				var steps []string
				if t.Selectors.Reveal != "" {
					steps = append(steps, "reveal")
				}
				if t.Selectors.Date != "" {
					steps = append(steps, "date")
				}
				rows = append(rows, []string{
					t.Name,
					t.Type,
					t.URL,
					t.NavigationTimeout.String(),
					strings.Join(steps, ","),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Name", "Type", "URL", "Timeout", "Extras"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}
