package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/apkalias/internal/artifact"
	"github.com/kingrea/apkalias/internal/config"
	"github.com/kingrea/apkalias/internal/logbook"
)

func (c *cli) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create .apkalias/ with a default config.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.InitDir(c.projectDir); err != nil {
				return fmt.Errorf("init %s: %w", config.Dir, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", filepath.Join(c.projectDir, config.Dir))
			return nil
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the most recent copy journal entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfig(c.projectDir)
			if err != nil {
				return err
			}
			lb, err := logbook.New(cfg.HistoryPath())
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			entries, total := lb.Tail(lines)
			out := cmd.OutOrStdout()
			if total == 0 {
				fmt.Fprintln(out, "No history yet.")
				return nil
			}
			for _, entry := range entries {
				fmt.Fprintln(out, entry)
			}
			if total > len(entries) {
				fmt.Fprintf(out, "(%d of %d entries)\n", len(entries), total)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "number of entries to show")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the outcome of the last copy run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfig(c.projectDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			manifest, err := artifact.NewStore(cfg.LastRunPath()).Load()
			if errors.Is(err, artifact.ErrNoManifest) {
				fmt.Fprintln(out, "No runs recorded yet.")
				return nil
			}
			if err != nil {
				return err
			}
			copied, failed := manifest.Counts()
			fmt.Fprintf(out, "Run %s\n", manifest.RunID)
			fmt.Fprintf(out, "  stage:    %s (trigger %s)\n", manifest.Stage, manifest.Trigger)
			if manifest.Outcome != "" {
				fmt.Fprintf(out, "  outcome:  %s\n", manifest.Outcome)
			}
			if manifest.BuildDir != "" {
				fmt.Fprintf(out, "  build:    %s\n", manifest.BuildDir)
			}
			fmt.Fprintf(out, "  prefix:   %q\n", manifest.Prefix)
			fmt.Fprintf(out, "  finished: %s (%s)\n",
				manifest.FinishedAt.Format(time.RFC3339),
				manifest.FinishedAt.Sub(manifest.StartedAt).Round(time.Millisecond))
			fmt.Fprintf(out, "  result:   %d copied, %d failed\n", copied, failed)
			for _, entry := range manifest.Entries {
				line := fmt.Sprintf("  %-6s %s -> %s", entry.Status, entry.Source, entry.Destination)
				if entry.Error != "" {
					line += ": " + entry.Error
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}
