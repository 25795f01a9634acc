package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"trackguard/internal/staging"
)

const (
	ansiBlue  = "\x1b[34m"
	ansiReset = "\x1b[0m"
)

func newStatusCommand(configFlag *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show staged drafts and storage locations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}

			store, err := staging.Open(cfg)
			if err != nil {
				return fmt.Errorf("open staging store: %w", err)
			}
			defer store.Close()

			drafts, err := store.List(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list drafts: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, line := range headerLines("TrackGuard Status", shouldColorize(out)) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintf(out, "Staging DB: %s\n", cfg.StagingDBPath())
			fmt.Fprintf(out, "Lock file:  %s\n", cfg.LockPath())
			fmt.Fprintf(out, "Pending drafts: %d\n\n", len(drafts))

			if len(drafts) == 0 {
				fmt.Fprintln(out, "No staged drafts.")
				return nil
			}

			fmt.Fprintln(out, draftTable(drafts))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of drafts to show")
	return cmd
}


func headerLines(title string, colorize bool) []string {
	rule := strings.Repeat("-", len(title))
	if colorize {
		title = ansiBlue + title + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{title, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
