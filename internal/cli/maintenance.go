package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/xelth-com/eckposgo/internal/sync"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed)
	dimColor  = color.New(color.Faint)
)

// NewSweepCommand creates the sweep command.
func NewSweepCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Auto-resolve every open conflict the rules can decide",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(opts, nil, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.batch.AutoResolveAll(cmd.Context())
			out := cmd.OutOrStdout()
			okColor.Fprintf(out, "auto-resolved %d conflict(s)\n", n)
			return reportErrors(out, err)
		},
	}
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(opts *RootOptions) *cobra.Command {
	var olderThan int

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Deactivate resolved conflicts past retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(opts, nil, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			now := time.Now().UTC()
			cutoff := e.cfg.Conflicts.RetentionCutoff(now)
			if cmd.Flags().Changed("older-than") {
				if olderThan < 0 {
					return fmt.Errorf("--older-than must not be negative")
				}
				cutoff = now.AddDate(0, 0, -olderThan)
			}

			n, err := e.batch.PurgeResolved(cmd.Context(), cutoff)
			out := cmd.OutOrStdout()
			okColor.Fprintf(out, "purged %d conflict(s) resolved before %s\n", n, cutoff.Format(time.RFC3339))
			return reportErrors(out, err)
		},
	}

	cmd.Flags().IntVar(&olderThan, "older-than", 0, "retention in days (default CONFLICT_RETENTION_DAYS)")
	return cmd
}

// NewSummaryCommand creates the summary command.
func NewSummaryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show counts of active conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(opts, nil, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			s, err := e.batch.GetConflictSummary(cmd.Context())
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), s)
			return nil
		},
	}
}

func printSummary(w io.Writer, s *sync.Summary) {
	fmt.Fprintf(w, "Active conflicts: %d\n", s.Total)

	pending := okColor
	if s.PendingManual > 0 {
		pending = warnColor
	}
	pending.Fprintf(w, "  pending manual: %d\n", s.PendingManual)
	fmt.Fprintf(w, "  detected:       %d\n", s.Detected)
	fmt.Fprintf(w, "  auto-resolved:  %d\n", s.AutoResolved)
	fmt.Fprintf(w, "  resolved:       %d\n", s.Resolved)
	dimColor.Fprintf(w, "  ignored:        %d\n", s.Ignored)

	if len(s.ByEntityType) == 0 {
		return
	}
	types := make([]string, 0, len(s.ByEntityType))
	for et := range s.ByEntityType {
		types = append(types, et)
	}
	sort.Strings(types)

	fmt.Fprintln(w, "By entity type:")
	for _, et := range types {
		fmt.Fprintf(w, "  %-12s %d\n", et, s.ByEntityType[et])
	}
}

// reportErrors prints every member failure of a batch and returns an error when there was any
func reportErrors(w io.Writer, err error) error {
	errs := multierr.Errors(err)
	for _, e := range errs {
		errColor.Fprintf(w, "  ✗ %v\n", e)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d conflict(s) failed", len(errs))
	}
	return nil
}
