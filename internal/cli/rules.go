package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xelth-com/eckposgo/internal/config"
	"github.com/xelth-com/eckposgo/internal/models"
	"github.com/xelth-com/eckposgo/internal/sync"
)

// NewRulesCommand creates the rules command.
func NewRulesCommand(opts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Validate and print the conflict rule table",
		Long:  "Loads the rule table the server would start with (--file, --rules, CONFLICT_RULES_PATH or the built-in defaults) and prints it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if file != "" {
				opts = &RootOptions{Verbose: opts.Verbose, RulesFile: file}
			}

			seed, source, err := loadRules(opts, cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Rules from %s:\n", source)
			printRules(out, sync.NewRuleTable(seed...).GetAllRules())
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "rule file to validate")
	return cmd
}

var resolutionColors = map[models.ResolutionType]*color.Color{
	models.ResolutionLocalWins:     color.New(color.FgCyan),
	models.ResolutionRemoteWins:    color.New(color.FgBlue),
	models.ResolutionLastWriteWins: color.New(color.FgGreen),
	models.ResolutionManual:        color.New(color.FgYellow, color.Bold),
	models.ResolutionMerged:        color.New(color.FgMagenta),
}

func printRules(w io.Writer, rules []sync.Rule) {
	for _, r := range rules {
		target := r.EntityType
		if r.PropertyName != "" {
			target += "." + r.PropertyName
		}

		c, ok := resolutionColors[r.DefaultResolution]
		if !ok {
			c = color.New(color.Reset)
		}
		fmt.Fprintf(w, "  %-24s ", target)
		c.Fprintf(w, "%-14s", r.DefaultResolution)
		if r.RequireManualReview {
			warnColor.Fprint(w, " review")
		}
		if r.Description != "" {
			dimColor.Fprintf(w, "  %s", r.Description)
		}
		fmt.Fprintln(w)
	}
}
