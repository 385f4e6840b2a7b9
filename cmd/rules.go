// Package cmd holds the operator-facing subcommands that run outside the
// long-lived engine process.
package cmd

import (
	"fmt"
	"os"

	"argus/detect"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewRulesCmd builds the `rules` command tree
func NewRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and validate rule files",
	}
	cmd.AddCommand(newValidateCmd())
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate and compile a rule file without starting the engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer logger.Sync()

			rules, err := detect.LoadRules(args[0], 0, logger.Sugar())
			if err != nil {
				return err
			}
			if len(rules) == 0 {
				fmt.Fprintf(os.Stderr, "%s: no valid rules\n", args[0])
				os.Exit(1)
			}
			fmt.Printf("%s: %d rule(s) valid\n", args[0], len(rules))
			for _, r := range rules {
				fmt.Printf("  %-30s %-13s severity=%s enabled=%t\n", r.ID, r.Kind, r.Severity, r.Enabled)
			}
			return nil
		},
	}
}
