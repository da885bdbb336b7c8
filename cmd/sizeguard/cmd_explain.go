package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/sizeguard/pkg/config"
	"github.com/odvcencio/sizeguard/pkg/policy"
)

func newExplainCmd(loadInputs func() (*config.Inputs, error)) *cobra.Command {
	var (
		sf     settingsFlags
		sizeKB float64
		binary bool
		mime   string
	)
	cmd := &cobra.Command{
		Use:   "explain <path>",
		Short: "Show how the policy would judge a file",
		Long: `explain evaluates a hypothetical file against the policy and prints the
stage that decided it. Nothing is read from the repository.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := loadInputs()
			if err != nil {
				return err
			}
			sf.apply(cmd, in)
			m, err := policy.LoadFile(in.PolicyPath, in.Thresholds())
			if err != nil {
				return err
			}

			v := policy.Evaluate(m, policy.Facts{Path: args[0], SizeKB: sizeKB, Binary: binary, MIME: mime})
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s\n", args[0], v.Kind)
			fmt.Fprintf(out, "  stage:    %s\n", v.Stage)
			if v.Kind == policy.Violation {
				fmt.Fprintf(out, "  severity: %s\n", v.Severity)
			}
			if v.RuleID != "" {
				fmt.Fprintf(out, "  rule:     %s\n", v.RuleID)
			}
			fmt.Fprintf(out, "  reason:   %s\n", v.Reason)
			return nil
		},
	}
	sf.register(cmd)
	cmd.Flags().Float64Var(&sizeKB, "size-kb", 0, "file size in KB")
	cmd.Flags().BoolVar(&binary, "binary", false, "treat the file as binary")
	cmd.Flags().StringVar(&mime, "mime", "", "MIME type, e.g. image/png")
	return cmd
}
