package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/odvcencio/sizeguard/pkg/config"
	"github.com/odvcencio/sizeguard/pkg/policy"
)

func newPolicyCmd(loadInputs func() (*config.Inputs, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the size policy",
	}
	cmd.AddCommand(newPolicyValidateCmd(loadInputs))
	cmd.AddCommand(newPolicyShowCmd(loadInputs))
	return cmd
}

func newPolicyValidateCmd(loadInputs func() (*config.Inputs, error)) *cobra.Command {
	var sf settingsFlags
	cmd := &cobra.Command{
		Use:           "validate [path]",
		Short:         "Check a policy file for errors",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := loadInputs()
			if err != nil {
				return err
			}
			sf.apply(cmd, in)
			path := in.PolicyPath
			if len(args) == 1 {
				path = args[0]
			}

			out := cmd.OutOrStdout()
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(out, "%s: not found; the global thresholds apply\n", path)
				return nil
			}
			m, err := policy.LoadFile(path, in.Thresholds())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: ok (%d rule(s), %d ignore, %d override_allow pattern(s))\n",
				path, len(m.Rules), len(m.Ignore.Patterns()), len(m.Allow.Patterns()))
			return nil
		},
	}
	sf.register(cmd)
	return cmd
}

func newPolicyShowCmd(loadInputs func() (*config.Inputs, error)) *cobra.Command {
	var (
		sf     settingsFlags
		format string
	)
	cmd := &cobra.Command{
		Use:           "show",
		Short:         "Print the effective policy, with defaults merged in",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := loadInputs()
			if err != nil {
				return err
			}
			sf.apply(cmd, in)
			var f policy.Format
			switch format {
			case "yaml", "yml":
				f = policy.FormatYAML
			case "toml":
				f = policy.FormatTOML
			default:
				return fmt.Errorf("unknown format %q (want yaml or toml)", format)
			}
			m, err := policy.LoadFile(in.PolicyPath, in.Thresholds())
			if err != nil {
				return err
			}
			return policy.Encode(cmd.OutOrStdout(), m.Document(), f)
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&format, "format", "yaml", "output format: yaml or toml")
	return cmd
}
