package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/odvcencio/sizeguard/pkg/config"
	"github.com/odvcencio/sizeguard/pkg/history"
	"github.com/odvcencio/sizeguard/pkg/object"
	"github.com/odvcencio/sizeguard/pkg/policy"
)

var version = "0.1.0-dev"

// Exit codes. A run that found violations is distinct from a run that broke.
const (
	exitOK         = 0
	exitViolations = 1
	exitFatal      = 2
)

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, config.Load))
}

func run(args []string, stdout, stderr io.Writer, loadInputs func() (*config.Inputs, error)) int {
	root := newRootCmd(loadInputs)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	if err == nil {
		return exitOK
	}
	var violations *violationsError
	if errors.As(err, &violations) {
		return exitViolations
	}
	fmt.Fprintf(stderr, "sizeguard: %s\n", describe(err))
	return exitFatal
}

// violationsError means the scan completed and found findings at or above
// the failure floor.
type violationsError struct {
	count int
	floor policy.Severity
}

func (e *violationsError) Error() string {
	return fmt.Sprintf("%d finding(s) at or above %s", e.count, e.floor)
}

// describe names the category of a fatal error ahead of its message.
func describe(err error) string {
	var (
		resErr *history.ResolutionError
		nfErr  *object.NotFoundError
		cfgErr *policy.ConfigError
	)
	switch {
	case errors.As(err, &resErr):
		return "revision error: " + err.Error()
	case errors.As(err, &nfErr):
		return fmt.Sprintf("object %s missing from the repository (corrupt or incomplete clone): %v", nfErr.Hash, err)
	case errors.As(err, &cfgErr):
		return "configuration error: " + err.Error()
	}
	return err.Error()
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newRootCmd(loadInputs func() (*config.Inputs, error)) *cobra.Command {
	root := newScanCmd(loadInputs)
	root.AddCommand(newExplainCmd(loadInputs))
	root.AddCommand(newPolicyCmd(loadInputs))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sizeguard %s\n", version)
		},
	}
}
