package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/odvcencio/sizeguard/pkg/config"
	"github.com/odvcencio/sizeguard/pkg/content"
	"github.com/odvcencio/sizeguard/pkg/history"
	"github.com/odvcencio/sizeguard/pkg/policy"
	"github.com/odvcencio/sizeguard/pkg/report"
	"github.com/odvcencio/sizeguard/pkg/scan"
)

// settingsFlags are the flags shared by commands that load a policy. Each
// one overrides its INPUT_* variable only when set on the command line.
type settingsFlags struct {
	policyPath      string
	maxTextSizeKB   float64
	maxBinarySizeKB float64
}

func (f *settingsFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.policyPath, "policy", policy.DefaultPath, "policy file (YAML, or TOML by extension)")
	flags.Float64Var(&f.maxTextSizeKB, "max-text-size-kb", 500, "global text file limit in KB")
	flags.Float64Var(&f.maxBinarySizeKB, "max-binary-size-kb", 100, "global binary file limit in KB")
}

func (f *settingsFlags) apply(cmd *cobra.Command, in *config.Inputs) {
	flags := cmd.Flags()
	if flags.Changed("policy") {
		in.PolicyPath = f.policyPath
	}
	if flags.Changed("max-text-size-kb") {
		in.MaxTextSizeKB = f.maxTextSizeKB
	}
	if flags.Changed("max-binary-size-kb") {
		in.MaxBinarySizeKB = f.maxBinarySizeKB
	}
}

type scanFlags struct {
	settingsFlags
	dir            string
	base           string
	head           string
	failOn         string
	scanMode       string
	backend        string
	dedupe         bool
	annotatePR     bool
	fileClassifier bool
	workers        int
	timeout        time.Duration
	color          bool
	verbose        bool
}

func newScanCmd(loadInputs func() (*config.Inputs, error)) *cobra.Command {
	var f scanFlags
	cmd := &cobra.Command{
		Use:   "sizeguard",
		Short: "Check every commit of a change for oversized or disallowed files",
		Long: `sizeguard walks the commits a change would introduce (head minus the
merge-base with base) and evaluates every added or modified file against the
size and pattern policy. It exits 1 when findings reach --fail-on and 2 when
the scan itself fails.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := loadInputs()
			if err != nil {
				return err
			}
			f.apply(cmd, in)
			return runScan(cmd, in, &f)
		},
	}

	f.register(cmd)
	flags := cmd.Flags()
	flags.StringVarP(&f.dir, "repo", "C", "", "repository directory (default $GITHUB_WORKSPACE or .)")
	flags.StringVar(&f.base, "base", "", "base revision (default from the pull request event or origin/$GITHUB_BASE_REF)")
	flags.StringVar(&f.head, "head", "", "head revision (default HEAD)")
	flags.StringVar(&f.failOn, "fail-on", "error", "lowest severity that fails the run: warn or error")
	flags.StringVar(&f.scanMode, "scan-mode", "history", "history (every commit) or diff (net change only)")
	flags.StringVar(&f.backend, "backend", "auto", "repository access: auto, native or git")
	flags.BoolVar(&f.dedupe, "dedupe", true, "evaluate identical content once, at its earliest commit")
	flags.BoolVar(&f.annotatePR, "annotate-pr", true, "annotate and comment on the pull request when running in GitHub Actions")
	flags.BoolVar(&f.fileClassifier, "file-classifier", true, "use file(1) for text/binary detection when installed")
	flags.IntVar(&f.workers, "workers", 0, "concurrent size/type lookups (default GOMAXPROCS)")
	flags.DurationVar(&f.timeout, "timeout", 0, "abort the whole scan after this long (0 = no limit)")
	flags.BoolVar(&f.color, "color", !color.NoColor, "colorize terminal output")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "log diagnostics to stderr")
	return cmd
}

func (f *scanFlags) apply(cmd *cobra.Command, in *config.Inputs) {
	f.settingsFlags.apply(cmd, in)
	flags := cmd.Flags()
	if flags.Changed("base") {
		in.Base = f.base
	}
	if flags.Changed("head") {
		in.Head = f.head
	}
	if flags.Changed("fail-on") {
		in.FailOn = f.failOn
	}
	if flags.Changed("scan-mode") {
		in.ScanMode = f.scanMode
	}
	if flags.Changed("backend") {
		in.Backend = f.backend
	}
	if flags.Changed("dedupe") {
		in.DedupeBlobs = f.dedupe
	}
	if flags.Changed("annotate-pr") {
		in.AnnotatePR = f.annotatePR
	}
}

func runScan(cmd *cobra.Command, in *config.Inputs, f *scanFlags) error {
	log := newLogger(cmd.ErrOrStderr(), f.verbose)
	if err := in.Validate(); err != nil {
		return err
	}
	failOn, _ := in.FailOnSeverity()
	mode, _ := in.Mode()

	rng, err := in.ResolveRange()
	if err != nil {
		return err
	}
	dir := f.dir
	if dir == "" {
		dir = in.GitHub.Workspace
	}
	if dir == "" {
		dir = "."
	}

	model, err := policy.LoadFile(policyPathIn(dir, in.PolicyPath), in.Thresholds())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	be, err := openBackend(in.Backend, dir, []string{rng.Base, rng.Head}, history.Options{Mode: mode, Logger: log}, log)
	if err != nil {
		return err
	}
	defer be.Close()

	sizes, err := content.NewCachedSizes(be.source, 0)
	if err != nil {
		return err
	}
	classifier, err := content.NewCachedClassifier(content.NewClassifier(be.source, content.DefaultSampleSize, f.fileClassifier, log), 0)
	if err != nil {
		return err
	}

	log.Debug("scanning", "base", rng.Base, "head", rng.Head, "mode", mode, "backend", be.name, "policy", in.PolicyPath)
	engine := scan.NewEngine(be.walker, sizes, classifier, model, scan.Options{
		Dedupe:  in.DedupeBlobs,
		Workers: f.workers,
		Logger:  log,
	})
	res, err := engine.Run(ctx, rng.Base, rng.Head)
	if err != nil {
		return err
	}

	run := report.Run{Result: res, FailOn: failOn, Mode: mode, Dedupe: in.DedupeBlobs}
	publish(ctx, cmd, in, rng, run, f.color, log)

	if run.Failed() {
		n := 0
		for _, finding := range res.Findings {
			if finding.Severity.AtLeast(failOn) {
				n++
			}
		}
		return &violationsError{count: n, floor: failOn}
	}
	return nil
}

// policyPathIn resolves a relative policy path against the repository
// directory.
func policyPathIn(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
