package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/odvcencio/sizeguard/pkg/config"
	"github.com/odvcencio/sizeguard/pkg/report"
)

// publish runs every reporter that applies. Reporter failures are logged and
// never change the exit status.
func publish(ctx context.Context, cmd *cobra.Command, in *config.Inputs, rng config.Range, run report.Run, colorize bool, log *slog.Logger) {
	out := cmd.OutOrStdout()
	if err := (report.TextReporter{W: out, Color: colorize}).Write(run); err != nil {
		log.Warn("write summary", "err", err)
	}

	if !in.GitHub.Actions {
		return
	}
	if in.AnnotatePR {
		if _, err := report.WriteAnnotations(out, run.Result.Findings, report.MaxAnnotations); err != nil {
			log.Warn("write annotations", "err", err)
		}
	}
	if in.GitHub.StepSummary != "" {
		if err := report.AppendStepSummary(in.GitHub.StepSummary, run); err != nil {
			log.Warn("write job summary", "err", err)
		}
	}

	token := in.GitHubToken()
	if !in.AnnotatePR || rng.PullRequest == 0 || token == "" || in.GitHub.Repository == "" {
		return
	}
	commenter, err := report.NewPRCommenter(token, in.GitHub.Repository, rng.PullRequest, in.GitHub.APIURL)
	if err != nil {
		log.Warn("pull request comment", "err", err)
		return
	}
	if err := commenter.Post(ctx, run); err != nil {
		log.Warn("pull request comment", "pr", rng.PullRequest, "err", err)
		return
	}
	log.Debug("pull request comment posted", "pr", rng.PullRequest)
}
