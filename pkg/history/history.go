// Package history enumerates the file occurrences a change introduces: every
// blob added or modified by the commits reachable from head but not from the
// merge-base of base and head.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odvcencio/sizeguard/pkg/object"
	"github.com/odvcencio/sizeguard/pkg/repo"
)

// Occurrence is one appearance of a blob at a path within a commit.
type Occurrence struct {
	Commit object.Hash
	Path   string
	Object object.Hash
	Status repo.ChangeStatus
}

// Walker enumerates occurrences between two revisions. The result is
// ancestor-first and a pure function of (base, head) and the repository.
type Walker interface {
	Enumerate(ctx context.Context, base, head string) ([]Occurrence, error)
}

// Mode selects how much history is inspected.
type Mode string

const (
	// ModeHistory walks every commit in the range.
	ModeHistory Mode = "history"
	// ModeDiff inspects only the net tree diff merge-base..head; every
	// occurrence is attributed to head.
	ModeDiff Mode = "diff"
)

// ParseMode validates a scan mode name. Empty means ModeHistory.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeHistory:
		return ModeHistory, nil
	case ModeDiff:
		return ModeDiff, nil
	}
	return "", fmt.Errorf("unknown scan mode %q (want history or diff)", s)
}

// Options configure a walker.
type Options struct {
	Mode   Mode
	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

func (o Options) mode() Mode {
	if o.Mode == "" {
		return ModeHistory
	}
	return o.Mode
}

// ErrNoMergeBase means base and head share no history.
var ErrNoMergeBase = errors.New("no common ancestor")

// ResolutionError reports a revision that could not be resolved to a commit,
// or a base/head pair with disjoint histories. It is fatal for a run.
type ResolutionError struct {
	Base, Head string
	// Ref is the revision that failed to resolve; empty when both resolved
	// but have no merge-base.
	Ref string
	// Hint is appended to the message, for example when a shallow clone
	// hides the merge-base.
	Hint string
	Err  error
}

func (e *ResolutionError) Error() string {
	var msg string
	if e.Ref != "" {
		msg = fmt.Sprintf("cannot resolve %q to a commit: %v", e.Ref, e.Err)
	} else {
		msg = fmt.Sprintf("%s and %s: %v", e.Base, e.Head, e.Err)
	}
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

func shallowHint(shallow bool) string {
	if shallow {
		return "repository is a shallow clone; fetch more history, e.g. fetch-depth: 0"
	}
	return ""
}
