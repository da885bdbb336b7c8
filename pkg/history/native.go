package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odvcencio/sizeguard/pkg/object"
	"github.com/odvcencio/sizeguard/pkg/repo"
)

// NativeWalker reads the object database in-process.
type NativeWalker struct {
	repo *repo.Repo
	mode Mode
	log  *slog.Logger
}

// NewNativeWalker returns a walker over r.
func NewNativeWalker(r *repo.Repo, opts Options) *NativeWalker {
	return &NativeWalker{repo: r, mode: opts.mode(), log: opts.logger()}
}

// Enumerate implements Walker.
func (w *NativeWalker) Enumerate(ctx context.Context, base, head string) ([]Occurrence, error) {
	baseCommit, err := w.resolve(base, head, base)
	if err != nil {
		return nil, err
	}
	headCommit, err := w.resolve(base, head, head)
	if err != nil {
		return nil, err
	}

	mergeBases, err := w.repo.MergeBases(baseCommit, headCommit)
	if err != nil {
		return nil, fmt.Errorf("merge base %s %s: %w", baseCommit.Short(), headCommit.Short(), err)
	}
	if len(mergeBases) == 0 {
		return nil, &ResolutionError{Base: base, Head: head, Hint: shallowHint(w.repo.IsShallow()), Err: ErrNoMergeBase}
	}
	w.log.Debug("resolved range", "base", baseCommit, "head", headCommit, "merge_bases", mergeBases)

	if w.mode == ModeDiff {
		changes, err := w.repo.DiffCommits(mergeBases[0], headCommit)
		if err != nil {
			return nil, fmt.Errorf("diff %s..%s: %w", mergeBases[0].Short(), headCommit.Short(), err)
		}
		return appendChanges(nil, headCommit, changes), nil
	}

	commits, err := w.repo.RevList(ctx, []object.Hash{headCommit}, []object.Hash{baseCommit})
	if err != nil {
		return nil, fmt.Errorf("list commits %s..%s: %w", baseCommit.Short(), headCommit.Short(), err)
	}
	w.log.Debug("walking commits", "count", len(commits))

	var out []Occurrence
	for _, c := range commits {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		changes, err := w.repo.CommitChanges(c)
		if err != nil {
			return nil, fmt.Errorf("changes in %s: %w", c.Short(), err)
		}
		out = appendChanges(out, c, changes)
	}
	return out, nil
}

func (w *NativeWalker) resolve(base, head, rev string) (object.Hash, error) {
	h, err := w.repo.ResolveCommit(rev)
	if err != nil {
		hint := shallowHint(w.repo.IsShallow() && errors.Is(err, object.ErrNotFound))
		if errors.Is(err, repo.ErrUnsupportedRevision) {
			hint = "use --backend git for revision expressions"
		}
		return "", &ResolutionError{Base: base, Head: head, Ref: rev, Hint: hint, Err: err}
	}
	return h, nil
}

func appendChanges(out []Occurrence, commit object.Hash, changes []repo.FileChange) []Occurrence {
	for _, c := range changes {
		out = append(out, Occurrence{Commit: commit, Path: c.Path, Object: c.Blob, Status: c.Status})
	}
	return out
}
