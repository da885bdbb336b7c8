package history

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/odvcencio/sizeguard/pkg/gitcli"
	"github.com/odvcencio/sizeguard/pkg/object"
	"github.com/odvcencio/sizeguard/pkg/repo"
)

// GitWalker delegates traversal to the git executable. It understands every
// revision expression git does.
type GitWalker struct {
	git  *gitcli.Runner
	mode Mode
	log  *slog.Logger
}

// NewGitWalker returns a walker that runs git in dir.
func NewGitWalker(dir string, opts Options) *GitWalker {
	return &GitWalker{git: &gitcli.Runner{Dir: dir}, mode: opts.mode(), log: opts.logger()}
}

// Enumerate implements Walker.
func (w *GitWalker) Enumerate(ctx context.Context, base, head string) ([]Occurrence, error) {
	baseCommit, err := w.resolve(ctx, base, head, base)
	if err != nil {
		return nil, err
	}
	headCommit, err := w.resolve(ctx, base, head, head)
	if err != nil {
		return nil, err
	}

	out, err := w.git.Capture(ctx, "merge-base", "--all", string(baseCommit), string(headCommit))
	if err != nil {
		// merge-base exits 1 with no output when the histories are disjoint.
		if gitcli.ExitCode(err) == 1 {
			return nil, &ResolutionError{Base: base, Head: head, Hint: shallowHint(w.isShallow(ctx)), Err: ErrNoMergeBase}
		}
		return nil, err
	}
	mergeBases, err := parseHashes(out)
	if err != nil {
		return nil, fmt.Errorf("merge-base output: %w", err)
	}
	if len(mergeBases) == 0 {
		return nil, &ResolutionError{Base: base, Head: head, Hint: shallowHint(w.isShallow(ctx)), Err: ErrNoMergeBase}
	}
	slices.Sort(mergeBases)
	w.log.Debug("resolved range", "base", baseCommit, "head", headCommit, "merge_bases", mergeBases)

	if w.mode == ModeDiff {
		raw, err := w.git.Capture(ctx, "diff-tree", "-r", "--no-renames", "--no-abbrev", "-z", string(mergeBases[0]), string(headCommit))
		if err != nil {
			return nil, err
		}
		return parseRawDiff(nil, headCommit, raw)
	}

	list, err := w.git.Capture(ctx, "rev-list", "--parents", "--timestamp", string(headCommit), "^"+string(baseCommit))
	if err != nil {
		return nil, err
	}
	commits, err := parseRevList(list)
	if err != nil {
		return nil, fmt.Errorf("rev-list output: %w", err)
	}
	w.log.Debug("walking commits", "count", len(commits))

	var occurrences []Occurrence
	for _, commit := range repo.SortRange(commits) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := w.git.Capture(ctx, "diff-tree", "-r", "-c", "--root", "--no-commit-id", "--no-renames", "--no-abbrev", "-z", string(commit))
		if err != nil {
			return nil, err
		}
		occurrences, err = parseRawDiff(occurrences, commit, raw)
		if err != nil {
			return nil, fmt.Errorf("diff-tree %s: %w", commit.Short(), err)
		}
	}
	return occurrences, nil
}

func (w *GitWalker) resolve(ctx context.Context, base, head, rev string) (object.Hash, error) {
	out, err := w.git.Capture(ctx, "rev-parse", "--verify", "--end-of-options", rev+"^{commit}")
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &ResolutionError{Base: base, Head: head, Ref: rev, Err: err}
	}
	h, err := object.ParseHash(firstLine(out))
	if err != nil {
		return "", &ResolutionError{Base: base, Head: head, Ref: rev, Err: err}
	}
	return h, nil
}

func (w *GitWalker) isShallow(ctx context.Context) bool {
	out, err := w.git.Capture(ctx, "rev-parse", "--is-shallow-repository")
	return err == nil && firstLine(out) == "true"
}

func parseHashes(out []byte) ([]object.Hash, error) {
	var hashes []object.Hash
	for _, field := range strings.Fields(string(out)) {
		h, err := object.ParseHash(field)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}

// parseRevList parses "git rev-list --parents --timestamp" lines:
//
//	<committer time> <commit> [<parent>...]
func parseRevList(out []byte) ([]repo.RangeCommit, error) {
	var commits []repo.RangeCommit
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("unexpected rev-list line %q", line)
		}
		when, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("rev-list timestamp %q: %w", fields[0], err)
		}
		hashes, err := parseHashes([]byte(strings.Join(fields[1:], " ")))
		if err != nil {
			return nil, err
		}
		commits = append(commits, repo.RangeCommit{Hash: hashes[0], Parents: hashes[1:], When: when})
	}
	return commits, nil
}

func firstLine(b []byte) string {
	line, _, _ := strings.Cut(string(b), "\n")
	return strings.TrimSpace(line)
}

// parseRawDiff parses "git diff-tree -r -z" raw output, including the
// combined "::" form -c produces for merges:
//
//	:100644 100644 <old> <new> M\0path\0
//	::100644 100644 100644 <p1> <p2> <new> MM\0path\0
//
// Deletions, gitlinks and mode-only changes are dropped.
func parseRawDiff(out []Occurrence, commit object.Hash, raw []byte) ([]Occurrence, error) {
	fields := bytes.Split(raw, []byte{0})
	for i := 0; i < len(fields); i++ {
		header := string(fields[i])
		if header == "" {
			continue
		}
		if !strings.HasPrefix(header, ":") {
			return nil, fmt.Errorf("unexpected raw diff record %q", header)
		}
		if i+1 >= len(fields) {
			return nil, fmt.Errorf("raw diff record %q has no path", header)
		}
		i++
		path := string(fields[i])

		colons := len(header) - len(strings.TrimLeft(header, ":"))
		parts := strings.Fields(header[colons:])
		// colons parent modes + result mode, colons parent ids + result id,
		// then the status letters.
		if len(parts) != 2*(colons+1)+1 {
			return nil, fmt.Errorf("malformed raw diff header %q", header)
		}
		modes := parts[:colons+1]
		ids := parts[colons+1 : 2*(colons+1)]
		status := parts[len(parts)-1]

		newMode := modes[colons]
		newID := ids[colons]
		if strings.ContainsRune(status, 'D') || strings.Trim(newMode, "0") == "" {
			continue
		}
		if newMode == object.TreeModeGitlink {
			continue
		}
		if slices.Contains(ids[:colons], newID) {
			continue
		}

		blob, err := object.ParseHash(newID)
		if err != nil {
			return nil, fmt.Errorf("raw diff %s: %w", path, err)
		}
		change := repo.StatusModified
		if strings.Trim(status, "A") == "" {
			change = repo.StatusAdded
		}
		out = append(out, Occurrence{Commit: commit, Path: path, Object: blob, Status: change})
	}
	return out, nil
}
