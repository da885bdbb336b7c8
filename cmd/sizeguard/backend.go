package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/odvcencio/sizeguard/pkg/content"
	"github.com/odvcencio/sizeguard/pkg/gitcli"
	"github.com/odvcencio/sizeguard/pkg/history"
	"github.com/odvcencio/sizeguard/pkg/repo"
)

// backend is the walker and object source a scan reads through.
type backend struct {
	name   string
	walker history.Walker
	source content.Source
	closer io.Closer
}

func (b *backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// openBackend picks native or git access to the repository at dir. "auto"
// uses the native reader unless a revision needs git's parser (HEAD~2,
// main^2, ...) or the repository cannot be opened natively, and git is
// installed.
func openBackend(name, dir string, revs []string, opts history.Options, log *slog.Logger) (*backend, error) {
	switch strings.ToLower(name) {
	case "native":
		return openNative(dir, opts)
	case "git":
		if !gitcli.Available() {
			return nil, fmt.Errorf("backend git: git executable not found on PATH")
		}
		return openGit(dir, opts), nil
	case "", "auto":
	default:
		return nil, fmt.Errorf("unknown backend %q (want auto, native or git)", name)
	}

	hasGit := gitcli.Available()
	for _, rev := range revs {
		if repo.NeedsRevisionParser(rev) && hasGit {
			log.Debug("backend selected", "backend", "git", "reason", "revision expression", "rev", rev)
			return openGit(dir, opts), nil
		}
	}
	b, err := openNative(dir, opts)
	if err != nil && hasGit {
		log.Debug("backend selected", "backend", "git", "reason", "native open failed", "err", err)
		return openGit(dir, opts), nil
	}
	if err == nil {
		log.Debug("backend selected", "backend", "native")
	}
	return b, err
}

func openNative(dir string, opts history.Options) (*backend, error) {
	r, err := repo.Open(dir)
	if err != nil {
		return nil, err
	}
	return &backend{
		name:   "native",
		walker: history.NewNativeWalker(r, opts),
		source: content.StoreSource{Store: r.Store},
		closer: r,
	}, nil
}

func openGit(dir string, opts history.Options) *backend {
	src := content.NewGitSource(dir)
	return &backend{
		name:   "git",
		walker: history.NewGitWalker(dir, opts),
		source: src,
		closer: src,
	}
}
