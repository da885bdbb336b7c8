package content

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/odvcencio/sizeguard/pkg/gitcli"
	"github.com/odvcencio/sizeguard/pkg/object"
)

// GitSource answers queries through long-lived "git cat-file" processes: one
// in --batch-check mode for sizes and one in --batch mode for prefixes.
// Requests to each process are serialized.
type GitSource struct {
	git *gitcli.Runner

	checkMu sync.Mutex
	check   *batch

	readMu sync.Mutex
	read   *batch
}

type batch struct {
	proc *gitcli.Process
	out  *bufio.Reader
}

// NewGitSource returns a source for the repository at dir. Processes start
// lazily on first use.
func NewGitSource(dir string) *GitSource {
	return &GitSource{git: &gitcli.Runner{Dir: dir}}
}

func (s *GitSource) start(ctx context.Context, mode string) (*batch, error) {
	// The processes outlive any one request, so they are not bound to ctx.
	proc, err := s.git.Start(context.WithoutCancel(ctx), "cat-file", mode)
	if err != nil {
		return nil, err
	}
	return &batch{proc: proc, out: bufio.NewReader(proc.Stdout)}, nil
}

// query writes one id and parses the "<id> <type> <size>" reply.
func (b *batch) query(id object.Hash) (object.ObjectType, int64, error) {
	if _, err := io.WriteString(b.proc.Stdin, string(id)+"\n"); err != nil {
		return "", 0, fmt.Errorf("cat-file: write request: %w", err)
	}
	line, err := b.out.ReadString('\n')
	if err != nil {
		return "", 0, fmt.Errorf("cat-file: read reply: %w", err)
	}
	fields := strings.Fields(line)
	if len(fields) == 2 && fields[1] == "missing" {
		return "", 0, &object.NotFoundError{Hash: id}
	}
	if len(fields) != 3 {
		return "", 0, fmt.Errorf("cat-file: unexpected reply %q", strings.TrimSpace(line))
	}
	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("cat-file: bad size in %q", strings.TrimSpace(line))
	}
	return object.ObjectType(fields[1]), size, nil
}

// Size implements Source.
func (s *GitSource) Size(ctx context.Context, id object.Hash) (int64, error) {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()
	if s.check == nil {
		b, err := s.start(ctx, "--batch-check")
		if err != nil {
			return 0, err
		}
		s.check = b
	}
	_, size, err := s.check.query(id)
	return size, err
}

// Prefix implements Source. The rest of the object is drained from the pipe.
func (s *GitSource) Prefix(ctx context.Context, id object.Hash, n int) ([]byte, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	if s.read == nil {
		b, err := s.start(ctx, "--batch")
		if err != nil {
			return nil, err
		}
		s.read = b
	}
	_, size, err := s.read.query(id)
	if err != nil {
		return nil, err
	}

	keep := int64(n)
	if keep > size {
		keep = size
	}
	buf := make([]byte, keep)
	if _, err := io.ReadFull(s.read.out, buf); err != nil {
		s.resetRead()
		return nil, fmt.Errorf("cat-file: read %s: %w", id.Short(), err)
	}
	// Remaining content plus the trailing newline.
	if _, err := io.CopyN(io.Discard, s.read.out, size-keep+1); err != nil {
		s.resetRead()
		return nil, fmt.Errorf("cat-file: drain %s: %w", id.Short(), err)
	}
	return buf, nil
}

// resetRead drops a --batch process whose stream is out of sync.
func (s *GitSource) resetRead() {
	_ = s.read.proc.Close()
	s.read = nil
}

// Close stops the cat-file processes.
func (s *GitSource) Close() error {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()
	s.readMu.Lock()
	defer s.readMu.Unlock()

	var first error
	for _, b := range []*batch{s.check, s.read} {
		if b == nil {
			continue
		}
		if err := b.proc.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.check, s.read = nil, nil
	return first
}
