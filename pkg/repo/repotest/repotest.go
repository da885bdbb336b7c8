// Package repotest builds real on-disk git repositories for tests: objects
// are written in git's loose format and can be repacked into packfiles with
// deltas, so readers are exercised against the same bytes git produces.
package repotest

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/odvcencio/sizeguard/pkg/object"
	"github.com/odvcencio/sizeguard/pkg/repo"
)

// Author is the identity stamped on every fixture commit.
const Author = "Fixture Author <fixture@example.com>"

// Builder writes commits into a fresh repository under t.TempDir().
type Builder struct {
	t     testing.TB
	Dir   string
	Repo  *repo.Repo
	clock int64
}

// New initializes an empty repository whose HEAD points at refs/heads/main.
func New(t testing.TB) *Builder {
	t.Helper()
	dir := t.TempDir()
	r, err := repo.Init(dir)
	if err != nil {
		t.Fatalf("repotest: init: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return &Builder{t: t, Dir: dir, Repo: r, clock: 1_700_000_000}
}

// Files is a full snapshot of a commit's tree: slash-separated path to file
// content.
type Files map[string]string

// With returns a copy of f with changes applied and the paths in remove
// deleted.
func (f Files) With(changes Files, remove ...string) Files {
	out := make(Files, len(f)+len(changes))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range changes {
		out[k] = v
	}
	for _, k := range remove {
		delete(out, k)
	}
	return out
}

// Gitlinks maps a path to the submodule commit it pins.
type Gitlinks map[string]object.Hash

// Commit describes one commit to write.
type Commit struct {
	Parents  []object.Hash
	Files    Files
	Gitlinks Gitlinks
	Message  string
	// Time overrides the committer timestamp; zero uses the builder clock,
	// which advances by one minute per commit.
	Time int64
}

// Commit writes the tree and commit and returns the commit id.
func (b *Builder) Commit(c Commit) object.Hash {
	b.t.Helper()
	tree := b.Tree(c.Files, c.Gitlinks)

	ts := c.Time
	if ts == 0 {
		b.clock += 60
		ts = b.clock
	}
	msg := c.Message
	if msg == "" {
		msg = "commit"
	}
	h, err := b.Repo.Store.WriteCommit(&object.CommitObj{
		TreeHash:           tree,
		Parents:            c.Parents,
		Author:             Author,
		Timestamp:          ts,
		Committer:          Author,
		CommitterTimestamp: ts,
		Message:            msg + "\n",
	})
	if err != nil {
		b.t.Fatalf("repotest: write commit %q: %v", msg, err)
	}
	return h
}

// Tree writes nested tree objects for a snapshot and returns the root id.
func (b *Builder) Tree(files Files, links Gitlinks) object.Hash {
	b.t.Helper()
	type node struct {
		files map[string]object.Hash
		links map[string]object.Hash
		dirs  map[string]*node
	}
	newNode := func() *node {
		return &node{files: map[string]object.Hash{}, links: map[string]object.Hash{}, dirs: map[string]*node{}}
	}
	root := newNode()
	insert := func(p string) (*node, string) {
		parts := strings.Split(strings.Trim(p, "/"), "/")
		n := root
		for _, dir := range parts[:len(parts)-1] {
			child, ok := n.dirs[dir]
			if !ok {
				child = newNode()
				n.dirs[dir] = child
			}
			n = child
		}
		return n, parts[len(parts)-1]
	}

	for p, content := range files {
		blob, err := b.Repo.Store.WriteBlob([]byte(content))
		if err != nil {
			b.t.Fatalf("repotest: write blob %s: %v", p, err)
		}
		n, name := insert(p)
		n.files[name] = blob
	}
	for p, h := range links {
		n, name := insert(p)
		n.links[name] = h
	}

	var write func(n *node, at string) object.Hash
	write = func(n *node, at string) object.Hash {
		var entries []object.TreeEntry
		for name, h := range n.files {
			entries = append(entries, object.TreeEntry{Name: name, Mode: object.TreeModeFile, Hash: h})
		}
		for name, h := range n.links {
			entries = append(entries, object.TreeEntry{Name: name, Mode: object.TreeModeGitlink, Hash: h})
		}
		dirNames := make([]string, 0, len(n.dirs))
		for name := range n.dirs {
			dirNames = append(dirNames, name)
		}
		sort.Strings(dirNames)
		for _, name := range dirNames {
			entries = append(entries, object.TreeEntry{Name: name, IsDir: true, Hash: write(n.dirs[name], path.Join(at, name))})
		}
		h, err := b.Repo.Store.WriteTree(&object.TreeObj{Entries: entries})
		if err != nil {
			b.t.Fatalf("repotest: write tree %q: %v", at, err)
		}
		return h
	}
	return write(root, "")
}

// Blob returns the id git assigns to content.
func Blob(content string) object.Hash {
	return object.HashObject(object.TypeBlob, []byte(content))
}

// Branch points refs/heads/<name> at h.
func (b *Builder) Branch(name string, h object.Hash) {
	b.t.Helper()
	b.ref("refs/heads/"+name, h)
}

// Remote points refs/remotes/<remote>/<name> at h.
func (b *Builder) Remote(remote, name string, h object.Hash) {
	b.t.Helper()
	b.ref("refs/remotes/"+remote+"/"+name, h)
}

// Tag creates refs/tags/<name>. Annotated tags get a tag object.
func (b *Builder) Tag(name string, target object.Hash, annotated bool) object.Hash {
	b.t.Helper()
	h := target
	if annotated {
		var err error
		h, err = b.Repo.Store.WriteTag(&object.TagObj{
			TargetHash: target,
			TargetType: object.TypeCommit,
			Name:       name,
			Tagger:     fmt.Sprintf("%s %d +0000", Author, b.clock),
			Message:    name + "\n",
		})
		if err != nil {
			b.t.Fatalf("repotest: write tag %s: %v", name, err)
		}
	}
	b.ref("refs/tags/"+name, h)
	return h
}

func (b *Builder) ref(name string, h object.Hash) {
	b.t.Helper()
	if err := b.Repo.UpdateRef(name, h); err != nil {
		b.t.Fatalf("repotest: update %s: %v", name, err)
	}
}

// Pack moves every loose object into a single packfile, deltifying similar
// objects, and removes the loose copies.
func (b *Builder) Pack() *object.RepackSummary {
	b.t.Helper()
	summary, err := b.Repo.Store.Repack(nil, true)
	if err != nil {
		b.t.Fatalf("repotest: repack: %v", err)
	}
	return summary
}

// Shallow marks commits as the shallow boundary and deletes their parents'
// commit objects, the way a depth-limited clone looks. Call it before Pack.
func (b *Builder) Shallow(boundary ...object.Hash) {
	b.t.Helper()
	for _, h := range boundary {
		commit, err := b.Repo.Store.ReadCommit(h)
		if err != nil {
			b.t.Fatalf("repotest: shallow %s: %v", h, err)
		}
		for _, p := range commit.Parents {
			b.Drop(p)
		}
	}
	if err := b.Repo.SetShallow(boundary...); err != nil {
		b.t.Fatalf("repotest: %v", err)
	}
}

// Drop deletes a loose object.
func (b *Builder) Drop(h object.Hash) {
	b.t.Helper()
	p := filepath.Join(b.Repo.CommonDir, "objects", string(h[:2]), string(h[2:]))
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		b.t.Fatalf("repotest: drop %s: %v", h, err)
	}
}
