package object

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(t.TempDir())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHashObjectMatchesGit(t *testing.T) {
	cases := []struct {
		typ  ObjectType
		data string
		want Hash
	}{
		{TypeBlob, "", "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391"},
		{TypeBlob, "hello\n", "ce013625030ba8dba906f756967f9e9ca394464a"},
		{TypeTree, "", "4b825dc642cb6eb9a060e54bf8d69288fbee4904"},
	}
	for _, tc := range cases {
		if got := HashObject(tc.typ, []byte(tc.data)); got != tc.want {
			t.Errorf("HashObject(%s, %q) = %s, want %s", tc.typ, tc.data, got, tc.want)
		}
	}
}

func TestParseHash(t *testing.T) {
	h, err := ParseHash("  CE013625030BA8DBA906F756967F9E9CA394464A\n")
	if err != nil {
		t.Fatalf("ParseHash: %v", err)
	}
	if h != "ce013625030ba8dba906f756967f9e9ca394464a" {
		t.Fatalf("ParseHash = %s", h)
	}
	if h.Short() != "ce01362" {
		t.Fatalf("Short = %s", h.Short())
	}
	for _, bad := range []string{"", "abc", strings.Repeat("z", HashLen)} {
		if _, err := ParseHash(bad); err == nil {
			t.Errorf("ParseHash(%q) should fail", bad)
		}
	}
}

func TestStoreWriteReadLoose(t *testing.T) {
	s := tempStore(t)
	data := []byte("hello\n")

	h, err := s.WriteBlob(data)
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	if h != "ce013625030ba8dba906f756967f9e9ca394464a" {
		t.Fatalf("WriteBlob hash = %s", h)
	}
	if _, err := os.Stat(filepath.Join(s.root, "objects", "ce", "013625030ba8dba906f756967f9e9ca394464a")); err != nil {
		t.Fatalf("loose object not at fanout path: %v", err)
	}
	if !s.Has(h) {
		t.Fatal("Has should report written object")
	}

	objType, got, err := s.Read(h)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if objType != TypeBlob || string(got) != "hello\n" {
		t.Fatalf("Read = %s %q", objType, got)
	}

	// Writing again is a no-op.
	if h2, err := s.WriteBlob(data); err != nil || h2 != h {
		t.Fatalf("second WriteBlob = %s, %v", h2, err)
	}
}

func TestStoreReadHeaderAndPrefix(t *testing.T) {
	s := tempStore(t)
	data := []byte(strings.Repeat("0123456789", 100))
	h, err := s.WriteBlob(data)
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}

	objType, size, err := s.ReadHeader(h)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if objType != TypeBlob || size != int64(len(data)) {
		t.Fatalf("ReadHeader = %s %d", objType, size)
	}

	_, prefix, err := s.ReadPrefix(h, 15)
	if err != nil {
		t.Fatalf("ReadPrefix: %v", err)
	}
	if string(prefix) != "012345678901234" {
		t.Fatalf("ReadPrefix = %q", prefix)
	}

	_, all, err := s.ReadPrefix(h, 1<<20)
	if err != nil {
		t.Fatalf("ReadPrefix large: %v", err)
	}
	if len(all) != len(data) {
		t.Fatalf("ReadPrefix beyond size returned %d bytes, want %d", len(all), len(data))
	}
}

func TestStoreReadMissing(t *testing.T) {
	s := tempStore(t)
	missing := Hash(strings.Repeat("a", HashLen))

	_, _, err := s.Read(missing)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Read missing: got %v, want ErrNotFound", err)
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Hash != missing {
		t.Fatalf("Read missing: want NotFoundError for %s, got %v", missing, err)
	}
	if _, _, err := s.ReadHeader(missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadHeader missing: got %v", err)
	}
	if s.Has(missing) {
		t.Fatal("Has should be false for missing object")
	}
}

func TestStoreSeesPacksWrittenAfterFirstScan(t *testing.T) {
	reader := tempStore(t)
	writer := NewStore(reader.root)
	defer writer.Close()

	first, err := writer.WriteBlob([]byte("packed later\n"))
	if err != nil {
		t.Fatal(err)
	}
	if reader.Has(Hash(strings.Repeat("b", HashLen))) {
		t.Fatal("Has should be false for missing object")
	}
	if _, err := writer.Repack(nil, true); err != nil {
		t.Fatalf("Repack: %v", err)
	}

	objType, data, err := reader.Read(first)
	if err != nil {
		t.Fatalf("Read after repack: %v", err)
	}
	if objType != TypeBlob || string(data) != "packed later\n" {
		t.Fatalf("Read = %s %q", objType, data)
	}

	second, err := writer.WriteBlob([]byte("second pack\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := writer.Repack([]Hash{second}, true); err != nil {
		t.Fatalf("Repack second: %v", err)
	}
	if _, size, err := reader.ReadHeader(second); err != nil || size != int64(len("second pack\n")) {
		t.Fatalf("ReadHeader(second) = %d, %v", size, err)
	}
	if _, _, err := reader.Read(first); err != nil {
		t.Fatalf("Read(first) after second pack: %v", err)
	}
}

func TestStoreTypedRoundTrip(t *testing.T) {
	s := tempStore(t)
	blob, err := s.WriteBlob([]byte("package main\n"))
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	sub, err := s.WriteTree(&TreeObj{Entries: []TreeEntry{{Name: "main.go", Mode: TreeModeFile, Hash: blob}}})
	if err != nil {
		t.Fatalf("WriteTree sub: %v", err)
	}
	root, err := s.WriteTree(&TreeObj{Entries: []TreeEntry{
		{Name: "cmd", IsDir: true, Hash: sub},
		{Name: "README", Mode: TreeModeFile, Hash: blob},
	}})
	if err != nil {
		t.Fatalf("WriteTree root: %v", err)
	}

	commit, err := s.WriteCommit(&CommitObj{
		TreeHash:  root,
		Author:    "A U Thor <author@example.com>",
		Timestamp: 1700000000,
		Message:   "initial\n",
	})
	if err != nil {
		t.Fatalf("WriteCommit: %v", err)
	}
	c, err := s.ReadCommit(commit)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if c.TreeHash != root || c.Committer != "A U Thor <author@example.com>" || c.CommitterTimestamp != 1700000000 {
		t.Fatalf("ReadCommit = %+v", c)
	}

	tr, err := s.ReadTree(root)
	if err != nil {
		t.Fatalf("ReadTree: %v", err)
	}
	if len(tr.Entries) != 2 || tr.Entries[0].Name != "README" || !tr.Entries[1].IsDir {
		t.Fatalf("ReadTree entries = %+v", tr.Entries)
	}

	if _, err := s.ReadTree(commit); err == nil {
		t.Fatal("ReadTree on a commit should fail with a type mismatch")
	}
}

func TestExpandPrefix(t *testing.T) {
	s := tempStore(t)
	h, err := s.WriteBlob([]byte("hello\n"))
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}

	got, err := s.ExpandPrefix("CE0136")
	if err != nil {
		t.Fatalf("ExpandPrefix: %v", err)
	}
	if got != h {
		t.Fatalf("ExpandPrefix = %s, want %s", got, h)
	}

	if _, err := s.ExpandPrefix("ce0137"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ExpandPrefix miss: got %v", err)
	}
	if _, err := s.ExpandPrefix("xyz1"); err == nil {
		t.Fatal("ExpandPrefix should reject non-hex input")
	}
}

func TestExpandPrefixAmbiguous(t *testing.T) {
	s := tempStore(t)
	// ExpandPrefix only lists names, so empty files are enough.
	dir := filepath.Join(s.root, "objects", "ab")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, suffix := range []string{"11" + strings.Repeat("1", HashLen-4), "11" + strings.Repeat("2", HashLen-4)} {
		if err := os.WriteFile(filepath.Join(dir, suffix), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := s.ExpandPrefix("ab11"); !errors.Is(err, ErrAmbiguousPrefix) {
		t.Fatalf("ExpandPrefix ab11: got %v, want ErrAmbiguousPrefix", err)
	}
	got, err := s.ExpandPrefix("ab112")
	if err != nil {
		t.Fatalf("ExpandPrefix ab112: %v", err)
	}
	if want := Hash("ab11" + strings.Repeat("2", HashLen-4)); got != want {
		t.Fatalf("ExpandPrefix ab112 = %s, want %s", got, want)
	}
}
