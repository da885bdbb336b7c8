package object

import (
	"strings"
	"testing"
)

func TestMarshalTreeGitOrder(t *testing.T) {
	h := Hash(strings.Repeat("1", HashLen))
	tr := &TreeObj{Entries: []TreeEntry{
		{Name: "foo.c", Mode: TreeModeFile, Hash: h},
		{Name: "foo", IsDir: true, Hash: h},
		{Name: "foo-bar", Mode: TreeModeExecutable, Hash: h},
	}}
	data, err := MarshalTree(tr)
	if err != nil {
		t.Fatalf("MarshalTree: %v", err)
	}
	got, err := UnmarshalTree(data)
	if err != nil {
		t.Fatalf("UnmarshalTree: %v", err)
	}

	// "foo/" sorts after "foo-bar" and "foo.c" because '/' > '-' and '.'.
	wantOrder := []string{"foo-bar", "foo.c", "foo"}
	for i, name := range wantOrder {
		if got.Entries[i].Name != name {
			t.Fatalf("entry %d = %q, want %q (all: %+v)", i, got.Entries[i].Name, name, got.Entries)
		}
	}
	if !got.Entries[2].IsDir || got.Entries[2].Mode != TreeModeDir {
		t.Fatalf("dir entry = %+v", got.Entries[2])
	}
	if got.Entries[0].Mode != TreeModeExecutable {
		t.Fatalf("exec entry mode = %q", got.Entries[0].Mode)
	}
}

func TestUnmarshalTreeLegacyModes(t *testing.T) {
	raw, _ := hashToRaw(Hash(strings.Repeat("2", HashLen)))
	var data []byte
	data = append(data, "040000 old\x00"...)
	data = append(data, raw...)
	data = append(data, "100664 grp\x00"...)
	data = append(data, raw...)
	data = append(data, "160000 mod\x00"...)
	data = append(data, raw...)

	tr, err := UnmarshalTree(data)
	if err != nil {
		t.Fatalf("UnmarshalTree: %v", err)
	}
	if !tr.Entries[0].IsDir || tr.Entries[1].Mode != TreeModeFile || !tr.Entries[2].IsGitlink() {
		t.Fatalf("entries = %+v", tr.Entries)
	}

	if _, err := UnmarshalTree([]byte("100644 short\x00abc")); err == nil {
		t.Fatal("truncated id should fail")
	}
	if _, err := UnmarshalTree(append([]byte("777 bad\x00"), raw...)); err == nil {
		t.Fatal("unknown mode should fail")
	}
}

func TestCommitRoundTripWithSignature(t *testing.T) {
	c := &CommitObj{
		TreeHash:           Hash(strings.Repeat("a", HashLen)),
		Parents:            []Hash{Hash(strings.Repeat("b", HashLen)), Hash(strings.Repeat("c", HashLen))},
		Author:             "Jane Doe <jane@example.com>",
		Timestamp:          1700000000,
		AuthorTimezone:     "+0100",
		Committer:          "CI <ci@example.com>",
		CommitterTimestamp: 1700000500,
		CommitterTimezone:  "-0700",
		Signature:          "-----BEGIN PGP SIGNATURE-----\nabc\n-----END PGP SIGNATURE-----",
		Message:            "merge topic\n\nbody\n",
	}
	got, err := UnmarshalCommit(MarshalCommit(c))
	if err != nil {
		t.Fatalf("UnmarshalCommit: %v", err)
	}
	if got.TreeHash != c.TreeHash || len(got.Parents) != 2 || got.Parents[1] != c.Parents[1] {
		t.Fatalf("tree/parents = %s %v", got.TreeHash, got.Parents)
	}
	if got.Author != c.Author || got.Timestamp != c.Timestamp || got.AuthorTimezone != "+0100" {
		t.Fatalf("author = %q %d %q", got.Author, got.Timestamp, got.AuthorTimezone)
	}
	if got.Committer != c.Committer || got.CommitterTimestamp != c.CommitterTimestamp || got.CommitterTimezone != "-0700" {
		t.Fatalf("committer = %q %d %q", got.Committer, got.CommitterTimestamp, got.CommitterTimezone)
	}
	if got.Signature != c.Signature {
		t.Fatalf("signature = %q", got.Signature)
	}
	if got.Message != c.Message {
		t.Fatalf("message = %q", got.Message)
	}
}

func TestUnmarshalCommitSkipsUnknownHeaders(t *testing.T) {
	raw := "tree " + strings.Repeat("a", HashLen) + "\n" +
		"author A <a@x> 10 +0000\n" +
		"committer C <c@x> 20 +0000\n" +
		"mergetag object " + strings.Repeat("b", HashLen) + "\n" +
		" type commit\n" +
		"encoding ISO-8859-1\n" +
		"\n" +
		"msg\n"
	c, err := UnmarshalCommit([]byte(raw))
	if err != nil {
		t.Fatalf("UnmarshalCommit: %v", err)
	}
	if c.CommitterTimestamp != 20 || c.Signature != "" || c.Message != "msg\n" {
		t.Fatalf("commit = %+v", c)
	}

	if _, err := UnmarshalCommit([]byte("author A <a@x> 1 +0000\n\nmsg")); err == nil {
		t.Fatal("commit without tree should fail")
	}
}

func TestTagRoundTrip(t *testing.T) {
	tag := &TagObj{
		TargetHash: Hash(strings.Repeat("e", HashLen)),
		TargetType: TypeCommit,
		Name:       "v1.0.0",
		Tagger:     "Rel <rel@example.com> 1700000000 +0000",
		Message:    "release\n",
	}
	got, err := UnmarshalTag(MarshalTag(tag))
	if err != nil {
		t.Fatalf("UnmarshalTag: %v", err)
	}
	if *got != *tag {
		t.Fatalf("tag = %+v, want %+v", got, tag)
	}
}
