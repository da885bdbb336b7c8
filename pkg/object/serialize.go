package object

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// TreeObj
// ---------------------------------------------------------------------------

// MarshalTree serializes a TreeObj in Git's binary tree format. Each entry is
//
//	<mode> SP <name> NUL <20-byte raw id>
//
// and entries are ordered the way Git orders them: by name, with directory
// names compared as if they carried a trailing slash.
func MarshalTree(tr *TreeObj) ([]byte, error) {
	sorted := make([]TreeEntry, len(tr.Entries))
	copy(sorted, tr.Entries)
	sort.Slice(sorted, func(i, j int) bool {
		return treeSortKey(sorted[i]) < treeSortKey(sorted[j])
	})

	var buf bytes.Buffer
	for _, e := range sorted {
		raw, err := hashToRaw(e.Hash)
		if err != nil {
			return nil, fmt.Errorf("marshal tree: entry %q: %w", e.Name, err)
		}
		buf.WriteString(treeModeOrDefault(e))
		buf.WriteByte(' ')
		buf.WriteString(e.Name)
		buf.WriteByte(0)
		buf.Write(raw)
	}
	return buf.Bytes(), nil
}

func treeSortKey(e TreeEntry) string {
	if e.IsDir {
		return e.Name + "/"
	}
	return e.Name
}

// UnmarshalTree parses a TreeObj from Git's binary tree format.
func UnmarshalTree(data []byte) (*TreeObj, error) {
	tr := &TreeObj{}
	for len(data) > 0 {
		sp := bytes.IndexByte(data, ' ')
		if sp < 0 {
			return nil, fmt.Errorf("unmarshal tree: missing mode separator")
		}
		mode := string(data[:sp])
		data = data[sp+1:]

		nul := bytes.IndexByte(data, 0)
		if nul < 0 {
			return nil, fmt.Errorf("unmarshal tree: missing name terminator")
		}
		name := string(data[:nul])
		data = data[nul+1:]

		if len(data) < HashLen/2 {
			return nil, fmt.Errorf("unmarshal tree: entry %q: truncated object id", name)
		}
		id := rawToHash(data[:HashLen/2])
		data = data[HashLen/2:]

		isDir, mode, err := parseTreeMode(mode)
		if err != nil {
			return nil, fmt.Errorf("unmarshal tree: entry %q: %w", name, err)
		}
		tr.Entries = append(tr.Entries, TreeEntry{
			Name:  name,
			Mode:  mode,
			IsDir: isDir,
			Hash:  id,
		})
	}
	return tr, nil
}

func treeModeOrDefault(e TreeEntry) string {
	if e.IsDir {
		return TreeModeDir
	}
	if strings.TrimSpace(e.Mode) == "" {
		return TreeModeFile
	}
	return e.Mode
}

func parseTreeMode(mode string) (bool, string, error) {
	switch mode {
	case TreeModeDir, "040000":
		return true, TreeModeDir, nil
	case TreeModeFile, TreeModeExecutable, TreeModeSymlink, TreeModeGitlink:
		return false, mode, nil
	case "100664":
		// Written by very old Git versions; treated as a regular file.
		return false, TreeModeFile, nil
	default:
		return false, "", fmt.Errorf("unknown mode %q", mode)
	}
}

// ---------------------------------------------------------------------------
// CommitObj
// ---------------------------------------------------------------------------

// MarshalCommit serializes a CommitObj in Git's commit format:
//
//	tree H
//	parent H     (zero or more)
//	author A <e> T TZ
//	committer C <e> T TZ
//	gpgsig S     (optional, continuation lines indented by one space)
//
//	message
func MarshalCommit(c *CommitObj) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", string(c.TreeHash))
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", string(p))
	}
	fmt.Fprintf(&buf, "author %s %d %s\n", c.Author, c.Timestamp, timezoneOrUTC(c.AuthorTimezone))

	committer := c.Committer
	committerTS := c.CommitterTimestamp
	committerTZ := c.CommitterTimezone
	if strings.TrimSpace(committer) == "" {
		committer = c.Author
		committerTS = c.Timestamp
		committerTZ = c.AuthorTimezone
	}
	fmt.Fprintf(&buf, "committer %s %d %s\n", committer, committerTS, timezoneOrUTC(committerTZ))

	if strings.TrimSpace(c.Signature) != "" {
		sig := strings.TrimRight(c.Signature, "\n")
		fmt.Fprintf(&buf, "gpgsig %s\n", strings.ReplaceAll(sig, "\n", "\n "))
	}
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}

func timezoneOrUTC(tz string) string {
	if strings.TrimSpace(tz) == "" {
		return "+0000"
	}
	return tz
}

// UnmarshalCommit parses a CommitObj from Git's commit format. Headers this
// package has no use for (encoding, mergetag, ...) are skipped, including
// their continuation lines.
func UnmarshalCommit(data []byte) (*CommitObj, error) {
	header, message, ok := bytes.Cut(data, []byte("\n\n"))
	if !ok {
		// A commit with an empty message may end right after the headers.
		header = bytes.TrimRight(data, "\n")
		message = nil
	}

	c := &CommitObj{Message: string(message)}
	var lastKey string
	for _, line := range strings.Split(string(header), "\n") {
		if strings.HasPrefix(line, " ") {
			if lastKey == "gpgsig" {
				c.Signature += "\n" + line[1:]
			}
			continue
		}
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unmarshal commit: malformed header line %q", line)
		}
		lastKey = key
		switch key {
		case "tree":
			h, err := ParseHash(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: tree: %w", err)
			}
			c.TreeHash = h
		case "parent":
			h, err := ParseHash(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: parent: %w", err)
			}
			c.Parents = append(c.Parents, h)
		case "author":
			ident, ts, tz, err := parseIdent(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: author: %w", err)
			}
			c.Author, c.Timestamp, c.AuthorTimezone = ident, ts, tz
		case "committer":
			ident, ts, tz, err := parseIdent(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: committer: %w", err)
			}
			c.Committer, c.CommitterTimestamp, c.CommitterTimezone = ident, ts, tz
		case "gpgsig", "gpgsig-sha256":
			lastKey = "gpgsig"
			c.Signature = val
		}
	}
	if c.TreeHash == "" {
		return nil, fmt.Errorf("unmarshal commit: missing tree header")
	}
	return c, nil
}

// parseIdent splits "Name <email> 1700000000 +0100" into the identity, the
// unix timestamp and the timezone.
func parseIdent(val string) (string, int64, string, error) {
	gt := strings.LastIndexByte(val, '>')
	if gt < 0 {
		return "", 0, "", fmt.Errorf("malformed identity %q", val)
	}
	ident := val[:gt+1]
	fields := strings.Fields(val[gt+1:])
	if len(fields) == 0 {
		return ident, 0, "", nil
	}
	ts, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return "", 0, "", fmt.Errorf("bad timestamp %q: %w", fields[0], err)
	}
	tz := ""
	if len(fields) > 1 {
		tz = fields[1]
	}
	return ident, ts, tz, nil
}

// ---------------------------------------------------------------------------
// TagObj
// ---------------------------------------------------------------------------

// MarshalTag serializes an annotated tag in Git's tag format.
func MarshalTag(t *TagObj) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "object %s\n", string(t.TargetHash))
	fmt.Fprintf(&buf, "type %s\n", string(t.TargetType))
	fmt.Fprintf(&buf, "tag %s\n", t.Name)
	if strings.TrimSpace(t.Tagger) != "" {
		fmt.Fprintf(&buf, "tagger %s\n", t.Tagger)
	}
	buf.WriteByte('\n')
	buf.WriteString(t.Message)
	return buf.Bytes()
}

// UnmarshalTag parses an annotated tag.
func UnmarshalTag(data []byte) (*TagObj, error) {
	header, message, _ := bytes.Cut(data, []byte("\n\n"))
	t := &TagObj{Message: string(message)}
	for _, line := range strings.Split(string(header), "\n") {
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		switch key {
		case "object":
			h, err := ParseHash(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal tag: object: %w", err)
			}
			t.TargetHash = h
		case "type":
			t.TargetType = ObjectType(val)
		case "tag":
			t.Name = val
		case "tagger":
			t.Tagger = val
		}
	}
	if t.TargetHash == "" {
		return nil, fmt.Errorf("unmarshal tag: missing object header")
	}
	return t, nil
}
