package object

// Hash is a 40-character lowercase hex-encoded SHA-1 object id, as used by
// Git for commits, trees, blobs and tags.
type Hash string

// Short returns the conventional 7-character abbreviation of h.
func (h Hash) Short() string {
	if len(h) > 7 {
		return string(h[:7])
	}
	return string(h)
}

// ObjectType identifies the kind of object stored.
type ObjectType string

const (
	TypeBlob   ObjectType = "blob"
	TypeTree   ObjectType = "tree"
	TypeCommit ObjectType = "commit"
	TypeTag    ObjectType = "tag"
)

const (
	// Tree mode constants in Git's canonical (no leading zero) form.
	TreeModeDir        = "40000"
	TreeModeFile       = "100644"
	TreeModeExecutable = "100755"
	TreeModeSymlink    = "120000"
	TreeModeGitlink    = "160000"
)

// TreeEntry is one entry in a tree object.
type TreeEntry struct {
	Name  string
	Mode  string
	IsDir bool
	Hash  Hash
}

// IsGitlink reports whether the entry is a submodule commit pointer. Gitlinks
// name a commit in another repository and have no blob in this object store.
func (e TreeEntry) IsGitlink() bool {
	return e.Mode == TreeModeGitlink
}

// TreeObj holds tree entries in Git tree order.
type TreeObj struct {
	Entries []TreeEntry
}

// CommitObj represents a commit pointing to a tree with metadata.
type CommitObj struct {
	TreeHash           Hash
	Parents            []Hash
	Author             string
	Timestamp          int64
	AuthorTimezone     string
	Committer          string
	CommitterTimestamp int64
	CommitterTimezone  string
	Signature          string
	Message            string
}

// TagObj is an annotated tag. Only the fields needed to peel a tag down to
// the object it names are kept.
type TagObj struct {
	TargetHash Hash
	TargetType ObjectType
	Name       string
	Tagger     string
	Message    string
}
