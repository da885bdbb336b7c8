package repo

import (
	"fmt"
	"path"
	"strings"

	"github.com/odvcencio/sizeguard/pkg/object"
)

// TreeFileEntry is a single file in a flattened tree.
type TreeFileEntry struct {
	Path string
	Blob object.Hash
	Mode string
}

// FlattenTree walks a tree object recursively, returning all file entries
// with their full slash-separated paths. Gitlinks are omitted.
func (r *Repo) FlattenTree(h object.Hash) ([]TreeFileEntry, error) {
	var out []TreeFileEntry
	if err := r.flattenTreeRec(h, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) flattenTreeRec(h object.Hash, prefix string, out *[]TreeFileEntry) error {
	treeObj, err := r.Store.ReadTree(h)
	if err != nil {
		return fmt.Errorf("flatten tree: read %s: %w", h, err)
	}

	for _, entry := range treeObj.Entries {
		fullPath := entry.Name
		if prefix != "" {
			fullPath = path.Join(prefix, entry.Name)
		}
		switch {
		case entry.IsDir:
			if err := r.flattenTreeRec(entry.Hash, fullPath, out); err != nil {
				return err
			}
		case entry.IsGitlink():
		default:
			*out = append(*out, TreeFileEntry{Path: fullPath, Blob: entry.Hash, Mode: entry.Mode})
		}
	}
	return nil
}

// EntryAtPath looks up the file at relPath inside the tree of commit (or
// tree) h. The second result is false when the path does not exist or names a
// directory.
func (r *Repo) EntryAtPath(h object.Hash, relPath string) (object.TreeEntry, bool, error) {
	current, err := r.rootTree(h)
	if err != nil {
		return object.TreeEntry{}, false, err
	}
	parts := strings.Split(strings.Trim(relPath, "/"), "/")

	for i, part := range parts {
		treeObj, err := r.Store.ReadTree(current)
		if err != nil {
			return object.TreeEntry{}, false, fmt.Errorf("read tree %s: %w", current, err)
		}

		var (
			entry object.TreeEntry
			found bool
		)
		for _, te := range treeObj.Entries {
			if te.Name == part {
				entry = te
				found = true
				break
			}
		}
		if !found {
			return object.TreeEntry{}, false, nil
		}

		if i == len(parts)-1 {
			if entry.IsDir {
				return object.TreeEntry{}, false, nil
			}
			return entry, true, nil
		}
		if !entry.IsDir {
			return object.TreeEntry{}, false, nil
		}
		current = entry.Hash
	}

	return object.TreeEntry{}, false, nil
}

func (r *Repo) rootTree(h object.Hash) (object.Hash, error) {
	objType, _, err := r.Store.ReadHeader(h)
	if err != nil {
		return "", err
	}
	switch objType {
	case object.TypeTree:
		return h, nil
	case object.TypeCommit:
		return r.commitTree(h)
	case object.TypeTag:
		commit, err := r.PeelToCommit(h)
		if err != nil {
			return "", err
		}
		return r.commitTree(commit)
	}
	return "", fmt.Errorf("%s is a %s, not a tree-ish", h, objType)
}
