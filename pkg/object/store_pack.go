package object

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// RepackSummary reports the outcome of Store.Repack.
type RepackSummary struct {
	PackedObjects int
	Deltas        int
	Pruned        int
	PackFile      string
	IndexFile     string
}

// Repack writes the given objects into one new pack + idx under
// objects/pack. An empty hash list packs every loose object. Each object is
// stored as an OFS_DELTA against the previous object of the same type when
// that delta is smaller than the object itself. With prune set, loose copies
// of packed objects are removed afterwards.
func (s *Store) Repack(hashes []Hash, prune bool) (*RepackSummary, error) {
	var err error
	if len(hashes) == 0 {
		hashes, err = s.listLooseObjectHashes()
		if err != nil {
			return nil, err
		}
	}
	hashes = uniqueNormalizedHashes(hashes)
	if len(hashes) == 0 {
		return &RepackSummary{}, nil
	}
	if len(hashes) > int(^uint32(0)) {
		return nil, fmt.Errorf("repack: too many objects to pack: %d", len(hashes))
	}

	packDir := filepath.Join(s.root, "objects", "pack")
	if err := os.MkdirAll(packDir, 0o755); err != nil {
		return nil, fmt.Errorf("repack: mkdir pack dir: %w", err)
	}

	packTmp, err := os.CreateTemp(packDir, ".tmp-pack-*.pack")
	if err != nil {
		return nil, fmt.Errorf("repack: create pack temp file: %w", err)
	}
	packTmpPath := packTmp.Name()
	packTmpRemoved := false
	defer func() {
		if !packTmpRemoved {
			_ = os.Remove(packTmpPath)
		}
	}()

	pw, err := NewPackWriter(packTmp, uint32(len(hashes)))
	if err != nil {
		_ = packTmp.Close()
		return nil, fmt.Errorf("repack: create pack writer: %w", err)
	}

	type previous struct {
		offset uint64
		data   []byte
	}
	lastByType := make(map[ObjectType]previous)
	summary := &RepackSummary{PackedObjects: len(hashes)}

	for _, h := range hashes {
		objType, content, err := s.Read(h)
		if err != nil {
			_ = packTmp.Close()
			return nil, fmt.Errorf("repack: read object %s: %w", h, err)
		}

		var offset uint64
		prev, ok := lastByType[objType]
		if ok && len(buildDelta(prev.data, content)) < len(content) {
			offset, err = pw.WriteOfsDelta(objType, prev.offset, prev.data, content)
			summary.Deltas++
		} else {
			offset, err = pw.WriteEntry(objType, content)
		}
		if err != nil {
			_ = packTmp.Close()
			return nil, fmt.Errorf("repack: write pack entry %s: %w", h, err)
		}
		lastByType[objType] = previous{offset: offset, data: content}
	}

	packChecksum, err := pw.Finish()
	if err != nil {
		_ = packTmp.Close()
		return nil, fmt.Errorf("repack: finalize pack: %w", err)
	}
	if err := packTmp.Close(); err != nil {
		return nil, fmt.Errorf("repack: close pack temp file: %w", err)
	}

	packBase := "pack-" + string(packChecksum)
	packPath := filepath.Join(packDir, packBase+".pack")
	idxPath := filepath.Join(packDir, packBase+".idx")
	if err := os.Rename(packTmpPath, packPath); err != nil {
		return nil, fmt.Errorf("repack: rename pack file: %w", err)
	}
	packTmpRemoved = true

	idxTmp, err := os.CreateTemp(packDir, ".tmp-pack-*.idx")
	if err != nil {
		_ = os.Remove(packPath)
		return nil, fmt.Errorf("repack: create index temp file: %w", err)
	}
	idxTmpPath := idxTmp.Name()
	idxTmpRemoved := false
	defer func() {
		if !idxTmpRemoved {
			_ = os.Remove(idxTmpPath)
		}
	}()

	if _, err := WritePackIndex(idxTmp, pw.IndexEntries(), packChecksum); err != nil {
		_ = idxTmp.Close()
		_ = os.Remove(packPath)
		return nil, fmt.Errorf("repack: write pack index: %w", err)
	}
	if err := idxTmp.Close(); err != nil {
		_ = os.Remove(packPath)
		return nil, fmt.Errorf("repack: close index temp file: %w", err)
	}
	if err := os.Rename(idxTmpPath, idxPath); err != nil {
		_ = os.Remove(packPath)
		return nil, fmt.Errorf("repack: rename index file: %w", err)
	}
	idxTmpRemoved = true

	if err := s.invalidatePacks(); err != nil {
		return nil, fmt.Errorf("repack: reopen packs: %w", err)
	}

	if prune {
		for _, h := range hashes {
			err := os.Remove(s.objectPath(h))
			if err == nil {
				summary.Pruned++
				continue
			}
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("repack: prune %s: %w", h, err)
			}
		}
	}

	summary.PackFile = filepath.Base(packPath)
	summary.IndexFile = filepath.Base(idxPath)
	return summary, nil
}

func (s *Store) listPackIndexPaths() ([]string, error) {
	packDir := filepath.Join(s.root, "objects", "pack")
	entries, err := os.ReadDir(packDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pack dir: %w", err)
	}

	idxPaths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".idx") {
			continue
		}
		idxPaths = append(idxPaths, filepath.Join(packDir, entry.Name()))
	}
	sort.Strings(idxPaths)
	return idxPaths, nil
}

func (s *Store) listLooseObjectHashes() ([]Hash, error) {
	objectsDir := filepath.Join(s.root, "objects")
	fanoutDirs, err := os.ReadDir(objectsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read objects dir: %w", err)
	}

	var hashes []Hash
	for _, fanoutDir := range fanoutDirs {
		prefix := fanoutDir.Name()
		if !fanoutDir.IsDir() || len(prefix) != 2 || !isHex(prefix) {
			continue
		}

		objectEntries, err := os.ReadDir(filepath.Join(objectsDir, prefix))
		if err != nil {
			return nil, fmt.Errorf("read objects fanout %s: %w", prefix, err)
		}
		for _, objectEntry := range objectEntries {
			suffix := objectEntry.Name()
			if objectEntry.IsDir() || len(suffix) != HashLen-2 || !isHex(suffix) {
				continue
			}
			hashes = append(hashes, Hash(prefix+suffix))
		}
	}

	sort.Slice(hashes, func(i, j int) bool {
		return hashes[i] < hashes[j]
	})
	return hashes, nil
}

func packPathForIndex(idxPath string) string {
	return strings.TrimSuffix(idxPath, ".idx") + ".pack"
}

func uniqueNormalizedHashes(in []Hash) []Hash {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[Hash]struct{}, len(in))
	out := make([]Hash, 0, len(in))
	for _, h := range in {
		h = Hash(strings.ToLower(strings.TrimSpace(string(h))))
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
