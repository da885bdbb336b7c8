package object

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zlib"
)

const (
	// maxDeltaChainDepth bounds delta resolution so a corrupt pack that
	// points an entry at itself cannot recurse forever.
	maxDeltaChainDepth = 4096

	deltaBaseCacheEntries = 512
	deltaBaseCacheMaxSize = 64 << 10

	// Longest entry header we need to look at: 10 bytes of type+size varint,
	// then either a 20-byte REF_DELTA base or an OFS_DELTA distance.
	maxEntryHeaderLen = 32
)

// packHandle is one opened pack with its parsed idx.
type packHandle struct {
	path string
	idx  *PackIndex
	f    *os.File
	size int64
}

func (p *packHandle) close() error {
	if p.f == nil {
		return nil
	}
	err := p.f.Close()
	p.f = nil
	return err
}

// packEntry is a decoded pack entry header.
type packEntry struct {
	typ        PackObjectType
	size       uint64
	dataOffset int64
	baseOffset uint64
	baseHash   Hash
}

type deltaBaseKey struct {
	pack   string
	offset uint64
}

type deltaBase struct {
	typ  ObjectType
	data []byte
}

// deltaBaseCache keeps recently resolved small delta bases so walking a
// chain of similar objects does not re-inflate the same base repeatedly.
type deltaBaseCache struct {
	entries *lru.Cache[deltaBaseKey, deltaBase]
}

func newDeltaBaseCache() *deltaBaseCache {
	c, err := lru.New[deltaBaseKey, deltaBase](deltaBaseCacheEntries)
	if err != nil {
		panic(err)
	}
	return &deltaBaseCache{entries: c}
}

func (c *deltaBaseCache) get(key deltaBaseKey) (deltaBase, bool) {
	return c.entries.Get(key)
}

func (c *deltaBaseCache) add(key deltaBaseKey, typ ObjectType, data []byte) {
	if len(data) > deltaBaseCacheMaxSize {
		return
	}
	c.entries.Add(key, deltaBase{typ: typ, data: data})
}

func (c *deltaBaseCache) purge() {
	c.entries.Purge()
}

// loadPacks opens every pack under objects/pack that has a matching idx.
// The pack header and trailer are checked against the idx before use.
func (s *Store) loadPacks() ([]*packHandle, error) {
	s.packsMu.Lock()
	defer s.packsMu.Unlock()
	if s.packsLoaded {
		return s.packs, nil
	}

	idxPaths, err := s.listPackIndexPaths()
	if err != nil {
		return nil, err
	}
	packs := make([]*packHandle, 0, len(idxPaths))
	for _, idxPath := range idxPaths {
		p, err := openPack(idxPath)
		if err != nil {
			for _, opened := range packs {
				_ = opened.close()
			}
			return nil, err
		}
		packs = append(packs, p)
	}
	s.packs = packs
	s.packsLoaded = true
	return packs, nil
}

// invalidatePacks drops the opened pack list so the next lookup rescans
// objects/pack.
func (s *Store) invalidatePacks() error {
	s.packsMu.Lock()
	defer s.packsMu.Unlock()
	s.deltaBases.purge()
	return s.closePacksLocked()
}

func (s *Store) closePacksLocked() error {
	var firstErr error
	for _, p := range s.packs {
		if err := p.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.packs = nil
	s.packsLoaded = false
	return firstErr
}

func openPack(idxPath string) (*packHandle, error) {
	idxData, err := os.ReadFile(idxPath)
	if err != nil {
		return nil, fmt.Errorf("read pack index %s: %w", filepath.Base(idxPath), err)
	}
	idx, err := ReadPackIndex(idxData)
	if err != nil {
		return nil, fmt.Errorf("parse pack index %s: %w", filepath.Base(idxPath), err)
	}

	packPath := packPathForIndex(idxPath)
	f, err := os.Open(packPath)
	if err != nil {
		return nil, fmt.Errorf("open pack %s: %w", filepath.Base(packPath), err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat pack %s: %w", filepath.Base(packPath), err)
	}
	if st.Size() < packHeaderSize+sha1.Size {
		f.Close()
		return nil, fmt.Errorf("pack %s too short: %d bytes", filepath.Base(packPath), st.Size())
	}

	head := make([]byte, packHeaderSize)
	if _, err := f.ReadAt(head, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("read pack header %s: %w", filepath.Base(packPath), err)
	}
	hdr, err := UnmarshalPackHeader(head)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pack %s: %w", filepath.Base(packPath), err)
	}
	if int(hdr.NumObjects) != idx.Len() {
		f.Close()
		return nil, fmt.Errorf("pack %s: header says %d objects, idx has %d", filepath.Base(packPath), hdr.NumObjects, idx.Len())
	}

	trailer := make([]byte, sha1.Size)
	if _, err := f.ReadAt(trailer, st.Size()-sha1.Size); err != nil {
		f.Close()
		return nil, fmt.Errorf("read pack trailer %s: %w", filepath.Base(packPath), err)
	}
	if got := rawToHash(trailer); got != idx.PackChecksum {
		f.Close()
		return nil, fmt.Errorf("pack %s: checksum %s does not match idx %s", filepath.Base(packPath), got, idx.PackChecksum)
	}

	return &packHandle{path: packPath, idx: idx, f: f, size: st.Size()}, nil
}

// findPacked locates h in the first pack whose idx lists it. On a miss it
// picks up packs written since the last scan and looks again.
func (s *Store) findPacked(h Hash) (*packHandle, PackIndexEntry, bool, error) {
	packs, err := s.loadPacks()
	if err != nil {
		return nil, PackIndexEntry{}, false, err
	}
	if p, e, ok := searchPacks(packs, h); ok {
		return p, e, true, nil
	}
	added, err := s.rescanPacks()
	if err != nil || len(added) == 0 {
		return nil, PackIndexEntry{}, false, err
	}
	p, e, ok := searchPacks(added, h)
	return p, e, ok, nil
}

func searchPacks(packs []*packHandle, h Hash) (*packHandle, PackIndexEntry, bool) {
	for _, p := range packs {
		if e, ok := p.idx.Find(h); ok {
			return p, e, true
		}
	}
	return nil, PackIndexEntry{}, false
}

// rescanPacks opens packs that appeared under objects/pack after the last
// scan and returns only the new ones. Packs already open stay open.
func (s *Store) rescanPacks() ([]*packHandle, error) {
	s.packsMu.Lock()
	defer s.packsMu.Unlock()

	idxPaths, err := s.listPackIndexPaths()
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(s.packs))
	for _, p := range s.packs {
		known[p.path] = true
	}
	var added []*packHandle
	for _, idxPath := range idxPaths {
		if known[packPathForIndex(idxPath)] {
			continue
		}
		p, err := openPack(idxPath)
		if err != nil {
			for _, opened := range added {
				_ = opened.close()
			}
			return nil, err
		}
		added = append(added, p)
	}
	s.packs = append(s.packs, added...)
	s.packsLoaded = true
	return added, nil
}

func (s *Store) readFromPacks(h Hash) (ObjectType, []byte, error) {
	p, e, ok, err := s.findPacked(h)
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: %w", h, err)
	}
	if !ok {
		return "", nil, &NotFoundError{Hash: h}
	}
	objType, data, err := s.resolveEntry(p, e.Offset, 0)
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: %w", h, err)
	}
	if computed := HashObject(objType, data); computed != h {
		return "", nil, fmt.Errorf("object read %s: packed object hash mismatch (computed %s)", h, computed)
	}
	return objType, data, nil
}

func (s *Store) readHeaderFromPacks(h Hash) (ObjectType, int64, error) {
	p, e, ok, err := s.findPacked(h)
	if err != nil {
		return "", 0, fmt.Errorf("object header %s: %w", h, err)
	}
	if !ok {
		return "", 0, &NotFoundError{Hash: h}
	}
	entry, err := p.readEntry(e.Offset)
	if err != nil {
		return "", 0, fmt.Errorf("object header %s: %w", h, err)
	}
	if objType, ok := packObjectTypeToObjectType(entry.typ); ok {
		return objType, int64(entry.size), nil
	}

	// Deltified: the result size is the second varint of the delta stream and
	// the type is whatever the chain bottoms out at.
	head, err := p.inflate(entry, maxEntryHeaderLen)
	if err != nil {
		return "", 0, fmt.Errorf("object header %s: %w", h, err)
	}
	_, resultSize, err := deltaSizes(head)
	if err != nil {
		return "", 0, fmt.Errorf("object header %s: %w", h, err)
	}
	objType, err := s.resolveType(p, entry, 0)
	if err != nil {
		return "", 0, fmt.Errorf("object header %s: %w", h, err)
	}
	return objType, int64(resultSize), nil
}

func (s *Store) readPrefixFromPacks(h Hash, n int) (ObjectType, []byte, error) {
	p, e, ok, err := s.findPacked(h)
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: %w", h, err)
	}
	if !ok {
		return "", nil, &NotFoundError{Hash: h}
	}
	entry, err := p.readEntry(e.Offset)
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: %w", h, err)
	}
	if objType, ok := packObjectTypeToObjectType(entry.typ); ok {
		data, err := p.inflate(entry, n)
		if err != nil {
			return "", nil, fmt.Errorf("object read %s: %w", h, err)
		}
		return objType, data, nil
	}

	// A delta can copy from anywhere in its base, so the whole object has
	// to be rebuilt before it can be cut.
	objType, data, err := s.resolveEntry(p, e.Offset, 0)
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: %w", h, err)
	}
	if len(data) > n {
		data = data[:n]
	}
	return objType, data, nil
}

// resolveEntry returns the fully materialized object stored at offset,
// following OFS_DELTA and REF_DELTA chains.
func (s *Store) resolveEntry(p *packHandle, offset uint64, depth int) (ObjectType, []byte, error) {
	if depth > maxDeltaChainDepth {
		return "", nil, fmt.Errorf("delta chain deeper than %d at offset %d", maxDeltaChainDepth, offset)
	}
	key := deltaBaseKey{pack: p.path, offset: offset}
	if cached, ok := s.deltaBases.get(key); ok {
		if depth == 0 {
			return cached.typ, bytes.Clone(cached.data), nil
		}
		return cached.typ, cached.data, nil
	}

	entry, err := p.readEntry(offset)
	if err != nil {
		return "", nil, err
	}

	if objType, ok := packObjectTypeToObjectType(entry.typ); ok {
		data, err := p.inflate(entry, -1)
		if err != nil {
			return "", nil, err
		}
		if depth > 0 {
			s.deltaBases.add(key, objType, data)
		}
		return objType, data, nil
	}

	var (
		baseType ObjectType
		baseData []byte
	)
	switch entry.typ {
	case PackOfsDelta:
		baseType, baseData, err = s.resolveEntry(p, entry.baseOffset, depth+1)
	case PackRefDelta:
		baseType, baseData, err = s.resolveRefBase(entry.baseHash, depth+1)
	default:
		return "", nil, fmt.Errorf("unsupported pack entry type %d at offset %d", entry.typ, offset)
	}
	if err != nil {
		return "", nil, fmt.Errorf("resolve delta base for offset %d: %w", offset, err)
	}

	delta, err := p.inflate(entry, -1)
	if err != nil {
		return "", nil, err
	}
	data, err := applyDelta(baseData, delta)
	if err != nil {
		return "", nil, fmt.Errorf("apply delta at offset %d: %w", offset, err)
	}
	if depth > 0 {
		s.deltaBases.add(key, baseType, data)
	}
	return baseType, data, nil
}

// resolveRefBase materializes a REF_DELTA base, which may live in any pack
// or as a loose object.
func (s *Store) resolveRefBase(h Hash, depth int) (ObjectType, []byte, error) {
	p, e, ok, err := s.findPacked(h)
	if err != nil {
		return "", nil, err
	}
	if ok {
		return s.resolveEntry(p, e.Offset, depth)
	}
	objType, data, err := s.readLoose(h, -1)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil, &NotFoundError{Hash: h}
	}
	return objType, data, err
}

// resolveType walks a delta chain by headers only to find the object type.
func (s *Store) resolveType(p *packHandle, entry packEntry, depth int) (ObjectType, error) {
	for {
		if objType, ok := packObjectTypeToObjectType(entry.typ); ok {
			return objType, nil
		}
		if depth > maxDeltaChainDepth {
			return "", fmt.Errorf("delta chain deeper than %d", maxDeltaChainDepth)
		}
		depth++

		switch entry.typ {
		case PackOfsDelta:
			next, err := p.readEntry(entry.baseOffset)
			if err != nil {
				return "", err
			}
			entry = next
		case PackRefDelta:
			bp, e, ok, err := s.findPacked(entry.baseHash)
			if err != nil {
				return "", err
			}
			if !ok {
				objType, _, err := s.ReadHeader(entry.baseHash)
				return objType, err
			}
			next, err := bp.readEntry(e.Offset)
			if err != nil {
				return "", err
			}
			p, entry = bp, next
		default:
			return "", fmt.Errorf("unsupported pack entry type %d", entry.typ)
		}
	}
}

// readEntry decodes the entry header at offset.
func (p *packHandle) readEntry(offset uint64) (packEntry, error) {
	if p.f == nil {
		return packEntry{}, fmt.Errorf("pack %s is closed", filepath.Base(p.path))
	}
	end := p.size - sha1.Size
	if offset < packHeaderSize || int64(offset) >= end {
		return packEntry{}, fmt.Errorf("pack %s: entry offset %d out of range", filepath.Base(p.path), offset)
	}

	buf := make([]byte, maxEntryHeaderLen)
	if remaining := end - int64(offset); remaining < int64(len(buf)) {
		buf = buf[:remaining]
	}
	if _, err := p.f.ReadAt(buf, int64(offset)); err != nil && !errors.Is(err, io.EOF) {
		return packEntry{}, fmt.Errorf("pack %s: read entry at %d: %w", filepath.Base(p.path), offset, err)
	}

	typ, size, n, err := decodePackEntryHeader(buf)
	if err != nil {
		return packEntry{}, fmt.Errorf("pack %s: entry at %d: %w", filepath.Base(p.path), offset, err)
	}
	entry := packEntry{typ: typ, size: size}

	switch typ {
	case PackOfsDelta:
		dist, used, err := decodeOfsDeltaDistance(buf[n:])
		if err != nil {
			return packEntry{}, fmt.Errorf("pack %s: entry at %d: %w", filepath.Base(p.path), offset, err)
		}
		if dist == 0 || dist > offset {
			return packEntry{}, fmt.Errorf("pack %s: entry at %d: bad ofs-delta distance %d", filepath.Base(p.path), offset, dist)
		}
		entry.baseOffset = offset - dist
		n += used
	case PackRefDelta:
		if len(buf) < n+sha1.Size {
			return packEntry{}, fmt.Errorf("pack %s: entry at %d: ref-delta base truncated", filepath.Base(p.path), offset)
		}
		entry.baseHash = rawToHash(buf[n : n+sha1.Size])
		n += sha1.Size
	}
	entry.dataOffset = int64(offset) + int64(n)
	return entry, nil
}

// inflate decompresses an entry's payload. limit < 0 reads all of it;
// otherwise at most limit bytes are produced.
func (p *packHandle) inflate(entry packEntry, limit int) ([]byte, error) {
	want := entry.size
	if limit >= 0 && uint64(limit) < want {
		want = uint64(limit)
	}
	section := io.NewSectionReader(p.f, entry.dataOffset, p.size-sha1.Size-entry.dataOffset)
	zr, err := zlib.NewReader(section)
	if err != nil {
		return nil, fmt.Errorf("pack %s: zlib at %d: %w", filepath.Base(p.path), entry.dataOffset, err)
	}
	defer zr.Close()

	var buf bytes.Buffer
	buf.Grow(int(want))
	if _, err := io.CopyN(&buf, zr, int64(want)); err != nil {
		return nil, fmt.Errorf("pack %s: inflate at %d: %w", filepath.Base(p.path), entry.dataOffset, err)
	}
	return buf.Bytes(), nil
}
