package object

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zlib"
)

// ErrNotFound is matched (via errors.Is) by every NotFoundError.
var ErrNotFound = errors.New("object not found")

// NotFoundError reports an object id that is neither a loose object nor
// present in any pack.
type NotFoundError struct {
	Hash Hash
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("object %s not found", e.Hash)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Store reads and writes a Git object database rooted at a .git directory:
// loose objects under objects/ab/cdef... (zlib-deflated "type len\0content")
// plus packfiles under objects/pack. Reads never touch the working tree.
type Store struct {
	root string

	packsMu     sync.Mutex
	packsLoaded bool
	packs       []*packHandle

	deltaBases *deltaBaseCache
}

// NewStore creates a Store rooted at the given .git directory. Packfiles are
// indexed lazily on first lookup.
func NewStore(root string) *Store {
	return &Store{
		root:       root,
		deltaBases: newDeltaBaseCache(),
	}
}

// Close releases open packfile handles.
func (s *Store) Close() error {
	s.packsMu.Lock()
	defer s.packsMu.Unlock()
	return s.closePacksLocked()
}

// objectPath returns the filesystem path for a given hash.
func (s *Store) objectPath(h Hash) string {
	return filepath.Join(s.root, "objects", string(h[:2]), string(h[2:]))
}

// Has reports whether the store contains an object with the given hash.
func (s *Store) Has(h Hash) bool {
	if len(h) != HashLen {
		return false
	}
	if _, err := os.Stat(s.objectPath(h)); err == nil {
		return true
	}
	_, _, ok, err := s.findPacked(h)
	return err == nil && ok
}

// Write stores an object as a loose object and returns its content hash.
// Writes are atomic: data is deflated into a temp file and then renamed into
// place.
func (s *Store) Write(objType ObjectType, data []byte) (Hash, error) {
	h := HashObject(objType, data)

	// Fast path: already exists.
	if s.Has(h) {
		return h, nil
	}

	dir := filepath.Join(s.root, "objects", string(h[:2]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("object write mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("object write tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	zw := zlib.NewWriter(tmp)
	if _, err := zw.Write(makeObjectEnvelope(objType, data)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("object write: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("object write deflate: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("object write close: %w", err)
	}

	if err := os.Rename(tmpName, s.objectPath(h)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("object write rename: %w", err)
	}
	return h, nil
}

// Read retrieves an object by hash, returning its type and full content.
func (s *Store) Read(h Hash) (ObjectType, []byte, error) {
	objType, data, err := s.readLoose(h, -1)
	if err == nil {
		return objType, data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", nil, err
	}
	return s.readFromPacks(h)
}

// ReadHeader returns the type and byte size of an object without inflating
// its content. Loose objects are inflated only up to the envelope header;
// packed objects are answered from the entry header (or, for deltified
// entries, the delta's result-size field).
func (s *Store) ReadHeader(h Hash) (ObjectType, int64, error) {
	f, err := s.openLoose(h)
	if err == nil {
		defer f.Close()
		objType, size, _, err := readLooseHeader(h, f)
		if err != nil {
			return "", 0, err
		}
		return objType, size, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", 0, fmt.Errorf("object header %s: %w", h, err)
	}
	return s.readHeaderFromPacks(h)
}

// ReadPrefix returns at most n leading content bytes of an object. For loose
// and undeltified packed objects only those bytes are inflated.
func (s *Store) ReadPrefix(h Hash, n int) (ObjectType, []byte, error) {
	if n < 0 {
		n = 0
	}
	objType, data, err := s.readLoose(h, n)
	if err == nil {
		return objType, data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", nil, err
	}
	return s.readPrefixFromPacks(h, n)
}

func (s *Store) openLoose(h Hash) (*os.File, error) {
	if len(h) != HashLen {
		return nil, fmt.Errorf("object %q: %w", h, os.ErrNotExist)
	}
	return os.Open(s.objectPath(h))
}

// readLoose inflates a loose object. limit < 0 reads the whole content.
func (s *Store) readLoose(h Hash, limit int) (ObjectType, []byte, error) {
	f, err := s.openLoose(h)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("object read %s: %w", h, err)
	}
	defer f.Close()

	objType, size, body, err := readLooseHeader(h, f)
	if err != nil {
		return "", nil, err
	}
	want := size
	if limit >= 0 && int64(limit) < want {
		want = int64(limit)
	}
	data := make([]byte, want)
	if _, err := io.ReadFull(body, data); err != nil {
		return "", nil, fmt.Errorf("object read %s: inflate content: %w", h, err)
	}
	return objType, data, nil
}

// readLooseHeader parses the "type len\0" envelope from a loose object file
// and returns a reader positioned at the first content byte.
func readLooseHeader(h Hash, f io.Reader) (ObjectType, int64, io.Reader, error) {
	zr, err := zlib.NewReader(f)
	if err != nil {
		return "", 0, nil, fmt.Errorf("object read %s: zlib: %w", h, err)
	}
	br := bufio.NewReader(zr)
	header, err := br.ReadString(0)
	if err != nil {
		return "", 0, nil, fmt.Errorf("object read %s: invalid format (no NUL): %w", h, err)
	}
	header = strings.TrimSuffix(header, "\x00")

	typ, lenStr, ok := strings.Cut(header, " ")
	if !ok {
		return "", 0, nil, fmt.Errorf("object read %s: invalid header %q", h, header)
	}
	size, err := strconv.ParseInt(lenStr, 10, 64)
	if err != nil || size < 0 {
		return "", 0, nil, fmt.Errorf("object read %s: invalid length %q", h, lenStr)
	}
	return ObjectType(typ), size, br, nil
}

func makeObjectEnvelope(objType ObjectType, data []byte) []byte {
	header := fmt.Sprintf("%s %d\x00", objType, len(data))
	out := make([]byte, 0, len(header)+len(data))
	out = append(out, header...)
	out = append(out, data...)
	return out
}

// ---------------------------------------------------------------------------
// Typed convenience methods
// ---------------------------------------------------------------------------

func (s *Store) readTyped(h Hash, want ObjectType) ([]byte, error) {
	objType, data, err := s.Read(h)
	if err != nil {
		return nil, err
	}
	if objType != want {
		return nil, fmt.Errorf("object %s: type mismatch: got %q, want %q", h, objType, want)
	}
	return data, nil
}

// WriteBlob stores raw file content.
func (s *Store) WriteBlob(data []byte) (Hash, error) {
	return s.Write(TypeBlob, data)
}

// WriteTree serializes and stores a TreeObj.
func (s *Store) WriteTree(tr *TreeObj) (Hash, error) {
	data, err := MarshalTree(tr)
	if err != nil {
		return "", err
	}
	return s.Write(TypeTree, data)
}

// ReadTree reads and deserializes a TreeObj.
func (s *Store) ReadTree(h Hash) (*TreeObj, error) {
	data, err := s.readTyped(h, TypeTree)
	if err != nil {
		return nil, err
	}
	return UnmarshalTree(data)
}

// WriteCommit serializes and stores a CommitObj.
func (s *Store) WriteCommit(c *CommitObj) (Hash, error) {
	return s.Write(TypeCommit, MarshalCommit(c))
}

// ReadCommit reads and deserializes a CommitObj.
func (s *Store) ReadCommit(h Hash) (*CommitObj, error) {
	data, err := s.readTyped(h, TypeCommit)
	if err != nil {
		return nil, err
	}
	return UnmarshalCommit(data)
}

// WriteTag serializes and stores an annotated tag.
func (s *Store) WriteTag(t *TagObj) (Hash, error) {
	return s.Write(TypeTag, MarshalTag(t))
}

// ReadTag reads and deserializes an annotated tag.
func (s *Store) ReadTag(h Hash) (*TagObj, error) {
	data, err := s.readTyped(h, TypeTag)
	if err != nil {
		return nil, err
	}
	return UnmarshalTag(data)
}

// ---------------------------------------------------------------------------
// Abbreviated ids
// ---------------------------------------------------------------------------

// ErrAmbiguousPrefix is returned by ExpandPrefix when more than one object
// matches.
var ErrAmbiguousPrefix = errors.New("ambiguous object id prefix")

// ExpandPrefix resolves an abbreviated hex object id to the single object it
// names, searching loose objects and every pack index.
func (s *Store) ExpandPrefix(prefix string) (Hash, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if !IsHashPrefix(prefix) {
		return "", fmt.Errorf("expand %q: not an object id prefix", prefix)
	}
	if len(prefix) == HashLen {
		h := Hash(prefix)
		if !s.Has(h) {
			return "", &NotFoundError{Hash: h}
		}
		return h, nil
	}

	matches := make(map[Hash]struct{})
	fanout := filepath.Join(s.root, "objects", prefix[:2])
	entries, err := os.ReadDir(fanout)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("expand %q: %w", prefix, err)
	}
	for _, e := range entries {
		full := prefix[:2] + e.Name()
		if len(full) == HashLen && strings.HasPrefix(full, prefix) {
			matches[Hash(full)] = struct{}{}
		}
	}

	packs, err := s.loadPacks()
	if err != nil {
		return "", err
	}
	for _, p := range packs {
		for _, h := range p.idx.FindPrefix(prefix) {
			matches[h] = struct{}{}
		}
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{Hash: Hash(prefix)}
	case 1:
		for h := range matches {
			return h, nil
		}
	}
	return "", fmt.Errorf("expand %q: %w (%d candidates)", prefix, ErrAmbiguousPrefix, len(matches))
}
