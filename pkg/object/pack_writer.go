package object

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zlib"
)

type packCountedWriter struct {
	w io.Writer
	n uint64
}

func (cw *packCountedWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += uint64(n)
	return n, err
}

func (cw *packCountedWriter) Count() uint64 {
	return cw.n
}

func compressPackPayload(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		_ = zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PackWriter writes Git-compatible pack streams with zlib-compressed object
// entries. The trailer checksum is SHA-1 over all bytes preceding the
// trailer. Index entries (offset + CRC32 of the raw entry bytes) are collected
// as entries are written so the caller can produce a matching idx.
type PackWriter struct {
	out      io.Writer
	hasher   hash.Hash
	hashedW  io.Writer
	counter  *packCountedWriter
	expected uint32
	written  uint32
	finished bool
	index    []PackIndexEntry
}

// NewPackWriter initializes a new writer and writes the fixed pack header.
func NewPackWriter(out io.Writer, numObjects uint32) (*PackWriter, error) {
	hasher := sha1.New()
	counter := &packCountedWriter{w: out}
	pw := &PackWriter{
		out:      out,
		hasher:   hasher,
		hashedW:  io.MultiWriter(counter, hasher),
		counter:  counter,
		expected: numObjects,
	}

	header := PackHeader{
		Version:    supportedPackVersion,
		NumObjects: numObjects,
	}
	if _, err := pw.hashedW.Write(header.Marshal()); err != nil {
		return nil, fmt.Errorf("write pack header: %w", err)
	}
	return pw, nil
}

// CurrentOffset returns the current byte offset in the pack stream (from pack
// start), excluding the trailing checksum written by Finish().
func (p *PackWriter) CurrentOffset() uint64 {
	return p.counter.Count()
}

// IndexEntries returns the idx rows for every entry written so far.
func (p *PackWriter) IndexEntries() []PackIndexEntry {
	out := make([]PackIndexEntry, len(p.index))
	copy(out, p.index)
	return out
}

func (p *PackWriter) checkWritable() error {
	if p.finished {
		return fmt.Errorf("pack writer already finished")
	}
	if p.written >= p.expected {
		return fmt.Errorf("pack object count exceeded: expected %d", p.expected)
	}
	return nil
}

// writeRaw writes one complete entry (header, optional base reference and
// compressed payload) and records its index row.
func (p *PackWriter) writeRaw(id Hash, parts ...[]byte) error {
	offset := p.CurrentOffset()
	crc := crc32.NewIEEE()
	for _, part := range parts {
		if _, err := p.hashedW.Write(part); err != nil {
			return err
		}
		crc.Write(part)
	}
	p.index = append(p.index, PackIndexEntry{Hash: id, Offset: offset, CRC32: crc.Sum32()})
	p.written++
	return nil
}

// WriteEntry appends one undeltified object entry to the pack stream and
// returns the entry's offset.
func (p *PackWriter) WriteEntry(objType ObjectType, data []byte) (uint64, error) {
	if err := p.checkWritable(); err != nil {
		return 0, err
	}
	packType, ok := objectTypeToPackObjectType(objType)
	if !ok {
		return 0, fmt.Errorf("write pack entry: unsupported object type %q", objType)
	}

	offset := p.CurrentOffset()
	header := encodePackEntryHeader(packType, uint64(len(data)))
	compressed, err := compressPackPayload(data)
	if err != nil {
		return 0, fmt.Errorf("compress pack entry: %w", err)
	}
	if err := p.writeRaw(HashObject(objType, data), header, compressed); err != nil {
		return 0, fmt.Errorf("write pack entry: %w", err)
	}
	return offset, nil
}

// WriteOfsDelta writes an OFS_DELTA entry for target against the entry at
// baseOffset (which must hold baseData of the same object type).
func (p *PackWriter) WriteOfsDelta(objType ObjectType, baseOffset uint64, baseData, targetData []byte) (uint64, error) {
	if err := p.checkWritable(); err != nil {
		return 0, err
	}
	current := p.CurrentOffset()
	if baseOffset >= current {
		return 0, fmt.Errorf("base offset %d must be before current offset %d", baseOffset, current)
	}

	delta := buildDelta(baseData, targetData)
	header := encodePackEntryHeader(PackOfsDelta, uint64(len(delta)))
	ofs := encodeOfsDeltaDistance(current - baseOffset)
	compressed, err := compressPackPayload(delta)
	if err != nil {
		return 0, fmt.Errorf("compress delta payload: %w", err)
	}
	if err := p.writeRaw(HashObject(objType, targetData), header, ofs, compressed); err != nil {
		return 0, fmt.Errorf("write ofs-delta entry: %w", err)
	}
	return current, nil
}

// WriteRefDelta writes a REF_DELTA entry for target against the object named
// base, which may live anywhere in the object database.
func (p *PackWriter) WriteRefDelta(objType ObjectType, base Hash, baseData, targetData []byte) (uint64, error) {
	if err := p.checkWritable(); err != nil {
		return 0, err
	}
	baseRaw, err := hashToRaw(base)
	if err != nil {
		return 0, fmt.Errorf("write ref-delta: base: %w", err)
	}

	current := p.CurrentOffset()
	delta := buildDelta(baseData, targetData)
	header := encodePackEntryHeader(PackRefDelta, uint64(len(delta)))
	compressed, err := compressPackPayload(delta)
	if err != nil {
		return 0, fmt.Errorf("compress delta payload: %w", err)
	}
	if err := p.writeRaw(HashObject(objType, targetData), header, baseRaw, compressed); err != nil {
		return 0, fmt.Errorf("write ref-delta entry: %w", err)
	}
	return current, nil
}

// Finish validates object count, writes the trailing pack checksum, and returns
// that checksum as a hex digest.
func (p *PackWriter) Finish() (Hash, error) {
	if p.finished {
		return "", fmt.Errorf("pack writer already finished")
	}
	if p.written != p.expected {
		return "", fmt.Errorf("pack object count mismatch: wrote %d, expected %d", p.written, p.expected)
	}

	sum := p.hasher.Sum(nil)
	if _, err := p.out.Write(sum); err != nil {
		return "", fmt.Errorf("write pack trailer checksum: %w", err)
	}
	p.finished = true
	return rawToHash(sum), nil
}
