package object

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// PackIndex is an in-memory representation of an idx v2 file.
type PackIndex struct {
	fanout        [256]uint32
	entries       []PackIndexEntry
	PackChecksum  Hash
	IndexChecksum Hash
}

// Entries returns a copy of all index entries in lexicographic hash order.
func (idx *PackIndex) Entries() []PackIndexEntry {
	out := make([]PackIndexEntry, len(idx.entries))
	copy(out, idx.entries)
	return out
}

// Len returns the number of objects in the pack.
func (idx *PackIndex) Len() int {
	return len(idx.entries)
}

// Find performs fanout-bounded binary search for a hash in the index.
func (idx *PackIndex) Find(h Hash) (PackIndexEntry, bool) {
	raw, err := hashToRaw(h)
	if err != nil {
		return PackIndexEntry{}, false
	}

	start, end := idx.bucket(raw[0])
	if end <= start {
		return PackIndexEntry{}, false
	}

	lo := int(start)
	hi := int(end)
	for lo < hi {
		mid := lo + (hi-lo)/2
		if idx.entries[mid].Hash < h {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < int(end) && idx.entries[lo].Hash == h {
		return idx.entries[lo], true
	}
	return PackIndexEntry{}, false
}

// FindPrefix returns every hash in the index that starts with the given
// lowercase hex prefix (at least two characters).
func (idx *PackIndex) FindPrefix(prefix string) []Hash {
	if len(prefix) < 2 {
		return nil
	}
	first, err := hex.DecodeString(prefix[:2])
	if err != nil {
		return nil
	}
	start, end := idx.bucket(first[0])
	bucket := idx.entries[start:end]
	i := sort.Search(len(bucket), func(i int) bool {
		return string(bucket[i].Hash) >= prefix
	})

	var out []Hash
	for ; i < len(bucket) && strings.HasPrefix(string(bucket[i].Hash), prefix); i++ {
		out = append(out, bucket[i].Hash)
	}
	return out
}

func (idx *PackIndex) bucket(first byte) (uint32, uint32) {
	start := uint32(0)
	if first > 0 {
		start = idx.fanout[first-1]
	}
	return start, idx.fanout[first]
}

// ReadPackIndex parses and validates an idx v2 file for a SHA-1 repository.
//
// Layout: magic, version, 256-entry fanout, sorted 20-byte names, CRC32s,
// 32-bit offsets (MSB set means "index into the 64-bit table"), 64-bit
// offsets, pack checksum, index checksum.
func ReadPackIndex(data []byte) (*PackIndex, error) {
	const rawLen = sha1.Size
	minLen := packIndexHeaderSize + packIndexFanoutSize + 2*rawLen
	if len(data) < minLen {
		return nil, fmt.Errorf("pack index too short: %d", len(data))
	}
	if string(data[:4]) != string(packIndexMagic[:]) {
		return nil, fmt.Errorf("invalid pack index magic %q", data[:4])
	}
	version := binary.BigEndian.Uint32(data[4:8])
	if version != packIndexVersion {
		return nil, fmt.Errorf("unsupported pack index version %d", version)
	}

	sum := sha1.Sum(data[:len(data)-rawLen])
	if !bytes.Equal(data[len(data)-rawLen:], sum[:]) {
		return nil, fmt.Errorf("pack index checksum mismatch")
	}

	var fanout [256]uint32
	cursor := packIndexHeaderSize
	for i := 0; i < 256; i++ {
		fanout[i] = binary.BigEndian.Uint32(data[cursor:])
		if i > 0 && fanout[i] < fanout[i-1] {
			return nil, fmt.Errorf("pack index fanout not monotonic at %d", i)
		}
		cursor += 4
	}
	n := int(fanout[255])

	namesLen := n * rawLen
	crcLen := n * 4
	offsetLen := n * 4
	if cursor+namesLen+crcLen+offsetLen+2*rawLen > len(data) {
		return nil, fmt.Errorf("pack index truncated")
	}

	namesStart := cursor
	cursor += namesLen
	crcStart := cursor
	cursor += crcLen
	offsetStart := cursor
	cursor += offsetLen

	offset32 := make([]uint32, n)
	largeNeeded := uint32(0)
	for i := 0; i < n; i++ {
		v := binary.BigEndian.Uint32(data[offsetStart+(i*4):])
		offset32[i] = v
		if v&packIndexLargeOffsetBit != 0 {
			ref := v & ^packIndexLargeOffsetBit
			if ref+1 > largeNeeded {
				largeNeeded = ref + 1
			}
		}
	}

	largeOffsets := make([]uint64, largeNeeded)
	for i := uint32(0); i < largeNeeded; i++ {
		if cursor+8 > len(data)-2*rawLen {
			return nil, fmt.Errorf("pack index large-offset table truncated")
		}
		largeOffsets[i] = binary.BigEndian.Uint64(data[cursor:])
		cursor += 8
	}

	if cursor+2*rawLen != len(data) {
		return nil, fmt.Errorf("pack index trailing data: %d bytes", len(data)-(cursor+2*rawLen))
	}

	packChecksumRaw := data[cursor : cursor+rawLen]
	cursor += rawLen
	indexChecksumRaw := data[cursor : cursor+rawLen]

	entries := make([]PackIndexEntry, n)
	for i := 0; i < n; i++ {
		hashRaw := data[namesStart+(i*rawLen) : namesStart+((i+1)*rawLen)]
		offset := uint64(offset32[i])
		if offset32[i]&packIndexLargeOffsetBit != 0 {
			ref := offset32[i] & ^packIndexLargeOffsetBit
			offset = largeOffsets[ref]
		}
		entries[i] = PackIndexEntry{
			Hash:   rawToHash(hashRaw),
			CRC32:  binary.BigEndian.Uint32(data[crcStart+(i*4):]),
			Offset: offset,
		}
	}

	return &PackIndex{
		fanout:        fanout,
		entries:       entries,
		PackChecksum:  rawToHash(packChecksumRaw),
		IndexChecksum: rawToHash(indexChecksumRaw),
	}, nil
}
