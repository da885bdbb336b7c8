package object

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashLen is the length of a hex-encoded object id.
const HashLen = 2 * sha1.Size

// HashObject computes the SHA-1 of the envelope "type len\0content", which is
// how Git names every object.
func HashObject(objType ObjectType, data []byte) Hash {
	header := fmt.Sprintf("%s %d\x00", objType, len(data))
	h := sha1.New()
	h.Write([]byte(header))
	h.Write(data)
	return Hash(hex.EncodeToString(h.Sum(nil)))
}

// ParseHash validates s as a full hex object id and returns it lowercased.
func ParseHash(s string) (Hash, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != HashLen {
		return "", fmt.Errorf("invalid object id %q: want %d hex chars, got %d", s, HashLen, len(s))
	}
	if !isHex(s) {
		return "", fmt.Errorf("invalid object id %q: not hex", s)
	}
	return Hash(s), nil
}

// IsHashPrefix reports whether s could be an abbreviated object id: at least
// four and at most HashLen hex characters.
func IsHashPrefix(s string) bool {
	return len(s) >= 4 && len(s) <= HashLen && isHex(s)
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func hashToRaw(h Hash) ([]byte, error) {
	if len(h) != HashLen {
		return nil, fmt.Errorf("hash length must be %d hex chars, got %d", HashLen, len(h))
	}
	raw, err := hex.DecodeString(string(h))
	if err != nil {
		return nil, fmt.Errorf("invalid hash %q: %w", h, err)
	}
	return raw, nil
}

func rawToHash(raw []byte) Hash {
	return Hash(hex.EncodeToString(raw))
}
