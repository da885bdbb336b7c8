// Package content answers size and text/binary questions about blobs without
// checking anything out.
package content

import (
	"context"

	"github.com/odvcencio/sizeguard/pkg/object"
)

// DefaultSampleSize is how many leading bytes classifiers inspect.
const DefaultSampleSize = 8000

// Source reads blob metadata and leading bytes from an object database.
// Unknown ids yield an error matching object.ErrNotFound.
type Source interface {
	Size(ctx context.Context, id object.Hash) (int64, error)
	Prefix(ctx context.Context, id object.Hash, n int) ([]byte, error)
}

// SizeResolver returns a blob's size in bytes.
type SizeResolver interface {
	SizeOf(ctx context.Context, id object.Hash) (int64, error)
}

// Classifier decides whether a blob is text or binary.
type Classifier interface {
	Classify(ctx context.Context, id object.Hash) (Class, error)
}

// Confidence grades a classification.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Class is the outcome of classifying a blob.
type Class struct {
	Binary     bool
	MIME       string
	Confidence Confidence
}

// StoreSource reads from an in-process object store (loose and packed).
type StoreSource struct {
	Store *object.Store
}

// Size returns the object's size from its header alone.
func (s StoreSource) Size(_ context.Context, id object.Hash) (int64, error) {
	_, size, err := s.Store.ReadHeader(id)
	return size, err
}

// Prefix returns at most n leading bytes of the object.
func (s StoreSource) Prefix(_ context.Context, id object.Hash, n int) ([]byte, error) {
	_, data, err := s.Store.ReadPrefix(id, n)
	return data, err
}
