// Package store implements the key-value store interface (§4.B): an
// async-flavored get/set/delete/list over opaque string keys, byte-range
// reads for partial decode, and mode enforcement.
package store

import (
	"context"
	"errors"
	"io"
)

// Mode sets the access level of a Store. Only ReadOnly restricts anything:
// Set and Delete then fail with ErrReadOnly. ReadWrite and AppendOnly both
// permit every operation.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
	AppendOnly
)

// ErrReadOnly is returned when a mutating call hits a read-only store.
var ErrReadOnly = errors.New("store: read-only")

// ByteRange addresses a sub-span of a stored object. A nil *ByteRange means
// "the whole object". Length < 0 means "to the end of the object". A
// negative Offset addresses from the object's end (a suffix range, e.g.
// Offset=-16, Length=16 reads the last 16 bytes), which is how a sharded
// read fetches an end-located index without knowing the shard size.
type ByteRange struct {
	Offset int64
	Length int64
}

// Store is the pluggable key-value backend every array is built on.
// Implementations must accept and return byte buffers allocated from any
// buffer.Prototype; this package only moves raw []byte, leaving buffer
// ownership to the caller.
type Store interface {
	// Get returns the bytes at key, optionally restricted to byteRange. It
	// returns (nil, nil) if the key is absent — absence is not an error.
	Get(ctx context.Context, key string, byteRange *ByteRange) ([]byte, error)
	// Set overwrites key with value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. It is idempotent: deleting an absent key is not
	// an error.
	Delete(ctx context.Context, key string) error
	// List yields every key with the given prefix, in an unspecified order.
	List(ctx context.Context, prefix string) ([]string, error)

	SupportsPartialReads() bool
	SupportsPartialWrites() bool
	Mode() Mode
}

// ErrNotFound is returned by implementations that cannot express absence
// any other way; Store.Get callers should prefer checking for a nil slice
// but may also check errors.Is(err, ErrNotFound).
var ErrNotFound = errors.New("store: key not found")

// ReadAllRange is a helper for implementations built over io.Reader-based
// backends: it drains r fully and classifies io.EOF as success.
func ReadAllRange(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return data, nil
}
