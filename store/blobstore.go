package store

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// BlobStore adapts a gocloud.dev/blob.Bucket to the Store interface.
// Wiring it behind Store lets the array facade drive any of gocloud's
// backends (file://, mem://, s3://, gs://) uniformly.
type BlobStore struct {
	bucket *blob.Bucket
	mode   Mode
}

// OpenBlobStore opens the bucket identified by urlstr (e.g. "file:///tmp/a"
// or "mem://").
func OpenBlobStore(ctx context.Context, urlstr string, mode Mode) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, urlstr)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open bucket: %w", err)
	}
	return &BlobStore{bucket: bucket, mode: mode}, nil
}

// NewBlobStore wraps an already-open bucket, e.g. one composed with gocloud
// middleware by the caller.
func NewBlobStore(bucket *blob.Bucket, mode Mode) *BlobStore {
	return &BlobStore{bucket: bucket, mode: mode}
}

func (s *BlobStore) Get(ctx context.Context, key string, byteRange *ByteRange) ([]byte, error) {
	var r *blob.Reader
	var err error
	if byteRange == nil {
		r, err = s.bucket.NewReader(ctx, key, nil)
	} else {
		offset := byteRange.Offset
		if offset < 0 {
			// gocloud range readers take absolute offsets only; resolve a
			// suffix range against the object's size first.
			attrs, aerr := s.bucket.Attributes(ctx, key)
			if aerr != nil {
				if gcerrors.Code(aerr) == gcerrors.NotFound {
					return nil, nil
				}
				return nil, fmt.Errorf("store: failed to stat %q: %w", key, aerr)
			}
			offset += attrs.Size
			if offset < 0 {
				offset = 0
			}
		}
		r, err = s.bucket.NewRangeReader(ctx, key, offset, byteRange.Length, nil)
	}
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("store: failed to open %q: %w", key, err)
	}
	defer r.Close()

	data, err := ReadAllRange(r)
	if err != nil {
		return nil, fmt.Errorf("store: failed to read %q: %w", key, err)
	}
	return data, nil
}

func (s *BlobStore) Set(ctx context.Context, key string, value []byte) error {
	if s.mode == ReadOnly {
		return ErrReadOnly
	}
	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("store: failed to open writer for %q: %w", key, err)
	}
	if _, err := w.Write(value); err != nil {
		w.Close()
		return fmt.Errorf("store: failed to write %q: %w", key, err)
	}
	return w.Close()
}

func (s *BlobStore) Delete(ctx context.Context, key string) error {
	if s.mode == ReadOnly {
		return ErrReadOnly
	}
	err := s.bucket.Delete(ctx, key)
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

func (s *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	it := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("store: list %q failed: %w", prefix, err)
		}
		out = append(out, obj.Key)
	}
	return out, nil
}

func (s *BlobStore) SupportsPartialReads() bool { return true }
func (s *BlobStore) SupportsPartialWrites() bool { return false }
func (s *BlobStore) Mode() Mode { return s.mode }

// Close releases the underlying bucket.
func (s *BlobStore) Close() error { return s.bucket.Close() }
