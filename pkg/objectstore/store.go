// Package objectstore abstracts the location a dataset lives at.
//
// Three backends are provided, selected by URI scheme:
//   - a bare path or file:// URI: a local directory
//   - s3://bucket/prefix: Amazon S3 or an S3-compatible endpoint
//   - gs://bucket/prefix: Google Cloud Storage
//
// Keys are slash separated and relative to the store root. Every backend
// supports an atomic put-if-absent, which the dataset engine uses to commit
// manifests without a lock service.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/ajitpratap0/arrowbridge/pkg/config"
	"github.com/ajitpratap0/arrowbridge/pkg/errors"
)

var (
	// ErrNotFound is returned when a key does not exist
	ErrNotFound = errors.New(errors.ErrorTypeNotFound, "object not found")
	// ErrExists is returned by PutIfAbsent when the key is already taken
	ErrExists = errors.New(errors.ErrorTypeConflict, "object already exists")
)

// File is a readable, seekable object. Parquet readers need random access.
type File interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer
}

// Writer streams an object. The object becomes visible only after Close
// returns nil; Abort discards everything written.
type Writer interface {
	io.Writer
	Close() error
	Abort() error
}

// Store is a flat key space rooted at a location.
type Store interface {
	// Create opens a streaming writer for key, replacing any existing object on Close.
	Create(ctx context.Context, key string) (Writer, error)
	// PutIfAbsent stores data under key only if key does not exist yet.
	// It returns an error wrapping ErrExists when it loses.
	PutIfAbsent(ctx context.Context, key string, data []byte) error
	// Get reads a whole object.
	Get(ctx context.Context, key string) ([]byte, error)
	// Open returns random access to an object.
	Open(ctx context.Context, key string) (File, error)
	// List returns the sorted keys starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes one key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// DeleteAll removes every object under the root.
	DeleteAll(ctx context.Context) error
	// URI returns the root location.
	URI() string
	// Close releases client resources.
	Close() error
}

// Open returns the Store for uri.
func Open(ctx context.Context, uri string, cfg config.StorageConfig) (Store, error) {
	scheme, bucket, prefix, err := Parse(uri)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "file":
		return NewLocal(prefix)
	case "s3":
		return NewS3(ctx, bucket, prefix, cfg)
	case "gs":
		return NewGCS(ctx, bucket, prefix, cfg)
	default:
		return nil, errors.Newf(errors.ErrorTypeInvalidArgument, "unsupported location scheme %q", scheme)
	}
}

// Parse splits a location into scheme, bucket and key prefix. Local paths
// come back as scheme "file" with the cleaned absolute path as prefix.
func Parse(uri string) (scheme, bucket, prefix string, err error) {
	if strings.TrimSpace(uri) == "" {
		return "", "", "", errors.New(errors.ErrorTypeInvalidArgument, "empty location")
	}
	if !strings.Contains(uri, "://") {
		abs, err := filepath.Abs(uri)
		if err != nil {
			return "", "", "", errors.Wrap(err, errors.ErrorTypeInvalidArgument, "resolve location")
		}
		return "file", "", abs, nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return "", "", "", errors.Wrap(err, errors.ErrorTypeInvalidArgument, "parse location")
	}
	switch u.Scheme {
	case "file":
		if u.Path == "" {
			return "", "", "", errors.Newf(errors.ErrorTypeInvalidArgument, "location %q has no path", uri)
		}
		return "file", "", filepath.Clean(u.Path), nil
	case "s3", "gs":
		if u.Host == "" {
			return "", "", "", errors.Newf(errors.ErrorTypeInvalidArgument, "location %q has no bucket", uri)
		}
		return u.Scheme, u.Host, strings.Trim(u.Path, "/"), nil
	default:
		return u.Scheme, "", "", nil
	}
}

// Join appends a child name to a location, keeping its scheme.
func Join(uri, name string) string {
	if !strings.Contains(uri, "://") {
		return filepath.Join(uri, name)
	}
	return strings.TrimRight(uri, "/") + "/" + name
}

// joinKey builds an object key under a prefix.
func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

func notFound(key string) error {
	return fmt.Errorf("%s: %w", key, ErrNotFound)
}

func exists(key string) error {
	return fmt.Errorf("%s: %w", key, ErrExists)
}
