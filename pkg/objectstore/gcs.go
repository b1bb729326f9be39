package objectstore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/arrowbridge/pkg/config"
	"github.com/ajitpratap0/arrowbridge/pkg/errors"
)

// GCS stores objects in a Cloud Storage bucket under a key prefix.
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// NewGCS builds a client from a credentials file or application default credentials.
func NewGCS(ctx context.Context, bucket, prefix string, cfg config.StorageConfig) (*GCS, error) {
	var opts []option.ClientOption
	if cfg.GCSCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
	}
	if cfg.GCSProject != "" {
		opts = append(opts, option.WithQuotaProject(cfg.GCSProject))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "create GCS client")
	}
	return &GCS{client: client, bucket: client.Bucket(bucket), name: bucket, prefix: prefix}, nil
}

// URI returns gs://bucket/prefix.
func (g *GCS) URI() string {
	return "gs://" + joinKey(g.name, g.prefix)
}

// Close closes the client.
func (g *GCS) Close() error {
	return g.client.Close()
}

// Create opens a resumable upload. Cancelling its context abandons it.
func (g *GCS) Create(ctx context.Context, key string) (Writer, error) {
	ctx, cancel := context.WithCancel(ctx)
	w := g.bucket.Object(joinKey(g.prefix, key)).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	return &gcsWriter{w: w, cancel: cancel}, nil
}

// PutIfAbsent uses a DoesNotExist precondition.
func (g *GCS) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	obj := g.bucket.Object(joinKey(g.prefix, key)).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return errors.Wrap(err, errors.ErrorTypeIO, "conditional put").WithDetail("key", key)
	}
	if err := w.Close(); err != nil {
		var gErr *googleapi.Error
		if errors.As(err, &gErr) && gErr.Code == http.StatusPreconditionFailed {
			return exists(key)
		}
		return errors.Wrap(err, errors.ErrorTypeIO, "conditional put").WithDetail("key", key)
	}
	return nil
}

// Get downloads a whole object.
func (g *GCS) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := g.bucket.Object(joinKey(g.prefix, key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, notFound(key)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "get object").WithDetail("key", key)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "read object body").WithDetail("key", key)
	}
	return data, nil
}

// Open downloads the object into memory for random access.
func (g *GCS) Open(ctx context.Context, key string) (File, error) {
	data, err := g.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return memFile{bytes.NewReader(data)}, nil
}

// List iterates the bucket listing under the prefix.
func (g *GCS) List(ctx context.Context, prefix string) ([]string, error) {
	root := ""
	if g.prefix != "" {
		root = g.prefix + "/"
	}
	it := g.bucket.Objects(ctx, &storage.Query{Prefix: root + prefix})

	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeIO, "list objects").WithDetail("prefix", prefix)
		}
		keys = append(keys, strings.TrimPrefix(attrs.Name, root))
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes one object.
func (g *GCS) Delete(ctx context.Context, key string) error {
	err := g.bucket.Object(joinKey(g.prefix, key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return errors.Wrap(err, errors.ErrorTypeIO, "delete object").WithDetail("key", key)
	}
	return nil
}

// DeleteAll removes every object under the prefix.
func (g *GCS) DeleteAll(ctx context.Context) error {
	keys, err := g.List(ctx, "")
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := g.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

type gcsWriter struct {
	w      *storage.Writer
	cancel context.CancelFunc
	closed bool
}

func (w *gcsWriter) Write(p []byte) (int, error) {
	return w.w.Write(p)
}

func (w *gcsWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.cancel()

	if err := w.w.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "upload object").WithDetail("object", w.w.ObjectAttrs.Name)
	}
	return nil
}

func (w *gcsWriter) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.cancel()
	_ = w.w.Close()
	return nil
}
