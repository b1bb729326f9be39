package objectstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/ajitpratap0/arrowbridge/pkg/config"
	"github.com/ajitpratap0/arrowbridge/pkg/errors"
)

// deleteBatchSize is the DeleteObjects per-request limit
const deleteBatchSize = 1000

var errAborted = errors.New(errors.ErrorTypeIO, "upload aborted")

// S3 stores objects in a bucket under a key prefix.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3 builds a client from the default AWS credential chain.
func NewS3(ctx context.Context, bucket, prefix string, cfg config.StorageConfig) (*S3, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.S3Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "load AWS config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3PathStyle
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = int64(cfg.UploadPartSizeMB) * 1024 * 1024
		u.Concurrency = cfg.UploadConcurrency
	})

	return &S3{client: client, uploader: uploader, bucket: bucket, prefix: prefix}, nil
}

// URI returns s3://bucket/prefix.
func (s *S3) URI() string {
	return "s3://" + joinKey(s.bucket, s.prefix)
}

// Close is a no-op; the SDK client holds no closable resources.
func (s *S3) Close() error { return nil }

// Create streams through a pipe into the multipart uploader. Parts are
// buffered by the uploader, so the caller's writes never hold a whole
// fragment in memory.
func (s *S3) Create(ctx context.Context, key string) (Writer, error) {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	w := &s3Writer{pw: pw, cancel: cancel, done: make(chan error, 1)}

	go func() {
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(joinKey(s.prefix, key)),
			Body:   pr,
		})
		// unblock a writer stuck on a failed upload
		_ = pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

// PutIfAbsent uses a conditional write (If-None-Match: *).
func (s *S3) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(joinKey(s.prefix, key)),
		Body:        bytes.NewReader(data),
		IfNoneMatch: aws.String("*"),
	})
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return exists(key)
		}
	}
	return errors.Wrap(err, errors.ErrorTypeIO, "conditional put").WithDetail("key", key)
}

// Get downloads a whole object.
func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinKey(s.prefix, key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, notFound(key)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "get object").WithDetail("key", key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "read object body").WithDetail("key", key)
	}
	return data, nil
}

// Open downloads the object into memory. Fragments are bounded by the
// rows-per-file setting, so this is the simplest way to give parquet the
// random access it needs.
func (s *S3) Open(ctx context.Context, key string) (File, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return memFile{bytes.NewReader(data)}, nil
}

// List pages through ListObjectsV2.
func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	root := ""
	if s.prefix != "" {
		root = s.prefix + "/"
	}
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(root + prefix),
	})

	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeIO, "list objects").WithDetail("prefix", prefix)
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), root))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes one object.
func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinKey(s.prefix, key)),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "delete object").WithDetail("key", key)
	}
	return nil
}

// DeleteAll removes every object under the prefix in batches.
func (s *S3) DeleteAll(ctx context.Context) error {
	keys, err := s.List(ctx, "")
	if err != nil {
		return err
	}
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(joinKey(s.prefix, k))})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeIO, "delete objects")
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return errors.Newf(errors.ErrorTypeIO, "delete %s: %s", aws.ToString(first.Key), aws.ToString(first.Message)).
				WithDetail("failed", len(out.Errors))
		}
	}
	return nil
}

type s3Writer struct {
	pw     *io.PipeWriter
	cancel context.CancelFunc
	done   chan error
	closed bool
}

func (w *s3Writer) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *s3Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.cancel()

	_ = w.pw.Close()
	if err := <-w.done; err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "upload object")
	}
	return nil
}

// Abort fails the pipe; the uploader then aborts any multipart upload.
func (w *s3Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.cancel()

	_ = w.pw.CloseWithError(errAborted)
	<-w.done
	return nil
}

type memFile struct {
	*bytes.Reader
}

func (memFile) Close() error { return nil }
