package objectstore

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ajitpratap0/arrowbridge/pkg/errors"
)

const tempPrefix = ".tmp-"

// Local stores objects as files under a root directory.
type Local struct {
	root string
}

// NewLocal returns a store rooted at dir. The directory is created lazily
// on the first write.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, errors.New(errors.ErrorTypeInvalidArgument, "empty directory")
	}
	return &Local{root: filepath.Clean(dir)}, nil
}

// URI returns the root directory.
func (l *Local) URI() string { return l.root }

// Close is a no-op.
func (l *Local) Close() error { return nil }

func (l *Local) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

// tempFile creates a hidden temp file next to key's final path.
func (l *Local) tempFile(key string) (*os.File, error) {
	final := l.path(key)
	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "create directory").WithDetail("dir", dir)
	}
	tmp := filepath.Join(dir, tempPrefix+filepath.Base(final)+"-"+uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "create temp file").WithDetail("path", tmp)
	}
	return f, nil
}

// Create writes to a temp file and renames it into place on Close.
func (l *Local) Create(_ context.Context, key string) (Writer, error) {
	f, err := l.tempFile(key)
	if err != nil {
		return nil, err
	}
	return &localWriter{f: f, final: l.path(key)}, nil
}

// PutIfAbsent writes a synced temp file and hard-links it to the final
// name. link(2) fails with EEXIST when the name is taken, which makes the
// check and the publish one atomic step.
func (l *Local) PutIfAbsent(_ context.Context, key string, data []byte) error {
	f, err := l.tempFile(key)
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }() // best-effort cleanup

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return errors.Wrap(err, errors.ErrorTypeIO, "write temp file")
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errors.Wrap(err, errors.ErrorTypeIO, "sync temp file")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "close temp file")
	}

	final := l.path(key)
	if err := os.Link(tmp, final); err != nil {
		if os.IsExist(err) {
			return exists(key)
		}
		return errors.Wrap(err, errors.ErrorTypeIO, "link object").WithDetail("key", key)
	}
	return syncDir(filepath.Dir(final))
}

// Get reads a whole file.
func (l *Local) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(key)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "read object").WithDetail("key", key)
	}
	return data, nil
}

// Open opens a file for random access.
func (l *Local) Open(_ context.Context, key string) (File, error) {
	f, err := os.Open(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(key)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "open object").WithDetail("key", key)
	}
	return f, nil
}

// List walks the root and returns keys with the given prefix. Temp files
// from in-flight or crashed writers are skipped.
func (l *Local) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "list objects").WithDetail("prefix", prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes one file.
func (l *Local) Delete(_ context.Context, key string) error {
	if err := os.Remove(l.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrorTypeIO, "delete object").WithDetail("key", key)
	}
	return nil
}

// DeleteAll removes the root directory and everything below it.
func (l *Local) DeleteAll(_ context.Context) error {
	if err := os.RemoveAll(l.root); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "remove directory").WithDetail("dir", l.root)
	}
	return nil
}

type localWriter struct {
	f     *os.File
	final string
	done  bool
}

func (w *localWriter) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

// Close syncs the temp file, renames it into place and syncs the directory.
func (w *localWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	tmp := w.f.Name()

	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		_ = os.Remove(tmp) // best-effort cleanup
		return errors.Wrap(err, errors.ErrorTypeIO, "sync file")
	}
	if err := w.f.Close(); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return errors.Wrap(err, errors.ErrorTypeIO, "close file")
	}
	if err := os.Rename(tmp, w.final); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return errors.Wrap(err, errors.ErrorTypeIO, "rename file").WithDetail("path", w.final)
	}
	return syncDir(filepath.Dir(w.final))
}

// Abort drops the temp file.
func (w *localWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.f.Close()
	if err := os.Remove(w.f.Name()); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrorTypeIO, "remove temp file")
	}
	return nil
}

// syncDir makes a rename or link in dir durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "open directory").WithDetail("dir", dir)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "sync directory").WithDetail("dir", dir)
	}
	return nil
}
