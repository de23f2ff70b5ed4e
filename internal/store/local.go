package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/cenkalti/backoff/v4"

	"github.com/dawsync/dawsync/internal/debug"
	"github.com/dawsync/dawsync/internal/errors"
)

// Local is a FileStore in a local directory. Keys use '/' separators and map
// onto the directory tree below the base path.
type Local struct {
	base string
}

var _ FileStore = &Local{}
var _ ShardPruner = &Local{}

// OpenLocal opens (and creates, if needed) a local store at dir.
func OpenLocal(dir string) (*Local, error) {
	debug.Log("open local store at %v", dir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.WithStack(err)
	}
	return &Local{base: dir}, nil
}

func (s *Local) filename(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return "", errors.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.base, filepath.FromSlash(key)), nil
}

// Put stores data under key. The data is written to a temporary file next to
// the final name and renamed into place so that partial writes never become
// observable.
func (s *Local) Put(ctx context.Context, key string, rd io.Reader) (n int64, err error) {
	debug.Log("Put %v", key)
	finalname, err := s.filename(key)
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	dir := filepath.Dir(finalname)

	defer func() {
		// Mark non-retriable errors as such
		if errors.Is(err, syscall.ENOSPC) || os.IsPermission(err) {
			err = backoff.Permanent(err)
		}
	}()

	// Create new file with a temporary name.
	tmpname := filepath.Base(finalname) + "-tmp-"
	f, err := os.CreateTemp(dir, tmpname)
	if errors.Is(err, os.ErrNotExist) {
		debug.Log("error %v: creating dir", err)
		if mkdirErr := os.MkdirAll(dir, 0700); mkdirErr != nil {
			debug.Log("error creating dir %v: %v", dir, mkdirErr)
		} else {
			f, err = os.CreateTemp(dir, tmpname)
		}
	}
	if err != nil {
		return 0, errors.WithStack(err)
	}

	defer func(f *os.File) {
		if err != nil {
			_ = f.Close() // Double Close is harmless.
			_ = os.Remove(f.Name())
		}
	}(f)

	n, err = io.Copy(f, rd)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	// Ignore error if the filesystem does not support fsync.
	err = f.Sync()
	syncNotSup := err != nil && errors.Is(err, syscall.ENOTSUP)
	if err != nil && !syncNotSup {
		return 0, errors.WithStack(err)
	}

	// Close, then rename. Windows doesn't like the reverse order.
	if err = f.Close(); err != nil {
		return 0, errors.WithStack(err)
	}
	if err = os.Rename(f.Name(), finalname); err != nil {
		return 0, errors.WithStack(err)
	}

	return n, nil
}

func (s *Local) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	debug.Log("Open %v", key)
	fn, err := s.filename(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fn)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(ErrNotExist, "open %v", key)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return f, nil
}

func (s *Local) Delete(ctx context.Context, key string) error {
	debug.Log("Delete %v", key)
	fn, err := s.filename(key)
	if err != nil {
		return err
	}
	err = os.Remove(fn)
	if errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(ErrNotExist, "delete %v", key)
	}
	return errors.WithStack(err)
}

func (s *Local) Exists(ctx context.Context, key string) (bool, error) {
	fn, err := s.filename(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(fn)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.WithStack(err)
	}
	return true, nil
}

func (s *Local) Stat(ctx context.Context, key string) (int64, error) {
	fn, err := s.filename(key)
	if err != nil {
		return 0, err
	}
	fi, err := os.Stat(fn)
	if errors.Is(err, os.ErrNotExist) {
		return 0, errors.Wrapf(ErrNotExist, "stat %v", key)
	}
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return fi.Size(), nil
}

func (s *Local) List(ctx context.Context, prefix string, fn func(key string, size int64) error) error {
	debug.Log("List %v", prefix)
	root := s.base
	err := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if fi.IsDir() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		return fn(key, fi.Size())
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// RemoveEmptyShards removes empty directories below prefix, bottom-up.
func (s *Local) RemoveEmptyShards(ctx context.Context, prefix string) error {
	root := filepath.Join(s.base, filepath.FromSlash(prefix))

	var dirs []string
	err := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if fi.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// deepest first
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err != nil {
			continue
		}
		if len(entries) == 0 {
			debug.Log("removing empty shard %v", dirs[i])
			_ = os.Remove(dirs[i])
		}
	}
	return nil
}

// Close closes the store. All open files are closed within the same function
// that opened them.
func (s *Local) Close() error {
	debug.Log("Close()")
	return nil
}
