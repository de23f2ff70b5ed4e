// Package mastertree maintains the per-project working directory. Incoming
// pushes are reconciled against it file by file, so unchanged content is
// never transferred twice. Callers must serialize access per project.
package mastertree

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dawsync/dawsync/internal/dawsync"
	"github.com/dawsync/dawsync/internal/debug"
	"github.com/dawsync/dawsync/internal/errors"
	"github.com/dawsync/dawsync/internal/manifest"
)

// cancelCheckInterval bounds how many files are processed between two
// cancellation checks.
const cancelCheckInterval = 10

// Tree is the working directory of one project.
type Tree struct {
	root string
}

// New returns a tree rooted at dir, creating it if needed.
func New(dir string) (*Tree, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrap(err, "MkdirAll")
	}
	return &Tree{root: dir}, nil
}

// Root returns the tree's directory.
func (t *Tree) Root() string {
	return t.root
}

// Summary reports what a reconciliation changed.
type Summary struct {
	Copied    int
	Unchanged int
	Removed   int
}

// join resolves a relative path inside the tree and rejects escapes.
func (t *Tree) join(rel string) (string, error) {
	rel = manifest.NormalizePath(rel)
	if rel == "" || strings.HasPrefix(rel, "/") {
		return "", errors.Errorf("invalid path %q", rel)
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return "", errors.Errorf("path %q escapes the tree", rel)
		}
	}
	return filepath.Join(t.root, filepath.FromSlash(rel)), nil
}

// Reconcile brings the tree in line with files. Content already present with
// a matching hash is kept, everything else is fetched and written atomically,
// and files absent from the list are removed. cancelCheck is consulted at
// least every ten files; its error aborts the pass without leaving partially
// written files behind.
func (t *Tree) Reconcile(files []dawsync.FileRecord, fetch dawsync.ContentSource, cancelCheck func() error) (Summary, error) {
	var sum Summary
	keep := make(map[string]struct{}, len(files))

	for i, f := range files {
		if i%cancelCheckInterval == 0 {
			if err := cancelCheck(); err != nil {
				return sum, err
			}
		}

		dest, err := t.join(f.RelativePath)
		if err != nil {
			return sum, err
		}
		keep[dest] = struct{}{}

		hash, _, err := hashFile(dest)
		if err == nil && hash == f.Hash {
			sum.Unchanged++
			continue
		}
		if err != nil && !os.IsNotExist(err) {
			return sum, errors.Wrap(err, "hash existing file")
		}

		if err := t.write(dest, f, fetch); err != nil {
			return sum, err
		}
		sum.Copied++
	}

	removed, err := t.removeAbsent(keep, cancelCheck)
	sum.Removed = removed
	if err != nil {
		return sum, err
	}

	if err := t.pruneEmptyDirs(); err != nil {
		return sum, err
	}

	debug.Log("reconciled %v: %d copied, %d unchanged, %d removed",
		t.root, sum.Copied, sum.Unchanged, sum.Removed)
	return sum, nil
}

func (t *Tree) write(dest string, f dawsync.FileRecord, fetch dawsync.ContentSource) error {
	rd, err := fetch(f)
	if err != nil {
		return errors.Wrapf(err, "fetch %v", f.RelativePath)
	}
	defer func() {
		_ = rd.Close()
	}()

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, "MkdirAll")
	}

	tmp, err := os.CreateTemp(dir, "tmp-")
	if err != nil {
		return errors.Wrap(err, "CreateTemp")
	}

	_, err = tmp.ReadFrom(rd)
	if err == nil {
		err = tmp.Close()
	} else {
		_ = tmp.Close()
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(err, "write %v", f.RelativePath)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "Rename")
	}
	return nil
}

func (t *Tree) removeAbsent(keep map[string]struct{}, cancelCheck func() error) (int, error) {
	var stale []string
	err := filepath.Walk(t.root, func(path string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return err
		}
		if _, ok := keep[path]; !ok {
			stale = append(stale, path)
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "Walk")
	}

	removed := 0
	for i, path := range stale {
		if i%cancelCheckInterval == 0 {
			if err := cancelCheck(); err != nil {
				return removed, err
			}
		}
		if err := os.Remove(path); err != nil {
			return removed, errors.Wrap(err, "Remove")
		}
		removed++
	}
	return removed, nil
}

// pruneEmptyDirs removes directories that became empty, deepest first.
func (t *Tree) pruneEmptyDirs() error {
	var dirs []string
	err := filepath.Walk(t.root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() && path != t.root {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "Walk")
	}

	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return errors.Wrap(err, "ReadDir")
		}
		if len(entries) == 0 {
			if err := os.Remove(dir); err != nil {
				return errors.Wrap(err, "Remove")
			}
		}
	}
	return nil
}

// Open returns a reader for a file inside the tree.
func (t *Tree) Open(rel string) (*os.File, error) {
	dest, err := t.join(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(dest)
	return f, errors.Wrap(err, "Open")
}

// HashFile returns the content hash and size of a file inside the tree.
func (t *Tree) HashFile(rel string) (string, int64, error) {
	dest, err := t.join(rel)
	if err != nil {
		return "", 0, err
	}
	return hashFile(dest)
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() {
		_ = f.Close()
	}()
	return manifest.HashReader(f)
}
