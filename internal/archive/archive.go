// Package archive builds and extracts the ZIP artifacts used for full
// snapshots and download bundles.
package archive

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/dawsync/dawsync/internal/debug"
	"github.com/dawsync/dawsync/internal/errors"
)

// BuildFromDir writes a ZIP of every regular file below dir to w. Entry names
// are '/'-separated paths relative to dir. Returns the number of archived
// files and their total uncompressed size.
func BuildFromDir(w io.Writer, dir string) (files int, totalSize int64, err error) {
	zw := zip.NewWriter(w)

	err = filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return errors.Wrap(err, "Rel")
		}
		name := filepath.ToSlash(rel)

		hdr, err := zip.FileInfoHeader(fi)
		if err != nil {
			return errors.Wrap(err, "FileInfoHeader")
		}
		hdr.Name = name
		hdr.Method = zip.Deflate

		dst, err := zw.CreateHeader(hdr)
		if err != nil {
			return errors.Wrap(err, "CreateHeader")
		}

		src, err := os.Open(path)
		if err != nil {
			return errors.Wrap(err, "Open")
		}
		n, err := io.Copy(dst, src)
		_ = src.Close()
		if err != nil {
			return errors.Wrapf(err, "archive %v", name)
		}

		files++
		totalSize += n
		return nil
	})
	if err != nil {
		_ = zw.Close()
		return 0, 0, err
	}

	if err := zw.Close(); err != nil {
		return 0, 0, errors.Wrap(err, "close archive")
	}
	debug.Log("archived %v: %d files, %d bytes", dir, files, totalSize)
	return files, totalSize, nil
}

// Extract unpacks the ZIP read from ra into dir. Entry names are validated
// against directory traversal. Returns the number of extracted files and
// their total uncompressed size.
func Extract(ra io.ReaderAt, size int64, dir string) (files int, totalSize int64, err error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return 0, 0, errors.Wrap(err, "open archive")
	}

	for _, f := range zr.File {
		name := filepath.ToSlash(f.Name)
		if name == "" || strings.HasPrefix(name, "/") || hasDotDot(name) {
			return files, totalSize, errors.Errorf("archive entry %q escapes the target", f.Name)
		}
		if f.FileInfo().IsDir() {
			continue
		}

		dest := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
			return files, totalSize, errors.Wrap(err, "MkdirAll")
		}

		n, err := extractFile(f, dest)
		if err != nil {
			return files, totalSize, err
		}
		files++
		totalSize += n
	}
	return files, totalSize, nil
}

func extractFile(f *zip.File, dest string) (int64, error) {
	src, err := f.Open()
	if err != nil {
		return 0, errors.Wrap(err, "open entry")
	}
	defer func() {
		_ = src.Close()
	}()

	dst, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return 0, errors.Wrap(err, "OpenFile")
	}

	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, errors.Wrapf(err, "extract %v", f.Name)
	}
	return n, nil
}

// EntryInfo describes one archive member.
type EntryInfo struct {
	Path string
	Size int64
}

// List returns the file entries of the ZIP read from ra, in archive order.
func List(ra io.ReaderAt, size int64) ([]EntryInfo, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, errors.Wrap(err, "open archive")
	}

	var entries []EntryInfo
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		entries = append(entries, EntryInfo{
			Path: filepath.ToSlash(f.Name),
			Size: int64(f.UncompressedSize64),
		})
	}
	return entries, nil
}

func hasDotDot(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
