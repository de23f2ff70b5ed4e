package main

import (
	"path/filepath"
	"testing"

	rtest "github.com/dawsync/dawsync/internal/test"
)

func TestCollectFiles(t *testing.T) {
	dir := rtest.TempDir(t)
	rtest.WriteFile(t, dir, "song.flp", []byte("project data"))
	rtest.WriteFile(t, dir, filepath.Join("samples", "kick.wav"), []byte("kick"))

	files, err := collectFiles(dir)
	rtest.OK(t, err)
	rtest.Equals(t, 2, len(files))

	byPath := make(map[string]int64)
	for _, f := range files {
		rtest.Assert(t, f.Hash != "", "no hash for %v", f.RelativePath)
		rtest.Assert(t, f.LocalPath != "", "no local path for %v", f.RelativePath)
		byPath[f.RelativePath] = f.Size
	}
	rtest.Equals(t, int64(12), byPath["song.flp"])
	rtest.Equals(t, int64(4), byPath["samples/kick.wav"])
}
