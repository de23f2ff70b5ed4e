package store

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/dawsync/dawsync/internal/debug"
	"github.com/dawsync/dawsync/internal/errors"
)

type memEntry struct {
	data []byte
	sum  uint64
}

// Memory is a FileStore that keeps all data in a map. This should only be
// used for tests.
type Memory struct {
	data map[string]memEntry
	m    sync.Mutex
}

var _ FileStore = &Memory{}

// NewMemory returns a new store that saves all data in a map in memory.
func NewMemory() *Memory {
	debug.Log("created new memory store")
	return &Memory{data: make(map[string]memEntry)}
}

func (s *Memory) Put(ctx context.Context, key string, rd io.Reader) (int64, error) {
	buf, err := io.ReadAll(rd)
	if err != nil {
		return 0, err
	}

	s.m.Lock()
	defer s.m.Unlock()

	s.data[key] = memEntry{data: buf, sum: xxhash.Sum64(buf)}
	return int64(len(buf)), ctx.Err()
}

func (s *Memory) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s.m.Lock()
	defer s.m.Unlock()

	e, ok := s.data[key]
	if !ok {
		return nil, errors.Wrapf(ErrNotExist, "open %v", key)
	}

	// sanity check against in-memory corruption
	if xxhash.Sum64(e.data) != e.sum {
		return nil, errors.Errorf("content of %v changed after Put", key)
	}

	return io.NopCloser(bytes.NewReader(e.data)), ctx.Err()
}

func (s *Memory) Delete(ctx context.Context, key string) error {
	s.m.Lock()
	defer s.m.Unlock()

	if _, ok := s.data[key]; !ok {
		return errors.Wrapf(ErrNotExist, "delete %v", key)
	}
	delete(s.data, key)
	return ctx.Err()
}

func (s *Memory) Exists(ctx context.Context, key string) (bool, error) {
	s.m.Lock()
	defer s.m.Unlock()

	_, ok := s.data[key]
	return ok, ctx.Err()
}

func (s *Memory) Stat(ctx context.Context, key string) (int64, error) {
	s.m.Lock()
	defer s.m.Unlock()

	e, ok := s.data[key]
	if !ok {
		return 0, errors.Wrapf(ErrNotExist, "stat %v", key)
	}
	return int64(len(e.data)), ctx.Err()
}

func (s *Memory) List(ctx context.Context, prefix string, fn func(key string, size int64) error) error {
	s.m.Lock()
	entries := make(map[string]int64)
	for key, e := range s.data {
		if strings.HasPrefix(key, prefix) {
			entries[key] = int64(len(e.data))
		}
	}
	s.m.Unlock()

	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(key, entries[key]); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (s *Memory) Close() error {
	return nil
}
