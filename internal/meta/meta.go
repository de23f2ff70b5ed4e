// Package meta persists the engine's metadata records (projects, versions,
// pushes, download requests, blobs and blob references) in an embedded
// pebble key-value store. Records are JSON values under ordered string keys,
// so index lookups are prefix scans and multi-record updates are atomic
// batches.
package meta

import (
	"encoding/json"

	"github.com/cockroachdb/pebble"

	"github.com/dawsync/dawsync/internal/debug"
	"github.com/dawsync/dawsync/internal/errors"
)

// ErrNotFound is returned when a key has no record.
var ErrNotFound = errors.New("record not found")

// IsNotFound returns true if the error means a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// DB is a handle to the metadata store.
type DB struct {
	db *pebble.DB
}

// Open opens (and creates, if needed) the store at dir.
func Open(dir string) (*DB, error) {
	debug.Log("open metadata store at %v", dir)
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "pebble.Open")
	}
	return &DB{db: db}, nil
}

// Close flushes and closes the store.
func (d *DB) Close() error {
	return d.db.Close()
}

// Get decodes the record at key into v.
func (d *DB) Get(key string, v interface{}) error {
	buf, closer, err := d.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return errors.Wrapf(ErrNotFound, "get %v", key)
	}
	if err != nil {
		return errors.Wrap(err, "pebble.Get")
	}
	defer func() {
		_ = closer.Close()
	}()

	if v == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(buf, v), "json.Unmarshal")
}

// Has reports whether a record exists at key.
func (d *DB) Has(key string) (bool, error) {
	err := d.Get(key, nil)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Set encodes v as JSON and stores it at key.
func (d *DB) Set(key string, v interface{}) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "json.Marshal")
	}
	return errors.Wrap(d.db.Set([]byte(key), buf, pebble.Sync), "pebble.Set")
}

// Delete removes the record at key. Deleting a missing key is a no-op.
func (d *DB) Delete(key string) error {
	return errors.Wrap(d.db.Delete([]byte(key), pebble.Sync), "pebble.Delete")
}

// upperBound returns the smallest key greater than every key with the given
// prefix.
func upperBound(prefix string) []byte {
	end := []byte(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Scan runs fn for every record whose key starts with prefix, in key order.
// When fn returns an error, Scan stops and returns it.
func (d *DB) Scan(prefix string, fn func(key string, value []byte) error) error {
	iter, err := d.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return errors.Wrap(err, "pebble.NewIter")
	}
	defer func() {
		_ = iter.Close()
	}()

	for iter.First(); iter.Valid(); iter.Next() {
		// the value buffer is only valid until Next
		val := make([]byte, len(iter.Value()))
		copy(val, iter.Value())

		if err := fn(string(iter.Key()), val); err != nil {
			return err
		}
	}
	return errors.Wrap(iter.Error(), "iter.Error")
}

// Count returns the number of records below prefix.
func (d *DB) Count(prefix string) (int, error) {
	n := 0
	err := d.Scan(prefix, func(string, []byte) error {
		n++
		return nil
	})
	return n, err
}

// Batch collects writes that are applied atomically.
type Batch struct {
	b *pebble.Batch
}

// NewBatch returns an empty batch.
func (d *DB) NewBatch() *Batch {
	return &Batch{b: d.db.NewBatch()}
}

// Set encodes v as JSON and adds the write to the batch.
func (b *Batch) Set(key string, v interface{}) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "json.Marshal")
	}
	return errors.Wrap(b.b.Set([]byte(key), buf, nil), "batch.Set")
}

// Delete adds the deletion to the batch.
func (b *Batch) Delete(key string) error {
	return errors.Wrap(b.b.Delete([]byte(key), nil), "batch.Delete")
}

// Commit applies the batch atomically.
func (b *Batch) Commit() error {
	return errors.Wrap(b.b.Commit(pebble.Sync), "batch.Commit")
}
