package meta_test

import (
	"testing"

	"github.com/dawsync/dawsync/internal/meta"
	rtest "github.com/dawsync/dawsync/internal/test"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func openDB(t *testing.T) *meta.DB {
	db, err := meta.Open(rtest.TempDir(t))
	rtest.OK(t, err)
	t.Cleanup(func() {
		rtest.OK(t, db.Close())
	})
	return db
}

func TestSetGet(t *testing.T) {
	db := openDB(t)

	rtest.OK(t, db.Set("version/abc", record{Name: "one", Count: 3}))

	var got record
	rtest.OK(t, db.Get("version/abc", &got))
	rtest.Equals(t, record{Name: "one", Count: 3}, got)

	err := db.Get("version/missing", &got)
	rtest.Assert(t, meta.IsNotFound(err), "expected not-found, got %v", err)
}

func TestDelete(t *testing.T) {
	db := openDB(t)

	rtest.OK(t, db.Set("push/x", record{Name: "x"}))
	rtest.OK(t, db.Delete("push/x"))

	ok, err := db.Has("push/x")
	rtest.OK(t, err)
	rtest.Equals(t, false, ok)

	// deleting a missing key is a no-op
	rtest.OK(t, db.Delete("push/x"))
}

func TestScanOrderAndPrefix(t *testing.T) {
	db := openDB(t)

	rtest.OK(t, db.Set("vproj/p1/b", record{}))
	rtest.OK(t, db.Set("vproj/p1/a", record{}))
	rtest.OK(t, db.Set("vproj/p2/c", record{}))
	rtest.OK(t, db.Set("vhash/p1/x", record{}))

	var keys []string
	rtest.OK(t, db.Scan("vproj/p1/", func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	}))
	rtest.Equals(t, []string{"vproj/p1/a", "vproj/p1/b"}, keys)

	n, err := db.Count("vproj/")
	rtest.OK(t, err)
	rtest.Equals(t, 3, n)
}

func TestBatchAtomic(t *testing.T) {
	db := openDB(t)
	rtest.OK(t, db.Set("blob/old", record{Count: 1}))

	b := db.NewBatch()
	rtest.OK(t, b.Set("blob/new", record{Count: 2}))
	rtest.OK(t, b.Delete("blob/old"))
	rtest.OK(t, b.Commit())

	ok, err := db.Has("blob/old")
	rtest.OK(t, err)
	rtest.Equals(t, false, ok)

	var got record
	rtest.OK(t, db.Get("blob/new", &got))
	rtest.Equals(t, 2, got.Count)
}
