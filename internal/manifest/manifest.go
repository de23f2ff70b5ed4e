// Package manifest implements the canonical per-version file list. The
// encoded form is bit-stable: UTF-8 JSON with alphabetically ordered keys and
// entries sorted by path, so logically identical content always serializes
// identically across versions and processes.
package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dawsync/dawsync/internal/errors"
)

// Storage classes of a manifest entry.
const (
	StorageCAS    = "cas"
	StorageInline = "inline"
)

// Entry describes one file of a version. Field order matters: it yields the
// alphabetical key order of the wire format.
type Entry struct {
	// BlobID references the CAS blob holding the content (storage == "cas").
	BlobID string `json:"blob_id,omitempty"`
	// Content is the base64-encoded payload (storage == "inline").
	Content string `json:"content,omitempty"`
	Hash    string `json:"hash"`
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	Storage string `json:"storage"`
}

// Manifest is the top-level document.
type Manifest struct {
	CASThresholdMB float64   `json:"cas_threshold_mb"`
	CreatedAt      time.Time `json:"created_at"`
	Files          []Entry   `json:"files"`
}

// NormalizePath converts path separators to '/'.
func NormalizePath(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// Canonicalize returns a copy of entries with normalized paths, sorted by
// path (byte-wise ascending).
func Canonicalize(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	for i := range out {
		out[i].Path = NormalizePath(out[i].Path)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Path < out[j].Path
	})
	return out
}

// Encode serializes entries into the canonical wire format.
func Encode(entries []Entry, casThresholdBytes int64, createdAt time.Time) ([]byte, error) {
	m := Manifest{
		CASThresholdMB: float64(casThresholdBytes) / (1024 * 1024),
		CreatedAt:      createdAt.UTC(),
		Files:          Canonicalize(entries),
	}
	if m.Files == nil {
		m.Files = []Entry{}
	}

	buf, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "json.Marshal")
	}
	return buf, nil
}

// Decode parses a manifest document and validates the required fields.
func Decode(buf []byte) (*Manifest, error) {
	var m Manifest
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&m); err != nil {
		return nil, errors.Kindf(errors.KindManifestCorrupt, "manifest decode failed: %v", err)
	}

	for i := range m.Files {
		e := &m.Files[i]
		if e.Path == "" {
			return nil, errors.Kindf(errors.KindManifestCorrupt, "manifest entry %d misses path", i)
		}
		if e.Hash == "" {
			return nil, errors.Kindf(errors.KindManifestCorrupt, "manifest entry %q misses hash", e.Path)
		}
		switch e.Storage {
		case StorageCAS:
			if e.BlobID == "" {
				return nil, errors.Kindf(errors.KindManifestCorrupt, "cas entry %q misses blob_id", e.Path)
			}
		case StorageInline:
			if e.Content == "" && e.Size != 0 {
				return nil, errors.Kindf(errors.KindManifestCorrupt, "inline entry %q misses content", e.Path)
			}
		default:
			return nil, errors.Kindf(errors.KindManifestCorrupt, "entry %q has unknown storage class %q", e.Path, e.Storage)
		}
	}

	m.Files = Canonicalize(m.Files)
	return &m, nil
}

// Hash computes the duplicate-detection hash of entries: SHA-256 over the
// sorted sequence of (path, hash, size) tuples. The storage class and inline
// content are deliberately excluded, so equivalent trees hash identically
// regardless of the CAS threshold in effect.
func Hash(entries []Entry) string {
	canonical := Canonicalize(entries)

	h := sha256.New()
	for _, e := range canonical {
		h.Write([]byte(e.Path))
		h.Write([]byte{0})
		h.Write([]byte(e.Hash))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatInt(e.Size, 10)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HashReader computes the lowercase hex SHA-256 of everything read from rd.
func HashReader(rd io.Reader) (string, int64, error) {
	h := sha256.New()
	size, err := io.Copy(h, rd)
	if err != nil {
		return "", size, errors.Wrap(err, "read")
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
