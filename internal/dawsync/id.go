package dawsync

import (
	"crypto/rand"
	"encoding/hex"
	"io"

	"github.com/dawsync/dawsync/internal/errors"
)

// idBytes is the amount of randomness behind an ID.
const idBytes = 16

// idLen is the length of the external form: the first 16 hex characters of a
// 128-bit random value.
const idLen = 16

// ID is the external identifier of a project, version, push or download
// request. It is immutable once assigned.
type ID string

// NewID returns a randomly generated ID. When reading from rand fails, the
// function panics.
func NewID() ID {
	buf := make([]byte, idBytes)
	_, err := io.ReadFull(rand.Reader, buf)
	if err != nil {
		panic(err)
	}
	return ID(hex.EncodeToString(buf)[:idLen])
}

// ParseID converts the given string to an ID.
func ParseID(s string) (ID, error) {
	if len(s) != idLen {
		return "", errors.Errorf("invalid length for ID: %q", s)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", errors.Wrap(err, "hex.DecodeString")
	}
	return ID(s), nil
}

func (id ID) String() string {
	return string(id)
}

// Str returns the shortened form of id for log output.
func (id ID) Str() string {
	if id == "" {
		return "[null]"
	}
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}

// IsNull returns true iff id is unset.
func (id ID) IsNull() bool {
	return id == ""
}
