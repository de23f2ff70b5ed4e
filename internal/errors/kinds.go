package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error surfaced by the engine. The transport layer maps
// kinds onto status codes; inside the engine they drive state-machine and
// worker decisions.
type Kind int

const (
	// KindInternal is everything that has no more specific kind.
	KindInternal Kind = iota
	// KindPermissionDenied means the actor lacks the required capability.
	KindPermissionDenied
	// KindNotFound means no such entity, or it is not visible to the actor.
	KindNotFound
	// KindInvalidState means a state-machine transition was rejected.
	KindInvalidState
	// KindHashMismatch means a declared content hash disagrees with the
	// computed one.
	KindHashMismatch
	// KindBlobMissing means a manifest references a blob whose payload is
	// absent from the store.
	KindBlobMissing
	// KindManifestCorrupt means a manifest failed to decode or misses
	// required fields.
	KindManifestCorrupt
	// KindStorageUnavailable means the FileStore refused an operation.
	KindStorageUnavailable
	// KindCancelled means a worker observed cancellation.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission denied"
	case KindNotFound:
		return "not found"
	case KindInvalidState:
		return "invalid state"
	case KindHashMismatch:
		return "hash mismatch"
	case KindBlobMissing:
		return "blob missing"
	case KindManifestCorrupt:
		return "manifest corrupt"
	case KindStorageUnavailable:
		return "storage unavailable"
	case KindCancelled:
		return "cancelled"
	}
	return "internal error"
}

// kindError carries a Kind together with a message and an optional underlying
// error.
type kindError struct {
	kind Kind
	msg  string
	err  error
}

func (e *kindError) Error() string {
	if e.msg == "" {
		return e.kind.String()
	}
	return e.msg
}

func (e *kindError) Unwrap() error {
	return e.err
}

// WithKind marks err with the given kind. The message of err is preserved.
func WithKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return Wrap(&kindError{kind: kind, msg: err.Error(), err: err}, kind.String())
}

// Kindf returns a new error of the given kind.
func Kindf(kind Kind, format string, args ...interface{}) error {
	// keep the last error argument as the unwrap target
	var underlying error
	for i := len(args) - 1; i >= 0; i-- {
		if err, ok := args[i].(error); ok {
			underlying = err
			break
		}
	}

	return Wrap(&kindError{
		kind: kind,
		msg:  fmt.Sprintf(format, args...),
		err:  underlying,
	}, kind.String())
}

// GetKind returns the kind of err, or KindInternal if it has none.
func GetKind(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindInternal
}

// IsKind returns true if err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var ke *kindError
	return errors.As(err, &ke) && ke.kind == kind
}
