package qcow2

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the core. All of them propagate verbatim to the
// caller of the top-level Engine operation; the core performs no retry and
// no local recovery (spec §7).
var (
	// ErrUnsupportedCompressedCluster is fatal: walk encountered the
	// compressed bit (62) set on a traversed L1/L2 entry. Decoding a
	// compressed cluster is only available offline, via
	// DecodeCompressedCluster, never through the read/write path.
	ErrUnsupportedCompressedCluster = errors.New("qcow2: compressed clusters are not supported by the core walker")

	// ErrRefcountEnlargement is fatal: the cluster index being refcounted
	// falls outside the first refcount block, and this engine does not
	// implement refcount-table growth (spec §4.4, known limitation).
	ErrRefcountEnlargement = errors.New("qcow2: refcount table enlargement not implemented")

	// ErrUnreachableUnmappedWrite should never fire: it guards the write
	// path's assumption that walk(allocate=true) always returns a mapped
	// offset.
	ErrUnreachableUnmappedWrite = errors.New("qcow2: this should never happen: unmapped cluster on write path")

	// ErrReadOnly is returned when a write-shaped operation is attempted
	// against an Engine opened without write access.
	ErrReadOnly = errors.New("qcow2: image is read-only")

	// ErrEncryptedImage is returned by Connect for any crypt_method other
	// than none: the core recognizes encryption in the header but never
	// executes it (spec §1).
	ErrEncryptedImage = errors.New("qcow2: encrypted images are not executed by the core")

	// ErrBackingFile is returned by Connect when the header names a
	// backing file: backing-file chains are a non-goal (spec §1).
	ErrBackingFile = errors.New("qcow2: backing files are not supported by the core")
)

// BadAlignment reports a resize or offset request that isn't a whole
// multiple of the backing device's physical sector size (spec §4.3).
type BadAlignment struct {
	Msg string
}

func (e *BadAlignment) Error() string { return "qcow2: bad alignment: " + e.Msg }

// BackingError wraps an error returned by the underlying block device,
// propagated verbatim per spec §7.
type BackingError struct {
	Err error
}

func (e *BackingError) Error() string { return fmt.Sprintf("qcow2: backing device error: %v", e.Err) }
func (e *BackingError) Unwrap() error { return e.Err }

func wrapBacking(err error) error {
	if err == nil {
		return nil
	}
	return &BackingError{Err: err}
}

// HeaderParseError wraps a header-codec failure at connect time.
type HeaderParseError struct {
	Msg string
	Err error
}

func (e *HeaderParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("qcow2: header parse error: %s: %v", e.Msg, e.Err)
	}
	return "qcow2: header parse error: " + e.Msg
}
func (e *HeaderParseError) Unwrap() error { return e.Err }
