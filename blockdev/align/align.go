// Package align allocates page-aligned buffers for direct block I/O.
//
// The qcow2 engine's field I/O primitives (see qcow2's readField/updateField)
// read and write exactly one physical sector at a time. Several storage
// backends (O_DIRECT files, raw block devices) require the buffer passed to
// read/write to start on a page boundary; this package is the "separate
// codec module" the core spec assumes for that concern.
package align

import (
	"reflect"

	"golang.org/x/sys/unix"
)

// pageSize is resolved once; unix.Getpagesize is a syscall on some platforms.
var pageSize = unix.Getpagesize()

// Buffer is a byte slice guaranteed to start on a page boundary.
type Buffer struct {
	raw   []byte
	Bytes []byte
}

// New allocates a page-aligned buffer of exactly size bytes.
func New(size int) *Buffer {
	if size <= 0 {
		return &Buffer{}
	}
	raw := make([]byte, size+pageSize)
	off := 0
	if rem := int(reflect.ValueOf(raw).Pointer() % uintptr(pageSize)); rem != 0 {
		// The backing array's address isn't page-aligned by the language;
		// start at the first page boundary inside it. The extra page
		// over-allocated above guarantees size bytes still fit after it.
		off = pageSize - rem
	}
	return &Buffer{raw: raw, Bytes: raw[off : off+size]}
}

// PageSize returns the platform page size used for alignment.
func PageSize() int {
	return pageSize
}

// RoundUp rounds n up to the next multiple of the page size.
func RoundUp(n int) int {
	if rem := n % pageSize; rem != 0 {
		return n + (pageSize - rem)
	}
	return n
}
