// Package blockdev is the resizable random-access block device the qcow2
// engine layers itself over. It is the "external collaborator" spec.md §1
// calls out of scope for the engine proper: the engine only ever speaks to
// the Device interface below, never to an *os.File directly.
package blockdev

import "errors"

// ErrReadOnly is returned by Write/Resize when the device was opened read-only.
var ErrReadOnly = errors.New("blockdev: device is read-only")

// ErrNotSectorMultiple is returned when a request length or offset isn't a
// whole multiple of the device's sector size.
var ErrNotSectorMultiple = errors.New("blockdev: length is not a multiple of the sector size")

// Info describes a device's fixed geometry and access mode.
type Info struct {
	SectorSize uint32 // physical sector size in bytes, discovered at open time
	SizeSectors uint64 // current device size in whole sectors
	ReadWrite  bool
}

// Device is a resizable block device addressed in whole physical sectors.
// All buffers passed to Read/Write must be a whole multiple of the sector
// size; implementations never split or coalesce requests across sectors.
type Device interface {
	// Info returns the device's current geometry.
	Info() Info

	// ReadAt reads len(buf)/SectorSize sectors starting at the given sector
	// number into buf. len(buf) must be a multiple of the sector size.
	ReadAt(sector uint64, buf []byte) error

	// WriteAt writes len(buf)/SectorSize sectors starting at the given
	// sector number from buf. len(buf) must be a multiple of the sector size.
	WriteAt(sector uint64, buf []byte) error

	// Resize grows or shrinks the device to exactly sizeSectors sectors.
	Resize(sizeSectors uint64) error

	// Disconnect releases any resources held by the device. The device
	// must not be used afterward.
	Disconnect() error
}
