//go:build unix

package blockdev

import (
	"os"

	"golang.org/x/sys/unix"
)

// defaultSectorSize is the virtual-sector-independent fallback for media
// where the kernel can't report a preferred I/O block size.
const defaultSectorSize = 512

// discoverSectorSize asks the kernel for the file's preferred I/O block
// size. Regular files report the filesystem block size; block devices
// report their physical sector size. Either way it's a safe alignment unit
// for the page-aligned field I/O the engine performs.
func discoverSectorSize(f *os.File) uint32 {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return defaultSectorSize
	}
	if st.Blksize <= 0 {
		return defaultSectorSize
	}
	size := uint32(st.Blksize)
	if size == 0 || size&(size-1) != 0 {
		// Not a power of two; the engine's cluster/sector arithmetic
		// assumes it is, so fall back rather than risk misalignment.
		return defaultSectorSize
	}
	return size
}
