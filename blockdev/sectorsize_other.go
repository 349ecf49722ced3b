//go:build !unix

package blockdev

import "os"

const defaultSectorSize = 512

func discoverSectorSize(f *os.File) uint32 {
	return defaultSectorSize
}
