package blockdev

import (
	"fmt"
	"os"
	"sync"
)

// FileDevice is a Device backed by a regular file or block special file.
// It is the concrete collaborator the qcow2 engine's Create/Connect use
// when nothing more exotic (NBD, iSCSI, in-memory) is supplied.
type FileDevice struct {
	mu         sync.Mutex
	f          *os.File
	sectorSize uint32
	readWrite  bool
}

// OpenFile opens path as a Device. If the file doesn't exist and create is
// true, it is created with size 0 sectors; otherwise OpenFile fails like
// os.Open would.
func OpenFile(path string, readWrite bool, create bool) (*FileDevice, error) {
	flag := os.O_RDONLY
	if readWrite {
		flag = os.O_RDWR
	}
	if create {
		flag |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}
	return &FileDevice{
		f:          f,
		sectorSize: discoverSectorSize(f),
		readWrite:  readWrite,
	}, nil
}

// NewFileDevice wraps an already-open file. Used by tests that want a
// fixed sector size rather than whatever the host filesystem reports.
func NewFileDevice(f *os.File, sectorSize uint32, readWrite bool) *FileDevice {
	return &FileDevice{f: f, sectorSize: sectorSize, readWrite: readWrite}
}

func (d *FileDevice) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()

	size, err := d.sizeBytesLocked()
	if err != nil {
		size = 0
	}
	return Info{
		SectorSize:  d.sectorSize,
		SizeSectors: size / uint64(d.sectorSize),
		ReadWrite:   d.readWrite,
	}
}

func (d *FileDevice) sizeBytesLocked() (uint64, error) {
	st, err := d.f.Stat()
	if err != nil {
		return 0, err
	}
	return uint64(st.Size()), nil
}

func (d *FileDevice) checkAligned(n int) error {
	if n%int(d.sectorSize) != 0 {
		return ErrNotSectorMultiple
	}
	return nil
}

func (d *FileDevice) ReadAt(sector uint64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkAligned(len(buf)); err != nil {
		return err
	}
	off := int64(sector) * int64(d.sectorSize)
	if _, err := d.f.ReadAt(buf, off); err != nil {
		return fmt.Errorf("blockdev: read at sector %d: %w", sector, err)
	}
	return nil
}

func (d *FileDevice) WriteAt(sector uint64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.readWrite {
		return ErrReadOnly
	}
	if err := d.checkAligned(len(buf)); err != nil {
		return err
	}
	off := int64(sector) * int64(d.sectorSize)
	if _, err := d.f.WriteAt(buf, off); err != nil {
		return fmt.Errorf("blockdev: write at sector %d: %w", sector, err)
	}
	return nil
}

func (d *FileDevice) Resize(sizeSectors uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.readWrite {
		return ErrReadOnly
	}
	newSize := int64(sizeSectors) * int64(d.sectorSize)
	if err := d.f.Truncate(newSize); err != nil {
		return fmt.Errorf("blockdev: resize to %d sectors: %w", sizeSectors, err)
	}
	return nil
}

func (d *FileDevice) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}
