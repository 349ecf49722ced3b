package qcow2

import (
	"fmt"
	"sync"

	"github.com/coreimg/qcow2engine/blockdev"
)

// VirtualInfo describes the virtual block device the Engine presents,
// distinct from the physical geometry of the backing device underneath it
// (spec §3.1).
type VirtualInfo struct {
	ReadWrite  bool
	SectorSize uint32 // always VirtualSectorSize (512)
	Sectors    uint64 // virtual disk size in 512-byte sectors
}

// Engine is the parsed header, a handle to the underlying device, and the
// mutable allocation cursor that together make up the running state of an
// open qcow2 image (spec §3.1 "Engine state"). The design assumes
// single-opener semantics (spec §1 Non-goals): one Engine per image, its
// public operations serialized by mu per spec §5.
type Engine struct {
	mu sync.Mutex

	header     *Header
	device     blockdev.Device
	deviceInfo blockdev.Info

	virtual VirtualInfo

	// nextCluster is the sole mutable allocation cursor: the first
	// unallocated cluster index on the backing device. It never
	// decreases (spec §3.2 invariant 2).
	nextCluster uint64
}

// ReadHeader decodes the header from device without validating that this
// core can execute it — unlike Connect, it succeeds for v3, encrypted, or
// backing-file images, for the "inspect" CLI subcommand's diagnosis of why
// Connect would refuse them.
func ReadHeader(device blockdev.Device) (*Header, error) {
	headerBuf := make([]byte, HeaderSizeV2)
	if err := readAligned(device, device.Info().SectorSize, 0, headerBuf); err != nil {
		return nil, err
	}
	return DecodeHeader(headerBuf)
}

// Connect opens an existing qcow2 image on device, reading its header
// exactly once (spec §3.3).
func Connect(device blockdev.Device) (*Engine, error) {
	info := device.Info()

	header, err := ReadHeader(device)
	if err != nil {
		return nil, err
	}
	if err := header.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		header:     header,
		device:     device,
		deviceInfo: info,
		virtual: VirtualInfo{
			ReadWrite:  info.ReadWrite,
			SectorSize: VirtualSectorSize,
			Sectors:    header.Size / VirtualSectorSize,
		},
		nextCluster: info.SizeSectors * uint64(info.SectorSize) >> header.ClusterBits,
	}
	return e, nil
}

// readAligned is a small helper for the one read Connect needs before an
// Engine (and therefore e.readField) exists: it reads the physical sector
// containing byteOffset and copies out length bytes starting there. Unlike
// readField it may span into a second sector, since the header is a fixed
// 72-byte record that's only guaranteed to start, not end, on a sector
// boundary for very small physical sector sizes.
func readAligned(device blockdev.Device, sectorSize uint32, byteOffset uint64, out []byte) error {
	if len(out) == 0 {
		return nil
	}
	firstSector := byteOffset / uint64(sectorSize)
	within := byteOffset % uint64(sectorSize)
	sectorsNeeded := (within + uint64(len(out)) + uint64(sectorSize) - 1) / uint64(sectorSize)

	scratch := make([]byte, sectorsNeeded*uint64(sectorSize))
	if err := device.ReadAt(firstSector, scratch); err != nil {
		return wrapBacking(err)
	}
	copy(out, scratch[within:within+uint64(len(out))])
	return nil
}

// GetInfo returns the virtual block device's fixed geometry.
func (e *Engine) GetInfo() VirtualInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.virtual
}

// Header returns a copy of the engine's parsed header, for callers (the
// CLI's info subcommand) that need to inspect it without touching
// the write path.
func (e *Engine) Header() Header {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.header
}

// Disconnect releases the underlying device. The Engine must not be used
// afterward.
func (e *Engine) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.device.Disconnect(); err != nil {
		return wrapBacking(err)
	}
	return nil
}

func (e *Engine) requireWritable() error {
	if !e.virtual.ReadWrite {
		return ErrReadOnly
	}
	return nil
}

func (e *Engine) virtualByteOffset(sector uint64) uint64 {
	return sector * VirtualSectorSize
}

func (e *Engine) checkSectorRange(startSector uint64, nSectors uint64) error {
	if startSector+nSectors > e.virtual.Sectors {
		return fmt.Errorf("qcow2: sector range [%d,%d) exceeds virtual size of %d sectors", startSector, startSector+nSectors, e.virtual.Sectors)
	}
	return nil
}
