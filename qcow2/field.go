package qcow2

import (
	"encoding/binary"
	"fmt"

	"github.com/coreimg/qcow2engine/blockdev/align"
)

// readField reads the single physical sector containing byteOffset and
// returns the 8-byte big-endian entry at that offset. Entries are never
// allowed to span a sector boundary (spec §4.2) — this core only ever
// uses it for L1, L2, and refcount table offsets, all of which are
// allocated from cluster-aligned, sector-multiple tables.
func (e *Engine) readField(byteOffset uint64) (uint64, error) {
	sectorSize := e.deviceInfo.SectorSize
	sectorNum, within := Bytes(byteOffset).ToSector(sectorSize, e.header.ClusterBits)
	if within+8 > sectorSize {
		return 0, fmt.Errorf("qcow2: field at 0x%x spans a sector boundary", byteOffset)
	}

	buf := align.New(int(sectorSize))
	if err := e.device.ReadAt(sectorNum, buf.Bytes); err != nil {
		return 0, wrapBacking(err)
	}
	return binary.BigEndian.Uint64(buf.Bytes[within : within+8]), nil
}

// updateField performs a read-modify-write of the sector containing
// byteOffset: read the sector, replace the 8-byte entry at byteOffset with
// mutate's return value, write the sector back.
func (e *Engine) updateField(byteOffset uint64, mutate func(current uint64) uint64) error {
	sectorSize := e.deviceInfo.SectorSize
	sectorNum, within := Bytes(byteOffset).ToSector(sectorSize, e.header.ClusterBits)
	if within+8 > sectorSize {
		return fmt.Errorf("qcow2: field at 0x%x spans a sector boundary", byteOffset)
	}

	buf := align.New(int(sectorSize))
	if err := e.device.ReadAt(sectorNum, buf.Bytes); err != nil {
		return wrapBacking(err)
	}

	current := binary.BigEndian.Uint64(buf.Bytes[within : within+8])
	binary.BigEndian.PutUint64(buf.Bytes[within:within+8], mutate(current))

	if err := e.device.WriteAt(sectorNum, buf.Bytes); err != nil {
		return wrapBacking(err)
	}
	return nil
}

// readField16 is readField's counterpart for the 16-bit refcount counters.
func (e *Engine) readField16(byteOffset uint64) (uint16, error) {
	sectorSize := e.deviceInfo.SectorSize
	sectorNum, within := Bytes(byteOffset).ToSector(sectorSize, e.header.ClusterBits)
	if within+2 > sectorSize {
		return 0, fmt.Errorf("qcow2: counter at 0x%x spans a sector boundary", byteOffset)
	}

	buf := align.New(int(sectorSize))
	if err := e.device.ReadAt(sectorNum, buf.Bytes); err != nil {
		return 0, wrapBacking(err)
	}
	return binary.BigEndian.Uint16(buf.Bytes[within : within+2]), nil
}

// updateField16 is updateField's counterpart for the 16-bit refcount
// counters packed into a refcount block (spec §3.1's "dedicated refcount
// blocks" of 16-bit big-endian counters).
func (e *Engine) updateField16(byteOffset uint64, mutate func(current uint16) uint16) error {
	sectorSize := e.deviceInfo.SectorSize
	sectorNum, within := Bytes(byteOffset).ToSector(sectorSize, e.header.ClusterBits)
	if within+2 > sectorSize {
		return fmt.Errorf("qcow2: counter at 0x%x spans a sector boundary", byteOffset)
	}

	buf := align.New(int(sectorSize))
	if err := e.device.ReadAt(sectorNum, buf.Bytes); err != nil {
		return wrapBacking(err)
	}

	current := binary.BigEndian.Uint16(buf.Bytes[within : within+2])
	binary.BigEndian.PutUint16(buf.Bytes[within:within+2], mutate(current))

	if err := e.device.WriteAt(sectorNum, buf.Bytes); err != nil {
		return wrapBacking(err)
	}
	return nil
}

// writeZeroedCluster writes a full cluster of zero bytes starting at
// byteOffset, used when a freshly allocated child block (L2 table, data
// cluster) must be zeroed on disk before its parent entry points at it
// (spec §3.2 invariant 4).
func (e *Engine) writeZeroedCluster(byteOffset uint64) error {
	clusterSize := e.header.ClusterSize()
	sectorSize := uint64(e.deviceInfo.SectorSize)
	sectorNum := byteOffset / sectorSize
	sectors := clusterSize / sectorSize

	buf := align.New(int(clusterSize))
	if err := e.device.WriteAt(sectorNum, buf.Bytes[:sectors*sectorSize]); err != nil {
		return wrapBacking(err)
	}
	return nil
}

// writeCluster writes data (a whole number of physical sectors, at most one
// cluster) starting at the cluster-aligned byteOffset. Used during image
// creation to lay down a prebuilt refcount table or refcount block in one
// shot, instead of a zero-fill followed by a field-at-a-time update.
func (e *Engine) writeCluster(byteOffset uint64, data []byte) error {
	sectorSize := uint64(e.deviceInfo.SectorSize)
	sectorNum := byteOffset / sectorSize

	buf := align.New(len(data))
	copy(buf.Bytes, data)
	if err := e.device.WriteAt(sectorNum, buf.Bytes); err != nil {
		return wrapBacking(err)
	}
	return nil
}
